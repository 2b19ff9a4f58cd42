package config

import (
	"fmt"
	"net"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	StorageFile  = "file"
	StorageBolt  = "bolt"
	StorageRedis = "redis"
)

// Permission engines.
const (
	PermissionsOPA    = "opa"
	PermissionsStatic = "static"
)

// Config holds the complete daemon configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Bridge      BridgeConfig      `mapstructure:"bridge"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Replenish   ReplenishConfig   `mapstructure:"replenish"`
	Permissions PermissionsConfig `mapstructure:"permissions"`
	Admin       AdminConfig       `mapstructure:"admin"`
}

// ServerConfig defines listen addresses
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	AdminPort   int    `mapstructure:"admin_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// AdminAddr returns the admin API listen address.
func (s ServerConfig) AdminAddr() string {
	return net.JoinHostPort(s.BindAddress, fmt.Sprint(s.AdminPort))
}

// MetricsAddr returns the metrics listen address.
func (s ServerConfig) MetricsAddr() string {
	return net.JoinHostPort(s.BindAddress, fmt.Sprint(s.MetricsPort))
}

// BridgeConfig describes the host the engine runs for
type BridgeConfig struct {
	WorkingDir  string   `mapstructure:"working_dir"`
	ActiveUsers []string `mapstructure:"active_users"` // users present at startup
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	Path  string      `mapstructure:"path"` // bolt database file; file backend directory
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ReplenishConfig defines when the daily replenishment runs
type ReplenishConfig struct {
	DailyTime string `mapstructure:"daily_time"`
	Timezone  string `mapstructure:"timezone"`
}

// Location resolves the configured timezone, defaulting to local time.
func (r ReplenishConfig) Location() (*time.Location, error) {
	if r.Timezone == "" || r.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(r.Timezone)
}

// PermissionsConfig defines how contractor permissions are checked
type PermissionsConfig struct {
	Engine    string              `mapstructure:"engine"`
	PolicyDir string              `mapstructure:"policy_dir"`
	Grants    map[string][]string `mapstructure:"grants"` // contractor -> permissions
	CacheSize int                 `mapstructure:"cache_size"`
	CacheTTL  string              `mapstructure:"cache_ttl"`
}

// AdminConfig defines admin API settings
type AdminConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ConsoleToken string  `mapstructure:"console_token"`
	RateLimit    float64 `mapstructure:"rate_limit"` // requests per second
	RateBurst    int     `mapstructure:"rate_burst"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("CHRONOS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// UnknownKeys returns the keys of the config file that no setting reads.
func UnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	known := viper.New()
	setDefaults(known)
	valid := make(map[string]bool)
	for _, key := range known.AllKeys() {
		valid[key] = true
	}

	var unknown []string
	for _, key := range v.AllKeys() {
		if valid[key] || strings.HasPrefix(key, "permissions.grants.") {
			continue
		}
		unknown = append(unknown, key)
	}
	sort.Strings(unknown)
	return unknown, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "127.0.0.1")
	v.SetDefault("server.admin_port", 8470)
	v.SetDefault("server.metrics_port", 9470)

	// Bridge defaults
	v.SetDefault("bridge.working_dir", "/var/lib/chronos")
	v.SetDefault("bridge.active_users", []string{})

	// Storage defaults
	v.SetDefault("storage.type", StorageFile)
	v.SetDefault("storage.path", "")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Replenish defaults
	v.SetDefault("replenish.daily_time", "00:00")
	v.SetDefault("replenish.timezone", "Local")

	// Permission defaults
	v.SetDefault("permissions.engine", PermissionsOPA)
	v.SetDefault("permissions.policy_dir", "")
	v.SetDefault("permissions.grants", map[string][]string{})
	v.SetDefault("permissions.cache_size", 256)
	v.SetDefault("permissions.cache_ttl", "1m")

	// Admin defaults
	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.console_token", "")
	v.SetDefault("admin.rate_limit", 20.0)
	v.SetDefault("admin.rate_burst", 40)
}

// validate validates the configuration and fills derived values
func validate(cfg *Config) error {
	if cfg.Server.AdminPort <= 0 || cfg.Server.AdminPort > 65535 {
		return fmt.Errorf("invalid admin port: %d", cfg.Server.AdminPort)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	if cfg.Bridge.WorkingDir == "" {
		return fmt.Errorf("bridge working directory is required")
	}

	switch cfg.Storage.Type {
	case StorageFile:
		if cfg.Storage.Path == "" {
			cfg.Storage.Path = cfg.Bridge.WorkingDir
		}
	case StorageBolt:
		if cfg.Storage.Path == "" {
			cfg.Storage.Path = filepath.Join(cfg.Bridge.WorkingDir, "chronos.bolt")
		}
	case StorageRedis:
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}
		for name, value := range map[string]string{
			"dial_timeout":  cfg.Storage.Redis.DialTimeout,
			"read_timeout":  cfg.Storage.Redis.ReadTimeout,
			"write_timeout": cfg.Storage.Redis.WriteTimeout,
		} {
			if _, err := time.ParseDuration(value); err != nil {
				return fmt.Errorf("invalid storage.redis.%s %q: %w", name, value, err)
			}
		}
	default:
		return fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}

	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown logging format %q", cfg.Logging.Format)
	}

	if _, err := time.Parse("15:04", cfg.Replenish.DailyTime); err != nil {
		return fmt.Errorf("invalid replenish daily_time %q: expected HH:MM", cfg.Replenish.DailyTime)
	}
	if _, err := cfg.Replenish.Location(); err != nil {
		return fmt.Errorf("invalid replenish timezone: %w", err)
	}

	switch cfg.Permissions.Engine {
	case PermissionsOPA, PermissionsStatic:
	default:
		return fmt.Errorf("unknown permissions engine %q", cfg.Permissions.Engine)
	}
	if _, err := time.ParseDuration(cfg.Permissions.CacheTTL); err != nil {
		return fmt.Errorf("invalid permissions cache_ttl: %w", err)
	}

	if cfg.Admin.RateLimit <= 0 {
		return fmt.Errorf("admin rate_limit must be positive")
	}
	if cfg.Admin.RateBurst < 1 {
		cfg.Admin.RateBurst = 1
	}

	return nil
}
