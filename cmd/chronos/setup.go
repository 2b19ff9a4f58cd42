package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goodtune/chronos/internal/bridge"
	"github.com/goodtune/chronos/internal/config"
	"github.com/goodtune/chronos/internal/engine"
	"github.com/goodtune/chronos/internal/permission"
	"github.com/goodtune/chronos/internal/permission/opa"
	"github.com/goodtune/chronos/internal/storage"
	"github.com/goodtune/chronos/internal/storage/bolt"
	"github.com/goodtune/chronos/internal/storage/file"
	"github.com/goodtune/chronos/internal/storage/redis"
	"github.com/rs/zerolog"
)

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// openStorage opens the configured backend.
func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case config.StorageFile:
		store, err := file.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StorageBolt:
		store, err := bolt.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StorageRedis:
		store, err := redis.Open(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// authorization bundles the configured authorizer with a way to swap its
// grant table and policies at runtime.
type authorization struct {
	permission.Authorizer
	reload func(grants map[string][]string) error
}

func newAuthorization(cfg config.PermissionsConfig, logger zerolog.Logger) (*authorization, error) {
	if err := checkGrants(cfg.Grants); err != nil {
		return nil, err
	}

	if cfg.Engine == config.PermissionsStatic {
		static := permission.NewStatic(cfg.Grants)
		return &authorization{
			Authorizer: static,
			reload: func(grants map[string][]string) error {
				static.SetGrants(grants)
				return nil
			},
		}, nil
	}

	ttl, err := time.ParseDuration(cfg.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("invalid permissions cache_ttl: %w", err)
	}
	authorizer, err := opa.New(opa.Config{
		PolicyDir: cfg.PolicyDir,
		Grants:    cfg.Grants,
		CacheSize: cfg.CacheSize,
		CacheTTL:  ttl,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OPA authorizer: %w", err)
	}
	return &authorization{Authorizer: authorizer, reload: authorizer.SetGrants}, nil
}

// checkGrants rejects permission names no operation checks.
func checkGrants(grants map[string][]string) error {
	for contractor, perms := range grants {
		for _, p := range perms {
			if p != permission.Wildcard && !permission.Valid(permission.Permission(p)) {
				return fmt.Errorf("contractor %q: unknown permission %q", contractor, p)
			}
		}
	}
	return nil
}

// openEngine builds an engine over the configured storage for one-shot
// commands. No timers or schedulers are started.
func openEngine(ctx context.Context, cfg *config.Config) (*engine.Engine, storage.Store, error) {
	logger := zerolog.Nop()

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	loc, err := cfg.Replenish.Location()
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	eng, err := engine.New(ctx, engine.Options{
		Store:       store,
		Bridge:      bridge.NewPresence(cfg.Bridge.WorkingDir, nil, logger),
		ReplenishAt: cfg.Replenish.DailyTime,
		Location:    loc,
		Logger:      logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return eng, store, nil
}
