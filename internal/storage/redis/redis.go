package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/chronos/internal/config"
	"github.com/goodtune/chronos/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix       = "chronos:"
	activeSessions  = keyPrefix + "sessions:active"
	documentPattern = keyPrefix + "doc:%s"
	sessionPattern  = keyPrefix + "session:%s"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client       *redis.Client
	documents    *documentStore
	sessionStore *sessionStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Host may already carry the port
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{
		client:       client,
		documents:    &documentStore{client: client},
		sessionStore: newSessionStore(client),
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Documents returns the DocumentStore implementation
func (s *Store) Documents() storage.DocumentStore {
	return s.documents
}

// Sessions returns the SessionStore implementation
func (s *Store) Sessions() storage.SessionStore {
	return s.sessionStore
}

type documentStore struct {
	client *redis.Client
}

func (d *documentStore) Load(ctx context.Context, name string) ([]byte, error) {
	data, err := d.client.Get(ctx, fmt.Sprintf(documentPattern, name)).Bytes()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (d *documentStore) Save(ctx context.Context, name string, data []byte) error {
	return d.client.Set(ctx, fmt.Sprintf(documentPattern, name), data, 0).Err()
}
