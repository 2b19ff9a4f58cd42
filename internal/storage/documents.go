package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/goodtune/chronos/internal/quota"
	"github.com/rs/zerolog"
	"github.com/tidwall/jsonc"
)

// UserStore reads and rewrites the users document. Every mutation is a
// read-modify-write of the whole document, serialized by the store.
type UserStore struct {
	docs   DocumentStore
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewUserStore creates a user store on top of docs.
func NewUserStore(docs DocumentStore, logger zerolog.Logger) *UserStore {
	return &UserStore{
		docs:   docs,
		logger: logger.With().Str("component", "user-store").Logger(),
	}
}

// Load returns every stored user. A missing document is created empty and an
// unreadable one is logged and replaced.
func (s *UserStore) Load(ctx context.Context) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Get returns the user with the given id or ErrNotFound.
func (s *UserStore) Get(ctx context.Context, id string) (*User, error) {
	users, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	for _, user := range users {
		if user.ID == id {
			found := user.Clone()
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

// Overwrite replaces the users document.
func (s *UserStore) Overwrite(ctx context.Context, users []User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, users)
}

// Update applies fn to the full user list and writes the result back. If fn
// returns an error nothing is written.
func (s *UserStore) Update(ctx context.Context, fn func(users []User) ([]User, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.load(ctx)
	if err != nil {
		return err
	}
	updated, err := fn(users)
	if err != nil {
		return err
	}
	return s.save(ctx, updated)
}

// UpdateUser applies fn to a single user in place. When the user does not
// exist and create is non-nil, the user returned by create is inserted first;
// otherwise ErrNotFound is returned.
func (s *UserStore) UpdateUser(ctx context.Context, id string, create func() User, fn func(user *User) error) error {
	return s.Update(ctx, func(users []User) ([]User, error) {
		index := -1
		for i := range users {
			if users[i].ID == id {
				index = i
				break
			}
		}
		if index < 0 {
			if create == nil {
				return nil, ErrNotFound
			}
			users = append(users, create())
			index = len(users) - 1
		}

		user := users[index].Clone()
		if err := fn(&user); err != nil {
			return nil, err
		}
		user.ID = id
		users[index] = user
		return users, nil
	})
}

func (s *UserStore) load(ctx context.Context) ([]User, error) {
	data, err := s.docs.Load(ctx, DocumentUsers)
	if errors.Is(err, ErrNotFound) {
		s.logger.Info().Msg("Users document missing, creating empty document")
		return []User{}, s.save(ctx, []User{})
	}
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}

	var doc UserDocument
	if err := decode(data, &doc); err != nil {
		s.logger.Error().Err(err).Msg("Users document unreadable, replacing with empty document")
		return []User{}, s.save(ctx, []User{})
	}
	if doc.Users == nil {
		doc.Users = []User{}
	}
	return doc.Users, nil
}

func (s *UserStore) save(ctx context.Context, users []User) error {
	normalized := make([]User, 0, len(users))
	for _, user := range users {
		user.Slots = quota.Prune(user.Slots)
		normalized = append(normalized, user)
	}

	data, err := json.MarshalIndent(UserDocument{Users: normalized}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal users: %w", err)
	}
	if err := s.docs.Save(ctx, DocumentUsers, data); err != nil {
		return fmt.Errorf("save users: %w", err)
	}
	return nil
}

// ConfigStore reads and overwrites the engine configuration document. The
// configuration is cached after the first load; the cache only changes on an
// explicit Overwrite, Update or Reload.
type ConfigStore struct {
	docs   DocumentStore
	logger zerolog.Logger
	mu     sync.Mutex
	cached *Config
}

// NewConfigStore creates a config store on top of docs.
func NewConfigStore(docs DocumentStore, logger zerolog.Logger) *ConfigStore {
	return &ConfigStore{
		docs:   docs,
		logger: logger.With().Str("component", "config-store").Logger(),
	}
}

// Load returns the configuration. With useCache the cached copy is returned
// when present; otherwise the document is read without touching the cache.
func (s *ConfigStore) Load(ctx context.Context, useCache bool) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if useCache && s.cached != nil {
		return s.cached.Clone(), nil
	}
	cfg, err := s.load(ctx)
	if err != nil {
		return Config{}, err
	}
	if s.cached == nil {
		s.cached = &cfg
	}
	return cfg.Clone(), nil
}

// Reload reads the document and replaces the cached copy.
func (s *ConfigStore) Reload(ctx context.Context) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.load(ctx)
	if err != nil {
		return Config{}, err
	}
	s.cached = &cfg
	return cfg.Clone(), nil
}

// Overwrite validates and writes cfg, then caches it.
func (s *ConfigStore) Overwrite(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, cfg)
}

// Update applies fn to a fresh copy of the stored configuration and writes
// the result.
func (s *ConfigStore) Update(ctx context.Context, fn func(cfg *Config) error) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.load(ctx)
	if err != nil {
		return Config{}, err
	}
	if err := fn(&cfg); err != nil {
		return Config{}, err
	}
	if err := s.save(ctx, cfg); err != nil {
		return Config{}, err
	}
	return cfg.Clone(), nil
}

func (s *ConfigStore) load(ctx context.Context) (Config, error) {
	data, err := s.docs.Load(ctx, DocumentConfig)
	if errors.Is(err, ErrNotFound) {
		s.logger.Info().Msg("Config document missing, writing defaults")
		return s.writeDefaults(ctx)
	}
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	var cfg Config
	if err := decode(data, &cfg); err != nil {
		s.logger.Error().Err(err).Msg("Config document unreadable, replacing with defaults")
		return s.writeDefaults(ctx)
	}
	if err := cfg.Validate(); err != nil {
		s.logger.Error().Err(err).Msg("Config document invalid, replacing with defaults")
		return s.writeDefaults(ctx)
	}
	return cfg, nil
}

func (s *ConfigStore) writeDefaults(ctx context.Context) (Config, error) {
	cfg := DefaultConfig()
	if err := s.save(ctx, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (s *ConfigStore) save(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := s.docs.Save(ctx, DocumentConfig, data); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	s.logger.Debug().Msg("Config document overwritten")
	cached := cfg.Clone()
	s.cached = &cached
	return nil
}

// decode parses a JSON document, tolerating comments and trailing commas.
func decode(data []byte, out any) error {
	if err := json.Unmarshal(jsonc.ToJSON(data), out); err != nil {
		return fmt.Errorf("unmarshal document: %w", err)
	}
	return nil
}
