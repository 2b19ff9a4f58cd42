package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Document names used by the engine.
const (
	DocumentUsers  = "users"
	DocumentConfig = "config"
)

// Store represents the root storage interface.
type Store interface {
	Close() error
	Documents() DocumentStore
	Sessions() SessionStore
}

// DocumentStore loads and overwrites whole JSON documents by name. There are
// no partial updates: every Save replaces the previous content.
type DocumentStore interface {
	// Load returns ErrNotFound when the document has never been saved.
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, data []byte) error
}

// SessionStore mirrors the engine's active sessions so a restarted process
// can settle sessions that were running when it went down.
type SessionStore interface {
	UpsertSession(ctx context.Context, session Session) error
	DeleteSession(ctx context.Context, userID string) error
	GetSession(ctx context.Context, userID string) (*Session, error)
	ListActiveSessions(ctx context.Context) ([]Session, error)
}
