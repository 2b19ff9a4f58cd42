// Package file stores documents as JSON files in a working directory, one
// file per document ("users.json", "config.json", "sessions.json").
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/goodtune/chronos/internal/storage"
)

// Store implements storage.Store on top of plain files.
type Store struct {
	dir      string
	docs     *documentStore
	sessions *storage.DocumentSessions
}

// Open creates the working directory if needed and returns a file store.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("working directory is required")
	}
	if err := storage.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create working directory: %w", err)
	}

	docs := &documentStore{dir: dir}
	return &Store{
		dir:      dir,
		docs:     docs,
		sessions: storage.NewDocumentSessions(docs),
	}, nil
}

// Close is a no-op; files are closed after every operation.
func (s *Store) Close() error { return nil }

// Documents returns the document store.
func (s *Store) Documents() storage.DocumentStore { return s.docs }

// Sessions returns the session store.
func (s *Store) Sessions() storage.SessionStore { return s.sessions }

// Path returns the file backing the named document.
func (s *Store) Path(name string) string { return s.docs.path(name) }

type documentStore struct {
	dir string
	mu  sync.Mutex
}

func (d *documentStore) path(name string) string {
	return filepath.Join(d.dir, name+".json")
}

func (d *documentStore) Load(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := os.ReadFile(d.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// Save writes to a temporary file and renames it over the document so a
// crash never leaves a half-written document behind.
func (d *documentStore) Save(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	tmp, err := os.CreateTemp(d.dir, "."+name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, d.path(name)); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}
