package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/chronos/internal/storage"
)

func TestDocumentStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	docs := store.Documents()
	if _, err := docs.Load(context.Background(), storage.DocumentUsers); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing document, got %v", err)
	}

	if err := docs.Save(context.Background(), storage.DocumentUsers, []byte(`{"users":[]}`)); err != nil {
		t.Fatalf("save document: %v", err)
	}
	data, err := docs.Load(context.Background(), storage.DocumentUsers)
	if err != nil {
		t.Fatalf("load document: %v", err)
	}
	if string(data) != `{"users":[]}` {
		t.Fatalf("unexpected document contents %q", data)
	}
}

func TestSessionStoreLifecycle(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	sessions := store.Sessions()
	ctx := context.Background()
	start := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

	for _, id := range []string{"bob", "alice"} {
		if err := sessions.UpsertSession(ctx, storage.Session{
			ID:                        "session-" + id,
			UserID:                    id,
			StartTime:                 start,
			EstimatedRemainingSeconds: 600,
		}); err != nil {
			t.Fatalf("upsert session: %v", err)
		}
	}

	got, err := sessions.GetSession(ctx, "alice")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !got.StartTime.Equal(start) || got.EstimatedRemainingSeconds != 600 {
		t.Fatalf("unexpected session %+v", got)
	}

	active, err := sessions.ListActiveSessions(ctx)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(active) != 2 || active[0].UserID != "alice" || active[1].UserID != "bob" {
		t.Fatalf("expected sessions ordered by user, got %+v", active)
	}

	if err := sessions.DeleteSession(ctx, "alice"); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if err := sessions.DeleteSession(ctx, "alice"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if _, err := sessions.GetSession(ctx, "alice"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStoreReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "chronos.bolt")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Documents().Save(context.Background(), storage.DocumentConfig, []byte(`{}`)); err != nil {
		t.Fatalf("save document: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	store, err = Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer func() { _ = store.Close() }()

	if _, err := store.Documents().Load(context.Background(), storage.DocumentConfig); err != nil {
		t.Fatalf("load after reopen: %v", err)
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "chronos.bolt")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}
