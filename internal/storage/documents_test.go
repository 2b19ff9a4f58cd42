package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type memDocs struct {
	mu    sync.Mutex
	docs  map[string][]byte
	saves int
}

func newMemDocs() *memDocs {
	return &memDocs{docs: map[string][]byte{}}
}

func (m *memDocs) Load(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.docs[name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *memDocs) Save(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.docs[name] = append([]byte(nil), data...)
	return nil
}

func TestUserStoreCreatesMissingDocument(t *testing.T) {
	docs := newMemDocs()
	store := NewUserStore(docs, zerolog.Nop())

	users, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load users: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("expected no users, got %d", len(users))
	}
	if _, ok := docs.docs[DocumentUsers]; !ok {
		t.Fatal("expected users document to be created")
	}
}

func TestUserStoreReplacesCorruptDocument(t *testing.T) {
	docs := newMemDocs()
	docs.docs[DocumentUsers] = []byte("{not json")
	store := NewUserStore(docs, zerolog.Nop())

	users, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load users: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("expected corrupt document to load as empty, got %d users", len(users))
	}
	if !strings.Contains(string(docs.docs[DocumentUsers]), `"users": []`) {
		t.Fatalf("expected corrupt document to be rewritten, got %s", docs.docs[DocumentUsers])
	}
}

func TestUserStoreAcceptsCommentsAndTrailingCommas(t *testing.T) {
	docs := newMemDocs()
	docs.docs[DocumentUsers] = []byte(`{
		// managed by hand
		"users": [
			{"id": "alice", "slots": [60, 120,], "operator": true},
		],
	}`)
	store := NewUserStore(docs, zerolog.Nop())

	user, err := store.Get(context.Background(), "alice")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !user.Operator || len(user.Slots) != 2 || user.Slots[1] != 120 {
		t.Fatalf("unexpected user %+v", user)
	}
}

func TestUserStoreUpdateUser(t *testing.T) {
	ctx := context.Background()
	store := NewUserStore(newMemDocs(), zerolog.Nop())

	err := store.UpdateUser(ctx, "bob", nil, func(u *User) error { return nil })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound without create, got %v", err)
	}

	create := func() User { return User{ID: "bob", Slots: []int64{300}} }
	err = store.UpdateUser(ctx, "bob", create, func(u *User) error {
		u.Slots = append(u.Slots, 0, 60)
		return nil
	})
	if err != nil {
		t.Fatalf("update user: %v", err)
	}

	user, err := store.Get(ctx, "bob")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if len(user.Slots) != 2 || user.Slots[0] != 300 || user.Slots[1] != 60 {
		t.Fatalf("expected pruned slots [300 60], got %v", user.Slots)
	}

	failure := errors.New("boom")
	err = store.UpdateUser(ctx, "bob", nil, func(u *User) error {
		u.Slots = nil
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected callback error, got %v", err)
	}
	user, _ = store.Get(ctx, "bob")
	if len(user.Slots) != 2 {
		t.Fatalf("failed update must not be written, got %v", user.Slots)
	}
}

func TestConfigStoreDefaultsAndCache(t *testing.T) {
	ctx := context.Background()
	docs := newMemDocs()
	store := NewConfigStore(docs, zerolog.Nop())

	cfg, err := store.Load(ctx, true)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.MaxSlotHistory != 3 || len(cfg.LeftoverNotificationThresholds) != 13 {
		t.Fatalf("expected defaults, got %+v", cfg)
	}

	// An out-of-band edit is invisible to cached reads until Reload.
	docs.docs[DocumentConfig] = []byte(strings.Replace(string(docs.docs[DocumentConfig]),
		`"max_slot_history": 3`, `"max_slot_history": 5`, 1))

	cached, _ := store.Load(ctx, true)
	if cached.MaxSlotHistory != 3 {
		t.Fatalf("expected cached value 3, got %d", cached.MaxSlotHistory)
	}
	fresh, _ := store.Load(ctx, false)
	if fresh.MaxSlotHistory != 5 {
		t.Fatalf("expected fresh value 5, got %d", fresh.MaxSlotHistory)
	}
	if cached, _ := store.Load(ctx, true); cached.MaxSlotHistory != 3 {
		t.Fatalf("uncached load must not replace cache, got %d", cached.MaxSlotHistory)
	}
	if reloaded, _ := store.Reload(ctx); reloaded.MaxSlotHistory != 5 {
		t.Fatalf("expected reloaded value 5, got %d", reloaded.MaxSlotHistory)
	}
	if cached, _ := store.Load(ctx, true); cached.MaxSlotHistory != 5 {
		t.Fatalf("expected cache to follow reload, got %d", cached.MaxSlotHistory)
	}
}

func TestConfigStoreRejectsInvalidOverwrite(t *testing.T) {
	ctx := context.Background()
	store := NewConfigStore(newMemDocs(), zerolog.Nop())

	cfg := DefaultConfig()
	delete(cfg.ReplenishMultipliers, "monday")
	if err := store.Overwrite(ctx, cfg); err == nil {
		t.Fatal("expected validation error for missing weekday")
	}

	updated, err := store.Update(ctx, func(c *Config) error {
		c.ReplenishMultipliers["saturday"] = 2
		c.ReplenishBaseUnit = Duration(30 * time.Minute)
		return nil
	})
	if err != nil {
		t.Fatalf("update config: %v", err)
	}
	if m, _ := updated.Multiplier(time.Saturday); m != 2 {
		t.Fatalf("expected saturday multiplier 2, got %v", m)
	}
	cached, _ := store.Load(ctx, true)
	if cached.ReplenishBaseUnit.Std() != 30*time.Minute {
		t.Fatalf("expected cache to hold update, got %s", cached.ReplenishBaseUnit.Std())
	}
}

func TestConfigDurationAcceptsSeconds(t *testing.T) {
	docs := newMemDocs()
	cfg := DefaultConfig()
	docs.docs[DocumentConfig] = []byte(`{
		"max_slot_history": 2,
		"replenish_multipliers": {"sunday": 1, "monday": 1, "tuesday": 1, "wednesday": 1, "thursday": 1, "friday": 1, "saturday": 1},
		"replenish_base": 2,
		"replenish_base_unit": 1800,
		"replenish_weekend_multiplier": 1.5,
		"leftover_notification_thresholds": ["1m", 10]
	}`)
	store := NewConfigStore(docs, zerolog.Nop())

	got, err := store.Load(context.Background(), false)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if got.ReplenishBaseUnit.Std() != 30*time.Minute {
		t.Fatalf("expected 30m base unit, got %s", got.ReplenishBaseUnit.Std())
	}
	thresholds := got.Thresholds()
	if len(thresholds) != 2 || thresholds[0] != time.Minute || thresholds[1] != 10*time.Second {
		t.Fatalf("unexpected thresholds %v", thresholds)
	}
	if got.MaxSlotHistory == cfg.MaxSlotHistory {
		t.Fatal("expected stored document rather than defaults")
	}
}

func TestParseWeekday(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Weekday
		wantErr bool
	}{
		{in: "monday", want: time.Monday},
		{in: "Sat", want: time.Saturday},
		{in: " THURS ", want: time.Thursday},
		{in: "tu", wantErr: true},
		{in: "funday", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseWeekday(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseWeekday(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseWeekday(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestDocumentSessions(t *testing.T) {
	ctx := context.Background()
	sessions := NewDocumentSessions(newMemDocs())

	if _, err := sessions.GetSession(ctx, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	start := time.Date(2024, 5, 4, 9, 0, 0, 0, time.UTC)
	for _, id := range []string{"zed", "alice"} {
		if err := sessions.UpsertSession(ctx, Session{ID: "s-" + id, UserID: id, StartTime: start, EstimatedRemainingSeconds: 90}); err != nil {
			t.Fatalf("upsert session: %v", err)
		}
	}

	list, err := sessions.ListActiveSessions(ctx)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(list) != 2 || list[0].UserID != "alice" {
		t.Fatalf("unexpected sessions %+v", list)
	}
	if !list[0].Expiry().Equal(start.Add(90 * time.Second)) {
		t.Fatalf("unexpected expiry %v", list[0].Expiry())
	}

	if err := sessions.DeleteSession(ctx, "zed"); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if err := sessions.DeleteSession(ctx, "zed"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
