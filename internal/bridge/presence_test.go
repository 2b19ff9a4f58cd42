package bridge

import (
	"context"
	"testing"

	"github.com/goodtune/chronos/internal/engine"
	"github.com/rs/zerolog"
)

var (
	_ engine.Bridge        = (*Presence)(nil)
	_ engine.ExpiryHook    = (*Presence)(nil)
	_ engine.ThresholdHook = (*Presence)(nil)
)

func TestPresenceJoinLeave(t *testing.T) {
	p := NewPresence("/srv/game", []string{"carol", "", "alice"}, zerolog.Nop())

	if !p.Join("bob") {
		t.Fatal("expected bob to join")
	}
	if p.Join("alice") {
		t.Fatal("alice was already present")
	}

	ids, err := p.ActiveUsers(context.Background())
	if err != nil {
		t.Fatalf("active users: %v", err)
	}
	want := []string{"alice", "bob", "carol"}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}

	if !p.Leave("bob") || p.Leave("bob") {
		t.Fatal("expected exactly one successful leave")
	}
	if p.Present("bob") {
		t.Fatal("bob should be gone")
	}
	if p.WorkingDirectory() != "/srv/game" {
		t.Fatalf("unexpected working directory %q", p.WorkingDirectory())
	}
}
