package timers

import (
	"sync"
	"testing"
	"time"

	"github.com/goodtune/chronos/internal/clock"
	"github.com/rs/zerolog"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestScheduler() (*Scheduler, *clock.FakeClock) {
	clk := clock.NewFake(epoch)
	return NewScheduler(clk, zerolog.Nop()), clk
}

func TestArmExpiryFiresOnce(t *testing.T) {
	s, clk := newTestScheduler()

	fired := 0
	s.ArmExpiry("s1", 10*time.Second, func() { fired++ })

	clk.Advance(9 * time.Second)
	if fired != 0 {
		t.Fatalf("expiry fired early")
	}
	clk.Advance(time.Second)
	clk.Advance(time.Minute)
	if fired != 1 {
		t.Fatalf("expected exactly one expiry, got %d", fired)
	}
	if pending, _ := s.Pending("s1"); pending {
		t.Fatal("fired expiry should no longer be tracked")
	}
}

func TestRearmReplacesPreviousExpiry(t *testing.T) {
	s, clk := newTestScheduler()

	var got []string
	s.ArmExpiry("s1", 5*time.Second, func() { got = append(got, "old") })
	s.ArmExpiry("s1", 20*time.Second, func() { got = append(got, "new") })

	clk.Advance(30 * time.Second)
	if len(got) != 1 || got[0] != "new" {
		t.Fatalf("expected only the re-armed timer to fire, got %v", got)
	}
}

func TestCancelExpiry(t *testing.T) {
	s, clk := newTestScheduler()

	fired := false
	s.ArmExpiry("s1", time.Second, func() { fired = true })
	if !s.CancelExpiry("s1") {
		t.Fatal("expected pending timer to be cancelled")
	}
	if s.CancelExpiry("s1") {
		t.Fatal("second cancel should report nothing to cancel")
	}
	if s.CancelExpiry("unknown") {
		t.Fatal("unknown id should report nothing to cancel")
	}

	clk.Advance(time.Minute)
	if fired {
		t.Fatal("cancelled expiry fired")
	}
}

func TestArmNotificationsSkipsPassedThresholds(t *testing.T) {
	s, clk := newTestScheduler()

	expiry := epoch.Add(90 * time.Second)
	thresholds := []time.Duration{5 * time.Minute, time.Minute, 30 * time.Second, 10 * time.Second}

	var fired []time.Duration
	armed := s.ArmNotifications("s1", expiry, thresholds, func(th time.Duration) { fired = append(fired, th) })
	if armed != 3 {
		t.Fatalf("expected 3 armed notifications, got %d", armed)
	}

	clk.Advance(30 * time.Second)
	if len(fired) != 1 || fired[0] != time.Minute {
		t.Fatalf("expected the 1m threshold at +30s, got %v", fired)
	}
	clk.Advance(time.Minute)
	if len(fired) != 3 || fired[1] != 30*time.Second || fired[2] != 10*time.Second {
		t.Fatalf("expected thresholds in order, got %v", fired)
	}
}

func TestCancelNotificationsLeavesExpiry(t *testing.T) {
	s, clk := newTestScheduler()

	expired := false
	notified := 0
	s.ArmExpiry("s1", time.Minute, func() { expired = true })
	s.ArmNotifications("s1", epoch.Add(time.Minute), []time.Duration{30 * time.Second}, func(time.Duration) { notified++ })

	s.CancelNotifications("s1")
	if _, n := s.Pending("s1"); n != 0 {
		t.Fatalf("expected notifications dropped, got %d", n)
	}

	clk.Advance(time.Minute)
	if notified != 0 {
		t.Fatal("cancelled notification fired")
	}
	if !expired {
		t.Fatal("expiry must be independent of notifications")
	}
}

func TestStopCancelsEverything(t *testing.T) {
	s, clk := newTestScheduler()

	var mu sync.Mutex
	fired := 0
	count := func() { mu.Lock(); fired++; mu.Unlock() }

	s.ArmExpiry("a", time.Second, count)
	s.ArmExpiry("b", 2*time.Second, count)
	s.ArmNotifications("a", epoch.Add(time.Minute), []time.Duration{10 * time.Second}, func(time.Duration) { count() })

	s.Stop()
	clk.Advance(time.Hour)

	if fired != 0 {
		t.Fatalf("expected nothing to fire after Stop, got %d", fired)
	}
	if clk.Pending() != 0 {
		t.Fatalf("expected no pending clock waiters, got %d", clk.Pending())
	}
}
