package replenish

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goodtune/chronos/internal/clock"
	"github.com/rs/zerolog"
)

type targetFunc func(ctx context.Context) error

func (f targetFunc) Replenish(ctx context.Context) error { return f(ctx) }

func waitForPending(t *testing.T, clk *clock.FakeClock) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for clk.Pending() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("scheduler never armed its wait")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNextRun(t *testing.T) {
	loc := time.UTC
	rs, err := NewScheduler(nil, "03:30", clock.RealClock{}, loc, zerolog.Nop())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "before today's run",
			now:  time.Date(2024, 2, 28, 1, 0, 0, 0, loc),
			want: time.Date(2024, 2, 28, 3, 30, 0, 0, loc),
		},
		{
			name: "exactly at run time",
			now:  time.Date(2024, 2, 28, 3, 30, 0, 0, loc),
			want: time.Date(2024, 2, 29, 3, 30, 0, 0, loc),
		},
		{
			name: "after today's run",
			now:  time.Date(2024, 12, 31, 23, 59, 0, 0, loc),
			want: time.Date(2025, 1, 1, 3, 30, 0, 0, loc),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rs.NextRun(tt.now); !got.Equal(tt.want) {
				t.Errorf("NextRun(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestInvalidTime(t *testing.T) {
	if _, err := NewScheduler(nil, "25:99", clock.RealClock{}, time.UTC, zerolog.Nop()); err == nil {
		t.Fatal("expected error for invalid time")
	}
}

func TestSchedulerRunsDaily(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC))
	runs := make(chan time.Time, 4)
	target := targetFunc(func(context.Context) error {
		runs <- clk.Now()
		return errors.New("first run fails but the loop continues")
	})

	rs, err := NewScheduler(target, "", clk, time.UTC, zerolog.Nop())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	rs.Start(context.Background())
	defer rs.Stop()

	waitForPending(t, clk)
	clk.Advance(time.Hour)

	select {
	case at := <-runs:
		if !at.Equal(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)) {
			t.Fatalf("unexpected run time %v", at)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("replenishment did not run at midnight")
	}

	waitForPending(t, clk)
	clk.Advance(24 * time.Hour)

	select {
	case <-runs:
	case <-time.After(2 * time.Second):
		t.Fatal("replenishment did not run the following day")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	rs, err := NewScheduler(targetFunc(func(context.Context) error { return nil }), "00:00", clk, time.UTC, zerolog.Nop())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	rs.Start(context.Background())
	rs.Stop()
	rs.Stop()
}
