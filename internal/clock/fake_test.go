package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func TestFakeClockAfterFuncFiresOnAdvance(t *testing.T) {
	clock := NewFake(epoch)

	fired := 0
	clock.AfterFunc(5*time.Second, func() { fired++ })

	clock.Advance(4 * time.Second)
	if fired != 0 {
		t.Fatalf("callback fired early")
	}

	clock.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("expected callback to fire once, fired %d times", fired)
	}

	clock.Advance(time.Hour)
	if fired != 1 {
		t.Fatalf("callback fired again after deadline: %d", fired)
	}
}

func TestFakeClockStop(t *testing.T) {
	clock := NewFake(epoch)

	fired := false
	timer := clock.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatal("Stop() on pending timer returned false")
	}
	if timer.Stop() {
		t.Fatal("second Stop() returned true")
	}

	clock.Advance(time.Minute)
	if fired {
		t.Fatal("stopped timer fired")
	}
	if clock.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", clock.Pending())
	}
}

func TestFakeClockFiresInDeadlineOrder(t *testing.T) {
	clock := NewFake(epoch)

	var order []int
	clock.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	clock.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	clock.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	clock.Advance(10 * time.Second)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("fire order = %v, want [1 2 3]", order)
	}
}

func TestFakeClockAfter(t *testing.T) {
	clock := NewFake(epoch)
	channel := clock.After(time.Minute)

	select {
	case <-channel:
		t.Fatal("After fired before Advance")
	default:
	}

	clock.Advance(time.Minute)

	select {
	case got := <-channel:
		if !got.Equal(epoch.Add(time.Minute)) {
			t.Fatalf("After delivered %v", got)
		}
	default:
		t.Fatal("After did not fire after Advance")
	}
}

func TestFakeClockAfterFuncNonPositiveRunsAsync(t *testing.T) {
	clock := NewFake(epoch)

	done := make(chan struct{})
	timer := clock.AfterFunc(0, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("zero-delay callback never ran")
	}
	if timer.Stop() {
		t.Fatal("Stop() after immediate fire returned true")
	}
}
