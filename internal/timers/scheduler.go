// Package timers arms and cancels the per-session expiry and leftover
// notification timers.
package timers

import (
	"sync"
	"time"

	"github.com/goodtune/chronos/internal/clock"
	"github.com/rs/zerolog"
)

// Scheduler keeps at most one expiry timer and any number of notification
// timers per session id. Expiry and notification timers are independent:
// cancelling one kind never touches the other.
type Scheduler struct {
	clock  clock.Clock
	logger zerolog.Logger

	mu            sync.Mutex
	expiry        map[string]*entry
	notifications map[string][]*entry
}

type entry struct {
	timer clock.Timer
}

// NewScheduler creates a scheduler driven by clk.
func NewScheduler(clk clock.Clock, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		clock:         clk,
		logger:        logger.With().Str("component", "timers").Logger(),
		expiry:        make(map[string]*entry),
		notifications: make(map[string][]*entry),
	}
}

// ArmExpiry schedules onExpire to run once after the given delay. Arming an
// id that already has an expiry timer stops the previous one first.
func (s *Scheduler) ArmExpiry(sessionID string, after time.Duration, onExpire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if previous, ok := s.expiry[sessionID]; ok {
		previous.timer.Stop()
	}

	e := &entry{}
	s.expiry[sessionID] = e
	e.timer = s.clock.AfterFunc(after, func() {
		s.mu.Lock()
		if s.expiry[sessionID] == e {
			delete(s.expiry, sessionID)
		}
		s.mu.Unlock()
		onExpire()
	})

	s.logger.Debug().
		Str("session_id", sessionID).
		Dur("after", after).
		Msg("Expiry armed")
}

// CancelExpiry stops the expiry timer of sessionID. It reports whether a
// pending timer was stopped; a fired or unknown timer is not an error.
func (s *Scheduler) CancelExpiry(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.expiry[sessionID]
	if !ok {
		return false
	}
	delete(s.expiry, sessionID)
	return e.timer.Stop()
}

// ArmNotifications schedules onThreshold for every threshold that still lies
// ahead of the session expiry. Thresholds already passed are skipped.
func (s *Scheduler) ArmNotifications(sessionID string, expiry time.Time, thresholds []time.Duration, onThreshold func(threshold time.Duration)) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	armed := 0
	for _, threshold := range thresholds {
		delay := expiry.Add(-threshold).Sub(now)
		if delay < 0 {
			continue
		}

		threshold := threshold
		s.notifications[sessionID] = append(s.notifications[sessionID], &entry{
			timer: s.clock.AfterFunc(delay, func() { onThreshold(threshold) }),
		})
		armed++
	}

	s.logger.Debug().
		Str("session_id", sessionID).
		Int("armed", armed).
		Int("skipped", len(thresholds)-armed).
		Msg("Notifications armed")
	return armed
}

// CancelNotifications stops every pending notification timer of sessionID.
func (s *Scheduler) CancelNotifications(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.notifications[sessionID] {
		e.timer.Stop()
	}
	delete(s.notifications, sessionID)
}

// Pending returns the number of expiry and notification timers tracked for
// sessionID.
func (s *Scheduler) Pending(sessionID string) (expiry bool, notifications int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, expiry = s.expiry[sessionID]
	return expiry, len(s.notifications[sessionID])
}

// Stop cancels every timer the scheduler holds.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.expiry {
		e.timer.Stop()
		delete(s.expiry, id)
	}
	for id, entries := range s.notifications {
		for _, e := range entries {
			e.timer.Stop()
		}
		delete(s.notifications, id)
	}
}
