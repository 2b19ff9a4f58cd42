// Package bridge connects the engine to the host. Presence is an in-memory
// registry of the users currently present, fed by the admin API.
package bridge

import (
	"context"
	"sort"
	"sync"

	"github.com/goodtune/chronos/internal/events"
	"github.com/rs/zerolog"
)

// Presence tracks present users and receives engine hooks.
type Presence struct {
	workingDir string
	logger     zerolog.Logger

	mu    sync.RWMutex
	users map[string]struct{}
}

// NewPresence creates a registry seeded with initial.
func NewPresence(workingDir string, initial []string, logger zerolog.Logger) *Presence {
	p := &Presence{
		workingDir: workingDir,
		logger:     logger.With().Str("component", "bridge").Logger(),
		users:      make(map[string]struct{}, len(initial)),
	}
	for _, id := range initial {
		if id != "" {
			p.users[id] = struct{}{}
		}
	}
	return p
}

// Join marks a user as present. It reports false when the user already was.
func (p *Presence) Join(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.users[id]; ok {
		return false
	}
	p.users[id] = struct{}{}
	p.logger.Debug().Str("user_id", id).Msg("User joined")
	return true
}

// Leave marks a user as gone. It reports false when the user was not
// present.
func (p *Presence) Leave(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.users[id]; !ok {
		return false
	}
	delete(p.users, id)
	p.logger.Debug().Str("user_id", id).Msg("User left")
	return true
}

// Present reports whether a user is present.
func (p *Presence) Present(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.users[id]
	return ok
}

// ActiveUsers returns the present users in lexical order.
func (p *Presence) ActiveUsers(context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.users))
	for id := range p.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// WorkingDirectory returns the host working directory.
func (p *Presence) WorkingDirectory() string {
	return p.workingDir
}

// OnSessionExpired logs an expired session.
func (p *Presence) OnSessionExpired(ev events.SessionExpired) {
	p.logger.Info().
		Str("user_id", ev.User).
		Str("session_id", ev.Session.ID).
		Msg("Session expired, user is out of time")
}

// OnLeftoverThreshold logs a leftover time warning.
func (p *Presence) OnLeftoverThreshold(ev events.LeftoverThresholdReached) {
	p.logger.Info().
		Str("user_id", ev.User).
		Dur("left", ev.Threshold).
		Msg("Leftover time warning")
}
