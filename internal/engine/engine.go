// Package engine is the session and quota engine. It owns the active session
// table, the per-user exclusion flags and the global timer flag, and drives
// the quota ledger, the timers and the event bus.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goodtune/chronos/internal/clock"
	"github.com/goodtune/chronos/internal/events"
	"github.com/goodtune/chronos/internal/permission"
	"github.com/goodtune/chronos/internal/quota"
	"github.com/goodtune/chronos/internal/replenish"
	"github.com/goodtune/chronos/internal/storage"
	"github.com/goodtune/chronos/internal/timers"
	"github.com/rs/zerolog"
)

// StopMode tells StopSession why a session ends.
type StopMode int

const (
	// StopExplicit is a stop requested by a caller.
	StopExplicit StopMode = iota
	// StopTimeout is a stop caused by the session's quota running out.
	StopTimeout
)

func (m StopMode) String() string {
	if m == StopTimeout {
		return "timeout"
	}
	return "explicit"
}

// settleRetryDelay is how long an expired session whose charge could not be
// written waits before the timeout is tried again.
const settleRetryDelay = 5 * time.Second

// Options configures an Engine.
type Options struct {
	Store      storage.Store
	Bridge     Bridge
	Authorizer permission.Authorizer
	Clock      clock.Clock
	Bus        *events.Bus

	// ReplenishAt is the daily replenishment time (HH:MM) in Location.
	ReplenishAt string
	Location    *time.Location

	Logger zerolog.Logger
}

// Engine manages sessions and quotas.
type Engine struct {
	users       *storage.UserStore
	config      *storage.ConfigStore
	sessions    storage.SessionStore
	timers      *timers.Scheduler
	bus         *events.Bus
	bridge      Bridge
	authz       permission.Authorizer
	clock       clock.Clock
	location    *time.Location
	replenisher *replenish.Scheduler
	logger      zerolog.Logger

	// globalMu serializes global timer toggles and replenishment. It is
	// always taken before mu.
	globalMu sync.Mutex

	mu           sync.Mutex
	active       map[string]storage.Session // key: user id
	excluded     map[string]bool
	globalActive bool
}

// New creates an engine and loads the configuration document into the
// cache.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}
	if opts.Authorizer == nil {
		opts.Authorizer = permission.NewStatic(nil)
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus(opts.Logger)
	}

	e := &Engine{
		users:        storage.NewUserStore(opts.Store.Documents(), opts.Logger),
		config:       storage.NewConfigStore(opts.Store.Documents(), opts.Logger),
		sessions:     opts.Store.Sessions(),
		timers:       timers.NewScheduler(opts.Clock, opts.Logger),
		bus:          opts.Bus,
		bridge:       opts.Bridge,
		authz:        opts.Authorizer,
		clock:        opts.Clock,
		location:     opts.Location,
		logger:       opts.Logger.With().Str("component", "engine").Logger(),
		active:       make(map[string]storage.Session),
		excluded:     make(map[string]bool),
		globalActive: true,
	}

	replenisher, err := replenish.NewScheduler(e, opts.ReplenishAt, opts.Clock, opts.Location, opts.Logger)
	if err != nil {
		return nil, err
	}
	e.replenisher = replenisher

	if _, err := e.config.Reload(ctx); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return e, nil
}

// Start settles sessions left behind by a previous process and starts the
// daily replenishment scheduler.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.settleStaleSessions(ctx); err != nil {
		return err
	}
	e.replenisher.Start(ctx)
	e.logger.Info().Str("working_dir", e.bridge.WorkingDirectory()).Msg("Engine started")
	return nil
}

// settleStaleSessions charges every mirrored session for the time it ran
// before the process went away, capped at the quota it started with.
func (e *Engine) settleStaleSessions(ctx context.Context) error {
	stale, err := e.sessions.ListActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("list stale sessions: %w", err)
	}

	now := e.clock.Now()
	for _, session := range stale {
		elapsed := elapsedSeconds(session.StartTime, now)
		if elapsed > session.EstimatedRemainingSeconds {
			elapsed = session.EstimatedRemainingSeconds
		}

		err := e.users.UpdateUser(ctx, session.UserID, nil, func(user *storage.User) error {
			user.Slots, _ = quota.Deplete(user.Slots, elapsed)
			return nil
		})
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("settle session of %s: %w", session.UserID, err)
		}
		if err := e.sessions.DeleteSession(ctx, session.UserID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("drop stale session of %s: %w", session.UserID, err)
		}

		e.logger.Warn().
			Str("user_id", session.UserID).
			Str("session_id", session.ID).
			Int64("elapsed_seconds", elapsed).
			Msg("Settled session left by previous run")
	}
	return nil
}

// Shutdown stops the replenishment scheduler, stops every session (charging
// its ledger) and cancels all timers.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.replenisher.Stop()

	var errs []error
	for _, id := range e.activeUserIDs() {
		if err := e.StopSession(ctx, id, StopExplicit); err != nil {
			errs = append(errs, fmt.Errorf("stop session of %s: %w", id, err))
		}
	}
	e.timers.Stop()

	e.logger.Info().Int("failures", len(errs)).Msg("Engine stopped")
	return errors.Join(errs...)
}

// Events returns the bus the engine publishes on.
func (e *Engine) Events() *events.Bus {
	return e.bus
}

// Bridge returns the host bridge.
func (e *Engine) Bridge() Bridge {
	return e.bridge
}

// NextReplenish returns the next scheduled replenishment instant.
func (e *Engine) NextReplenish() time.Time {
	return e.replenisher.NextRun(e.clock.Now())
}

// GlobalTimerActive reports whether sessions may currently run.
func (e *Engine) GlobalTimerActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.globalActive
}

// ActiveSessions returns a snapshot of the running sessions ordered by user.
func (e *Engine) ActiveSessions() []storage.Session {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]storage.Session, 0, len(e.active))
	for _, session := range e.active {
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (e *Engine) activeUserIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetExclusionFlag marks a user as excluded from starting sessions.
func (e *Engine) SetExclusionFlag(id string, excluded bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if excluded {
		e.excluded[id] = true
	} else {
		delete(e.excluded, id)
	}
}

// IsExcluded reports the exclusion flag of a user.
func (e *Engine) IsExcluded(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.excluded[id]
}

func (e *Engine) publish(ev events.Event) {
	// Handler failures are logged and counted by the bus.
	_ = e.bus.Publish(ev)
}

func elapsedSeconds(start, now time.Time) int64 {
	elapsed := int64(now.Sub(start) / time.Second)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}
