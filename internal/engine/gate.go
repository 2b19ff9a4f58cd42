package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/goodtune/chronos/internal/metrics"
	"github.com/goodtune/chronos/internal/permission"
)

// guard runs logic on behalf of contractor once it holds perms. Denial
// changes nothing and returns ErrPermissionDenied. Errors and panics from
// logic come back as *InternalError.
func guard[T any](ctx context.Context, e *Engine, contractor permission.Contractor, op string, perms []permission.Permission, logic func() (T, error)) (result T, err error) {
	allowed := contractor.Bypass
	if !allowed {
		allowed, err = e.authz.Allowed(ctx, contractor, perms...)
		if err != nil {
			return result, &InternalError{Op: op, Err: fmt.Errorf("authorize: %w", err)}
		}
	}
	if !allowed {
		metrics.PermissionDenied.WithLabelValues(op).Inc()
		e.logger.Warn().
			Str("contractor", contractor.ID).
			Str("operation", op).
			Strs("permissions", permission.Strings(perms)).
			Msg("Permission denied")
		return result, ErrPermissionDenied
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Str("operation", op).Msg("Recovered panic in engine operation")
			err = &InternalError{Op: op, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	result, err = logic()
	if err != nil {
		return result, &InternalError{Op: op, Err: err}
	}
	return result, nil
}

// PauseTimerFor excludes a user and stops their session.
func (e *Engine) PauseTimerFor(ctx context.Context, contractor permission.Contractor, id string) error {
	_, err := guard(ctx, e, contractor, "pause_timer", []permission.Permission{permission.PauseTimer}, func() (struct{}, error) {
		e.SetExclusionFlag(id, true)
		return struct{}{}, e.StopSession(ctx, id, StopExplicit)
	})
	return err
}

// ResumeTimerFor clears the exclusion of a user and starts their session.
func (e *Engine) ResumeTimerFor(ctx context.Context, contractor permission.Contractor, id string) (bool, error) {
	return guard(ctx, e, contractor, "resume_timer", []permission.Permission{permission.ResumeTimer}, func() (bool, error) {
		e.SetExclusionFlag(id, false)
		return e.StartSession(ctx, id, false)
	})
}

// StopGlobalTimer stops the global timer and every running session. The
// returned map holds the users whose session failed to stop.
func (e *Engine) StopGlobalTimer(ctx context.Context, contractor permission.Contractor) (map[string]error, error) {
	return guard(ctx, e, contractor, "stop_global_timer", []permission.Permission{permission.StopGlobalTimer}, func() (map[string]error, error) {
		e.globalMu.Lock()
		defer e.globalMu.Unlock()
		return e.stopGlobal(ctx), nil
	})
}

// StartGlobalTimer starts the global timer and a session for every user the
// bridge reports as present. The returned map holds the users whose session
// failed to start.
func (e *Engine) StartGlobalTimer(ctx context.Context, contractor permission.Contractor) (map[string]error, error) {
	return guard(ctx, e, contractor, "start_global_timer", []permission.Permission{permission.StartGlobalTimer}, func() (map[string]error, error) {
		e.globalMu.Lock()
		defer e.globalMu.Unlock()
		return e.startGlobal(ctx)
	})
}

func (e *Engine) stopGlobal(ctx context.Context) map[string]error {
	e.mu.Lock()
	e.globalActive = false
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	sort.Strings(ids)

	failures := make(map[string]error)
	for _, id := range ids {
		if err := e.StopSession(ctx, id, StopExplicit); err != nil {
			failures[id] = err
		}
	}

	e.logger.Info().
		Int("sessions", len(ids)).
		Int("failures", len(failures)).
		Msg("Global timer stopped")
	return failures
}

func (e *Engine) startGlobal(ctx context.Context) (map[string]error, error) {
	e.mu.Lock()
	e.globalActive = true
	e.mu.Unlock()

	ids, err := e.bridge.ActiveUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}

	failures := make(map[string]error)
	started := 0
	for _, id := range ids {
		ok, err := e.StartSession(ctx, id, false)
		if err != nil {
			failures[id] = err
			continue
		}
		if ok {
			started++
		}
	}

	e.logger.Info().
		Int("users", len(ids)).
		Int("started", started).
		Int("failures", len(failures)).
		Msg("Global timer started")
	return failures, nil
}
