package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/chronos/internal/events"
	"github.com/goodtune/chronos/internal/metrics"
	"github.com/goodtune/chronos/internal/quota"
	"github.com/goodtune/chronos/internal/storage"
	"github.com/google/uuid"
)

// RequestJoin reports whether a user may join. Unknown users are refused;
// while the global timer is stopped everyone may join; operators may always
// join; everyone else needs quota left.
func (e *Engine) RequestJoin(ctx context.Context, id string) (bool, error) {
	user, err := e.users.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if !e.GlobalTimerActive() {
		return true, nil
	}
	if user.Operator {
		return true, nil
	}
	return quota.Sum(user.Slots) > 0, nil
}

// StartSession starts a session for a user. It returns false without
// changing anything when the global timer is stopped, or when the user is
// excluded and overrideExclusion is not set.
func (e *Engine) StartSession(ctx context.Context, id string, overrideExclusion bool) (bool, error) {
	e.mu.Lock()
	session, started, err := e.startLocked(ctx, id, overrideExclusion)
	e.mu.Unlock()

	if err != nil || !started {
		return false, err
	}

	e.publish(events.SessionCreated{
		User:             id,
		Session:          session,
		AvailableSeconds: session.EstimatedRemainingSeconds,
	})
	return true, nil
}

func (e *Engine) startLocked(ctx context.Context, id string, overrideExclusion bool) (storage.Session, bool, error) {
	if !e.globalActive {
		e.logger.Debug().Str("user_id", id).Msg("Global timer stopped, session not started")
		return storage.Session{}, false, nil
	}
	if e.excluded[id] && !overrideExclusion {
		e.logger.Debug().Str("user_id", id).Msg("User excluded, session not started")
		return storage.Session{}, false, nil
	}
	if _, exists := e.active[id]; exists {
		return storage.Session{}, false, fmt.Errorf("%w: %s", ErrSessionActive, id)
	}

	user, err := e.users.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Session{}, false, userNotFound(id)
	}
	if err != nil {
		return storage.Session{}, false, err
	}

	cfg, err := e.config.Load(ctx, true)
	if err != nil {
		return storage.Session{}, false, err
	}

	session := storage.Session{
		ID:                        uuid.NewString(),
		UserID:                    id,
		StartTime:                 e.clock.Now(),
		EstimatedRemainingSeconds: quota.Sum(user.Slots),
	}
	e.active[id] = session

	e.timers.ArmExpiry(session.ID, time.Duration(session.EstimatedRemainingSeconds)*time.Second, func() {
		e.expire(session)
	})
	e.timers.ArmNotifications(session.ID, session.Expiry(), cfg.Thresholds(), func(threshold time.Duration) {
		e.notify(session, threshold)
	})

	if err := e.sessions.UpsertSession(ctx, session); err != nil {
		e.logger.Error().Err(err).Str("user_id", id).Msg("Failed to mirror session")
	}

	metrics.SessionsStarted.Inc()
	metrics.ActiveSessions.Set(float64(len(e.active)))

	e.logger.Info().
		Str("user_id", id).
		Str("session_id", session.ID).
		Int64("available_seconds", session.EstimatedRemainingSeconds).
		Msg("Session started")

	return session, true, nil
}

// StopSession ends the session of a user and charges the elapsed time to the
// user's ledger. Stopping a user without a session is a no-op.
func (e *Engine) StopSession(ctx context.Context, id string, mode StopMode) error {
	return e.stop(ctx, id, "", mode)
}

// stop ends the session of userID. A non-empty sessionID restricts the stop
// to that session, so a timer left over from an earlier session can never
// end a newer one.
//
// The elapsed time is charged before the session is dropped. When the write
// fails the session stays active with its timers, so a later stop charges
// the full time; a failed timeout is retried after settleRetryDelay.
func (e *Engine) stop(ctx context.Context, userID, sessionID string, mode StopMode) error {
	e.mu.Lock()
	session, exists := e.active[userID]
	if !exists || (sessionID != "" && session.ID != sessionID) {
		e.mu.Unlock()
		return nil
	}

	// Settlement outlives the caller.
	settleCtx := context.WithoutCancel(ctx)

	elapsed := elapsedSeconds(session.StartTime, e.clock.Now())
	var overflow int64
	err := e.users.UpdateUser(settleCtx, userID, nil, func(user *storage.User) error {
		user.Slots, overflow = quota.Deplete(user.Slots, elapsed)
		return nil
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		if mode == StopTimeout {
			e.timers.ArmExpiry(session.ID, settleRetryDelay, func() {
				e.expire(session)
			})
		}
		e.mu.Unlock()

		e.logger.Error().
			Err(err).
			Str("user_id", userID).
			Str("session_id", session.ID).
			Str("mode", mode.String()).
			Msg("Failed to charge session, keeping it active")
		return fmt.Errorf("deplete quota of %s: %w", userID, err)
	}

	delete(e.active, userID)
	e.timers.CancelExpiry(session.ID)
	e.timers.CancelNotifications(session.ID)
	if mirrorErr := e.sessions.DeleteSession(settleCtx, userID); mirrorErr != nil && !errors.Is(mirrorErr, storage.ErrNotFound) {
		e.logger.Error().Err(mirrorErr).Str("user_id", userID).Msg("Failed to drop mirrored session")
	}
	metrics.ActiveSessions.Set(float64(len(e.active)))
	e.mu.Unlock()

	// The user left the document mid-session; there is nothing to charge.
	if err != nil {
		return userNotFound(userID)
	}
	metrics.SessionsStopped.WithLabelValues(mode.String()).Inc()

	metrics.QuotaSecondsConsumed.Add(float64(elapsed - overflow))
	if overflow > 0 {
		metrics.QuotaBleedSeconds.Add(float64(overflow))
		e.logger.Warn().
			Str("user_id", userID).
			Int64("bleed_seconds", overflow).
			Msg("Session used more than the available quota")
	}

	e.logger.Info().
		Str("user_id", userID).
		Str("session_id", session.ID).
		Str("mode", mode.String()).
		Int64("elapsed_seconds", elapsed).
		Msg("Session stopped")

	if mode == StopTimeout {
		ev := events.SessionExpired{User: userID, Session: session}
		e.publish(ev)
		if hook, ok := e.bridge.(ExpiryHook); ok {
			hook.OnSessionExpired(ev)
		}
	}
	return nil
}

func (e *Engine) expire(session storage.Session) {
	if err := e.stop(context.Background(), session.UserID, session.ID, StopTimeout); err != nil {
		e.logger.Error().Err(err).Str("user_id", session.UserID).Msg("Failed to expire session")
	}
}

func (e *Engine) notify(session storage.Session, threshold time.Duration) {
	e.mu.Lock()
	current, exists := e.active[session.UserID]
	e.mu.Unlock()
	if !exists || current.ID != session.ID {
		return
	}

	metrics.NotificationsFired.Inc()
	e.logger.Debug().
		Str("user_id", session.UserID).
		Dur("threshold", threshold).
		Msg("Leftover threshold reached")

	ev := events.LeftoverThresholdReached{User: session.UserID, Session: session, Threshold: threshold}
	e.publish(ev)
	if hook, ok := e.bridge.(ThresholdHook); ok {
		hook.OnLeftoverThreshold(ev)
	}
}

// TimeLeft returns the quota a user has left. For a running session this is
// the time until the session expires; otherwise it is the ledger total.
func (e *Engine) TimeLeft(ctx context.Context, id string) (time.Duration, error) {
	e.mu.Lock()
	session, exists := e.active[id]
	e.mu.Unlock()

	if exists {
		left := session.Expiry().Sub(e.clock.Now())
		if left < 0 {
			return 0, nil
		}
		return left, nil
	}

	user, err := e.users.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, userNotFound(id)
	}
	if err != nil {
		return 0, err
	}
	return time.Duration(quota.Sum(user.Slots)) * time.Second, nil
}
