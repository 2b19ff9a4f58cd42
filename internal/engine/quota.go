package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/chronos/internal/events"
	"github.com/goodtune/chronos/internal/permission"
	"github.com/goodtune/chronos/internal/quota"
	"github.com/goodtune/chronos/internal/storage"
)

// ReplenishmentAmount returns the quota granted on day:
// base x unit x multiplier[day], times the weekend multiplier on Saturday
// and Sunday. Fractions of a second are dropped.
func (e *Engine) ReplenishmentAmount(ctx context.Context, day time.Weekday) (time.Duration, error) {
	cfg, err := e.config.Load(ctx, true)
	if err != nil {
		return 0, err
	}
	return replenishmentAmount(cfg, day)
}

func replenishmentAmount(cfg storage.Config, day time.Weekday) (time.Duration, error) {
	multiplier, err := cfg.Multiplier(day)
	if err != nil {
		return 0, err
	}

	seconds := cfg.ReplenishBase * cfg.ReplenishBaseUnit.Std().Seconds() * multiplier
	if day == time.Saturday || day == time.Sunday {
		seconds *= cfg.ReplenishWeekendMultiplier
	}
	return time.Duration(int64(seconds)) * time.Second, nil
}

func (e *Engine) today() time.Weekday {
	return e.clock.Now().In(e.location).Weekday()
}

// Replenish runs one replenishment: the global timer is stopped, every user
// receives today's amount as a new slot, then the global timer is started
// again for the users present. No other global toggle runs in between.
func (e *Engine) Replenish(ctx context.Context) error {
	e.globalMu.Lock()
	defer e.globalMu.Unlock()

	cfg, err := e.config.Load(ctx, true)
	if err != nil {
		return err
	}
	amount, err := replenishmentAmount(cfg, e.today())
	if err != nil {
		return err
	}
	seconds := int64(amount / time.Second)

	for id, err := range e.stopGlobal(ctx) {
		e.logger.Error().Err(err).Str("user_id", id).Msg("Failed to stop session before replenishment")
	}

	var count int
	updateErr := e.users.Update(ctx, func(users []storage.User) ([]storage.User, error) {
		for i := range users {
			users[i].Slots = quota.Replenish(users[i].Slots, seconds, cfg.MaxSlotHistory)
		}
		count = len(users)
		return users, nil
	})

	failures, startErr := e.startGlobal(ctx)
	for id, err := range failures {
		e.logger.Error().Err(err).Str("user_id", id).Msg("Failed to resume session after replenishment")
	}

	if updateErr != nil {
		return fmt.Errorf("replenish users: %w", updateErr)
	}
	if startErr != nil {
		return startErr
	}

	e.logger.Info().
		Int64("amount_seconds", seconds).
		Int("users", count).
		Msg("Quota replenished")
	e.publish(events.QuotaReplenished{Amount: seconds, Users: count})
	return nil
}

// ReplenishFor runs a replenishment on behalf of contractor.
func (e *Engine) ReplenishFor(ctx context.Context, contractor permission.Contractor) error {
	_, err := guard(ctx, e, contractor, "replenish", []permission.Permission{permission.Replenish}, func() (struct{}, error) {
		return struct{}{}, e.Replenish(ctx)
	})
	return err
}

func (e *Engine) newUser(ctx context.Context, id string) (storage.User, error) {
	amount, err := e.ReplenishmentAmount(ctx, e.today())
	if err != nil {
		return storage.User{}, err
	}
	return storage.User{
		ID:    id,
		Slots: quota.Replenish(nil, int64(amount/time.Second), 1),
	}, nil
}

// CreateUser registers a user with one slot of today's replenishment amount.
// It reports false when the user already exists.
func (e *Engine) CreateUser(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("user id is required")
	}
	if _, err := e.users.Get(ctx, id); err == nil {
		return false, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}

	user, err := e.newUser(ctx, id)
	if err != nil {
		return false, err
	}

	created := false
	err = e.users.UpdateUser(ctx, id, func() storage.User { created = true; return user }, func(*storage.User) error { return nil })
	if err != nil {
		return false, err
	}
	if created {
		e.logger.Info().Str("user_id", id).Ints64("slots", user.Slots).Msg("User created")
	}
	return created, nil
}

// UpdateUser applies fn to a user, creating the user first when unknown.
func (e *Engine) UpdateUser(ctx context.Context, id string, fn func(user *storage.User) error) error {
	var createErr error
	create := func() storage.User {
		user, err := e.newUser(ctx, id)
		createErr = err
		return user
	}
	return e.users.UpdateUser(ctx, id, create, func(user *storage.User) error {
		if createErr != nil {
			return createErr
		}
		return fn(user)
	})
}

// Grant adds seconds to a user's ledger as a new slot. A running session is
// restarted so its expiry covers the granted time.
func (e *Engine) Grant(ctx context.Context, id string, seconds int64) error {
	if seconds <= 0 {
		return fmt.Errorf("grant must be positive, got %d", seconds)
	}

	err := e.users.UpdateUser(ctx, id, nil, func(user *storage.User) error {
		user.Slots = append(quota.Prune(user.Slots), seconds)
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return userNotFound(id)
	}
	if err != nil {
		return err
	}
	e.logger.Info().Str("user_id", id).Int64("seconds", seconds).Msg("Quota granted")

	e.mu.Lock()
	_, active := e.active[id]
	e.mu.Unlock()
	if !active {
		return nil
	}
	if err := e.StopSession(ctx, id, StopExplicit); err != nil {
		return err
	}
	_, err = e.StartSession(ctx, id, true)
	return err
}

// User returns a stored user.
func (e *Engine) User(ctx context.Context, id string) (*storage.User, error) {
	user, err := e.users.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, userNotFound(id)
	}
	return user, err
}

// Users returns every stored user.
func (e *Engine) Users(ctx context.Context) ([]storage.User, error) {
	return e.users.Load(ctx)
}

// Config returns the engine configuration, from the cache when cached is
// set.
func (e *Engine) Config(ctx context.Context, cached bool) (storage.Config, error) {
	return e.config.Load(ctx, cached)
}

// UpdateConfig applies fn to the stored configuration and refreshes the
// cache.
func (e *Engine) UpdateConfig(ctx context.Context, fn func(cfg *storage.Config) error) (storage.Config, error) {
	return e.config.Update(ctx, fn)
}

// ReloadConfig re-reads the configuration document into the cache.
func (e *Engine) ReloadConfig(ctx context.Context) (storage.Config, error) {
	cfg, err := e.config.Reload(ctx)
	if err != nil {
		return storage.Config{}, err
	}
	e.logger.Info().Int("max_slot_history", cfg.MaxSlotHistory).Msg("Config reloaded")
	return cfg, nil
}
