// Package replenish runs the daily quota replenishment at a fixed wall-clock
// time.
package replenish

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/chronos/internal/clock"
	"github.com/goodtune/chronos/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultTime is the time of day replenishment runs when none is configured.
const DefaultTime = "00:00"

// Target performs one replenishment run.
type Target interface {
	Replenish(ctx context.Context) error
}

// Scheduler manages daily replenishment runs
type Scheduler struct {
	target    Target
	resetTime time.Time // Time of day to replenish (only hour and minute are used)
	clock     clock.Clock
	location  *time.Location
	logger    zerolog.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler that calls target every day at resetTime
// (HH:MM) in loc.
func NewScheduler(target Target, resetTime string, clk clock.Clock, loc *time.Location, logger zerolog.Logger) (*Scheduler, error) {
	if resetTime == "" {
		resetTime = DefaultTime
	}
	parsedTime, err := time.Parse("15:04", resetTime)
	if err != nil {
		return nil, fmt.Errorf("invalid replenish time %q: %w", resetTime, err)
	}
	if loc == nil {
		loc = time.Local
	}

	return &Scheduler{
		target:    target,
		resetTime: parsedTime,
		clock:     clk,
		location:  loc,
		logger:    logger.With().Str("component", "replenish-scheduler").Logger(),
		stopChan:  make(chan struct{}),
	}, nil
}

// Start begins the scheduler loop. It runs until Stop is called or ctx is
// cancelled.
func (rs *Scheduler) Start(ctx context.Context) {
	rs.wg.Add(1)
	go rs.run(ctx)
	rs.logger.Info().
		Str("replenish_time", rs.resetTime.Format("15:04")).
		Str("location", rs.location.String()).
		Msg("Daily replenish scheduler started")
}

// Stop stops the scheduler and waits for an in-flight run to finish. It is
// safe to call more than once.
func (rs *Scheduler) Stop() {
	rs.stopOnce.Do(func() {
		close(rs.stopChan)
		rs.wg.Wait()
		rs.logger.Info().Msg("Daily replenish scheduler stopped")
	})
}

func (rs *Scheduler) run(ctx context.Context) {
	defer rs.wg.Done()

	for {
		nextRun := rs.NextRun(rs.clock.Now())
		waitDuration := nextRun.Sub(rs.clock.Now())

		rs.logger.Info().
			Time("next_run", nextRun).
			Dur("wait_duration", waitDuration).
			Msg("Scheduled next replenishment")

		select {
		case <-rs.clock.After(waitDuration):
			rs.perform(ctx)
		case <-rs.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// NextRun returns the first replenishment instant strictly after now.
func (rs *Scheduler) NextRun(now time.Time) time.Time {
	now = now.In(rs.location)

	todayRun := time.Date(
		now.Year(), now.Month(), now.Day(),
		rs.resetTime.Hour(), rs.resetTime.Minute(), 0, 0,
		rs.location,
	)

	if !now.Before(todayRun) {
		return todayRun.AddDate(0, 0, 1)
	}

	return todayRun
}

func (rs *Scheduler) perform(ctx context.Context) {
	rs.logger.Info().Msg("Performing daily replenishment")

	start := rs.clock.Now()
	err := rs.target.Replenish(ctx)
	metrics.ReplenishDuration.Observe(rs.clock.Now().Sub(start).Seconds())

	if err != nil {
		metrics.ReplenishRuns.WithLabelValues("error").Inc()
		rs.logger.Error().Err(err).Msg("Daily replenishment failed")
		return
	}

	metrics.ReplenishRuns.WithLabelValues("success").Inc()
	rs.logger.Info().Msg("Daily replenishment complete")
}
