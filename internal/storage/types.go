package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// User is a quota holder. Slots are seconds of allowed usage, oldest first.
type User struct {
	ID       string  `json:"id"`
	Slots    []int64 `json:"slots"`
	Operator bool    `json:"operator"`
}

// Clone returns a deep copy of the user.
func (u User) Clone() User {
	slots := make([]int64, len(u.Slots))
	copy(slots, u.Slots)
	u.Slots = slots
	return u
}

// UserDocument is the persisted shape of the users document.
type UserDocument struct {
	Users []User `json:"users"`
}

// Session is a running usage session. EstimatedRemainingSeconds is the total
// quota snapshot taken when the session started and never changes.
type Session struct {
	ID                        string    `json:"id"`
	UserID                    string    `json:"user_id"`
	StartTime                 time.Time `json:"start_time"`
	EstimatedRemainingSeconds int64     `json:"estimated_remaining_seconds"`
}

// Expiry returns the instant at which the session's quota runs out.
func (s Session) Expiry() time.Time {
	return s.StartTime.Add(time.Duration(s.EstimatedRemainingSeconds) * time.Second)
}

// Duration is a time.Duration that serializes as a Go duration string.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts either a duration string ("5m") or an integer number
// of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var seconds int64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return fmt.Errorf("invalid duration: %s", string(data))
	}
	*d = Duration(time.Duration(seconds) * time.Second)
	return nil
}

// Config is the persisted engine configuration document.
type Config struct {
	MaxSlotHistory                 int                `json:"max_slot_history"`
	ReplenishMultipliers           map[string]float64 `json:"replenish_multipliers"`
	ReplenishBase                  float64            `json:"replenish_base"`
	ReplenishBaseUnit              Duration           `json:"replenish_base_unit"`
	ReplenishWeekendMultiplier     float64            `json:"replenish_weekend_multiplier"`
	LeftoverNotificationThresholds []Duration         `json:"leftover_notification_thresholds"`
}

// DefaultConfig returns the configuration written when no config document
// exists yet.
func DefaultConfig() Config {
	multipliers := make(map[string]float64, 7)
	for day := time.Sunday; day <= time.Saturday; day++ {
		multipliers[WeekdayKey(day)] = 1
	}

	thresholds := []Duration{
		Duration(5 * time.Minute),
		Duration(time.Minute),
		Duration(30 * time.Second),
	}
	for s := 10; s >= 1; s-- {
		thresholds = append(thresholds, Duration(time.Duration(s)*time.Second))
	}

	return Config{
		MaxSlotHistory:                 3,
		ReplenishMultipliers:           multipliers,
		ReplenishBase:                  1,
		ReplenishBaseUnit:              Duration(time.Hour),
		ReplenishWeekendMultiplier:     1,
		LeftoverNotificationThresholds: thresholds,
	}
}

// Clone returns a deep copy of the configuration.
func (c Config) Clone() Config {
	multipliers := make(map[string]float64, len(c.ReplenishMultipliers))
	for k, v := range c.ReplenishMultipliers {
		multipliers[k] = v
	}
	thresholds := make([]Duration, len(c.LeftoverNotificationThresholds))
	copy(thresholds, c.LeftoverNotificationThresholds)

	c.ReplenishMultipliers = multipliers
	c.LeftoverNotificationThresholds = thresholds
	return c
}

// Multiplier returns the replenishment multiplier for day.
func (c Config) Multiplier(day time.Weekday) (float64, error) {
	m, ok := c.ReplenishMultipliers[WeekdayKey(day)]
	if !ok {
		return 0, fmt.Errorf("no replenish multiplier for %s", WeekdayKey(day))
	}
	return m, nil
}

// Thresholds returns the leftover notification thresholds as durations.
func (c Config) Thresholds() []time.Duration {
	out := make([]time.Duration, 0, len(c.LeftoverNotificationThresholds))
	for _, threshold := range c.LeftoverNotificationThresholds {
		out = append(out, threshold.Std())
	}
	return out
}

// Validate checks the invariants of the configuration document.
func (c Config) Validate() error {
	if c.MaxSlotHistory < 1 {
		return fmt.Errorf("max_slot_history must be at least 1, got %d", c.MaxSlotHistory)
	}
	for day := time.Sunday; day <= time.Saturday; day++ {
		m, ok := c.ReplenishMultipliers[WeekdayKey(day)]
		if !ok {
			return fmt.Errorf("replenish_multipliers is missing %s", WeekdayKey(day))
		}
		if m < 0 {
			return fmt.Errorf("replenish multiplier for %s is negative", WeekdayKey(day))
		}
	}
	if len(c.ReplenishMultipliers) != 7 {
		return fmt.Errorf("replenish_multipliers has unknown keys")
	}
	if c.ReplenishBase < 0 || c.ReplenishBaseUnit < 0 || c.ReplenishWeekendMultiplier < 0 {
		return fmt.Errorf("replenish amounts must not be negative")
	}

	seen := make(map[Duration]bool, len(c.LeftoverNotificationThresholds))
	for _, threshold := range c.LeftoverNotificationThresholds {
		if threshold <= 0 {
			return fmt.Errorf("leftover notification threshold must be positive, got %s", threshold.Std())
		}
		if seen[threshold] {
			return fmt.Errorf("duplicate leftover notification threshold %s", threshold.Std())
		}
		seen[threshold] = true
	}
	return nil
}

// WeekdayKey returns the lowercase document key for day.
func WeekdayKey(day time.Weekday) string {
	return strings.ToLower(day.String())
}

// ParseWeekday accepts a weekday name such as "monday" or "Mon".
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for day := time.Sunday; day <= time.Saturday; day++ {
		key := WeekdayKey(day)
		if s == key || (len(s) >= 3 && strings.HasPrefix(key, s)) {
			return day, nil
		}
	}
	return 0, fmt.Errorf("invalid day of week: %q", s)
}
