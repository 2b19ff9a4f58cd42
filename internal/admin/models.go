package admin

import (
	"time"

	"github.com/goodtune/chronos/internal/storage"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
	// Result is the engine result code (0, 40, 44 or 50) when the error came
	// from an engine operation.
	Result int `json:"result,omitempty"`
}

// CreateUserRequest creates a user.
type CreateUserRequest struct {
	ID string `json:"id"`
}

// OperatorRequest sets or clears the operator flag.
type OperatorRequest struct {
	Operator bool `json:"operator"`
}

// GrantRequest adds quota to a user.
type GrantRequest struct {
	Seconds int64 `json:"seconds"`
}

// UserView is a user with its live state.
type UserView struct {
	ID              string           `json:"id"`
	Slots           []int64          `json:"slots"`
	Operator        bool             `json:"operator"`
	Excluded        bool             `json:"excluded"`
	Present         bool             `json:"present"`
	TimeLeftSeconds int64            `json:"time_left_seconds"`
	Session         *storage.Session `json:"session,omitempty"`
}

// JoinResponse reports the outcome of a join.
type JoinResponse struct {
	Allowed bool `json:"allowed"`
	Started bool `json:"started"`
}

// TimerResponse reports the outcome of a global timer toggle.
type TimerResponse struct {
	Active   bool              `json:"active"`
	Failures map[string]string `json:"failures,omitempty"`
}

// StatusResponse summarizes the engine.
type StatusResponse struct {
	GlobalTimerActive bool      `json:"global_timer_active"`
	ActiveSessions    int       `json:"active_sessions"`
	NextReplenish     time.Time `json:"next_replenish"`
	WorkingDirectory  string    `json:"working_directory"`
}

// AmountResponse is the replenishment amount of one weekday.
type AmountResponse struct {
	Day     string `json:"day"`
	Seconds int64  `json:"seconds"`
}
