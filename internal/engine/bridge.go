package engine

import (
	"context"

	"github.com/goodtune/chronos/internal/events"
)

// Bridge is the host application the engine runs inside.
type Bridge interface {
	// ActiveUsers lists the users currently present, used when the global
	// timer starts.
	ActiveUsers(ctx context.Context) ([]string, error)
	WorkingDirectory() string
}

// ExpiryHook is implemented by bridges that want to hear about sessions
// ending on timeout.
type ExpiryHook interface {
	OnSessionExpired(ev events.SessionExpired)
}

// ThresholdHook is implemented by bridges that want leftover notifications.
type ThresholdHook interface {
	OnLeftoverThreshold(ev events.LeftoverThresholdReached)
}
