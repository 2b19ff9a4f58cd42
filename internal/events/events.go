// Package events is the typed publish/subscribe bus that decouples session
// state changes from their side effects.
package events

import (
	"time"

	"github.com/goodtune/chronos/internal/storage"
)

// Kind identifies an event type.
type Kind int

const (
	KindSessionCreated Kind = iota + 1
	KindSessionExpired
	KindLeftoverThresholdReached
	KindQuotaReplenished
)

func (k Kind) String() string {
	switch k {
	case KindSessionCreated:
		return "session_created"
	case KindSessionExpired:
		return "session_expired"
	case KindLeftoverThresholdReached:
		return "leftover_threshold_reached"
	case KindQuotaReplenished:
		return "quota_replenished"
	default:
		return "unknown"
	}
}

// Event is implemented by every event published on the bus.
type Event interface {
	Kind() Kind
}

// SessionCreated is published after a session has started.
type SessionCreated struct {
	User             string
	Session          storage.Session
	AvailableSeconds int64
}

func (SessionCreated) Kind() Kind { return KindSessionCreated }

// SessionExpired is published when a session ends because its quota ran
// out. It is never published for an explicit stop.
type SessionExpired struct {
	User    string
	Session storage.Session
}

func (SessionExpired) Kind() Kind { return KindSessionExpired }

// LeftoverThresholdReached is published when the remaining time of a session
// crosses one of the configured thresholds.
type LeftoverThresholdReached struct {
	User      string
	Session   storage.Session
	Threshold time.Duration
}

func (LeftoverThresholdReached) Kind() Kind { return KindLeftoverThresholdReached }

// QuotaReplenished is published after a replenishment run.
type QuotaReplenished struct {
	Amount int64
	Users  int
}

func (QuotaReplenished) Kind() Kind { return KindQuotaReplenished }
