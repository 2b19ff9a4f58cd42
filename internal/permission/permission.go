// Package permission defines the contractors that invoke engine operations
// and the authorizer contract that decides whether they may.
package permission

import (
	"context"
	"sort"
)

// Permission names an operation a contractor may be granted.
type Permission string

const (
	StopGlobalTimer  Permission = "stop_global_timer"
	StartGlobalTimer Permission = "start_global_timer"
	PauseTimer       Permission = "pause_timer"
	ResumeTimer      Permission = "resume_timer"
	Replenish        Permission = "replenish"
)

// All lists every known permission.
var All = []Permission{StopGlobalTimer, StartGlobalTimer, PauseTimer, ResumeTimer, Replenish}

// Contractor is the party on whose behalf an operation runs. A contractor
// with Bypass set skips every permission check.
type Contractor struct {
	ID     string `json:"id"`
	Bypass bool   `json:"bypass"`
}

// Console is the contractor used for operations the system performs on its
// own behalf, such as the daily replenishment.
var Console = Contractor{ID: "console", Bypass: true}

// Authorizer decides whether a contractor holds all of the given permissions.
type Authorizer interface {
	Allowed(ctx context.Context, contractor Contractor, perms ...Permission) (bool, error)
}

// Valid reports whether p is a known permission.
func Valid(p Permission) bool {
	for _, known := range All {
		if p == known {
			return true
		}
	}
	return false
}

// Strings returns perms as sorted strings.
func Strings(perms []Permission) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, string(p))
	}
	sort.Strings(out)
	return out
}
