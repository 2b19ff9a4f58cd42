package permission

import (
	"context"
	"sync"
)

// Wildcard grants every permission.
const Wildcard = "*"

// Static authorizes from an in-memory table of grants keyed by contractor
// id. It is used when no policy engine is configured.
type Static struct {
	mu     sync.RWMutex
	grants map[string]map[string]bool
}

// NewStatic builds a Static authorizer. A nil table denies everyone but
// bypass contractors.
func NewStatic(grants map[string][]string) *Static {
	s := &Static{}
	s.SetGrants(grants)
	return s
}

// SetGrants replaces the grant table.
func (s *Static) SetGrants(grants map[string][]string) {
	table := make(map[string]map[string]bool, len(grants))
	for id, perms := range grants {
		set := make(map[string]bool, len(perms))
		for _, p := range perms {
			set[p] = true
		}
		table[id] = set
	}

	s.mu.Lock()
	s.grants = table
	s.mu.Unlock()
}

// Allowed implements Authorizer.
func (s *Static) Allowed(_ context.Context, contractor Contractor, perms ...Permission) (bool, error) {
	if contractor.Bypass {
		return true, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	granted := s.grants[contractor.ID]
	if granted[Wildcard] {
		return true, nil
	}
	for _, p := range perms {
		if !granted[string(p)] {
			return false, nil
		}
	}
	return true, nil
}
