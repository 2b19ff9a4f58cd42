package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned when the contractor lacks a required
	// permission. Nothing was changed.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrUserNotFound is returned for operations on an unknown user id.
	ErrUserNotFound = errors.New("user not found")

	// ErrSessionActive is returned when starting a session for a user that
	// already has one.
	ErrSessionActive = errors.New("session already active")
)

// Result codes reported to callers that expect numeric outcomes.
const (
	CodeSuccess          = 0
	CodeLackOfPermission = 40
	CodeNotFound         = 44
	CodeInternalError    = 50
)

// InternalError reports a failure inside a permission-gated operation.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: internal error: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

// Code maps an operation error to its result code.
func Code(err error) int {
	switch {
	case err == nil:
		return CodeSuccess
	case errors.Is(err, ErrPermissionDenied):
		return CodeLackOfPermission
	case errors.Is(err, ErrUserNotFound):
		return CodeNotFound
	default:
		return CodeInternalError
	}
}

func userNotFound(id string) error {
	return fmt.Errorf("%w: %s", ErrUserNotFound, id)
}
