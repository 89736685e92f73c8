package membership

import (
	"strings"
)

// The error taxonomy for membership mutations. Validation, authorization,
// not-found, and precondition-blocked errors are all detected before any
// write begins and never leave partial state; anything else that escapes the
// service is an upstream failure.

// ValidationError carries one or more field-level validation messages.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Errors, "; ")
}

// AuthorizationError is returned when the caller lacks the organizer,
// leader, or super-agent role for the target entity.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string {
	return e.Message
}

// NotFoundError is returned for ids with no embedded reference anywhere in
// the directory.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string {
	return e.Message
}

// BlockedError is returned when a delete is forbidden by a precondition
// (pending invitations, affiliated teams, remaining members).
type BlockedError struct {
	Message string
}

func (e *BlockedError) Error() string {
	return e.Message
}
