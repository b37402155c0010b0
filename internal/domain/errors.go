package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the domain layer.
var (
	ErrNotFound      = errors.New("domain: not found")
	ErrConflict      = errors.New("domain: conflict")
	ErrUnauthorized  = errors.New("domain: unauthorized")
	ErrForbidden     = errors.New("domain: forbidden")
	ErrInvalidAction = errors.New("domain: invalid action")
)

// ValidationError lists why an action may not be written.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return ErrInvalidAction.Error() + ": " + sentence(e.Reasons)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidAction }

// AccountabilityError is returned when policy refuses an operation. The
// matching attempted_* action has already been recorded.
type AccountabilityError struct {
	Agent     AgentRef
	Protected ProtectedRef
	Operation Operation
	Cause     error // policy failure treated as a refusal, may be nil
}

func (e *AccountabilityError) Error() string {
	msg := fmt.Sprintf("domain: %s is not permitted %s of %s", e.Agent, e.Operation, e.Protected)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *AccountabilityError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrForbidden}
	}
	return []error{ErrForbidden, e.Cause}
}

func sentence(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " and " + parts[1]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + ", and " + parts[len(parts)-1]
}
