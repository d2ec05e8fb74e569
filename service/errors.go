package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/lammac-social/lammac/store"
)

var (
	ErrInvalidAPIKey = errors.New("invalid API key")
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrBanned        = errors.New("agent is banned")
	ErrNotFound      = store.ErrNotFound
	ErrNameTaken     = store.ErrNameTaken
)

// ValidationError is a malformed request. Reason is meant for the caller.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalidField(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ProofError is a rejected capability proof.
type ProofError struct {
	Reason string
}

func (e *ProofError) Error() string {
	return "capability proof rejected: " + e.Reason
}

// DeniedError is a rate limit or spam decision. It is not a fault; callers
// may retry after ResetTime when it is set.
type DeniedError struct {
	Action    string
	Reason    string
	ResetTime *time.Time
}

func (e *DeniedError) Error() string {
	if e.ResetTime != nil {
		return fmt.Sprintf("%s denied: %s (resets %s)", e.Action, e.Reason, e.ResetTime.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("%s denied: %s", e.Action, e.Reason)
}
