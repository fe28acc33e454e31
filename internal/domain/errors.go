package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformedAmount    = errors.New("malformed amount")
	ErrUnknownAccount     = errors.New("unknown account")
	ErrIncompleteIntent   = errors.New("incomplete intent")
	ErrInvalidShareCount  = errors.New("invalid share count")
	ErrInsufficientShares = errors.New("insufficient shares")

	ErrPartialCommit    = errors.New("partial commit")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrRateLimited      = errors.New("rate limited")
	// ErrOutcomeUnknown is returned when a write timed out before it was acknowledged.
	ErrOutcomeUnknown = errors.New("outcome unknown")

	ErrParseFailure  = errors.New("parse failure")
	ErrEntryNotFound = errors.New("entry not found")
)

// ValidationError is a rejected candidate or intent. Kind is one of the
// sentinel errors above and is matched by errors.Is.
type ValidationError struct {
	Kind   error
	Field  string
	Reason string
}

// NewValidationError creates a ValidationError.
func NewValidationError(kind error, field, reason string) *ValidationError {
	return &ValidationError{Kind: kind, Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}

// PartialCommitError reports a multi-row write that stopped after some rows
// reached the store. It is never retried automatically.
type PartialCommitError struct {
	GroupID string
	Written []RowRef
	// Pending describes the writes that did not happen.
	Pending []string
	Err     error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("partial commit of group %s: %d rows written, pending [%s]: %v",
		e.GroupID, len(e.Written), strings.Join(e.Pending, "; "), e.Err)
}

func (e *PartialCommitError) Is(target error) bool {
	return target == ErrPartialCommit
}

func (e *PartialCommitError) Unwrap() error {
	return e.Err
}
