package domain

import (
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Domain Errors
// Sentinels are matched with errors.Is; the typed errors below carry context
// and unwrap to their sentinel.
// -----------------------------------------------------------------------------

// Resolution errors
var (
	ErrIdentityResolution = errors.New("identity resolution failed")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrQuestionNotFound   = errors.New("question not found")
	ErrNoLoader           = errors.New("no loader for collection")
)

// Drill errors
var (
	ErrTemplateUnavailable = errors.New("template unavailable")
	ErrValidation          = errors.New("validation failed")
	ErrNetworkFailure      = errors.New("network failure")
	ErrInFlight            = errors.New("operation already in progress")
	ErrStaleResponse       = errors.New("stale response discarded")
	ErrInvalidLevel        = errors.New("invalid level")
)

// General errors
var (
	ErrNotFound = errors.New("not found")
)

// IdentityResolutionError reports a mount point whose question could not be located.
type IdentityResolutionError struct {
	CollectionID string
	QuestionID   string
	Err          error
}

func (e *IdentityResolutionError) Error() string {
	return fmt.Sprintf("resolve question %q in collection %q: %v", e.QuestionID, e.CollectionID, e.Err)
}

func (e *IdentityResolutionError) Unwrap() error { return e.Err }

func (e *IdentityResolutionError) Is(target error) bool {
	return target == ErrIdentityResolution
}

// ValidationError reports a submission rejected before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NetworkFailure wraps a failed generation, grading or persistence request.
type NetworkFailure struct {
	Op  string
	Err error
}

func (e *NetworkFailure) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkFailure) Unwrap() error { return e.Err }

func (e *NetworkFailure) Is(target error) bool {
	return target == ErrNetworkFailure
}
