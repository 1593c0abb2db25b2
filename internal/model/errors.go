package model

import (
	"errors"
	"fmt"
)

// API error codes used in error response envelopes.
const (
	ErrCodeInvalidInput = "invalid_input"
	ErrCodeNotFound     = "not_found"
	ErrCodeNotReady     = "not_ready"
	ErrCodeCancelled    = "cancelled"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeInternal     = "internal_error"
)

// Sentinel errors for query-time failures. These never mutate run state.
var (
	// ErrNotFound is returned for an unknown or evicted migration id.
	ErrNotFound = errors.New("migration not found")

	// ErrNotReady is returned when the diagram is requested before
	// Phase 1 has completed or while the render is still in flight.
	ErrNotReady = errors.New("diagram not ready")

	// ErrCancelled is the terminal error of an explicitly abandoned run.
	ErrCancelled = errors.New("migration cancelled")
)

// ValidationError rejects a malformed start request. It is surfaced
// immediately and never retried; no run is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PhaseError marks a phase-level failure. For Phase 1 and 2 it is
// terminal for the whole run; Phase 3 task failures are contained
// per-task and never wrapped in a PhaseError.
type PhaseError struct {
	Phase int
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase %d (%s): %v", e.Phase, PhaseName(e.Phase), e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }
