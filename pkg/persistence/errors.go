// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow state was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrReviewRequestNotFound indicates a human review request was not found for the given workflow.
	ErrReviewRequestNotFound = errors.New("review request not found")

	// ErrSessionNotFound indicates no collection session exists for the given user.
	ErrSessionNotFound = errors.New("session not found")
)

// StoreError wraps backend failures (I/O, connectivity, serialization).
// Losing a write corrupts the state machine's invariants, so store
// failures are always distinguishable from domain errors and never
// swallowed; callers can retry.
type StoreError struct {
	Op  string // Operation being performed (e.g., "Save", "ByID")
	Key string // Record key if applicable
	Err error  // Underlying error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store %s failed for %s: %v", e.Op, e.Key, e.Err)
	}

	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a store error with operation context.
func NewStoreError(op, key string, err error) *StoreError {
	return &StoreError{Op: op, Key: key, Err: err}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsReviewRequestNotFound checks if an error indicates a review request was not found.
func IsReviewRequestNotFound(err error) bool {
	return errors.Is(err, ErrReviewRequestNotFound)
}

// IsSessionNotFound checks if an error indicates a session was not found.
func IsSessionNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}

// IsStoreFailure checks if an error originated in the storage backend
// rather than the domain.
func IsStoreFailure(err error) bool {
	var storeErr *StoreError

	return errors.As(err, &storeErr)
}
