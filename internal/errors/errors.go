// Package errors provides centralized error definitions and error handling
// utilities for the workq codebase. It defines the sentinel errors returned
// by the queue, registry, and lock layers, semantic error types with context,
// and classification helpers used by the CLI to pick exit codes.
//
// Creating errors:
//
//	err := errors.NewNotFoundError("task", "a1b2c3")
//	err := errors.NewValidationError("description must not be empty")
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrAlreadyClaimed) { ... }
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Re-export standard library functions for convenience so callers can import
// only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Queue-related sentinel errors.
var (
	// ErrTaskNotFound indicates that a task ID is unknown to the queue.
	ErrTaskNotFound = New("task not found")
	// ErrAlreadyClaimed indicates that a task is claimed by another session.
	ErrAlreadyClaimed = New("task already claimed")
	// ErrAlreadyCompleted indicates that a task has reached its terminal state.
	ErrAlreadyCompleted = New("task already completed")
	// ErrNotOwner indicates that a session tried to complete a task it did not claim.
	ErrNotOwner = New("task claimed by another session")
	// ErrDependencyBlocked indicates that a task has incomplete dependencies.
	ErrDependencyBlocked = New("task blocked by incomplete dependencies")
	// ErrNotClaimed indicates that an operation required a claimed task.
	// It refines the ownership failure for the never-claimed case: completing
	// an available task fails with ErrNotClaimed rather than ErrNotOwner, since
	// there is no claimant to name. Both are operational failures with the
	// same exit code.
	ErrNotClaimed = New("task is not claimed")
)

// Session-related sentinel errors.
var (
	// ErrSessionNotFound indicates that a session tag is not registered.
	ErrSessionNotFound = New("session not found")
	// ErrTagInUse indicates that a preferred session tag is already taken.
	ErrTagInUse = New("session tag already in use")
)

// Storage-related sentinel errors.
var (
	// ErrLockTimeout indicates that exclusive access could not be acquired
	// within the configured bound. Callers may retry the whole operation.
	ErrLockTimeout = New("timed out acquiring state lock")
	// ErrCorruptState indicates that a persisted document failed to parse.
	// Stores recover from this by treating the document as empty; the
	// sentinel only surfaces through logs and diagnostics.
	ErrCorruptState = New("state document corrupted")
)

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
//	err := errors.NewNotFoundError("task", "a1b2c3")
//	fmt.Println(err) // "task 'a1b2c3' not found"
type NotFoundError struct {
	ResourceType string
	ResourceID   string
	cause        error
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{ResourceType: resourceType, ResourceID: resourceID}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Unwrap returns the underlying error, if any.
func (e *NotFoundError) Unwrap() error { return e.cause }

// Is reports whether this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	switch e.ResourceType {
	case "task":
		if target == ErrTaskNotFound {
			return true
		}
	case "session":
		if target == ErrSessionNotFound {
			return true
		}
	}
	return e.cause != nil && errors.Is(e.cause, target)
}

// ValidationError represents invalid input or usage.
//
//	err := errors.NewValidationError("description must not be empty").WithField("description")
type ValidationError struct {
	Message string
	Field   string
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error [field=%s]: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Is reports whether this error matches the target.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// TimeoutError represents an operation that timed out. Timeouts are
// transient: the operation may succeed on retry.
type TimeoutError struct {
	Operation string
	Duration  time.Duration
	cause     error
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{Operation: operation, Duration: duration}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout: %s (after %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Unwrap returns the underlying error, if any.
func (e *TimeoutError) Unwrap() error { return e.cause }

// Is reports whether this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if target == ErrLockTimeout {
		return true
	}
	return e.cause != nil && errors.Is(e.cause, target)
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition that
// may succeed on retry. Lock acquisition timeouts and exhausted atomic-rename
// retries are the only retryable conditions in this codebase; every other
// failure is a definite, user-facing outcome.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var timeout *TimeoutError
	return As(err, &timeout) || Is(err, ErrLockTimeout)
}

// IsUsage returns true if the error reflects invalid input rather than an
// operational failure. The CLI maps usage errors to exit code 2.
func IsUsage(err error) bool {
	if err == nil {
		return false
	}
	var validation *ValidationError
	return As(err, &validation)
}

// Wrap wraps an error with an additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
