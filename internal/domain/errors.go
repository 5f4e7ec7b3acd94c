package domain

import (
	"errors"
	"time"
)

// Common domain errors
var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrInvalidRequest = errors.New("invalid request")

	// Dispatch errors
	ErrQueueIdle       = errors.New("dispatch queue is idle")
	ErrDispatchTimeout = errors.New("engine did not acknowledge in time")
	ErrStopped         = errors.New("orchestrator stopped")

	// Destination errors
	ErrDestinationDelete          = errors.New("failed to delete existing file")
	ErrDestinationAlreadyAssigned = errors.New("destination already assigned")
	ErrNoDestination              = errors.New("no destination directory configured")

	// Transfer errors
	ErrTransferNotFound   = errors.New("transfer not found")
	ErrTransferCanceled   = errors.New("transfer canceled")
	ErrInvalidResumeData  = errors.New("invalid resume data")
	ErrInvalidPolicy      = errors.New("invalid existing file policy")
	ErrInvalidStateChange = errors.New("invalid state transition")
)

// DestinationError describes a failure while preparing a download destination.
type DestinationError struct {
	Path string
	Op   string
	Err  error
}

// Error returns the error message
func (e *DestinationError) Error() string {
	msg := "destination"
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *DestinationError) Unwrap() error {
	return e.Err
}

// NewDestinationError creates a new destination error
func NewDestinationError(op, path string, err error) *DestinationError {
	return &DestinationError{Op: op, Path: path, Err: err}
}

// DispatchError is returned when the engine rejects a start call synchronously.
type DispatchError struct {
	Kind OperationKind
	Err  error
}

// Error returns the error message
func (e *DispatchError) Error() string {
	if e.Err != nil {
		return "dispatch " + e.Kind.String() + ": " + e.Err.Error()
	}
	return "dispatch " + e.Kind.String() + " failed"
}

// Unwrap returns the underlying error
func (e *DispatchError) Unwrap() error {
	return e.Err
}

// RetryableError represents a transport error that the engine may retry.
type RetryableError struct {
	Err        error
	RetryAfter time.Duration
}

// Error returns the error message
func (e *RetryableError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "retryable error"
}

// Unwrap returns the underlying error
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error, retryAfter time.Duration) *RetryableError {
	return &RetryableError{Err: err, RetryAfter: retryAfter}
}

// IsRetryable returns true if the error should be retried
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// GetRetryAfter returns the retry duration if the error is retryable
func GetRetryAfter(err error) (time.Duration, bool) {
	var re *RetryableError
	if errors.As(err, &re) {
		return re.RetryAfter, true
	}
	return 0, false
}
