package pool

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by every operation after Shutdown.
	ErrClosed = errors.New("pool: closed")

	// ErrNotActive is returned when a connection is released or discarded
	// that the pool does not currently track as checked out.
	ErrNotActive = errors.New("pool: connection not active")
)

// ExhaustedError is returned when Acquire gives up after its bounded wait:
// every connection was checked out and none came back in time. Callers are
// expected to back off and retry rather than abort.
type ExhaustedError struct {
	Waited  int
	MaxSize int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("pool: exhausted after %d waits (max size %d)", e.Waited, e.MaxSize)
}

// CreationError is returned when the adapter failed to open a connection
// after the pool's bounded retries. It wraps the last adapter error.
type CreationError struct {
	Attempts int
	Err      error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("pool: connection creation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }

// IsExhausted reports whether err indicates a transient pool-exhausted
// condition.
func IsExhausted(err error) bool {
	var e *ExhaustedError
	return errors.As(err, &e)
}

// IsCreationFailure reports whether err came from failing to open a new
// connection.
func IsCreationFailure(err error) bool {
	var e *CreationError
	return errors.As(err, &e)
}
