package pipeline

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when the run deadline passes before the run completes.
	ErrTimeout = errors.New("pipeline timed out")

	// ErrCanceled is returned when the caller cancels the run.
	ErrCanceled = errors.New("pipeline canceled")
)

// Error is an infrastructure failure that aborted a run. It is never a
// tamper verdict.
type Error struct {
	// Stage is where the run stopped.
	Stage Stage

	// RunID identifies the run.
	RunID string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("pipeline[%s]: %s failed: %v", e.RunID, e.Stage, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// contextError maps a finished context to ErrTimeout or ErrCanceled.
func contextError(ctx context.Context) error {
	switch err := ctx.Err(); {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return errors.Join(ErrTimeout, err)
	default:
		return errors.Join(ErrCanceled, err)
	}
}
