package artifact

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidName is returned when a run ID or artifact name would escape the run namespace.
	ErrInvalidName = errors.New("invalid artifact name")

	// ErrExists is returned when an artifact with the same name was already written for the run.
	ErrExists = errors.New("artifact already exists")

	// ErrPersistFailed is returned when the backend could not store the artifact.
	ErrPersistFailed = errors.New("failed to persist artifact")
)

// IOError wraps artifact storage failures.
type IOError struct {
	// Op is the operation that failed (e.g., "Save").
	Op string

	// Backend is the storage backend ("local" or "gcs").
	Backend string

	// Key is the run-scoped artifact key, runID/name.
	Key string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *IOError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("artifact[%s]: %s %s failed: %v", e.Backend, e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("artifact[%s]: %s failed: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *IOError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *IOError) Is(target error) bool {
	return errors.Is(e.Err, target)
}
