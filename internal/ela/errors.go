package ela

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyImage is returned for an image without pixels.
	ErrEmptyImage = errors.New("image has no pixels")

	// ErrRecompress is returned when the JPEG round trip fails.
	ErrRecompress = errors.New("JPEG recompression failed")

	// ErrEncodeArtifact is returned when the difference image cannot be encoded.
	ErrEncodeArtifact = errors.New("difference image encoding failed")
)

// DecodeError reports that an image could not be re-encoded or decoded.
type DecodeError struct {
	// Op is the operation that failed (e.g., "recompress").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("ela: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("ela: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *DecodeError) Is(target error) bool {
	return errors.Is(e.Err, target)
}
