package ocr

import (
	"errors"
	"fmt"
)

// Common OCR processing errors
var (
	// ErrOCRFailed is returned when the OCR engine errors or returns no usable response.
	ErrOCRFailed = errors.New("OCR processing failed")

	// ErrMissingCredentials is returned when neither GOOGLE_APPLICATION_CREDENTIALS
	// nor GOOGLE_CREDENTIALS environment variables are configured.
	ErrMissingCredentials = errors.New("missing Google Cloud credentials: set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS environment variable")

	// ErrImageTooLarge is returned when the preprocessed image exceeds the engine's request limit.
	// Google Cloud Vision API accepts at most 20MB of inline image content.
	ErrImageTooLarge = errors.New("image exceeds the OCR request size limit (20MB)")

	// ErrEmptyImage is returned when the raster image has no pixels.
	ErrEmptyImage = errors.New("image has no pixels")
)

// ExtractionError wraps errors with additional context about the OCR processing failure.
type ExtractionError struct {
	// Op is the operation that failed (e.g., "Extract", "Recognize").
	Op string

	// Engine is the name of the OCR engine involved, if any.
	Engine string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	prefix := "ocr"
	if e.Engine != "" {
		prefix = "ocr[" + e.Engine + "]"
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %s failed: %s: %v", prefix, e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("%s: %s failed: %v", prefix, e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *ExtractionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExtractionError creates a new ExtractionError with the specified operation and underlying error.
func NewExtractionError(op string, err error, details string) *ExtractionError {
	return &ExtractionError{
		Op:      op,
		Err:     err,
		Details: details,
	}
}

// WrapExtractionError wraps an error as an ExtractionError if it isn't already one.
func WrapExtractionError(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var extractionErr *ExtractionError
	if errors.As(err, &extractionErr) {
		return err // Already wrapped
	}

	return NewExtractionError(op, err, details)
}
