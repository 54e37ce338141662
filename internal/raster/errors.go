package raster

import (
	"errors"
	"fmt"
)

// Common rasterization errors
var (
	// ErrUnsupportedFormat is returned when the file is neither a PDF nor a decodable image.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrInvalidPDF is returned when a paged document cannot be parsed.
	ErrInvalidPDF = errors.New("invalid or corrupted PDF document")

	// ErrNoPages is returned when a paged document parses but has zero pages.
	ErrNoPages = errors.New("PDF document has no pages")

	// ErrRenderFailed is returned when the PDF renderer fails or produces no output.
	ErrRenderFailed = errors.New("PDF rendering failed")

	// ErrDecodeFailed is returned when the image bytes cannot be decoded.
	ErrDecodeFailed = errors.New("image decoding failed")
)

// RenderError wraps a rasterization failure with the document it concerns.
type RenderError struct {
	// Op is the operation that failed (e.g., "Rasterize", "renderFirstPage").
	Op string

	// Path is the document path.
	Path string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *RenderError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("raster: %s %s failed: %s: %v", e.Op, e.Path, e.Details, e.Err)
	}
	return fmt.Sprintf("raster: %s %s failed: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *RenderError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *RenderError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// WrapRenderError wraps an error as a RenderError if it isn't already one.
func WrapRenderError(op, path string, err error, details string) error {
	if err == nil {
		return nil
	}

	var renderErr *RenderError
	if errors.As(err, &renderErr) {
		return err
	}

	return &RenderError{Op: op, Path: path, Err: err, Details: details}
}
