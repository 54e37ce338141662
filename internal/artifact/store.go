// Package artifact persists evidence produced by a pipeline run, such as the
// ELA difference image and the analyzed page image.
//
// Every run writes into its own namespace keyed by the run ID. Backends never
// overwrite an existing artifact and never clear a namespace, so concurrent
// runs cannot race on each other's files.
package artifact

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Common content types.
const (
	ContentTypePNG  = "image/png"
	ContentTypeJPEG = "image/jpeg"
)

// Store is the persistArtifact collaborator.
type Store interface {
	// Save writes data as runID/name and returns a reference a client can
	// resolve: a URL, a gs:// URI, or a filesystem path.
	Save(ctx context.Context, runID, name, contentType string, data []byte) (string, error)
}

// key validates runID and name and joins them into a slash-separated key.
func key(runID, name string) (string, error) {
	for _, part := range []string{runID, name} {
		if part == "" || part == "." || part == ".." ||
			strings.ContainsAny(part, `/\`) || strings.Contains(part, "..") {
			return "", fmt.Errorf("%w: %q", ErrInvalidName, part)
		}
	}
	return path.Join(runID, name), nil
}
