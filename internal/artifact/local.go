package artifact

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"invoiceguard/internal/logger"
)

// LocalStore writes artifacts under Root/<runID>/<name>.
type LocalStore struct {
	// Root is the directory holding all run namespaces.
	Root string

	// BaseURL, when set, turns saved paths into URLs (e.g. "/artifacts").
	// Empty returns filesystem paths.
	BaseURL string

	log zerolog.Logger
}

// NewLocalStore creates root if needed and returns a store over it.
func NewLocalStore(root, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &IOError{Op: "NewLocalStore", Backend: "local", Err: err}
	}
	return &LocalStore{
		Root:    root,
		BaseURL: strings.TrimRight(baseURL, "/"),
		log:     logger.WithComponent("artifact"),
	}, nil
}

// Save implements Store. The file is created exclusively; a second save of
// the same name in a run fails with ErrExists.
func (s *LocalStore) Save(ctx context.Context, runID, name, contentType string, data []byte) (string, error) {
	const op = "Save"

	k, err := key(runID, name)
	if err != nil {
		return "", &IOError{Op: op, Backend: "local", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return "", &IOError{Op: op, Backend: "local", Key: k, Err: err}
	}

	dir := filepath.Join(s.Root, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &IOError{Op: op, Backend: "local", Key: k, Err: errors.Join(ErrPersistFailed, err)}
	}

	target := filepath.Join(dir, name)
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", &IOError{Op: op, Backend: "local", Key: k, Err: ErrExists}
		}
		return "", &IOError{Op: op, Backend: "local", Key: k, Err: errors.Join(ErrPersistFailed, err)}
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(target)
		return "", &IOError{Op: op, Backend: "local", Key: k, Err: errors.Join(ErrPersistFailed, err)}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(target)
		return "", &IOError{Op: op, Backend: "local", Key: k, Err: errors.Join(ErrPersistFailed, err)}
	}

	s.log.Debug().
		Str("key", k).
		Str("content_type", contentType).
		Int("bytes", len(data)).
		Msg("Artifact saved")

	if s.BaseURL != "" {
		return s.BaseURL + "/" + url.PathEscape(runID) + "/" + url.PathEscape(name), nil
	}
	return target, nil
}
