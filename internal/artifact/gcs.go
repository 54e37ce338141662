package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"invoiceguard/internal/logger"
)

// GCSStore writes artifacts to gs://<bucket>/<prefix>/<runID>/<name>.
type GCSStore struct {
	bucket *storage.BucketHandle
	name   string
	prefix string
	log    zerolog.Logger
}

// NewGCSStore opens a storage client with application default credentials
// and any extra client options.
func NewGCSStore(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*GCSStore, *storage.Client, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, nil, &IOError{Op: "NewGCSStore", Backend: "gcs", Err: err}
	}
	return NewGCSStoreWithBucket(client.Bucket(bucket), bucket, prefix), client, nil
}

// NewGCSStoreWithBucket creates a store over an existing bucket handle.
func NewGCSStoreWithBucket(handle *storage.BucketHandle, bucket, prefix string) *GCSStore {
	return &GCSStore{
		bucket: handle,
		name:   bucket,
		prefix: prefix,
		log:    logger.WithComponent("artifact"),
	}
}

func (s *GCSStore) objectName(k string) string {
	if s.prefix == "" {
		return k
	}
	return path.Join(s.prefix, k)
}

// Save implements Store with a DoesNotExist precondition, so an existing
// object is never replaced.
func (s *GCSStore) Save(ctx context.Context, runID, name, contentType string, data []byte) (string, error) {
	const op = "Save"

	k, err := key(runID, name)
	if err != nil {
		return "", &IOError{Op: op, Backend: "gcs", Err: err}
	}
	object := s.objectName(k)

	writer := s.bucket.Object(object).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		return "", s.writeError(op, k, err)
	}
	if err := writer.Close(); err != nil {
		return "", s.writeError(op, k, err)
	}

	s.log.Debug().
		Str("bucket", s.name).
		Str("object", object).
		Int("bytes", len(data)).
		Msg("Artifact uploaded")

	return fmt.Sprintf("gs://%s/%s", s.name, object), nil
}

func (s *GCSStore) writeError(op, k string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		return &IOError{Op: op, Backend: "gcs", Key: k, Err: ErrExists}
	}
	return &IOError{Op: op, Backend: "gcs", Key: k, Err: errors.Join(ErrPersistFailed, err)}
}
