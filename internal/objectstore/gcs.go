// Package objectstore is the durable blob home for raw document bytes,
// keyed by document id.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// Store is the blob contract the pipeline depends on.
type Store interface {
	Put(ctx context.Context, id string, data []byte) error
	Get(ctx context.Context, id string) ([]byte, error)
}

// GCS stores blobs in one bucket, object name = document id.
type GCS struct {
	bucket *storage.BucketHandle
}

// NewGCS creates the client. Credentials come from the environment
// (application default credentials).
func NewGCS(ctx context.Context, bucket string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCS{bucket: client.Bucket(bucket)}, nil
}

// Put writes the blob only if it does not exist yet. Document bytes are
// immutable once published, so an already-present object means a redelivered
// message and counts as success.
func (g *GCS) Put(ctx context.Context, id string, data []byte) error {
	w := g.bucket.Object(id).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		if isPreconditionFailed(err) {
			return nil
		}
		return fmt.Errorf("write object %s: %w", id, err)
	}

	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			return nil
		}
		return fmt.Errorf("finalize object %s: %w", id, err)
	}
	return nil
}

// Get reads the blob back.
func (g *GCS) Get(ctx context.Context, id string) ([]byte, error) {
	r, err := g.bucket.Object(id).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", id, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", id, err)
	}
	return data, nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
