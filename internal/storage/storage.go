// Package storage defines the blob store interface used to archive scraped
// media. Implementations exist for the local filesystem, Google Cloud
// Storage, and an in-memory store for tests.
package storage

import (
	"context"
	"io"
)

// BlobStore persists binary artifacts under a path-like key and returns a
// URI describing where the object landed.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}
