package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
)

// Mirror writes every object to a primary store and a secondary copy and
// returns the primary's URI. A failure in either store fails the put.
type Mirror struct {
	primary   BlobStore
	secondary BlobStore
}

// NewMirror returns a BlobStore that fans writes out to both stores.
func NewMirror(primary, secondary BlobStore) *Mirror {
	return &Mirror{primary: primary, secondary: secondary}
}

// PutObject buffers the data and stores it in both underlying stores.
func (m *Mirror) PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read object data: %w", err)
	}
	uri, err := m.primary.PutObject(ctx, path, contentType, bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	if _, err := m.secondary.PutObject(ctx, path, contentType, bytes.NewReader(buf)); err != nil {
		return "", fmt.Errorf("mirror object: %w", err)
	}
	return uri, nil
}
