// Package storage defines the blob abstraction behind checkpoint snapshots.
// Backends live in subpackages: local filesystem, in-memory, Google Cloud
// Storage and Postgres.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by GetObject when no object exists at path.
var ErrNotFound = errors.New("object not found")

// BlobStore reads and replaces whole objects. PutObject must be atomic from a
// reader's point of view: GetObject sees either the old or the new content.
type BlobStore interface {
	GetObject(ctx context.Context, path string) ([]byte, error)
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}
