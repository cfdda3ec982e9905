// Package blobstore provides content-addressable storage for IPA binaries.
package blobstore

import (
	"context"
	"errors"
	"io"
)

// ErrBlobNotFound is returned when a requested blob does not exist.
var ErrBlobNotFound = errors.New("blob not found")

// ErrHashMismatch is returned when the computed hash of blob data does not match the expected key.
var ErrHashMismatch = errors.New("blob hash mismatch")

// BlobStore defines the contract for content-addressable binary storage.
// Keys are lowercase hex SHA256 digests of the stored bytes.
type BlobStore interface {
	// Has checks whether a blob with the given key exists.
	Has(ctx context.Context, key string) (bool, error)

	// Get returns a reader for the blob data and its size in bytes.
	// Returns ErrBlobNotFound if the blob does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// Put stores a blob. The key is verified against the data.
	// Idempotent: storing the same blob twice is a no-op.
	Put(ctx context.Context, key string, r io.Reader) error

	// TotalCount returns the number of stored blobs.
	TotalCount(ctx context.Context) (int, error)
}
