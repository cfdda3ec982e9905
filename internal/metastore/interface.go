// Package metastore provides persistence for IPA metadata records.
package metastore

import (
	"context"
	"errors"

	"github.com/kilupskalvis/ipaota/internal/models"
)

// Sentinel errors for expected conditions.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// MetaStore defines the contract for metadata record persistence.
// Records are append-only; there is no update or delete.
type MetaStore interface {
	// FindByContentHash returns any record referencing the given content hash.
	// Returns ErrNotFound if no record references it.
	FindByContentHash(ctx context.Context, hash string) (*models.Record, error)

	// FindByID returns the record with the given id. Returns ErrNotFound if missing.
	FindByID(ctx context.Context, id string) (*models.Record, error)

	// Insert stores a new record. Returns ErrConflict if the id is already taken.
	Insert(ctx context.Context, rec *models.Record) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// Close releases resources.
	Close() error
}
