package ota

import (
	"errors"
	"fmt"
)

// ErrNotFound is matched by every *NotFoundError via errors.Is.
var ErrNotFound = errors.New("not found")

// NotFoundError reports an unresolvable record id. When ContentHash is set the
// record exists but its blob does not, which means an earlier upload stored
// the record without its binary.
type NotFoundError struct {
	RecordID    string
	ContentHash string
}

func (e *NotFoundError) Error() string {
	if e.ContentHash != "" {
		return fmt.Sprintf("no IPA file found with key: %s", e.ContentHash)
	}
	return fmt.Sprintf("no IPA OTA entry found for id: %s", e.RecordID)
}

// Is makes errors.Is(err, ErrNotFound) true.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// BlobMissing reports whether the record resolved but its blob did not.
func (e *NotFoundError) BlobMissing() bool {
	return e.ContentHash != ""
}

// ValidationError reports malformed upload input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// StorageError wraps a failure reported by the blob or metadata store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
