package metastore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kilupskalvis/ipaota/internal/models"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketRecords = []byte("records")
	bucketByHash  = []byte("records_by_hash")
)

// BboltStore implements MetaStore using bbolt.
// Records are stored as JSON keyed by id; a secondary bucket indexes
// "<content_hash>:<id>" -> id so lookups by hash are a single cursor seek.
type BboltStore struct {
	db *bolt.DB
}

// NewBboltStore opens or creates a bbolt database at the given path.
func NewBboltStore(dbPath string) (*BboltStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create meta directory: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open meta database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRecords, bucketByHash} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &BboltStore{db: db}, nil
}

// Close releases the bbolt database.
func (s *BboltStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// FindByID retrieves a record by id. Returns ErrNotFound if missing.
func (s *BboltStore) FindByID(_ context.Context, id string) (*models.Record, error) {
	var rec *models.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRecords).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		rec = &models.Record{}
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// FindByContentHash returns the first indexed record for a content hash.
func (s *BboltStore) FindByContentHash(_ context.Context, hash string) (*models.Record, error) {
	var rec *models.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := hashIndexPrefix(hash)
		k, id := tx.Bucket(bucketByHash).Cursor().Seek(prefix)
		if k == nil || !bytes.HasPrefix(k, prefix) {
			return ErrNotFound
		}

		data := tx.Bucket(bucketRecords).Get(id)
		if data == nil {
			return fmt.Errorf("hash index references missing record %s", id)
		}
		rec = &models.Record{}
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Insert stores a record and its hash index entry in one transaction.
func (s *BboltStore) Insert(_ context.Context, rec *models.Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(bucketRecords)

		if records.Get([]byte(rec.ID)) != nil {
			return fmt.Errorf("record %s: %w", rec.ID, ErrConflict)
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if err := records.Put([]byte(rec.ID), data); err != nil {
			return fmt.Errorf("store record: %w", err)
		}

		key := append(hashIndexPrefix(rec.ContentHash), rec.ID...)
		if err := tx.Bucket(bucketByHash).Put(key, []byte(rec.ID)); err != nil {
			return fmt.Errorf("store hash index: %w", err)
		}

		return nil
	})
}

// Count returns the total number of records.
func (s *BboltStore) Count(_ context.Context) (int, error) {
	var count int
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketRecords).Stats().KeyN
		return nil
	})
	return count, err
}

func hashIndexPrefix(hash string) []byte {
	return []byte(hash + ":")
}
