package metastore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/kilupskalvis/ipaota/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	hashA = "a3f1c2d4e5b6a7980123456789abcdef0123456789abcdef0123456789abcdef"
	hashB = "b3f1c2d4e5b6a7980123456789abcdef0123456789abcdef0123456789abcdef"
)

// backends returns one fresh store per implementation.
func backends(t *testing.T) map[string]MetaStore {
	t.Helper()
	dir := t.TempDir()

	bb, err := NewBboltStore(filepath.Join(dir, "test-meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { bb.Close() })

	sq, err := NewSQLiteStore(filepath.Join(dir, "test-meta.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })

	return map[string]MetaStore{
		BackendBbolt:  bb,
		BackendSQLite: sq,
	}
}

func newRecord(id, hash, version string, ts int64) *models.Record {
	return &models.Record{
		ID:               id,
		UploadTimestamp:  ts,
		BundleIdentifier: "com.example.app",
		BundleVersion:    version,
		AppName:          "Demo",
		ContentHash:      hash,
	}
}

func TestMetaStore_FindByID(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.FindByID(ctx, "nonexistent")
			assert.ErrorIs(t, err, ErrNotFound)

			rec := newRecord("rec-1", hashA, "1.0", 1700000000)
			require.NoError(t, s.Insert(ctx, rec))

			got, err := s.FindByID(ctx, "rec-1")
			require.NoError(t, err)
			assert.Equal(t, rec, got)
		})
	}
}

func TestMetaStore_FindByContentHash(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.FindByContentHash(ctx, hashA)
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Insert(ctx, newRecord("rec-1", hashA, "1.0", 1700000000)))
			require.NoError(t, s.Insert(ctx, newRecord("rec-2", hashA, "1.1", 1700000100)))

			got, err := s.FindByContentHash(ctx, hashA)
			require.NoError(t, err)
			assert.Equal(t, hashA, got.ContentHash)
			assert.Contains(t, []string{"rec-1", "rec-2"}, got.ID)

			_, err = s.FindByContentHash(ctx, hashB)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestMetaStore_FindByContentHash_PrefixIsolation(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.Insert(ctx, newRecord("rec-1", hashA, "1.0", 1)))

			// A strict prefix of a stored hash must not match.
			_, err := s.FindByContentHash(ctx, hashA[:10])
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestMetaStore_Insert_Conflict(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.Insert(ctx, newRecord("rec-1", hashA, "1.0", 1)))

			err := s.Insert(ctx, newRecord("rec-1", hashB, "2.0", 2))
			assert.ErrorIs(t, err, ErrConflict)

			// Original record untouched.
			got, err := s.FindByID(ctx, "rec-1")
			require.NoError(t, err)
			assert.Equal(t, hashA, got.ContentHash)
			assert.Equal(t, "1.0", got.BundleVersion)
		})
	}
}

func TestMetaStore_Count(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			count, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, count)

			for i := 0; i < 3; i++ {
				require.NoError(t, s.Insert(ctx, newRecord(fmt.Sprintf("rec-%d", i), hashA, "1.0", int64(i))))
			}

			count, err = s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, count)
		})
	}
}

func TestMetaStore_ConcurrentInsert(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			var wg sync.WaitGroup
			errs := make(chan error, 10)
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					errs <- s.Insert(ctx, newRecord(fmt.Sprintf("rec-%d", i), hashA, "1.0", int64(i)))
				}(i)
			}
			wg.Wait()
			close(errs)

			for err := range errs {
				assert.NoError(t, err)
			}

			count, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 10, count)
		})
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	for _, backend := range []string{BackendBbolt, BackendSQLite} {
		s, err := Open(backend, filepath.Join(dir, backend))
		require.NoError(t, err, backend)
		require.NoError(t, s.Close())
	}

	_, err := Open("postgres", dir)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown metadata backend")
}
