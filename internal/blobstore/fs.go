package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
)

var (
	// validKey matches a lowercase hex-encoded SHA256 digest.
	validKey = regexp.MustCompile(`^[0-9a-f]{64}$`)
	// shardName and leafName match the two path segments a key is split into.
	shardName = regexp.MustCompile(`^[0-9a-f]{2}$`)
	leafName  = regexp.MustCompile(`^[0-9a-f]{62}$`)
)

// FSStore implements BlobStore on the local filesystem. A key is split into
// a two-character shard directory and a 62-character file name:
// root/ab/cdef....
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem-backed blob store rooted at the given directory.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) Has(_ context.Context, key string) (bool, error) {
	if !validKey.MatchString(key) {
		return false, nil
	}
	switch _, err := os.Stat(s.pathFor(key)); {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat blob %s: %w", key, err)
	}
}

// Get opens a blob for reading. The reader is an *os.File.
func (s *FSStore) Get(_ context.Context, key string) (io.ReadCloser, int64, error) {
	if !validKey.MatchString(key) {
		return nil, 0, ErrBlobNotFound
	}

	f, err := os.Open(s.pathFor(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, ErrBlobNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open blob %s: %w", key, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat blob %s: %w", key, err)
	}
	return f, info.Size(), nil
}

// Put writes r under key once its digest has been checked. An existing key
// is left untouched. Concurrent writers of one key each stage their own temp
// file and publish it with a rename; all of them carry the same bytes.
func (s *FSStore) Put(ctx context.Context, key string, r io.Reader) error {
	if !validKey.MatchString(key) {
		return fmt.Errorf("invalid blob key: %q", key)
	}
	if ok, err := s.Has(ctx, key); err != nil || ok {
		return err
	}

	target := s.pathFor(key)
	shard := filepath.Dir(target)
	if err := os.MkdirAll(shard, 0755); err != nil {
		return fmt.Errorf("create shard %s: %w", shard, err)
	}

	staged, digest, err := stage(shard, r)
	if err != nil {
		return err
	}
	published := false
	defer func() {
		if !published {
			os.Remove(staged)
		}
	}()

	if digest != key {
		return fmt.Errorf("expected %s, got %s: %w", key, digest, ErrHashMismatch)
	}
	if err := os.Rename(staged, target); err != nil {
		return fmt.Errorf("publish blob %s: %w", key, err)
	}
	published = true
	return nil
}

// stage copies r into a hidden temp file inside dir and returns its path
// together with the hex SHA256 of what was written.
func stage(dir string, r io.Reader) (string, string, error) {
	f, err := os.CreateTemp(dir, ".blob-*")
	if err != nil {
		return "", "", fmt.Errorf("create temp file: %w", err)
	}

	h := sha256.New()
	_, copyErr := io.Copy(io.MultiWriter(f, h), r)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(f.Name())
		return "", "", fmt.Errorf("stage blob: %w", err)
	}
	return f.Name(), hex.EncodeToString(h.Sum(nil)), nil
}

// TotalCount returns the number of published blobs. Staged temp files and
// anything else that is not shaped like a key are ignored.
func (s *FSStore) TotalCount(_ context.Context) (int, error) {
	shards, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("list blob root: %w", err)
	}

	count := 0
	for _, shard := range shards {
		if !shard.IsDir() || !shardName.MatchString(shard.Name()) {
			continue
		}
		leaves, err := os.ReadDir(filepath.Join(s.root, shard.Name()))
		if err != nil {
			return 0, fmt.Errorf("list shard %s: %w", shard.Name(), err)
		}
		for _, leaf := range leaves {
			if leaf.Type().IsRegular() && leafName.MatchString(leaf.Name()) {
				count++
			}
		}
	}
	return count, nil
}

func (s *FSStore) pathFor(key string) string {
	return filepath.Join(s.root, key[:2], key[2:])
}
