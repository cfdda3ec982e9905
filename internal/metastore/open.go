package metastore

import (
	"fmt"
	"path/filepath"
)

// Supported backend names.
const (
	BackendBbolt  = "bbolt"
	BackendSQLite = "sqlite"
)

// Open opens the named backend inside dataDir.
func Open(backend, dataDir string) (MetaStore, error) {
	switch backend {
	case BackendBbolt, "":
		return NewBboltStore(filepath.Join(dataDir, "meta.db"))
	case BackendSQLite:
		return NewSQLiteStore(filepath.Join(dataDir, "meta.sqlite"))
	default:
		return nil, fmt.Errorf("unknown metadata backend: %q", backend)
	}
}
