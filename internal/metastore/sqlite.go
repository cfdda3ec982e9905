package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kilupskalvis/ipaota/internal/models"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ipa_metadata (
	id TEXT PRIMARY KEY,
	upload_date INTEGER NOT NULL,
	bundle_identifier TEXT NOT NULL,
	bundle_version TEXT NOT NULL,
	app_name TEXT NOT NULL,
	file_hash TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ipa_metadata_file_hash ON ipa_metadata(file_hash);
`

const recordColumns = `id, upload_date, bundle_identifier, bundle_version, app_name, file_hash`

// SQLiteStore implements MetaStore on a single SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at the given path and
// ensures the schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create meta directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open meta database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// FindByID retrieves a record by id. Returns ErrNotFound if missing.
func (s *SQLiteStore) FindByID(ctx context.Context, id string) (*models.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM ipa_metadata WHERE id = ?`, id)
	return scanRecord(row)
}

// FindByContentHash returns the earliest record referencing a content hash.
func (s *SQLiteStore) FindByContentHash(ctx context.Context, hash string) (*models.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM ipa_metadata WHERE file_hash = ? ORDER BY upload_date, rowid LIMIT 1`, hash)
	return scanRecord(row)
}

// Insert stores a new record. Returns ErrConflict if the id already exists.
func (s *SQLiteStore) Insert(ctx context.Context, rec *models.Record) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ipa_metadata (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		rec.ID, rec.UploadTimestamp, rec.BundleIdentifier, rec.BundleVersion, rec.AppName, rec.ContentHash)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("record %s: %w", rec.ID, ErrConflict)
	}
	return nil
}

// Count returns the total number of records.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ipa_metadata`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return count, nil
}

func scanRecord(row *sql.Row) (*models.Record, error) {
	var rec models.Record
	err := row.Scan(&rec.ID, &rec.UploadTimestamp, &rec.BundleIdentifier, &rec.BundleVersion, &rec.AppName, &rec.ContentHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan record: %w", err)
	}
	return &rec, nil
}
