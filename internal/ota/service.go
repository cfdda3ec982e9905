// Package ota implements content-addressed IPA storage and the three-stage
// over-the-air resolution protocol: install page, manifest, binary download.
package ota

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kilupskalvis/ipaota/internal/blobstore"
	"github.com/kilupskalvis/ipaota/internal/metastore"
	"github.com/kilupskalvis/ipaota/internal/models"
)

// DuplicateWarning is reported when an upload's content hash was already known.
const DuplicateWarning = "IPA with identical hash already exists, new metadata entry created to reference the same file"

// ContentTypeIPA is the content type served for binary downloads.
const ContentTypeIPA = "application/octet-stream"

// Service uploads and resolves IPA records. It holds only its injected
// stores; every call is independent and safe for concurrent use.
type Service struct {
	meta   metastore.MetaStore
	blobs  blobstore.BlobStore
	logger *slog.Logger
	newID  func() string
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for upload events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithIDFunc overrides record id generation.
func WithIDFunc(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// WithClock overrides the upload timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service over the given stores.
func NewService(meta metastore.MetaStore, blobs blobstore.BlobStore, opts ...Option) *Service {
	s := &Service{
		meta:   meta,
		blobs:  blobs,
		logger: slog.Default(),
		newID:  uuid.NewString,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UploadResult is the outcome of a successful upload.
type UploadResult struct {
	Record *models.Record
	// AlreadyExisted is true when another record already referenced the same
	// content hash. The blob was not rewritten; a new record was still created.
	AlreadyExisted bool
}

// Warning returns the advisory duplicate-content message, or "".
func (r *UploadResult) Warning() string {
	if r.AlreadyExisted {
		return DuplicateWarning
	}
	return ""
}

// Upload stores data under its content hash (once per distinct hash) and
// always appends a new metadata record for it.
//
// The hash lookup and the insert are not atomic across the two stores: two
// concurrent uploads of identical bytes may both see "not known" and both
// write the blob. Put is idempotent and records are append-only, so the race
// only costs a redundant write.
func (s *Service) Upload(ctx context.Context, data []byte, md models.Metadata) (*UploadResult, error) {
	if len(data) == 0 {
		return nil, &ValidationError{Field: "file", Message: "No IPA file provided"}
	}

	hash := HashContent(data)

	existed := true
	if _, err := s.meta.FindByContentHash(ctx, hash); err != nil {
		if !errors.Is(err, metastore.ErrNotFound) {
			return nil, &StorageError{Op: "lookup content hash", Err: err}
		}
		existed = false
	}

	if !existed {
		if err := s.blobs.Put(ctx, hash, bytes.NewReader(data)); err != nil {
			s.logger.Error("store blob", "content_hash", hash, "error", err)
			return nil, &StorageError{Op: "store blob", Err: err}
		}
	}

	rec := &models.Record{
		ID:               s.newID(),
		UploadTimestamp:  s.now().Unix(),
		BundleIdentifier: md.BundleIdentifier,
		BundleVersion:    md.BundleVersion,
		AppName:          md.AppName,
		ContentHash:      hash,
	}

	// A failed insert may leave the blob unreferenced. It is still valid
	// content-addressed data and a retry will reuse it.
	if err := s.meta.Insert(ctx, rec); err != nil {
		s.logger.Error("insert record", "id", rec.ID, "content_hash", hash, "error", err)
		return nil, &StorageError{Op: "insert record", Err: err}
	}

	s.logger.Info("ipa uploaded",
		"id", rec.ID,
		"bundle_identifier", rec.BundleIdentifier,
		"bundle_version", rec.BundleVersion,
		"content_hash", hash,
		"size", len(data),
		"duplicate", existed,
	)

	return &UploadResult{Record: rec, AlreadyExisted: existed}, nil
}

// Resolve returns the record for id. An unknown id yields a *NotFoundError.
func (s *Service) Resolve(ctx context.Context, id string) (*models.Record, error) {
	rec, err := s.meta.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			return nil, &NotFoundError{RecordID: id}
		}
		return nil, &StorageError{Op: "resolve record", Err: err}
	}
	return rec, nil
}

// Download is an open binary stream for a resolved record.
// The caller must close Body.
type Download struct {
	Record *models.Record
	Body   io.ReadCloser
	Size   int64
}

// Filename is "<appName>-<bundleVersion>.ipa".
func (d *Download) Filename() string {
	return d.Record.Filename()
}

// ContentDisposition is the attachment header value for the download.
func (d *Download) ContentDisposition() string {
	return `attachment; filename="` + d.Filename() + `"`
}

// ETag is a strong entity tag derived from the content hash.
func (d *Download) ETag() string {
	return `"` + d.Record.ContentHash + `"`
}

// Download resolves id and opens its blob. A record whose blob is missing
// yields a *NotFoundError with BlobMissing set.
func (s *Service) Download(ctx context.Context, id string) (*Download, error) {
	rec, err := s.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	body, size, err := s.blobs.Get(ctx, rec.ContentHash)
	if err != nil {
		if errors.Is(err, blobstore.ErrBlobNotFound) {
			s.logger.Warn("record references missing blob", "id", id, "content_hash", rec.ContentHash)
			return nil, &NotFoundError{RecordID: id, ContentHash: rec.ContentHash}
		}
		return nil, &StorageError{Op: "open blob", Err: err}
	}

	return &Download{Record: rec, Body: body, Size: size}, nil
}
