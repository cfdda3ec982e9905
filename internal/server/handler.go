package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/kilupskalvis/ipaota/internal/api"
	"github.com/kilupskalvis/ipaota/internal/blobstore"
	"github.com/kilupskalvis/ipaota/internal/metastore"
	"github.com/kilupskalvis/ipaota/internal/models"
	"github.com/kilupskalvis/ipaota/internal/ota"
)

// ServerConfig holds configurable limits for the server.
type ServerConfig struct {
	PublicURL         string // scheme://host used in generated links; derived per request when empty
	MaxUploadSize     int64  // bytes, whole multipart body
	RequestsPerMinute int    // per-client rate limit, 0 disables
	Webhooks          *WebhookNotifier
}

// DefaultServerConfig returns reasonable defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		MaxUploadSize:     1 << 30, // 1GB
		RequestsPerMinute: 300,
	}
}

// multipartMemory is the part of an upload kept in memory before spilling to disk.
const multipartMemory = 32 << 20

// Handler creates the HTTP handler with all routes and middleware.
// The returned cleanup function stops background goroutines and should be
// called on server shutdown.
func Handler(meta metastore.MetaStore, blobs blobstore.BlobStore, cfg *ServerConfig, logger *slog.Logger) (http.Handler, func()) {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	h := &handlers{
		svc:    ota.NewService(meta, blobs, ota.WithLogger(logger)),
		meta:   meta,
		blobs:  blobs,
		cfg:    cfg,
		logger: logger,
	}

	rl := newRateLimiter(cfg.RequestsPerMinute, logger)
	limited := func(fn http.HandlerFunc) http.Handler {
		return rl.middleware(fn)
	}

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", h.readyz)
	mux.HandleFunc("GET /info", h.info)

	mux.HandleFunc("GET /{$}", handleIndex)

	mux.Handle("POST /ipa/create", limited(h.create))
	mux.Handle("GET /ipa/{id}/ota", limited(h.installPage))
	mux.Handle("GET /ipa/{id}/manifest", limited(h.manifest))
	mux.Handle("GET /ipa/{id}/download", limited(h.download))

	handler := applyMiddleware(mux,
		recoveryMiddleware(logger),
		loggingMiddleware(logger),
		requestIDMiddleware,
		corsMiddleware,
	)

	cleanup := func() {
		rl.Stop()
	}

	return handler, cleanup
}

// applyMiddleware applies middleware in reverse order so the first in the list runs first.
func applyMiddleware(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type handlers struct {
	svc    *ota.Service
	meta   metastore.MetaStore
	blobs  blobstore.BlobStore
	cfg    *ServerConfig
	logger *slog.Logger
}

// links returns URL builders rooted at the configured public URL, or at the
// origin the request arrived on.
func (h *handlers) links(r *http.Request) ota.Links {
	if h.cfg.PublicURL != "" {
		return ota.NewLinks(h.cfg.PublicURL)
	}
	return ota.NewLinks(requestOrigin(r))
}

func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

// --- Upload ---

func (h *handlers) create(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	md := models.Metadata{
		BundleIdentifier: q.Get(api.ParamBundleIdentifier),
		BundleVersion:    q.Get(api.ParamBundleVersion),
		AppName:          q.Get(api.ParamAppName),
	}

	if errs := ota.ValidateMetadata(md); len(errs) > 0 {
		details := make([]api.FieldError, len(errs))
		for i, e := range errs {
			details[i] = api.FieldError{Field: e.Field, Message: e.Message}
		}
		writeError(w, http.StatusBadRequest, ota.MetadataHint, details)
		return
	}

	if r.ContentLength > h.cfg.MaxUploadSize {
		writeError(w, http.StatusRequestEntityTooLarge, "IPA file too large",
			"maximum upload size is "+strconv.FormatInt(h.cfg.MaxUploadSize, 10)+" bytes")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadSize)
	data, err := readUploadedFile(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "IPA file too large",
				"maximum upload size is "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
		case errors.Is(err, http.ErrMissingFile):
			writeError(w, http.StatusBadRequest, "No IPA file provided", "The 'file' field is required")
		default:
			writeError(w, http.StatusBadRequest, "Invalid upload body", err.Error())
		}
		return
	}

	result, err := h.svc.Upload(r.Context(), data, md)
	if err != nil {
		var verr *ota.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Message, "The 'file' field is required")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create IPA", err.Error())
		return
	}

	rec := result.Record
	links := h.links(r)

	if h.cfg.Webhooks != nil {
		h.cfg.Webhooks.NotifyUpload(rec, result.AlreadyExisted)
	}

	writeJSON(w, http.StatusCreated, &api.UploadResponse{
		ID:                rec.ID,
		BundleIdentifier:  rec.BundleIdentifier,
		BundleVersion:     rec.BundleVersion,
		AppName:           rec.AppName,
		UploadDate:        rec.UploadTimestamp,
		FileHash:          rec.ContentHash,
		DirectOTAURL:      links.OTAURL(rec.ID),
		InteractiveOTAURL: links.InstallPageURL(rec.ID),
		Warning:           result.Warning(),
	})
}

// readUploadedFile returns the bytes of the multipart "file" field.
func readUploadedFile(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, http.ErrMissingFile
		}
		return nil, err
	}
	defer r.MultipartForm.RemoveAll()

	f, _, err := r.FormFile(api.FormFieldFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}

// --- Resolution ---

func (h *handlers) installPage(w http.ResponseWriter, r *http.Request) {
	page, err := h.svc.InstallPage(r.Context(), r.PathValue("id"), h.links(r))
	if err != nil {
		h.writeResolveError(w, err)
		return
	}

	w.Header().Set("Content-Type", ota.ContentTypeHTML)
	w.WriteHeader(http.StatusOK)
	w.Write(page)
}

func (h *handlers) manifest(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.Manifest(r.Context(), r.PathValue("id"), h.links(r))
	if err != nil {
		h.writeResolveError(w, err)
		return
	}

	w.Header().Set("Content-Type", ota.ContentTypeManifest)
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}

func (h *handlers) download(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Download(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeResolveError(w, err)
		return
	}
	defer d.Body.Close()

	hdr := w.Header()
	hdr.Set("ETag", d.ETag())
	hdr.Set("Cache-Control", "public, max-age=31536000, immutable")

	if etagMatches(r.Header.Get("If-None-Match"), d.ETag()) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	hdr.Set("Content-Type", ota.ContentTypeIPA)
	hdr.Set("Content-Disposition", d.ContentDisposition())
	hdr.Set("Content-Length", strconv.FormatInt(d.Size, 10))
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, d.Body); err != nil {
		h.logger.Warn("download interrupted", "id", d.Record.ID, "error", err)
	}
}

// etagMatches reports whether an If-None-Match header value covers etag.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

func (h *handlers) writeResolveError(w http.ResponseWriter, err error) {
	if errors.Is(err, ota.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error(), nil)
		return
	}
	h.logger.Error("resolve failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error", err.Error())
}

// --- Info / Health ---

func (h *handlers) info(w http.ResponseWriter, r *http.Request) {
	records, err := h.meta.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "count records", err.Error())
		return
	}

	blobs, err := h.blobs.TotalCount(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "count blobs", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, &api.Info{Records: records, Blobs: blobs})
}

func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := h.meta.Count(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready: metadata store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", ota.ContentTypeHTML)
	w.WriteHeader(http.StatusOK)
	w.Write(ota.IndexPage())
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, details interface{}) {
	writeJSON(w, status, &api.ErrorResponse{Error: true, Message: message, Details: details})
}
