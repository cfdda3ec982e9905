package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kilupskalvis/ipaota/internal/blobstore"
	"github.com/kilupskalvis/ipaota/internal/metastore"
	"github.com/kilupskalvis/ipaota/internal/models"
	"github.com/kilupskalvis/ipaota/internal/ota"
	"github.com/kilupskalvis/ipaota/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()

	tmpDir := t.TempDir()
	meta, err := metastore.NewBboltStore(filepath.Join(tmpDir, "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	blobs, err := blobstore.NewFSStore(filepath.Join(tmpDir, "blobs"))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	h, cleanup := server.Handler(meta, blobs, server.DefaultServerConfig(), logger)
	t.Cleanup(cleanup)

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts
}

var demo = models.Metadata{BundleIdentifier: "com.example.app", BundleVersion: "1.0", AppName: "Demo"}

func TestHTTPClient_UploadAndDownload(t *testing.T) {
	ts := newServer(t)
	c := NewHTTPClient(ts.URL + "/")
	ctx := context.Background()
	data := []byte("ipa payload")

	first, err := c.Upload(ctx, "Demo.ipa", data, demo)
	require.NoError(t, err)
	assert.Equal(t, ota.HashContent(data), first.FileHash)
	assert.Empty(t, first.Warning)
	assert.Equal(t, ts.URL+"/ipa/"+first.ID+"/ota", first.InteractiveOTAURL)

	second, err := c.Upload(ctx, "Demo.ipa", data, demo)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, ota.DuplicateWarning, second.Warning)

	d, err := c.Download(ctx, second.ID)
	require.NoError(t, err)
	defer d.Body.Close()
	got, err := io.ReadAll(d.Body)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, "Demo-1.0.ipa", d.Filename)
	assert.Equal(t, `"`+first.FileHash+`"`, d.ETag)
	assert.Equal(t, int64(len(data)), d.Size)

	info, err := c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Records)
	assert.Equal(t, 1, info.Blobs)
}

func TestHTTPClient_ValidationError(t *testing.T) {
	ts := newServer(t)
	c := NewHTTPClient(ts.URL)

	_, err := c.Upload(context.Background(), "x.ipa", []byte("x"),
		models.Metadata{BundleIdentifier: "bad", BundleVersion: "1.0", AppName: "Demo"})
	require.Error(t, err)

	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusBadRequest, re.Status)
	assert.Equal(t, ota.MetadataHint, re.Message)
	assert.NotNil(t, re.Details)
}

func TestHTTPClient_DownloadNotFound(t *testing.T) {
	ts := newServer(t)
	c := NewHTTPClient(ts.URL)

	_, err := c.Download(context.Background(), "missing")
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusNotFound, re.Status)
	assert.Contains(t, re.Message, "missing")
}

func TestDecodeError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := NewHTTPClient(ts.URL).Info(context.Background())
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusBadGateway, re.Status)
	assert.Equal(t, "HTTP 502", re.Message)
}

func TestRetryClient_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"records":4,"blobs":2}`))
	}))
	defer ts.Close()

	rc := NewRetryClient(NewHTTPClient(ts.URL), &RetryConfig{MaxRetries: 3, JitterFraction: 0})
	info, err := rc.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, info.Records)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryClient_StopsOnClientError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	rc := NewRetryClient(NewHTTPClient(ts.URL), &RetryConfig{MaxRetries: 3})
	_, err := rc.Download(context.Background(), "abc")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryClient_GivesUp(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	rc := NewRetryClient(NewHTTPClient(ts.URL), &RetryConfig{MaxRetries: 2})
	_, err := rc.Upload(context.Background(), "x.ipa", []byte("x"), demo)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, int32(3), calls.Load())
}

func TestDecodeError_RetryAfter(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":true,"message":"rate limit exceeded"}`))
	}))
	defer ts.Close()

	_, err := NewHTTPClient(ts.URL).Info(context.Background())
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "rate limit exceeded", re.Message)
	assert.Equal(t, 7*time.Second, re.RetryAfter)
	assert.True(t, isTransient(err))
}
