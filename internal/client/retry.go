package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/kilupskalvis/ipaota/internal/api"
	"github.com/kilupskalvis/ipaota/internal/models"
)

// RetryConfig controls how transient failures are retried.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64 // 0.0 to 1.0
}

// DefaultRetryConfig returns the retry policy used by the CLI.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		JitterFraction: 0.25,
	}
}

// RetryClient decorates a Client with exponential backoff on transient errors.
type RetryClient struct {
	inner  Client
	config *RetryConfig
}

// NewRetryClient wraps inner. A nil cfg uses DefaultRetryConfig.
func NewRetryClient(inner Client, cfg *RetryConfig) *RetryClient {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	return &RetryClient{inner: inner, config: cfg}
}

// isTransient reports whether err may succeed on a later attempt: server
// errors, rate limiting and transport failures. Cancellation never is.
func isTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Status >= http.StatusInternalServerError || re.Status == http.StatusTooManyRequests
	}
	return true
}

// backoff is InitialBackoff doubled per attempt, capped at MaxBackoff, then
// spread by up to JitterFraction in either direction.
func (rc *RetryClient) backoff(attempt int) time.Duration {
	d := rc.config.MaxBackoff
	if attempt < 32 {
		if exp := rc.config.InitialBackoff << attempt; exp > 0 && exp < d {
			d = exp
		}
	}
	if j := rc.config.JitterFraction; j > 0 {
		d += time.Duration(float64(d) * j * (2*rand.Float64() - 1))
	}
	return max(d, 0)
}

// delay prefers the server's Retry-After hint over the computed backoff.
func (rc *RetryClient) delay(attempt int, err error) time.Duration {
	var re *RemoteError
	if errors.As(err, &re) && re.RetryAfter > 0 {
		return min(re.RetryAfter, rc.config.MaxBackoff)
	}
	return rc.backoff(attempt)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// withRetry runs fn until it succeeds, fails permanently or the retry
// budget is spent.
func withRetry[T any](ctx context.Context, rc *RetryClient, op string, fn func() (T, error)) (T, error) {
	for attempt := 0; ; attempt++ {
		v, err := fn()
		switch {
		case err == nil:
			return v, nil
		case !isTransient(err):
			return v, err
		case attempt >= rc.config.MaxRetries:
			return v, fmt.Errorf("%s: %w (after %d retries)", op, err, rc.config.MaxRetries)
		}
		if serr := sleep(ctx, rc.delay(attempt, err)); serr != nil {
			return v, fmt.Errorf("%s: %w (retry cancelled)", op, err)
		}
	}
}

// Upload is safe to repeat: data is held in memory and identical content is
// stored once. A retry after a lost response can leave an extra record.
func (rc *RetryClient) Upload(ctx context.Context, filename string, data []byte, md models.Metadata) (*api.UploadResponse, error) {
	return withRetry(ctx, rc, "upload", func() (*api.UploadResponse, error) {
		return rc.inner.Upload(ctx, filename, data, md)
	})
}

func (rc *RetryClient) Download(ctx context.Context, id string) (*Download, error) {
	return withRetry(ctx, rc, "download", func() (*Download, error) {
		return rc.inner.Download(ctx, id)
	})
}

func (rc *RetryClient) Info(ctx context.Context) (*api.Info, error) {
	return withRetry(ctx, rc, "get info", func() (*api.Info, error) {
		return rc.inner.Info(ctx)
	})
}
