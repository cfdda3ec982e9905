package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kilupskalvis/ipaota/internal/models"
)

// Webhook request headers.
const (
	SignatureHeader = "X-IPAOTA-Signature" // "sha256=<hex hmac>" when a secret is configured
	EventHeader     = "X-IPAOTA-Event"
	DeliveryHeader  = "X-IPAOTA-Delivery"
)

// EventUpload is sent after every successful upload.
const EventUpload = "upload"

// webhookAttempts bounds deliveries per URL. Only 5xx and transport errors are retried.
const webhookAttempts = 3

// WebhookEvent represents the payload sent to webhook URLs.
type WebhookEvent struct {
	Event            string `json:"event"`
	ID               string `json:"id"`
	BundleIdentifier string `json:"bundle_identifier"`
	BundleVersion    string `json:"bundle_version"`
	AppName          string `json:"app_name"`
	ContentHash      string `json:"content_hash"`
	Duplicate        bool   `json:"duplicate"` // content was already stored
	Timestamp        string `json:"timestamp"`
}

// WebhookConfig holds the list of configured webhook URLs.
type WebhookConfig struct {
	URLs   []string
	Secret string
}

// WebhookNotifier posts events to every configured URL in the background.
type WebhookNotifier struct {
	config   *WebhookConfig
	client   *http.Client
	logger   *slog.Logger
	backoff  time.Duration
	inflight sync.WaitGroup
}

// NewWebhookNotifier creates a webhook notifier. Returns nil if no URLs are configured.
func NewWebhookNotifier(cfg *WebhookConfig, logger *slog.Logger) *WebhookNotifier {
	if cfg == nil || len(cfg.URLs) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		config:  cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
		backoff: time.Second,
	}
}

// NotifyUpload queues an upload event for every URL and returns immediately.
func (wn *WebhookNotifier) NotifyUpload(rec *models.Record, duplicate bool) {
	if wn == nil {
		return
	}

	wn.dispatch(&WebhookEvent{
		Event:            EventUpload,
		ID:               rec.ID,
		BundleIdentifier: rec.BundleIdentifier,
		BundleVersion:    rec.BundleVersion,
		AppName:          rec.AppName,
		ContentHash:      rec.ContentHash,
		Duplicate:        duplicate,
		Timestamp:        rec.UploadedAt().Format(time.RFC3339),
	})
}

// Wait blocks until queued deliveries finish. Safe on a nil notifier.
func (wn *WebhookNotifier) Wait() {
	if wn == nil {
		return
	}
	wn.inflight.Wait()
}

func (wn *WebhookNotifier) dispatch(event *WebhookEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		wn.logger.Error("webhook: marshal event", "error", err)
		return
	}

	for _, url := range wn.config.URLs {
		wn.inflight.Add(1)
		go func() {
			defer wn.inflight.Done()

			delivery := uuid.NewString()
			log := wn.logger.With("url", url, "event", event.Event, "delivery", delivery)
			if err := wn.deliver(context.Background(), url, event.Event, delivery, data); err != nil {
				log.Warn("webhook: delivery failed", "error", err)
				return
			}
			log.Debug("webhook: delivered")
		}()
	}
}

// deliver POSTs data to url, retrying server errors with linear backoff.
func (wn *WebhookNotifier) deliver(ctx context.Context, url, event, delivery string, data []byte) error {
	var lastErr error
	for attempt := 1; attempt <= webhookAttempts; attempt++ {
		if attempt > 1 {
			t := time.NewTimer(time.Duration(attempt-1) * wn.backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		retry, err := wn.post(ctx, url, event, delivery, data)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return lastErr
}

// post makes one delivery attempt and reports whether a failure is worth retrying.
func (wn *WebhookNotifier) post(ctx context.Context, url, event, delivery string, data []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ipaota-webhook/1.0")
	req.Header.Set(EventHeader, event)
	req.Header.Set(DeliveryHeader, delivery)
	if wn.config.Secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign(wn.config.Secret, data))
	}

	resp, err := wn.client.Do(req)
	if err != nil {
		return true, err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("HTTP %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
