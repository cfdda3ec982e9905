// Package client talks to an ipaota server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kilupskalvis/ipaota/internal/api"
	"github.com/kilupskalvis/ipaota/internal/models"
)

// Client defines the contract for communicating with an ipaota server.
type Client interface {
	Upload(ctx context.Context, filename string, data []byte, md models.Metadata) (*api.UploadResponse, error)
	Download(ctx context.Context, id string) (*Download, error)
	Info(ctx context.Context) (*api.Info, error)
}

// Download is an open binary stream. The caller must close Body.
type Download struct {
	Body     io.ReadCloser
	Filename string
	ETag     string
	Size     int64
}

// HTTPClient implements Client over HTTP.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates an HTTP-based client for the server at baseURL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

func (c *HTTPClient) do(ctx context.Context, method, url string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	return resp, nil
}

// Upload sends data as the multipart "file" field with the metadata as query parameters.
func (c *HTTPClient) Upload(ctx context.Context, filename string, data []byte, md models.Metadata) (*api.UploadResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(api.FormFieldFile, filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	q := url.Values{}
	q.Set(api.ParamBundleIdentifier, md.BundleIdentifier)
	q.Set(api.ParamBundleVersion, md.BundleVersion)
	q.Set(api.ParamAppName, md.AppName)

	resp, err := c.do(ctx, "POST", c.baseURL+"/ipa/create?"+q.Encode(), &buf,
		map[string]string{"Content-Type": mw.FormDataContentType()})
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, decodeError(resp)
	}

	var out api.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// Download streams the binary for a record id.
func (c *HTTPClient) Download(ctx context.Context, id string) (*Download, error) {
	resp, err := c.do(ctx, "GET", c.baseURL+"/ipa/"+url.PathEscape(id)+"/download", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", id, err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	d := &Download{
		Body: resp.Body,
		ETag: resp.Header.Get("ETag"),
		Size: resp.ContentLength,
	}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		d.Filename = params["filename"]
	}
	return d, nil
}

// Info returns record and blob counts.
func (c *HTTPClient) Info(ctx context.Context) (*api.Info, error) {
	resp, err := c.do(ctx, "GET", c.baseURL+"/info", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, decodeError(resp)
	}

	var info api.Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode info: %w", err)
	}
	return &info, nil
}

// RemoteError represents a structured error from the server.
type RemoteError struct {
	Message    string
	Details    interface{}
	Status     int
	RetryAfter time.Duration // from the Retry-After header, zero when absent
}

func (e *RemoteError) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("server error (%d): %s: %v", e.Status, e.Message, e.Details)
	}
	return fmt.Sprintf("server error (%d): %s", e.Status, e.Message)
}

func decodeError(resp *http.Response) error {
	re := &RemoteError{
		Message: fmt.Sprintf("HTTP %d", resp.StatusCode),
		Status:  resp.StatusCode,
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		re.RetryAfter = time.Duration(secs) * time.Second
	}

	var errResp api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Message != "" {
		re.Message = errResp.Message
		re.Details = errResp.Details
	}
	return re
}
