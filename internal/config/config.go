// Package config loads ipaota server configuration from a TOML file and
// IPAOTA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kilupskalvis/ipaota/internal/metastore"
	"github.com/pelletier/go-toml/v2"
)

const (
	EnvPrefix   = "IPAOTA_"
	BlobsDir    = "blobs"
	DefaultFile = "ipaota.toml"
)

// Config represents the server configuration.
type Config struct {
	Listen            string   `toml:"listen"`
	DataDir           string   `toml:"data_dir"`
	PublicURL         string   `toml:"public_url"` // empty: derived from each request
	MetaBackend       string   `toml:"meta_backend"`
	MaxUploadSize     int64    `toml:"max_upload_size"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
	LogLevel          string   `toml:"log_level"`
	LogFormat         string   `toml:"log_format"`
	TLSCert           string   `toml:"tls_cert"`
	TLSKey            string   `toml:"tls_key"`
	WebhookURLs       []string `toml:"webhook_urls"`
	WebhookSecret     string   `toml:"webhook_secret"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Listen:            "0.0.0.0:8080",
		DataDir:           "/var/lib/ipaota",
		MetaBackend:       metastore.BackendBbolt,
		MaxUploadSize:     1 << 30,
		RequestsPerMinute: 300,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// Load reads the file at path over the defaults and applies environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from IPAOTA_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("LISTEN", &c.Listen)
	str("DATA_DIR", &c.DataDir)
	str("PUBLIC_URL", &c.PublicURL)
	str("META_BACKEND", &c.MetaBackend)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("TLS_CERT", &c.TLSCert)
	str("TLS_KEY", &c.TLSKey)
	str("WEBHOOK_SECRET", &c.WebhookSecret)

	if v, ok := lookup(EnvPrefix + "MAX_UPLOAD_SIZE"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %sMAX_UPLOAD_SIZE: %w", EnvPrefix, err)
		}
		c.MaxUploadSize = n
	}
	if v, ok := lookup(EnvPrefix + "REQUESTS_PER_MINUTE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sREQUESTS_PER_MINUTE: %w", EnvPrefix, err)
		}
		c.RequestsPerMinute = n
	}
	if v, ok := lookup(EnvPrefix + "WEBHOOK_URLS"); ok && v != "" {
		c.WebhookURLs = SplitList(v)
	}
	return nil
}

// SplitList splits a comma-separated list, dropping empty entries.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	switch c.MetaBackend {
	case metastore.BackendBbolt, metastore.BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown meta_backend %q (want %s or %s)", c.MetaBackend, metastore.BackendBbolt, metastore.BackendSQLite))
	}
	if c.MaxUploadSize <= 0 {
		errs = append(errs, errors.New("max_upload_size must be positive"))
	}
	if c.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("requests_per_minute must not be negative"))
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		errs = append(errs, errors.New("tls_cert and tls_key must be set together"))
	}
	if c.PublicURL != "" && !strings.HasPrefix(c.PublicURL, "http://") && !strings.HasPrefix(c.PublicURL, "https://") {
		errs = append(errs, fmt.Errorf("public_url %q must start with http:// or https://", c.PublicURL))
	}
	return errors.Join(errs...)
}

// Marshal renders the configuration as TOML.
func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}

// BlobsPath returns the directory holding content-addressed binaries.
func (c *Config) BlobsPath() string {
	return filepath.Join(c.DataDir, BlobsDir)
}

// Logger builds the process logger from log_level and log_format.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
