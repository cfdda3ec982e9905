package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kilupskalvis/ipaota/internal/metastore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte(`
listen = "127.0.0.1:9000"
data_dir = "/srv/ipaota"
public_url = "https://ota.example.com"
meta_backend = "sqlite"
max_upload_size = 1048576
webhook_urls = ["https://hooks.example.com/a"]
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, "/srv/ipaota", cfg.DataDir)
	assert.Equal(t, "https://ota.example.com", cfg.PublicURL)
	assert.Equal(t, metastore.BackendSQLite, cfg.MetaBackend)
	assert.Equal(t, int64(1048576), cfg.MaxUploadSize)
	assert.Equal(t, []string{"https://hooks.example.com/a"}, cfg.WebhookURLs)
	// untouched keys keep defaults
	assert.Equal(t, 300, cfg.RequestsPerMinute)
	assert.Equal(t, filepath.Join("/srv/ipaota", BlobsDir), cfg.BlobsPath())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_BadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte("listen = "), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"IPAOTA_LISTEN":              ":7000",
		"IPAOTA_META_BACKEND":        "sqlite",
		"IPAOTA_MAX_UPLOAD_SIZE":     "2048",
		"IPAOTA_REQUESTS_PER_MINUTE": "0",
		"IPAOTA_WEBHOOK_URLS":        " https://a.example.com , ,https://b.example.com",
		"IPAOTA_DATA_DIR":            "",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Listen)
	assert.Equal(t, metastore.BackendSQLite, cfg.MetaBackend)
	assert.Equal(t, int64(2048), cfg.MaxUploadSize)
	assert.Equal(t, 0, cfg.RequestsPerMinute)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.WebhookURLs)
	assert.Equal(t, Default().DataDir, cfg.DataDir)
}

func TestApplyEnv_BadNumber(t *testing.T) {
	err := Default().ApplyEnv(envMap(map[string]string{"IPAOTA_MAX_UPLOAD_SIZE": "big"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IPAOTA_MAX_UPLOAD_SIZE")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown backend", func(c *Config) { c.MetaBackend = "postgres" }, "unknown meta_backend"},
		{"zero upload size", func(c *Config) { c.MaxUploadSize = 0 }, "max_upload_size"},
		{"negative rate", func(c *Config) { c.RequestsPerMinute = -1 }, "requests_per_minute"},
		{"half tls", func(c *Config) { c.TLSCert = "cert.pem" }, "tls_cert and tls_key"},
		{"public url scheme", func(c *Config) { c.PublicURL = "ota.example.com" }, "public_url"},
		{"empty listen", func(c *Config) { c.Listen = "" }, "listen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.WebhookURLs = []string{"https://hooks.example.com"}

	data, err := cfg.Marshal()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(path, data, 0644))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
