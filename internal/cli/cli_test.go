package cli

import (
	"bytes"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/kilupskalvis/ipaota/internal/config"
	"github.com/kilupskalvis/ipaota/internal/metastore"
	"github.com/kilupskalvis/ipaota/internal/ota"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath = ""
	downloadOutput = ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func startServer(t *testing.T, backend string) *httptest.Server {
	t.Helper()

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.MetaBackend = backend
	require.NoError(t, cfg.Validate())

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	srv, closeFn, err := openServer(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(closeFn)

	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

var idPattern = regexp.MustCompile(`-> ([0-9a-f-]{36}) `)

func TestHashCommand(t *testing.T) {
	path := writeFile(t, t.TempDir(), "a.ipa", []byte{0x01, 0x02})

	out, err := run(t, "hash", path)
	require.NoError(t, err)
	assert.Equal(t, "a12871fee210fb8619291eaea194581cbd2531e4b23759d225f6806923f63222  "+path+"\n", out)
}

func TestHashCommand_MissingFile(t *testing.T) {
	_, err := run(t, "hash", filepath.Join(t.TempDir(), "missing.ipa"))
	assert.Error(t, err)
}

func TestUploadAndDownload(t *testing.T) {
	for _, backend := range []string{metastore.BackendBbolt, metastore.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			ts := startServer(t, backend)
			dir := t.TempDir()
			a := writeFile(t, dir, "a.ipa", []byte("build a"))
			b := writeFile(t, dir, "b.ipa", []byte("build b"))

			out, err := run(t, "upload", "--server", ts.URL,
				"-b", "com.example.app", "-v", "1.2.0", "-n", "Demo", a, b)
			require.NoError(t, err)
			assert.Contains(t, out, "Uploaded "+a)
			assert.Contains(t, out, "Uploaded "+b)
			assert.Contains(t, out, "itms-services://?action=download-manifest&url="+ts.URL)
			assert.NotContains(t, out, "warning:")

			out, err = run(t, "upload", "--server", ts.URL,
				"-b", "com.example.app", "-v", "1.2.0", "-n", "Demo", a)
			require.NoError(t, err)
			assert.Contains(t, out, "warning: "+ota.DuplicateWarning)

			m := idPattern.FindStringSubmatch(out)
			require.Len(t, m, 2)

			target := filepath.Join(dir, "out.ipa")
			out, err = run(t, "download", "--server", ts.URL, "-o", target, m[1])
			require.NoError(t, err)
			assert.Contains(t, out, "Saved "+target)

			got, err := os.ReadFile(target)
			require.NoError(t, err)
			assert.Equal(t, []byte("build a"), got)
		})
	}
}

func TestUpload_InvalidMetadata(t *testing.T) {
	path := writeFile(t, t.TempDir(), "a.ipa", []byte("x"))

	_, err := run(t, "upload", "--server", "http://127.0.0.1:1",
		"-b", "nodots", "-v", "1.0", "-n", "Demo", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ota.MetadataHint)
	assert.Contains(t, err.Error(), "bundleIdentifier")
}

func TestDownload_NotFound(t *testing.T) {
	ts := startServer(t, metastore.BackendBbolt)

	_, err := run(t, "download", "--server", ts.URL, "--retries", "0",
		"-o", filepath.Join(t.TempDir(), "x.ipa"), "unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestConfigCommand(t *testing.T) {
	path := writeFile(t, t.TempDir(), "ipaota.toml", []byte(`
listen = "127.0.0.1:9000"
meta_backend = "sqlite"
`))

	out, err := run(t, "config", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "127.0.0.1:9000")
	assert.Contains(t, out, "meta_backend")
	assert.Contains(t, out, "sqlite")
}

func TestConfigCommand_Invalid(t *testing.T) {
	path := writeFile(t, t.TempDir(), "ipaota.toml", []byte(`meta_backend = "postgres"`))

	_, err := run(t, "config", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	configPath = ""
	require.NoError(t, serveCmd.Flags().Set("listen", "127.0.0.1:7777"))
	require.NoError(t, serveCmd.Flags().Set("requests-per-minute", "0"))
	require.NoError(t, serveCmd.Flags().Set("webhook-urls", "https://a.example.com, https://b.example.com"))

	cfg, err := loadConfig(serveCmd)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7777", cfg.Listen)
	assert.Equal(t, 0, cfg.RequestsPerMinute)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.WebhookURLs)
	assert.Equal(t, config.Default().MetaBackend, cfg.MetaBackend)
}
