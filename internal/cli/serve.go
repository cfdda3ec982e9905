package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kilupskalvis/ipaota/internal/blobstore"
	"github.com/kilupskalvis/ipaota/internal/config"
	"github.com/kilupskalvis/ipaota/internal/metastore"
	"github.com/kilupskalvis/ipaota/internal/server"
	"github.com/spf13/cobra"
)

var serveFlags struct {
	listen        string
	dataDir       string
	publicURL     string
	metaBackend   string
	maxUploadSize int64
	rpm           int
	logLevel      string
	logFormat     string
	tlsCert       string
	tlsKey        string
	webhookURLs   string
	webhookSecret string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the OTA distribution server",
	Long: `Run the OTA distribution server.

Binaries are stored on the local filesystem under <data-dir>/blobs, keyed
by SHA256. Metadata records live in bbolt (default) or SQLite.

Settings come from the config file, then IPAOTA_* environment variables,
then flags.

Examples:
  ipaota serve
  ipaota serve --listen 0.0.0.0:8080 --data-dir /var/lib/ipaota
  ipaota serve --public-url https://ota.example.com --meta-backend sqlite
  ipaota serve --tls-cert server.crt --tls-key server.key`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.listen, "listen", "", "Listen address (host:port)")
	f.StringVar(&serveFlags.dataDir, "data-dir", "", "Directory for blobs and metadata")
	f.StringVar(&serveFlags.publicURL, "public-url", "", "Base URL used in generated links (default: request origin)")
	f.StringVar(&serveFlags.metaBackend, "meta-backend", "", "Metadata backend (bbolt|sqlite)")
	f.Int64Var(&serveFlags.maxUploadSize, "max-upload-size", 0, "Maximum upload size in bytes")
	f.IntVar(&serveFlags.rpm, "requests-per-minute", 0, "Per-client rate limit, 0 disables")
	f.StringVar(&serveFlags.logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	f.StringVar(&serveFlags.logFormat, "log-format", "", "Log format (json|text)")
	f.StringVar(&serveFlags.tlsCert, "tls-cert", "", "TLS certificate file")
	f.StringVar(&serveFlags.tlsKey, "tls-key", "", "TLS key file")
	f.StringVar(&serveFlags.webhookURLs, "webhook-urls", "", "Comma-separated webhook URLs to notify on upload")
	f.StringVar(&serveFlags.webhookSecret, "webhook-secret", "", "HMAC secret for signing webhook payloads")
}

// loadConfig loads the config file and environment, then applies any flags
// explicitly set on cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	f := cmd.Flags()
	set := func(name string, dst *string, v string) {
		if f.Changed(name) {
			*dst = v
		}
	}
	set("listen", &cfg.Listen, serveFlags.listen)
	set("data-dir", &cfg.DataDir, serveFlags.dataDir)
	set("public-url", &cfg.PublicURL, serveFlags.publicURL)
	set("meta-backend", &cfg.MetaBackend, serveFlags.metaBackend)
	set("log-level", &cfg.LogLevel, serveFlags.logLevel)
	set("log-format", &cfg.LogFormat, serveFlags.logFormat)
	set("tls-cert", &cfg.TLSCert, serveFlags.tlsCert)
	set("tls-key", &cfg.TLSKey, serveFlags.tlsKey)
	set("webhook-secret", &cfg.WebhookSecret, serveFlags.webhookSecret)
	if f.Changed("max-upload-size") {
		cfg.MaxUploadSize = serveFlags.maxUploadSize
	}
	if f.Changed("requests-per-minute") {
		cfg.RequestsPerMinute = serveFlags.rpm
	}
	if f.Changed("webhook-urls") {
		cfg.WebhookURLs = config.SplitList(serveFlags.webhookURLs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openServer opens the stores under cfg.DataDir and builds the HTTP server.
// The returned close function releases the stores and background workers.
func openServer(cfg *config.Config, logger *slog.Logger) (*http.Server, func(), error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create data directory: %w", err)
	}

	meta, err := metastore.Open(cfg.MetaBackend, cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open metadata store: %w", err)
	}

	blobs, err := blobstore.NewFSStore(cfg.BlobsPath())
	if err != nil {
		meta.Close()
		return nil, nil, fmt.Errorf("open blob store: %w", err)
	}

	scfg := server.DefaultServerConfig()
	scfg.PublicURL = cfg.PublicURL
	scfg.MaxUploadSize = cfg.MaxUploadSize
	scfg.RequestsPerMinute = cfg.RequestsPerMinute
	scfg.Webhooks = server.NewWebhookNotifier(&server.WebhookConfig{
		URLs:   cfg.WebhookURLs,
		Secret: cfg.WebhookSecret,
	}, logger)
	if scfg.Webhooks != nil {
		logger.Info("webhooks configured", "count", len(cfg.WebhookURLs))
	}

	h, handlerCleanup := server.Handler(meta, blobs, scfg, logger)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Minute,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return context.Background() },
	}

	closeFn := func() {
		handlerCleanup()
		scfg.Webhooks.Wait()
		if err := meta.Close(); err != nil {
			logger.Error("close metadata store", "error", err)
		}
	}
	return srv, closeFn, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := cfg.Logger()

	srv, closeFn, err := openServer(cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting ipaota server",
			"listen", cfg.Listen, "data_dir", cfg.DataDir, "meta_backend", cfg.MetaBackend)
		var err error
		if cfg.TLSCert != "" {
			err = srv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("server stopped")
	return nil
}
