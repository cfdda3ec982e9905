package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/kilupskalvis/ipaota/internal/api"
	"github.com/kilupskalvis/ipaota/internal/client"
	"github.com/kilupskalvis/ipaota/internal/models"
	"github.com/kilupskalvis/ipaota/internal/ota"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// maxUploadWorkers bounds concurrent uploads.
const maxUploadWorkers = 4

var (
	clientServerURL string
	clientRetries   int

	uploadBundleID      string
	uploadBundleVersion string
	uploadAppName       string
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file.ipa>...",
	Short: "Upload IPA files to a server",
	Long: `Upload one or more IPA files with the given metadata. Each file creates
its own record; identical content is stored once and reported as a duplicate.

Examples:
  ipaota upload --bundle-id com.example.app --bundle-version 1.2.0 --app-name Demo Demo.ipa
  ipaota upload --server https://ota.example.com -b com.example.app -v 1.2 -n Demo a.ipa b.ipa`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

func init() {
	for _, cmd := range []*cobra.Command{uploadCmd, downloadCmd} {
		cmd.Flags().StringVarP(&clientServerURL, "server", "s",
			envOrDefault("IPAOTA_SERVER", "http://localhost:8080"),
			"Server base URL (env: IPAOTA_SERVER)")
		cmd.Flags().IntVar(&clientRetries, "retries", 3, "Retries for transient failures")
	}

	f := uploadCmd.Flags()
	f.StringVarP(&uploadBundleID, "bundle-id", "b", "", "Bundle identifier, e.g. com.example.app")
	f.StringVarP(&uploadBundleVersion, "bundle-version", "v", "", "Bundle version, e.g. 1.2.0")
	f.StringVarP(&uploadAppName, "app-name", "n", "", "Display name of the app")
}

func newClient() client.Client {
	return client.NewRetryClient(client.NewHTTPClient(clientServerURL), &client.RetryConfig{
		MaxRetries:     clientRetries,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		JitterFraction: 0.25,
	})
}

func runUpload(cmd *cobra.Command, args []string) error {
	md := models.Metadata{
		BundleIdentifier: uploadBundleID,
		BundleVersion:    uploadBundleVersion,
		AppName:          uploadAppName,
	}
	if errs := ota.ValidateMetadata(md); len(errs) > 0 {
		joined := make([]error, len(errs))
		for i, e := range errs {
			joined[i] = e
		}
		return fmt.Errorf("%s\n%w", ota.MetadataHint, errors.Join(joined...))
	}

	c := newClient()
	results := make([]*api.UploadResponse, len(args))

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(maxUploadWorkers)

	for i, path := range args {
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			resp, err := c.Upload(ctx, filepath.Base(path), data, md)
			if err != nil {
				return fmt.Errorf("upload %s: %w", path, err)
			}
			results[i] = resp
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	for i, resp := range results {
		green.Fprintf(out, "Uploaded %s", args[i])
		fmt.Fprintf(out, " -> %s (%s)\n", resp.ID, shortID(resp.FileHash))
		fmt.Fprintf(out, "  install: %s\n", resp.InteractiveOTAURL)
		fmt.Fprintf(out, "  ota:     %s\n", resp.DirectOTAURL)
		if resp.Warning != "" {
			yellow.Fprintf(out, "  warning: %s\n", resp.Warning)
		}
	}
	return nil
}
