package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var downloadOutput string

var downloadCmd = &cobra.Command{
	Use:   "download <id>",
	Short: "Download the IPA behind a record id",
	Long: `Download the binary for a record id. The file is written to the name the
server suggests (<appName>-<bundleVersion>.ipa) unless --output is given.

Examples:
  ipaota download 7c9e6679-7425-40de-944b-e07fc1f90ae7
  ipaota download -o build.ipa 7c9e6679-7425-40de-944b-e07fc1f90ae7`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().StringVarP(&downloadOutput, "output", "o", "", "Output file path")
}

func runDownload(cmd *cobra.Command, args []string) error {
	d, err := newClient().Download(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	defer d.Body.Close()

	path := downloadOutput
	if path == "" {
		path = filepath.Base(d.Filename)
	}
	if path == "" || path == "." || path == "/" {
		path = args[0] + ".ipa"
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	n, err := io.Copy(f, d.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("write %s: %w", path, err)
	}

	color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Saved %s", path)
	fmt.Fprintf(cmd.OutOrStdout(), " (%d bytes)\n", n)
	return nil
}
