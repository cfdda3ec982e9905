package cli

import (
	"fmt"
	"os"

	"github.com/kilupskalvis/ipaota/internal/ota"
	"github.com/spf13/cobra"
)

var hashCmd = &cobra.Command{
	Use:   "hash <file>...",
	Short: "Print the content hash the server would assign to files",
	Long: `Print the SHA256 content hash of each file, as used for deduplication
and as the download ETag. Output matches sha256sum.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runHash,
}

func runHash(cmd *cobra.Command, args []string) error {
	for _, path := range args {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		sum, _, err := ota.HashReader(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("hash %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", sum, path)
	}
	return nil
}
