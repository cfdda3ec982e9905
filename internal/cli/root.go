// Package cli implements the ipaota command-line interface.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ipaota",
	Short: "Over-the-air distribution server for iOS builds",
	Long: `ipaota stores iOS application packages (IPAs) by content hash and serves
them to devices through Apple's over-the-air installation protocol:
install page, manifest plist and binary download.

Run 'ipaota serve' to start the server and 'ipaota upload' to publish builds.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("IPAOTA_CONFIG"),
		"Path to a TOML config file (env: IPAOTA_CONFIG)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(hashCmd)
}

// envOrDefault returns the value of the environment variable key, or defaultVal if unset.
func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// shortID returns first 8 characters of an ID
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
