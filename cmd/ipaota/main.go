// Command ipaota serves iOS builds over the air and uploads them.
package main

import (
	"fmt"
	"os"

	"github.com/kilupskalvis/ipaota/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
