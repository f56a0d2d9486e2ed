// Command devtool runs the JSON formatter and timestamp converter without the GUI.
package main

import (
	"os"

	"devtool-desktop/internal/cli"
)

func main() {
	rootCmd := cli.BuildCLI()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
