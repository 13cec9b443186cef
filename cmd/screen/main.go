// Command screen runs biodata screening batches from the command line.
package main

import (
	"os"

	"github.com/fairyhunter13/biodata-screener/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
