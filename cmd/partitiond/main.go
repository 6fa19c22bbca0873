// Command partitiond runs a single partition of the resource-deletion
// lifecycle state machine: a `serve` command that opens the embedded store
// and blocks applying log records, and an `inspect` command that reports
// recently processed commands and pending cross-partition acknowledgements.
package main

import (
	"fmt"
	"os"

	"partitiond/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
