// Command tandem keeps a local replica of a pairing's records in sync with a
// shared remote source.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/tandem/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tandem:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
