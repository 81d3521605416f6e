// Command retrosync joins a retro channel and keeps a local copy of its
// presence roster, ideas and users in sync.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/retrosync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
