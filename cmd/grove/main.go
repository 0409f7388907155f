// Command grove is the CLI for the grove event log: it serves the
// authoritative log and acts as a syncing device against it.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/grove/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	cmd.SilenceErrors = true
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
