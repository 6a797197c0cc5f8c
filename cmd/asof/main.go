// Command asof queries a bitemporal audit trail.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/asof/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
