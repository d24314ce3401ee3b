// Package main provides the pwasync CLI entrypoint.
//
// Usage:
//
//	pwasync <command> [options]
//
// Exit codes:
//   - 0: success
//   - 1: the command ran but actions were left failed
//   - 2: command error
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/pwasync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
