// Command fpt runs fault proof program conformance fixtures.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/roach88/fpt/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()

	code := cli.GetExitCode(err)
	if err != nil && code != cli.ExitFailure {
		fmt.Fprintf(os.Stderr, "fpt: %v\n", err)
	}
	os.Exit(code)
}
