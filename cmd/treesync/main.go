// Command treesync mirrors a task tree into an issue tracker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/roach88/treesync/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
