// Command echem reads, normalizes and analyzes electrochemical measurement files.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/interfaces/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
