// Command forge-worker is the worker subprocess launched by the server when
// FORGE_WORKER_BIN is set. It speaks length-prefixed JSON frames over stdio:
// requests on stdin, responses on stdout, diagnostics on stderr.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/seantiz/forge/internal/textstat"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := textstat.RunAgent(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		log.Fatalf("agent: %v", err)
	}
}
