// Command syncer copies the navigation snapshot from the CDN into the
// per-language MySQL collections. It runs once per invocation and is meant to
// be scheduled externally.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("syncer failed")
		os.Exit(1)
	}
}
