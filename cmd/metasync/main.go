// Command metasync synchronizes graph-projected dataset metadata with the
// remote curation platform.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sparctools/metasync/cmd/metasync/cmd"
	"github.com/sparctools/metasync/pkg/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		logging.Err(err).Msg("metasync failed")
		os.Exit(1)
	}
}
