package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/paulschiretz/pgl-sync/cmd"
	"github.com/paulschiretz/pgl-sync/pkg/buildinfo"
	"github.com/paulschiretz/pgl-sync/pkg/engine"
	"github.com/paulschiretz/pgl-sync/pkg/hints"
	"github.com/paulschiretz/pgl-sync/pkg/plog"
)

func main() {
	// Cancel on Ctrl+C or SIGTERM so a running pass can stop cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cmd.NewRootCommand().ExecuteContext(ctx)
	if err == nil {
		return
	}
	// Hints are expected outcomes (declined prompt, target busy), not failures.
	if hints.IsHint(err) {
		if errors.Is(err, engine.ErrDeclined) {
			plog.Info(buildinfo.Name + " sync canceled by user.")
		} else {
			plog.Warn(buildinfo.Name+" did not run", "reason", err)
		}
		return
	}
	plog.Error(buildinfo.Name+" exited with error", "error", err)
	os.Exit(1)
}
