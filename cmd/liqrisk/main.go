package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"liqrisk/pkg/ux"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	root := newRootCmd(os.Stdout, os.Stderr)
	err := root.ExecuteContext(ctx)
	stop()

	if err != nil {
		ux.Print(os.Stderr, ux.RenderError(err))
		os.Exit(exitCode(err))
	}
}
