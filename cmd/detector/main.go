package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"crowdwatch/internal/app"
	"crowdwatch/internal/config"
	"crowdwatch/internal/logger"
)

func main() {
	// Ctrl+C and SIGTERM cancel the loop, which then releases the camera
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	cmd := newRootCmd(cfg, func(ctx context.Context, cfg *config.Config, opts app.DetectorOptions) error {
		return app.NewDetectorApp(cfg, opts, logger.NewLogger(cfg)).Run(ctx)
	})

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
