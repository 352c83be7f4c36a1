package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"crowdwatch/internal/app"
	"crowdwatch/internal/config"
	"crowdwatch/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	application, err := app.NewApp(cfg, logger.NewLogger(cfg))
	if err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	if err := application.Run(ctx); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}
