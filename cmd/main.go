package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"quorumdb/internal/configuration"
	"quorumdb/internal/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	cfg, err := configuration.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "Error", err)
		os.Exit(1)
	}

	log := logging.Init(cfg.Application.LogLevel)
	log.Info("Starting quorumdb...", "node_id", cfg.Node.ID, "mode", cfg.Replication.Mode)

	app, err := NewApp(cfg, log)
	if err != nil {
		log.Error("Failed to build node", "Error", err)
		os.Exit(1)
	}

	if err := app.Start(ctx); err != nil {
		log.Error("Failed to start node", "Error", err)
		app.Shutdown(context.Background())
		os.Exit(1)
	}

	log.Info("quorumdb ready")
	<-ctx.Done()

	log.Info("Shutting down quorumdb...")
	app.Shutdown(context.Background())
}
