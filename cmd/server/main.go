package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nfrund/livepresence/internal/app"
	"github.com/nfrund/livepresence/internal/config"
)

func main() {
	cfg := config.New()

	a, err := app.New(cfg)
	if err != nil {
		slog.Error("Failed to build application", "error", err)
		os.Exit(1)
	}
	defer a.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
		a.Shutdown()
		os.Exit(1)
	}
	slog.Info("Server exited properly")
}
