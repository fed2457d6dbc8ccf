package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"veriface/internal/app"
	"veriface/internal/platform/config"
	"veriface/internal/platform/logger"
	"veriface/internal/platform/metrics"
	"veriface/internal/platform/otel"
)

// main loads configuration, builds the application and runs it until
// SIGINT or SIGTERM.
func main() {
	if err := run(); err != nil {
		slog.Error("veriface exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, shutdownTracing, err := otel.Setup(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	a, err := app.New(ctx, cfg, log, metrics.New(), tp)
	if err != nil {
		return err
	}
	log.Info("starting veriface",
		"addr", cfg.Addr,
		"index_backend", cfg.Index.Backend,
		"audit_backend", cfg.Audit.Backend,
		"tracing", cfg.OTelEndpoint != "",
	)

	runErr := a.Run(ctx)
	closeErr := a.Close()
	log.Info("veriface stopped")
	return errors.Join(runErr, closeErr)
}
