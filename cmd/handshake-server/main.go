package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/MrEthical07/handshake/internal/app"
	"github.com/MrEthical07/handshake/internal/config"
	"github.com/MrEthical07/handshake/internal/logger"
)

var (
	buildVersion = "N/A" // set by ldflags
	buildCommit  = "N/A" // set by ldflags
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	lg, err := logger.New(cfg.LogLevel, cfg.Production())
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	lg.Info("starting handshake-server",
		zap.String("version", buildVersion),
		zap.String("commit", buildCommit),
		zap.String("env", cfg.Env),
	)

	application, err := app.New(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("failed to initialize app", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run()
	}()

	select {
	case <-ctx.Done():
		lg.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			lg.Error("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		lg.Error("graceful shutdown failed", zap.Error(err))
		_ = lg.Sync()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	lg.Info("shutdown complete")
}
