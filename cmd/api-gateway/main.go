package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/upb/llm-gateway/config"
	"github.com/upb/llm-gateway/internal/observability"
	"github.com/upb/llm-gateway/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "api-gateway: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.New(ctx)
	if err != nil {
		return err
	}

	logger, err := initLogger(cfg.Observability)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting api-gateway",
		zap.String("environment", cfg.Environment),
		zap.String("addr", cfg.Server.Address()))

	return server.Run(ctx, cfg, logger)
}

// initLogger builds the process logger from LOG_LEVEL and LOG_FORMAT
func initLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level := cfg.LogLevel
	if level == "" {
		level = "info"
	}
	logger, err := observability.NewLogger(level, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", "api-gateway")), nil
}
