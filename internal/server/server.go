// Package server runs the gateway HTTP API with graceful shutdown. Both the
// api-gateway binary and `llmgw serve` use it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-gateway/app"
	"github.com/upb/llm-gateway/config"
	"github.com/upb/llm-gateway/routes"
)

const defaultShutdownTimeout = 10 * time.Second

// Run wires the dependencies and serves until ctx is cancelled, then drains
// in-flight requests and releases every dependency
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...app.Option) error {
	deps, err := app.NewDependencies(ctx, cfg, logger, opts...)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Server.Address())
	if err != nil {
		_ = deps.Close(context.Background())
		return fmt.Errorf("listen on %s: %w", cfg.Server.Address(), err)
	}

	return Serve(ctx, ln, deps)
}

// Serve serves the API on ln until ctx is cancelled or the server fails.
// deps are closed before returning.
func Serve(ctx context.Context, ln net.Listener, deps *app.Dependencies) error {
	cfg := deps.Config.Server
	logger := deps.Logger

	srv := &http.Server{
		Handler:           routes.SetupRoutes(deps),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		ErrorLog:          zap.NewStdLog(logger.Named("http")),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api-gateway listening",
			zap.String("addr", ln.Addr().String()),
			zap.Bool("tls", cfg.TLS.Enabled))

		var err error
		if cfg.TLS.Enabled {
			err = srv.ServeTLS(ln, cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		errCh <- err
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown incomplete", zap.Error(err))
	}
	if err := deps.Close(shutdownCtx); err != nil {
		logger.Warn("dependency shutdown incomplete", zap.Error(err))
		if serveErr == nil {
			serveErr = err
		}
	}

	logger.Info("api-gateway stopped")
	return serveErr
}
