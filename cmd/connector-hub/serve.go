package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goldilockshq/connector-hub/internal/auth"
	"github.com/goldilockshq/connector-hub/internal/config"
	httpapp "github.com/goldilockshq/connector-hub/internal/http"
	"github.com/goldilockshq/connector-hub/internal/http/authn"
	"github.com/goldilockshq/connector-hub/internal/metrics"
	"github.com/spf13/cobra"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Run the connector HTTP API and metrics endpoint.",
	Args:        cobra.NoArgs,
	Annotations: structuredLogAnnotation(),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := slog.Default()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	verifier, err := apiKeyVerifier(cfg, logger)
	if err != nil {
		return err
	}

	srv, err := httpapp.NewEchoServer(cfg, logger, svc.manager, svc.registry, verifier)
	if err != nil {
		return err
	}

	metricsOpts := append(svc.readinessOptions(), metrics.WithServerLogger(logger))
	_, metricsErrCh := metrics.StartServer(ctx, cfg.MetricsAddr, metricsOpts...)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr, "connectors", len(svc.registry.ListConnectors()))
		errCh <- srv.StartServer(httpServer)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return httpapp.Shutdown(ctx, httpServer, shutdownTimeout)
	case err := <-metricsErrCh:
		_ = httpapp.Shutdown(ctx, httpServer, shutdownTimeout)
		return err
	case err := <-errCh:
		return err
	}
}

// apiKeyVerifier returns nil only in dev mode with no keys configured.
func apiKeyVerifier(cfg config.Config, logger *slog.Logger) (authn.Verifier, error) {
	keyring, err := auth.NewKeyring(cfg.APIKeyHashes)
	if err != nil {
		return nil, err
	}
	if keyring.Empty() {
		if cfg.DevMode {
			logger.Warn("no API keys configured; connector routes are unauthenticated (dev mode)")
			return nil, nil
		}
		return nil, errors.New("API_KEY_HASHES is required outside dev mode")
	}
	return keyring, nil
}
