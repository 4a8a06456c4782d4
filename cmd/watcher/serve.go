package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriphim/watcher/internal/auth"
	"github.com/oriphim/watcher/internal/redact"
	"github.com/oriphim/watcher/internal/server"
	"github.com/oriphim/watcher/internal/telemetry"
	"github.com/oriphim/watcher/internal/validation"
)

const shutdownGrace = 15 * time.Second

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP validation service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	return cmd
}

func runServe(parent context.Context, addrOverride string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:    cfg.Telemetry.Enabled,
		Endpoint:   cfg.Telemetry.Endpoint,
		Protocol:   cfg.Telemetry.Protocol,
		Service:    cfg.Telemetry.ServiceName,
		Version:    version,
		Prometheus: cfg.Telemetry.Prometheus,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	rt, err := validation.Build(cfg, tel, logger)
	if err != nil {
		return err
	}

	authz, err := auth.NewFromConfig(cfg)
	if err != nil {
		_ = rt.Close(context.Background())
		return err
	}
	if !authz.Enabled() {
		logger.Warn("no api keys configured; validation endpoints are unauthenticated")
	}

	srv := server.New(cfg, authz, server.Deps{
		Engine:    rt.Engine,
		Store:     rt.Store,
		Telemetry: tel,
		Logger:    logger,
	})

	addr := cfg.Server.Addr
	if addrOverride != "" {
		addr = addrOverride
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(addr) }()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", redact.Error(err))
	}
	if err := rt.Close(shutdownCtx); err != nil {
		logger.Warn("close runtime", redact.Error(err))
	}
	tel.Shutdown(shutdownCtx)

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		logger.Error("server error", redact.Error(serveErr))
		return serveErr
	}
	return nil
}
