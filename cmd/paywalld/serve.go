package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the payment routes",
		Long: `Serve purchases, tips and donations over HTTP.

Routes:
  POST /articles/{articleID}/purchase?network=
  POST /articles/{articleID}/tip?network=&amount=
  POST /donations?network=&amount=
  GET  /metrics
  GET  /healthz

Examples:
  paywalld serve --config paywall.yaml
  PAYWALL_DATABASE_URL=postgres://... paywalld serve`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer a.Close()

	a.WarmUp(ctx)
	if err := a.ReportPending(ctx); err != nil {
		logger.Warn("could not list pending reservations", "error", err)
	}

	router, err := a.Router()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("paywalld listening", "addr", cfg.Listen, "network", cfg.DefaultNetwork, "mcp", cfg.MCP.Enabled)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	// In-flight settles run on a detached context bounded by SettleTimeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.SettleTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
