package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infra/logging"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infra/tracing"
)

func serveCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the outbox dispatcher and the retry workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			logger, err := logging.NewZapLogger(cfg.ServiceName, cfg.Debug)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := tracing.Init(ctx, cfg.ServiceName, cfg.Tracing.Endpoint)
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdownTracing(context.Background()); err != nil {
					logger.Error("error shutting down tracer provider", map[string]any{"error": err})
				}
			}()

			reg := prometheus.NewRegistry()
			a, err := build(cfg, logger, reg)
			if err != nil {
				return err
			}
			defer a.Close()

			if n, err := a.recovery.Sweep(ctx, time.Now().UTC()); err != nil {
				logger.Warn("recovery sweep failed", map[string]any{"error": err})
			} else if n > 0 {
				logger.Info("requested retries left by a previous run", map[string]any{"count": n})
			}

			go a.dispatcher.Run(ctx)

			srv := &http.Server{
				Addr:    ":" + cfg.HTTP.Port,
				Handler: a.router(cfg.ServiceName, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("http server starting", map[string]any{"port": cfg.HTTP.Port})
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info("shutting down", nil)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}
