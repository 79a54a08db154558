package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/example/shelf-sync/internal/api"
	"github.com/example/shelf-sync/internal/app"
	"github.com/example/shelf-sync/internal/config"
	"github.com/example/shelf-sync/internal/observability"
	"github.com/example/shelf-sync/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := observability.NewLogger(cfg.LogLevel, false).With().Str("app", cfg.AppName).Logger()
	observability.RegisterRuntimeCollectors()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := observability.Start(ctx, observability.Config{
		ServiceName:  cfg.AppName,
		MetricsAddr:  cfg.MetricsAddr,
		OTLPEndpoint: cfg.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer telemetryShutdown(context.Background())

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize application")
	}

	a.Scheduler.Start(ctx)
	go a.Listen(ctx)

	handler := api.NewHandler(api.Deps{
		Store:    a.Store,
		Ops:      a.Ops,
		Provider: a.Provider,
		Sync:     a.Scheduler,
		Status:   a.Engine,
	}, logger.With().Str("component", "api").Logger())
	gateway, err := ws.NewGateway(a.Events, logger.With().Str("component", "events").Logger(), ws.GatewayConfig{})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize event stream")
	}

	mux := http.NewServeMux()
	mux.Handle("GET /events", gateway)
	mux.Handle("/", handler)
	httpServer := &http.Server{Addr: cfg.HTTPListenAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("http server starting")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	logger.Info().
		Str("device", a.DeviceID).
		Str("remote_backend", cfg.RemoteBackend).
		Int("books", a.Store.Len()).
		Msg("shelf sync daemon started")

	go func() {
		ticker := time.NewTicker(cfg.HealthcheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := a.Resources.HealthCheck(ctx); err != nil {
					logger.Error().Err(err).Msg("dependency healthcheck failed")
				} else {
					logger.Debug().Msg("dependency healthcheck ok")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = httpServer.Shutdown(shutdownCtx)
		a.Events.CloseAll()
		a.Scheduler.Wait()
		if err := a.Close(); err != nil {
			logger.Error().Err(err).Msg("close local cache")
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Error().Err(shutdownCtx.Err()).Msg("forced shutdown")
	}
}
