package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/noah-isme/paybridge/internal/app"
	"github.com/noah-isme/paybridge/internal/config"
	"github.com/noah-isme/paybridge/internal/health"
	"github.com/noah-isme/paybridge/internal/obs"
)

func main() {
	cfg := config.MustLoad()

	logger := obs.NewLogger(cfg.ObsLogFormat, cfg.ObsLogLevel).With().Str("env", cfg.AppEnv).Logger()

	if err := cfg.Gateway.Validate(); err != nil {
		logger.Warn().Err(err).Msg("gateway configuration incomplete; initiate and webhook will fail")
	}
	if err := cfg.Storefront.Validate(); err != nil {
		logger.Warn().Err(err).Msg("storefront configuration incomplete; payment endpoints will fail")
	}

	if cfg.ObsPrometheusEnabled {
		obs.MustRegisterDomainMetrics(cfg.ObsMetricsNamespace, nil)
	}

	if cfg.ObsTracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "paybridge",
			Endpoint:      cfg.ObsTracingEndpoint,
			Exporter:      cfg.ObsTracingExporter,
			SamplingRatio: cfg.ObsTracingSamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			cfg.ObsTracingEnabled = false
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	deps, cleanup, err := app.NewDependencies(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer cleanup()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           app.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Bool("redis", deps.Redis != nil).Msg("server starting")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
		return
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	health.SetReady(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
