package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/paybridge/internal/config"
	"github.com/noah-isme/paybridge/internal/lock"
	"github.com/noah-isme/paybridge/internal/obs"
	"github.com/noah-isme/paybridge/internal/ratelimit"
	"github.com/noah-isme/paybridge/internal/resilience"
	"github.com/noah-isme/paybridge/internal/storefront"
)

// Dependencies carries the shared clients the HTTP surface is built from.
type Dependencies struct {
	Config      *config.Config
	Logger      zerolog.Logger
	Redis       redis.UniversalClient
	Orders      storefront.Client
	Breaker     *resilience.Breaker
	Limiter     ratelimit.Allower
	HTTPMetrics *obs.HTTPMetrics
	Tracing     bool
}

// NewDependencies connects optional Redis and builds the storefront client.
// The returned cleanup closes whatever was opened.
func NewDependencies(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg, Logger: logger}
	cleanup := func() {}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, cleanup, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := redisotel.InstrumentTracing(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis tracing")
		}
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, cleanup, fmt.Errorf("ping redis: %w", err)
		}
		deps.Redis = client
		cleanup = func() {
			if err := client.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}
	}

	deps.Breaker = resilience.NewBreaker(cfg.CircuitMinRequests, cfg.CircuitFailureRatio, cfg.CircuitOpenFor).
		WithTarget("storefront").
		WithLogger(logger)
	deps.Orders = storefront.NewHTTPClient(cfg.Storefront, resilience.HTTPClient{
		Client:      &http.Client{Transport: storefront.NewTransport(nil)},
		Breaker:     deps.Breaker,
		BaseBackoff: cfg.StorefrontRetryBase,
		MaxAttempts: cfg.StorefrontRetryMax,
		Jitter:      cfg.StorefrontRetryJitter,
		Timeout:     cfg.StorefrontTimeout,
		Target:      "storefront",
		Logger:      &logger,
	})

	if deps.Redis != nil {
		deps.Limiter = ratelimit.Limiter{Client: deps.Redis, Prefix: "paybridge:ratelimit:"}
	} else {
		deps.Limiter = ratelimit.NewLocal()
	}

	if cfg.ObsPrometheusEnabled {
		deps.HTTPMetrics = obs.NewHTTPMetrics(cfg.ObsMetricsNamespace, cfg.ObsLatencyBucketsMS, nil)
	}
	deps.Tracing = cfg.ObsTracingEnabled
	return deps, cleanup, nil
}

// OrderLocker returns the per-order settlement lock, or nil without Redis.
func (d *Dependencies) OrderLocker() *lock.Locker {
	if d.Redis == nil {
		return nil
	}
	return &lock.Locker{
		R:      d.Redis,
		Prefix: "paybridge:order",
		Wait:   d.Config.WebhookLockWait,
	}
}
