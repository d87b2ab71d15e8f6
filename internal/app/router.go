package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/paybridge/internal/health"
	"github.com/noah-isme/paybridge/internal/obs"
	"github.com/noah-isme/paybridge/internal/payment"
	"github.com/noah-isme/paybridge/internal/ratelimit"
	"github.com/noah-isme/paybridge/internal/security"
)

// NewRouter mounts the payment, health and metrics endpoints.
func NewRouter(deps *Dependencies) http.Handler {
	cfg := deps.Config

	svc := &payment.Service{
		Gateway:    cfg.Gateway,
		Storefront: cfg.Storefront,
		Orders:     deps.Orders,
		Locker:     deps.OrderLocker(),
		LockTTL:    cfg.WebhookLockTTL,
	}
	initiate := &payment.Handler{Svc: svc}
	webhook := payment.Webhook{Svc: svc}
	browserReturn := payment.Return{Storefront: cfg.Storefront}

	var checker health.Checker
	if deps.Redis != nil {
		checker = health.RedisChecker{Client: deps.Redis}
	}
	healthHandler := health.Handler{
		Checker:      checker,
		RedisTimeout: cfg.ReadinessRedisTimeout,
		Storefront:   deps.Breaker,
	}

	logger := deps.Logger
	limited := ratelimit.PerClient(deps.Limiter,
		ratelimit.Policy{Window: cfg.RateLimitWindow, Max: cfg.RateLimitMax},
		func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") })

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if cfg.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	if deps.Tracing {
		r.Use(obs.Tracing)
	}
	if deps.HTTPMetrics != nil {
		r.Use(deps.HTTPMetrics.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: deps.Logger}.Middleware)
	r.Use(security.Headers{Enable: cfg.SecurityHeadersEnabled, EnableHSTS: cfg.AppEnv == "production"}.Middleware)

	r.Get("/", healthHandler.Root)
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	if cfg.ObsPrometheusEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Group(func(p chi.Router) {
		p.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)

		// The gateway retries on any non-2xx, so notifications are not rate limited.
		p.Post("/payment/webhook", webhook.Handle)
		p.Post("/api/payment-webhook", webhook.Handle)

		p.Group(func(browser chi.Router) {
			browser.Use(limited)
			browser.Use(security.CORS(cfg.CORSAllowedOrigins))
			browser.Get("/payment/initiate", initiate.Initiate)
			browser.Post("/payment/initiate", initiate.Initiate)
			browser.Options("/payment/initiate", noContent)
			browser.Post("/api/payment-initiate", initiate.Initiate)
			browser.Options("/api/payment-initiate", noContent)

			browser.Get("/payment/return", browserReturn.Handle)
			browser.Post("/payment/return", browserReturn.Handle)
			browser.Get("/api/payment-return", browserReturn.Handle)
		})
	})

	return r
}

func noContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
