package health

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/paybridge/internal/common"
	"github.com/noah-isme/paybridge/internal/resilience"
)

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady toggles readiness; the server clears it while draining.
func SetReady(v bool) { ready.Store(v) }

// Checker pings the optional Redis dependency.
type Checker interface {
	PingRedis(ctx context.Context, timeout time.Duration) error
}

// RedisChecker pings a go-redis client.
type RedisChecker struct {
	Client redis.UniversalClient
}

// PingRedis issues PING bounded by timeout.
func (c RedisChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.Client == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Client.Ping(ctx).Err()
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	// Checker is nil when the service runs without Redis.
	Checker      Checker
	RedisTimeout time.Duration
	// Storefront is reported but does not gate readiness.
	Storefront *resilience.Breaker
}

// Root answers the platform health check.
func (h Handler) Root(w http.ResponseWriter, _ *http.Request) {
	common.JSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency checks.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"redis": "disabled"}
	ok := ready.Load()
	if !ok {
		status["server"] = "draining"
	}
	if h.Checker != nil {
		status["redis"] = "ok"
		if err := h.Checker.PingRedis(r.Context(), h.redisTimeout()); err != nil {
			status["redis"] = err.Error()
			ok = false
		}
	}
	if h.Storefront != nil {
		status["storefront_breaker"] = h.Storefront.State().String()
	}
	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	common.JSON(w, code, status)
}

func (h Handler) redisTimeout() time.Duration {
	if h.RedisTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.RedisTimeout
}
