package obs

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var defaultLatencyBucketsMS = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 10000}

// HTTPMetrics counts served requests by chi route and status class.
type HTTPMetrics struct {
	Requests *prometheus.CounterVec
	Latency  *prometheus.HistogramVec
	InFlight prometheus.Gauge
}

// NewHTTPMetrics registers the server collectors on reg, or the default
// registerer when reg is nil. bucketsMS must be ascending.
func NewHTTPMetrics(namespace string, bucketsMS []float64, reg prometheus.Registerer) *HTTPMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if len(bucketsMS) == 0 {
		bucketsMS = defaultLatencyBucketsMS
	}
	return &HTTPMetrics{
		Requests: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Served requests by route, method and status class.",
		}, []string{"route", "method", "class"})),
		Latency: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_ms",
			Help:      "Handler latency in milliseconds by route.",
			Buckets:   bucketsMS,
		}, []string{"route"})),
		InFlight: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Requests currently being served.",
		})),
	}
}

// Middleware records each request after its handler returns.
func (m *HTTPMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		m.InFlight.Inc()
		defer func() {
			m.InFlight.Dec()
			route := routeOf(r)
			if route == "" {
				route = "unmatched"
			}
			m.Requests.WithLabelValues(route, r.Method, strconv.Itoa(statusOf(ww)/100)+"xx").Inc()
			m.Latency.WithLabelValues(route).Observe(millis(time.Since(start)))
		}()
		next.ServeHTTP(ww, r)
	})
}

// register adds c to reg, reusing an identical collector registered earlier.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(fmt.Errorf("obs: register collector: %w", err))
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
