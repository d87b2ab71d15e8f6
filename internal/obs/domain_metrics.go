package obs

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentInitiateTotal counts payment initiation outcomes.
	PaymentInitiateTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound gateway notifications by outcome.
	PaymentWebhookTotal *prometheus.CounterVec
	// PaymentReturnTotal counts browser returns by the page they were sent to.
	PaymentReturnTotal *prometheus.CounterVec
	// StorefrontRequestTotal counts storefront API calls by operation and result.
	StorefrontRequestTotal *prometheus.CounterVec
	// StorefrontRequestLatency records storefront API latency in milliseconds.
	StorefrontRequestLatency *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentInitiateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_initiate_total",
			Help:      "Count of payment initiation outcomes.",
		}, []string{"result"})
		PaymentWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment notifications by outcome.",
		}, []string{"result"})
		PaymentReturnTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_return_total",
			Help:      "Count of browser returns by destination.",
		}, []string{"destination"})
		StorefrontRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storefront_requests_total",
			Help:      "Count of storefront API calls by operation and result.",
		}, []string{"operation", "result"})
		StorefrontRequestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storefront_request_duration_ms",
			Help:      "Storefront API latency in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"operation"})

		PaymentInitiateTotal = register(reg, PaymentInitiateTotal)
		PaymentWebhookTotal = register(reg, PaymentWebhookTotal)
		PaymentReturnTotal = register(reg, PaymentReturnTotal)
		StorefrontRequestTotal = register(reg, StorefrontRequestTotal)
		StorefrontRequestLatency = register(reg, StorefrontRequestLatency)
	})
}

// CountInitiate records an initiation outcome when metrics are registered.
func CountInitiate(result string) {
	if PaymentInitiateTotal != nil {
		PaymentInitiateTotal.WithLabelValues(result).Inc()
	}
}

// CountWebhook records a notification outcome when metrics are registered.
func CountWebhook(result string) {
	if PaymentWebhookTotal != nil {
		PaymentWebhookTotal.WithLabelValues(result).Inc()
	}
}

// CountReturn records a browser return destination when metrics are registered.
func CountReturn(destination string) {
	if PaymentReturnTotal != nil {
		PaymentReturnTotal.WithLabelValues(destination).Inc()
	}
}

// ObserveStorefront records a storefront call outcome and latency.
func ObserveStorefront(operation, result string, elapsed time.Duration) {
	if StorefrontRequestTotal != nil {
		StorefrontRequestTotal.WithLabelValues(operation, result).Inc()
	}
	if StorefrontRequestLatency != nil {
		StorefrontRequestLatency.WithLabelValues(operation).Observe(millis(elapsed))
	}
}
