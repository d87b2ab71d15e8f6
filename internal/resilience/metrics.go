package resilience

import "github.com/prometheus/client_golang/prometheus"

var (
	// BreakerState is 0 closed, 1 open, 2 half-open per target.
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "outbound_breaker_state",
		Help: "Breaker position per outbound target (0 closed, 1 open, 2 half-open).",
	}, []string{"target"})
	// BreakerTransitions counts position changes per target.
	BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbound_breaker_transitions_total",
		Help: "Breaker position changes per outbound target.",
	}, []string{"target", "from", "to"})
)

func init() {
	prometheus.MustRegister(BreakerState, BreakerTransitions)
}
