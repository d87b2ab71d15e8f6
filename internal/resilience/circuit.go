package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned while the breaker refuses calls.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State is the breaker position.
type State int

const (
	Closed State = iota
	Open
	// HalfOpen admits one trial call after the cool-off.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	}
	return "unknown"
}

// Breaker trips once the failure ratio over the last window of calls reaches
// the threshold, rejects calls for the cool-off, then lets a single trial call decide
// whether to close again.
type Breaker struct {
	threshold float64
	cooldown  time.Duration
	target    string
	logger    zerolog.Logger
	now       func() time.Time

	mu       sync.Mutex
	state    State
	window   []bool // true marks a failed call
	next     int
	filled   int
	failed   int
	openedAt time.Time
	trialing  bool
}

// NewBreaker sizes the rolling window to minRequests calls.
func NewBreaker(minRequests int, failureRatio float64, openFor time.Duration) *Breaker {
	if minRequests <= 0 {
		minRequests = 1
	}
	if failureRatio <= 0 || failureRatio > 1 {
		failureRatio = 0.5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{
		threshold: failureRatio,
		cooldown:  openFor,
		target:    "default",
		logger:    zerolog.Nop(),
		now:       time.Now,
		window:    make([]bool, minRequests),
	}
}

// WithTarget names the guarded dependency in metrics and logs.
func (b *Breaker) WithTarget(target string) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if target = strings.TrimSpace(target); target != "" {
		b.target = target
	}
	BreakerState.WithLabelValues(b.target).Set(float64(b.state))
	return b
}

// WithLogger sets the fallback logger for transitions.
func (b *Breaker) WithLogger(logger zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
	return b
}

// Allow reports whether a call may proceed. Every allowed call must be
// followed by Report.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.moveLocked(ctx, HalfOpen)
	}
	if b.trialing {
		return false
	}
	b.trialing = true
	return true
}

// Report records the outcome of an allowed call.
func (b *Breaker) Report(ctx context.Context, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		b.trialing = false
		if success {
			b.moveLocked(ctx, Closed)
		} else {
			b.moveLocked(ctx, Open)
		}
		return
	}

	if b.filled == len(b.window) {
		if b.window[b.next] {
			b.failed--
		}
	} else {
		b.filled++
	}
	b.window[b.next] = !success
	if !success {
		b.failed++
	}
	b.next = (b.next + 1) % len(b.window)

	if b.filled == len(b.window) && float64(b.failed)/float64(b.filled) >= b.threshold {
		b.moveLocked(ctx, Open)
	}
}

// State returns the current position; an open breaker whose cool-off elapsed
// reads as half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cooldown {
		return HalfOpen
	}
	return b.state
}

func (b *Breaker) moveLocked(ctx context.Context, to State) {
	from := b.state
	b.state = to
	b.next, b.filled, b.failed = 0, 0, 0
	b.trialing = false
	if to == Open {
		b.openedAt = b.now()
	}

	BreakerState.WithLabelValues(b.target).Set(float64(to))
	BreakerTransitions.WithLabelValues(b.target, from.String(), to.String()).Inc()

	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &b.logger
	}
	evt := logger.Info().Str("target", b.target).Str("from_state", from.String()).Str("to_state", to.String())
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		evt = evt.Str("trace_id", sc.TraceID().String())
	}
	evt.Msg("breaker_transition")
}
