package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Local is a per-process token bucket limiter used when Redis is not configured.
// Buckets refill at max/window and burst up to max.
type Local struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	// IdleTTL evicts buckets untouched for this long. Defaults to ten windows.
	IdleTTL time.Duration
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocal constructs an empty in-memory limiter.
func NewLocal() *Local {
	return &Local{buckets: make(map[string]*bucket), now: time.Now}
}

// Allow takes one token from key's bucket.
func (l *Local) Allow(_ context.Context, key string, p Policy) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.now == nil {
		l.now = time.Now
	}
	now := l.now()
	if p.disabled() {
		return Decision{Allowed: true, Remaining: p.Max, RetryAt: now}, nil
	}
	if l.buckets == nil {
		l.buckets = make(map[string]*bucket)
	}
	l.evictLocked(now, p.Window)

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Every(p.Window/time.Duration(p.Max)), p.Max)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	d := Decision{Allowed: b.limiter.AllowN(now, 1), RetryAt: now}
	tokens := b.limiter.TokensAt(now)
	d.Remaining = int(math.Max(0, math.Floor(tokens)))
	if tokens < 1 && b.limiter.Limit() > 0 {
		d.RetryAt = now.Add(time.Duration((1 - tokens) / float64(b.limiter.Limit()) * float64(time.Second)))
	}
	return d, nil
}

func (l *Local) evictLocked(now time.Time, window time.Duration) {
	ttl := l.IdleTTL
	if ttl <= 0 {
		ttl = 10 * window
	}
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > ttl {
			delete(l.buckets, key)
		}
	}
}
