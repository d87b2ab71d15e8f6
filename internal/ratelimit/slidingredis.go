package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Policy bounds how many requests one key may make per window.
type Policy struct {
	Window time.Duration
	Max    int
}

func (p Policy) disabled() bool { return p.Max <= 0 || p.Window <= 0 }

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	// RetryAt is when the next request for the key will be admitted.
	RetryAt time.Time
}

// Allower admits or rejects one request for key.
type Allower interface {
	Allow(ctx context.Context, key string, p Policy) (Decision, error)
}

// Only admitted requests are recorded, so a client hammering a full window does
// not push its own retry time further out.
var slidingWindow = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
local count = redis.call("ZCARD", KEYS[1])
if count < max then
	redis.call("ZADD", KEYS[1], now, ARGV[4])
	redis.call("PEXPIRE", KEYS[1], window)
	return {1, max - count - 1, 0}
end
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
return {0, 0, tonumber(oldest[2])}
`)

// Limiter is a sliding-window limiter kept in Redis sorted sets so every
// replica shares one view of each client.
type Limiter struct {
	Client redis.UniversalClient
	Prefix string
}

// Allow records the request for key when the window has room.
func (l Limiter) Allow(ctx context.Context, key string, p Policy) (Decision, error) {
	now := time.Now()
	if l.Client == nil || p.disabled() {
		return Decision{Allowed: true, Remaining: p.Max, RetryAt: now}, nil
	}
	windowMS := p.Window.Milliseconds()
	if windowMS < 1 {
		windowMS = 1
	}
	res, err := slidingWindow.Run(ctx, l.Client, []string{l.Prefix + key},
		now.UnixMilli(), windowMS, p.Max, uuid.NewString()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script reply %v", res)
	}
	d := Decision{Allowed: res[0] == 1, Remaining: int(res[1]), RetryAt: now}
	if !d.Allowed {
		d.RetryAt = time.UnixMilli(res[2] + windowMS)
	}
	return d, nil
}
