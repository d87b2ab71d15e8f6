package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the lock stays held past the wait budget.
var ErrNotAcquired = errors.New("lock: not acquired")

// release deletes the key only while it still carries the holder's token.
var release = redis.NewScript(`if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0`)

// Locker provides a Redis-backed mutual exclusion keyed by resource.
type Locker struct {
	R            redis.UniversalClient
	Prefix       string
	RetryBackoff time.Duration
	// Wait bounds how long WithLock polls for a held key. Zero waits until ctx ends.
	Wait time.Duration
}

// Key namespaces a resource identifier under the locker prefix.
func (l Locker) Key(parts ...string) string {
	prefix := strings.TrimSpace(l.Prefix)
	if prefix == "" {
		prefix = "lock"
	}
	return prefix + ":" + strings.Join(parts, ":")
}

// WithLock executes fn while holding a lock for the provided key. The lock is
// released even if fn returns an error, and only if this holder still owns it.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	token := uuid.NewString()
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	var deadline <-chan time.Time
	if l.Wait > 0 {
		waitTimer := time.NewTimer(l.Wait)
		defer waitTimer.Stop()
		deadline = waitTimer.C
	}

	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return fmt.Errorf("lock: acquire %s: %w", key, err)
		}
		if ok {
			defer func() {
				// A lease that expired may now belong to another holder.
				_ = release.Run(context.WithoutCancel(ctx), l.R, []string{key}, token).Err()
			}()
			return fn(ctx)
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-deadline:
			timer.Stop()
			return fmt.Errorf("%w: %s", ErrNotAcquired, key)
		case <-timer.C:
		}
	}
}
