package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/noah-isme/paybridge/internal/common"
)

// PerClient limits requests per connection address. Proxy headers are only
// honoured when something upstream, such as chi's RealIP, has already
// rewritten RemoteAddr. Limiter failures call onError and let the request through.
func PerClient(limiter Allower, p Policy, onError func(error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || p.disabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := limiter.Allow(r.Context(), "ip:"+remoteHost(r), p)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}
			wait := int(math.Ceil(time.Until(d.RetryAt).Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(max(wait, 1)))
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
		})
	}
}

func remoteHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
