package security

import (
	"fmt"
	"net/http"

	"github.com/go-chi/cors"
)

// Nothing served here is framed, cached or rendered as a document.
var baselineHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Cache-Control", "no-store"},
}

const defaultHSTSMaxAge = 365 * 24 * 60 * 60

// Headers toggles the baseline response headers and, over TLS, HSTS.
type Headers struct {
	Enable                bool
	EnableHSTS            bool
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
}

func (h Headers) hsts() string {
	if !h.EnableHSTS {
		return ""
	}
	maxAge := h.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	if h.HSTSIncludeSubdomains {
		return fmt.Sprintf("max-age=%d; includeSubDomains", maxAge)
	}
	return fmt.Sprintf("max-age=%d", maxAge)
}

// Middleware sets the headers before the handler writes.
func (h Headers) Middleware(next http.Handler) http.Handler {
	if !h.Enable {
		return next
	}
	hsts := h.hsts()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		for _, kv := range baselineHeaders {
			header.Set(kv[0], kv[1])
		}
		if hsts != "" && r.TLS != nil {
			header.Set("Strict-Transport-Security", hsts)
		}
		next.ServeHTTP(w, r)
	})
}

// CORS allows storefront pages to post to the initiate endpoint. An empty
// allowlist disables cross-origin access.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Location", "X-Request-ID"},
		MaxAge:         300,
	})
}
