package security

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/noah-isme/paybridge/internal/common"
)

// BodyLimit caps request payloads at Max bytes. Zero disables the cap.
type BodyLimit struct {
	Max int64
}

// Middleware buffers the body so handlers can parse it more than once, and
// answers 413 once the cap is crossed.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	if b.Max <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > b.Max {
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request entity too large")
			return
		}
		if r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}

		buf, err := io.ReadAll(http.MaxBytesReader(w, r.Body, b.Max))
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request entity too large")
			return
		case err != nil:
			common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(buf))
		r.ContentLength = int64(len(buf))
		next.ServeHTTP(w, r)
	})
}
