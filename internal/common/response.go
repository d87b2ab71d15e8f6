package common

import (
	"encoding/json"
	"net/http"
)

// ErrorDetail is nested under "error" in every failure response.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error ErrorDetail `json:"error"`
}

// JSON writes v with status. Responses are never cacheable.
func JSON(w http.ResponseWriter, status int, v any) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// JSONError writes a failure without details.
func JSONError(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, errorEnvelope{Error: ErrorDetail{Code: code, Message: message}})
}
