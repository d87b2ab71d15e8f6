package storefront

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/noah-isme/paybridge/internal/common"
	"github.com/noah-isme/paybridge/internal/resilience"
)

// FailureKind classifies why a storefront call did not produce a usable result.
type FailureKind string

const (
	KindTimeout     FailureKind = "timeout"
	KindUnavailable FailureKind = "unavailable"
	KindStatus      FailureKind = "status"
	KindTransport   FailureKind = "transport"
	KindDecode      FailureKind = "decode"
)

// UpstreamError is returned for every failed storefront call.
type UpstreamError struct {
	Operation  string
	Kind       FailureKind
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("storefront %s: %s", e.Operation, e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Retryable reports whether the caller should ask its peer to retry later.
func (e *UpstreamError) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindUnavailable, KindTransport:
		return true
	case KindStatus:
		return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// AppError maps the failure onto the service error taxonomy.
func (e *UpstreamError) AppError() *common.AppError {
	switch e.Kind {
	case KindTimeout:
		return common.NewAppError(common.CodeUpstreamTimeout, "storefront timed out", http.StatusGatewayTimeout, e)
	case KindUnavailable:
		return common.NewAppError(common.CodeUpstreamUnavailable, "storefront unavailable", http.StatusServiceUnavailable, e)
	default:
		return common.NewAppError(common.CodeUpstream, "storefront request failed", http.StatusBadGateway, e)
	}
}

// AsUpstreamError extracts an UpstreamError from err's chain.
func AsUpstreamError(err error) (*UpstreamError, bool) {
	var target *UpstreamError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func classify(operation string, err error) *UpstreamError {
	kind := KindTransport
	var netErr net.Error
	switch {
	case errors.Is(err, resilience.ErrOpenCircuit):
		kind = KindUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	}
	return &UpstreamError{Operation: operation, Kind: kind, Err: err}
}
