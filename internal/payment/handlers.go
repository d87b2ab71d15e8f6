package payment

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/noah-isme/paybridge/internal/common"
	"github.com/noah-isme/paybridge/internal/obs"
	"github.com/noah-isme/paybridge/internal/storefront"
)

// Handler exposes the payment initiation endpoint.
type Handler struct {
	Svc *Service
}

// Initiate redirects the shopper to the gateway's hosted payment page.
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		obs.CountInitiate(common.CodeConfiguration)
		common.WriteError(w, common.ConfigurationError("payment handler unavailable", nil))
		return
	}
	logger := zerolog.Ctx(r.Context())

	orderID, err := orderReference(r)
	if err != nil {
		fail(w, logger, "initiate", "", "read_order_reference", err, obs.CountInitiate)
		return
	}
	redirect, err := h.Svc.Initiate(r.Context(), orderID)
	if err != nil {
		fail(w, logger, "initiate", orderID, "build_request", err, obs.CountInitiate)
		return
	}
	obs.CountInitiate("redirected")
	logger.Info().Str("order_id", orderID).Msg("payment_initiated")
	found(w, redirect)
}

// Webhook receives the gateway's server-to-server result notification.
type Webhook struct {
	Svc *Service
}

// Handle verifies and applies a notification. Any 5xx response is safe for the
// gateway to retry.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		common.JSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if h.Svc == nil {
		obs.CountWebhook(common.CodeConfiguration)
		common.WriteError(w, common.ConfigurationError("webhook unavailable", nil))
		return
	}
	logger := zerolog.Ctx(r.Context())

	fields, err := readFields(r)
	if err != nil {
		fail(w, logger, "webhook", "", "read_body", err, obs.CountWebhook)
		return
	}
	outcome, err := h.Svc.Confirm(r.Context(), fields)
	if err != nil {
		fail(w, logger, "webhook", fields["order_id"], "confirm", err, obs.CountWebhook)
		return
	}
	obs.CountWebhook(string(outcome))
	logger.Info().
		Str("order_id", fields["order_id"]).
		Str("status", fields["status"]).
		Str("outcome", string(outcome)).
		Msg("payment_notification_processed")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// fail logs err with its stage and renders it. Secrets and signatures are never logged.
func fail(w http.ResponseWriter, logger *zerolog.Logger, flow, orderID, stage string, err error, count func(string)) {
	code := common.CodeInternal
	status := http.StatusInternalServerError
	if appErr, ok := common.AsAppError(err); ok {
		code = appErr.Code
		status = appErr.HTTPStatus
	}
	count(code)

	evt := logger.Warn()
	if status >= http.StatusInternalServerError {
		evt = logger.Error()
	}
	if upstreamErr, ok := storefront.AsUpstreamError(err); ok {
		evt = evt.Bool("upstream_retryable", upstreamErr.Retryable())
	}
	evt.Err(err).
		Str("flow", flow).
		Str("order_id", orderID).
		Str("stage", stage).
		Str("code", code).
		Int("status", status).
		Msg("payment_request_failed")
	common.WriteError(w, err)
}

// found writes a bodiless 302.
func found(w http.ResponseWriter, location string) {
	w.Header().Set("Location", location)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusFound)
}
