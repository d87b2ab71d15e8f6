package payment

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/paybridge/internal/common"
	"github.com/noah-isme/paybridge/internal/config"
	"github.com/noah-isme/paybridge/internal/obs"
)

// Return sends the shopper's browser back to the storefront after checkout.
// The status it receives is untrusted and only picks the landing page.
type Return struct {
	Storefront config.Storefront
}

// Handle redirects to the thank-you page for an exact SUCCESS status and to the
// cart for anything else.
func (h Return) Handle(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(h.Storefront.ThankYouURL) == "" || strings.TrimSpace(h.Storefront.CartURL) == "" {
		common.WriteError(w, common.ConfigurationError("SHOPPLAZA_STORE_DOMAIN is required", nil))
		return
	}
	status := r.URL.Query().Get("status")
	orderID := r.URL.Query().Get("order_id")
	if status == "" && r.Method == http.MethodPost {
		if fields, err := readFields(r); err == nil {
			status = fields["status"]
			if orderID == "" {
				orderID = fields["order_id"]
			}
		}
	}

	target, destination := h.Storefront.CartURL, "cart"
	if status == StatusSuccess {
		target, destination = h.Storefront.ThankYouURL, "thank_you"
	}
	obs.CountReturn(destination)
	zerolog.Ctx(r.Context()).Info().
		Str("order_id", orderID).
		Str("destination", destination).
		Msg("payment_return")
	found(w, target)
}
