package payment_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/paybridge/internal/config"
	"github.com/noah-isme/paybridge/internal/payment"
)

func TestReturnRedirects(t *testing.T) {
	h := payment.Return{Storefront: storefrontConfig()}
	cases := []struct {
		name     string
		method   string
		target   string
		body     string
		location string
	}{
		{name: "success", method: http.MethodGet, target: "/payment/return?status=SUCCESS&order_id=1001", location: "https://shop.example/checkout/thank_you"},
		{name: "failed", method: http.MethodGet, target: "/payment/return?status=FAILED", location: "https://shop.example/cart"},
		{name: "lowercase is not success", method: http.MethodGet, target: "/payment/return?status=success", location: "https://shop.example/cart"},
		{name: "padded is not success", method: http.MethodGet, target: "/payment/return?status=%20SUCCESS", location: "https://shop.example/cart"},
		{name: "missing", method: http.MethodGet, target: "/payment/return", location: "https://shop.example/cart"},
		{name: "form body", method: http.MethodPost, target: "/payment/return", body: "status=SUCCESS&order_id=1001", location: "https://shop.example/checkout/thank_you"},
		{name: "malformed body", method: http.MethodPost, target: "/payment/return", body: "%zz", location: "https://shop.example/cart"},
		{name: "query wins", method: http.MethodPost, target: "/payment/return?status=FAILED", body: "status=SUCCESS", location: "https://shop.example/cart"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.target, strings.NewReader(tc.body))
			if tc.body != "" {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
			rr := httptest.NewRecorder()
			h.Handle(rr, req)

			require.Equal(t, http.StatusFound, rr.Code)
			require.Equal(t, tc.location, rr.Header().Get("Location"))
			require.Zero(t, rr.Body.Len())
		})
	}
}

func TestReturnWithoutStoreDomain(t *testing.T) {
	rr := httptest.NewRecorder()
	payment.Return{Storefront: config.Storefront{}}.Handle(rr, httptest.NewRequest(http.MethodGet, "/payment/return?status=SUCCESS", nil))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Empty(t, rr.Header().Get("Location"))
}
