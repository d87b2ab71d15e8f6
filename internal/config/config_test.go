package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/paybridge/internal/config"
)

func baseEnv() map[string]string {
	return map[string]string{
		"PINE_MERCHANT_ID":              "M1",
		"PINE_SECRET_KEY":               "k",
		"PINE_PAYMENT_URL":              "https://pay.example/checkout",
		"BASE_URL":                      "https://svc.example/",
		"SHOPPLAZA_STORE_DOMAIN":        "shop.example",
		"SHOPPLAZA_ACCESS_TOKEN":        "token",
		"SHOPPLAZA_API_BASE_URL":        "",
		"PINE_CURRENCY":                 "",
		"STOREFRONT_TIMEOUT":            "",
		"WEBHOOK_LOCK_TTL":              "",
		"STOREFRONT_RETRY_MAX_ATTEMPTS": "",
	}
}

func TestLoadDerivesStorefrontURLs(t *testing.T) {
	cfg, err := config.LoadForTests(baseEnv())
	require.NoError(t, err)

	require.Equal(t, "https://svc.example", cfg.Gateway.BaseURL)
	require.Equal(t, "https://svc.example/payment/return", cfg.Gateway.ReturnURL())
	require.Equal(t, "https://svc.example/payment/webhook", cfg.Gateway.NotifyURL())
	require.Equal(t, "INR", cfg.Gateway.Currency)
	require.Equal(t, "Pine Labs", cfg.Gateway.GatewayName)
	require.Equal(t, "https://shop.example/admin/api", cfg.Storefront.APIBaseURL)
	require.Equal(t, "https://shop.example/checkout/thank_you", cfg.Storefront.ThankYouURL)
	require.Equal(t, "https://shop.example/cart", cfg.Storefront.CartURL)
	require.Equal(t, 10*time.Second, cfg.StorefrontTimeout)
	require.NoError(t, cfg.Gateway.Validate())
	require.NoError(t, cfg.Storefront.Validate())
}

func TestGatewayValidateNamesMissingVariable(t *testing.T) {
	env := baseEnv()
	env["PINE_SECRET_KEY"] = ""
	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)

	err = cfg.Gateway.Validate()
	require.EqualError(t, err, "PINE_SECRET_KEY is required")
}

func TestGatewayValidateRejectsBadURL(t *testing.T) {
	env := baseEnv()
	env["PINE_PAYMENT_URL"] = "not a url"
	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)

	err = cfg.Gateway.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "PINE_PAYMENT_URL")
}

func TestStorefrontValidateWithoutDomain(t *testing.T) {
	env := baseEnv()
	env["SHOPPLAZA_STORE_DOMAIN"] = ""
	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)

	require.EqualError(t, cfg.Storefront.Validate(), "SHOPPLAZA_STORE_DOMAIN is required")
}

func TestLoadRejectsNonPositiveTimeout(t *testing.T) {
	env := baseEnv()
	env["STOREFRONT_TIMEOUT"] = "-1s"
	_, err := config.LoadForTests(env)
	require.Error(t, err)
}

func TestHTTPAddr(t *testing.T) {
	require.Equal(t, ":9000", (&config.Config{Port: "9000"}).HTTPAddr())
	require.Equal(t, ":7000", (&config.Config{Port: ":7000"}).HTTPAddr())
	require.Equal(t, ":8080", (&config.Config{}).HTTPAddr())
}

func TestWebhookLockOutlivesSettlement(t *testing.T) {
	cfg, err := config.LoadForTests(baseEnv())
	require.NoError(t, err)

	// one read and one write, each 3 x 10s plus 200ms and 400ms backoff at +20% jitter
	require.Equal(t, 2*(30*time.Second+720*time.Millisecond), cfg.SettlementBudget())
	require.Greater(t, cfg.WebhookLockTTL, cfg.SettlementBudget())
}

func TestWebhookLockTTLFollowsStorefrontTimeouts(t *testing.T) {
	env := baseEnv()
	env["STOREFRONT_TIMEOUT"] = "2s"
	env["STOREFRONT_RETRY_MAX_ATTEMPTS"] = "1"
	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)

	require.Equal(t, 4*time.Second, cfg.SettlementBudget())
	require.Greater(t, cfg.WebhookLockTTL, 4*time.Second)
}

func TestLoadRejectsLockTTLBelowSettlementBudget(t *testing.T) {
	env := baseEnv()
	env["WEBHOOK_LOCK_TTL"] = "30s"
	_, err := config.LoadForTests(env)
	require.Error(t, err)
	require.Contains(t, err.Error(), "WEBHOOK_LOCK_TTL")

	env["WEBHOOK_LOCK_TTL"] = "2m"
	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, 2*time.Minute, cfg.WebhookLockTTL)
}
