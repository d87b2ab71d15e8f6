package app_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/paybridge/internal/app"
	"github.com/noah-isme/paybridge/internal/config"
	"github.com/noah-isme/paybridge/internal/signature"
	"github.com/noah-isme/paybridge/internal/storefront"
)

// fakeStore is an in-memory storefront admin API.
type fakeStore struct {
	mu           sync.Mutex
	status       string
	transactions []storefront.Transaction
	keys         []string
	tokens       []string
}

func (s *fakeStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append(s.tokens, r.Header.Get(storefront.AccessTokenHeader))
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/admin/api/orders/1001.json":
		_ = json.NewEncoder(w).Encode(map[string]any{"order": map[string]any{
			"id":               1001,
			"total_price":      "499.00",
			"currency":         "INR",
			"financial_status": s.status,
			"customer":         map[string]string{"email": "a@b.com"},
		}})
	case r.Method == http.MethodPost && r.URL.Path == "/admin/api/orders/1001/transactions.json":
		var body struct {
			Transaction storefront.Transaction `json:"transaction"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.transactions = append(s.transactions, body.Transaction)
		s.keys = append(s.keys, r.Header.Get(storefront.IdempotencyHeader))
		s.status = "paid"
		w.WriteHeader(http.StatusCreated)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func testConfig(t *testing.T, storeURL string) *config.Config {
	t.Helper()
	cfg, err := config.LoadForTests(map[string]string{
		"PINE_MERCHANT_ID":       "M1",
		"PINE_SECRET_KEY":        "k",
		"PINE_PAYMENT_URL":       "https://pay.example/checkout",
		"BASE_URL":               "https://svc.example/",
		"SHOPPLAZA_STORE_DOMAIN": "shop.example",
		"SHOPPLAZA_ACCESS_TOKEN": "tok",
		"SHOPPLAZA_API_BASE_URL": storeURL + "/admin/api",
		"OBS_ENABLE_PROMETHEUS":  "false",
		"REDIS_URL":              "",
		"RATE_LIMIT_MAX":         "100",
	})
	require.NoError(t, err)
	return cfg
}

func newServer(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	deps, cleanup, err := app.NewDependencies(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return app.NewRouter(deps)
}

func TestRootHealth(t *testing.T) {
	store := httptest.NewServer(&fakeStore{})
	t.Cleanup(store.Close)
	router := newServer(t, testConfig(t, store.URL))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"OK"}`, rr.Body.String())
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestPaymentRoundTrip(t *testing.T) {
	fake := &fakeStore{status: "pending"}
	store := httptest.NewServer(fake)
	t.Cleanup(store.Close)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := testConfig(t, store.URL)
	cfg.RedisURL = "redis://" + mr.Addr()
	router := newServer(t, cfg)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/payment/initiate?order_id=1001", nil))
	require.Equal(t, http.StatusFound, rr.Code)
	location, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	q := location.Query()
	require.Equal(t, "499.00", q.Get("amount"))
	require.Equal(t, "https://svc.example/payment/webhook", q.Get("notify_url"))

	notification := map[string]string{
		"order_id":       "1001",
		"transaction_id": "T1",
		"status":         "SUCCESS",
		"amount":         q.Get("amount"),
	}
	sig, err := signature.Codec{Secret: "k"}.Sign(notification, signature.FieldSignature)
	require.NoError(t, err)
	notification["signature"] = sig
	form := url.Values{}
	for k, v := range notification {
		form.Set(k, v)
	}

	for _, path := range []string{"/payment/webhook", "/api/payment-webhook"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code, path)
		require.Equal(t, "OK", rr.Body.String())
	}

	fake.mu.Lock()
	require.Len(t, fake.transactions, 1)
	require.Equal(t, "T1", fake.transactions[0].Authorization)
	require.Equal(t, "Pine Labs", fake.transactions[0].Gateway)
	require.NotEmpty(t, fake.keys[0])
	for _, token := range fake.tokens {
		require.Equal(t, "tok", token)
	}
	fake.mu.Unlock()

	ready := httptest.NewRecorder()
	router.ServeHTTP(ready, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, ready.Code)
	require.Contains(t, ready.Body.String(), `"redis":"ok"`)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/payment/initiate?order_id=1001", nil))
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestReturnAliases(t *testing.T) {
	store := httptest.NewServer(&fakeStore{})
	t.Cleanup(store.Close)
	router := newServer(t, testConfig(t, store.URL))

	for path, want := range map[string]string{
		"/payment/return?status=SUCCESS":     "https://shop.example/checkout/thank_you",
		"/api/payment-return?status=SUCCESS": "https://shop.example/checkout/thank_you",
		"/payment/return?status=CANCELLED":   "https://shop.example/cart",
	} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusFound, rr.Code, path)
		require.Equal(t, want, rr.Header().Get("Location"), path)
	}
}

func TestWebhookRejectsGet(t *testing.T) {
	store := httptest.NewServer(&fakeStore{})
	t.Cleanup(store.Close)
	router := newServer(t, testConfig(t, store.URL))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/payment/webhook", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestBodyLimitOnWebhook(t *testing.T) {
	store := httptest.NewServer(&fakeStore{})
	t.Cleanup(store.Close)
	cfg := testConfig(t, store.URL)
	cfg.BodyLimitBytes = 16
	router := newServer(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/payment/webhook", strings.NewReader(strings.Repeat("a=b&", 10)))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestInitiateRateLimited(t *testing.T) {
	store := httptest.NewServer(&fakeStore{status: "pending"})
	t.Cleanup(store.Close)
	cfg := testConfig(t, store.URL)
	cfg.RateLimitMax = 1
	cfg.RateLimitWindow = time.Minute
	router := newServer(t, cfg)

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/payment/initiate?order_id=1001", nil))
		codes = append(codes, rr.Code)
	}
	require.Equal(t, []int{http.StatusFound, http.StatusTooManyRequests}, codes)
}

func TestRateLimitForwardedForNeedsTrust(t *testing.T) {
	store := httptest.NewServer(&fakeStore{status: "pending"})
	t.Cleanup(store.Close)

	for _, tc := range []struct {
		trust bool
		want  []int
	}{
		{trust: false, want: []int{http.StatusFound, http.StatusTooManyRequests}},
		{trust: true, want: []int{http.StatusFound, http.StatusFound}},
	} {
		cfg := testConfig(t, store.URL)
		cfg.RateLimitMax = 1
		cfg.RateLimitWindow = time.Minute
		cfg.TrustProxyHeaders = tc.trust
		router := newServer(t, cfg)

		codes := make([]int, 0, 2)
		for _, forwarded := range []string{"198.51.100.1", "198.51.100.2"} {
			req := httptest.NewRequest(http.MethodGet, "/payment/initiate?order_id=1001", nil)
			req.Header.Set("X-Forwarded-For", forwarded)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			codes = append(codes, rr.Code)
		}
		require.Equal(t, tc.want, codes, "trust=%v", tc.trust)
	}
}
