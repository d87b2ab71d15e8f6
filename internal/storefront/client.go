package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/paybridge/internal/config"
	"github.com/noah-isme/paybridge/internal/obs"
	"github.com/noah-isme/paybridge/internal/resilience"
)

const (
	// AccessTokenHeader carries the admin API credential.
	AccessTokenHeader = "X-Shopplaza-Access-Token"
	// IdempotencyHeader deduplicates transaction submissions on the storefront.
	IdempotencyHeader = "Idempotency-Key"

	opGetOrder          = "get_order"
	opCreateTransaction = "create_transaction"
	maxResponseBytes    = 1 << 20
)

// Client is the storefront surface the payment flows depend on.
type Client interface {
	GetOrder(ctx context.Context, orderID string) (Order, error)
	CreateTransaction(ctx context.Context, orderID string, tx Transaction, idempotencyKey string) error
}

// HTTPClient talks to the storefront admin REST API.
type HTTPClient struct {
	baseURL     string
	accessToken string
	doer        resilience.HTTPClient
}

// NewHTTPClient builds a client for the configured store. The resilience
// wrapper bounds every call with a timeout, retries and a breaker.
func NewHTTPClient(cfg config.Storefront, doer resilience.HTTPClient) *HTTPClient {
	if doer.Client == nil {
		doer.Client = &http.Client{Transport: NewTransport(nil)}
	}
	if doer.Target == "" {
		doer.Target = "storefront"
	}
	return &HTTPClient{
		baseURL:     strings.TrimRight(cfg.APIBaseURL, "/"),
		accessToken: cfg.AccessToken,
		doer:        doer,
	}
}

// NewTransport instruments base with client spans.
func NewTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(base, otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
		return "storefront " + r.Method
	}))
}

// GetOrder fetches the current order state.
func (c *HTTPClient) GetOrder(ctx context.Context, orderID string) (Order, error) {
	start := time.Now()
	order, err := c.getOrder(ctx, orderID)
	observe(opGetOrder, start, err)
	return order, err
}

func (c *HTTPClient) getOrder(ctx context.Context, orderID string) (Order, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.orderPath(orderID, ".json"), nil)
	if err != nil {
		return Order{}, &UpstreamError{Operation: opGetOrder, Kind: KindTransport, Err: err}
	}
	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		return Order{}, classify(opGetOrder, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Order{}, classify(opGetOrder, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Order{}, &UpstreamError{Operation: opGetOrder, Kind: KindStatus, StatusCode: resp.StatusCode}
	}

	var envelope struct {
		Order *Order `json:"order"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Order{}, &UpstreamError{Operation: opGetOrder, Kind: KindDecode, StatusCode: resp.StatusCode, Err: err}
	}
	if envelope.Order == nil {
		return Order{}, &UpstreamError{Operation: opGetOrder, Kind: KindDecode, StatusCode: resp.StatusCode, Err: fmt.Errorf("response has no order")}
	}
	if envelope.Order.ID == "" {
		envelope.Order.ID = orderID
	}
	return *envelope.Order, nil
}

// CreateTransaction records a transaction against the order.
func (c *HTTPClient) CreateTransaction(ctx context.Context, orderID string, tx Transaction, idempotencyKey string) error {
	start := time.Now()
	err := c.createTransaction(ctx, orderID, tx, idempotencyKey)
	observe(opCreateTransaction, start, err)
	return err
}

func (c *HTTPClient) createTransaction(ctx context.Context, orderID string, tx Transaction, idempotencyKey string) error {
	payload, err := json.Marshal(map[string]Transaction{"transaction": tx})
	if err != nil {
		return &UpstreamError{Operation: opCreateTransaction, Kind: KindTransport, Err: err}
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.orderPath(orderID, "/transactions.json"), payload)
	if err != nil {
		return &UpstreamError{Operation: opCreateTransaction, Kind: KindTransport, Err: err}
	}
	if idempotencyKey != "" {
		req.Header.Set(IdempotencyHeader, idempotencyKey)
	}
	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		return classify(opCreateTransaction, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UpstreamError{Operation: opCreateTransaction, Kind: KindStatus, StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *HTTPClient) orderPath(orderID, suffix string) string {
	return c.baseURL + "/orders/" + url.PathEscape(orderID) + suffix
}

func (c *HTTPClient) newRequest(ctx context.Context, method, target string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set(AccessTokenHeader, c.accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func observe(operation string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		if upstreamErr, ok := AsUpstreamError(err); ok {
			result = string(upstreamErr.Kind)
			if upstreamErr.StatusCode != 0 {
				result = strconv.Itoa(upstreamErr.StatusCode)
			}
		}
	}
	obs.ObserveStorefront(operation, result, time.Since(start))
}
