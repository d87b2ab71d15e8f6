package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	CORSAllowedOrigins []string
	RedisURL           string
	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders  bool

	Gateway    Gateway
	Storefront Storefront

	StorefrontTimeout       time.Duration
	StorefrontRetryMax      int
	StorefrontRetryBase     time.Duration
	StorefrontRetryJitter   float64
	CircuitMinRequests      int
	CircuitFailureRatio     float64
	CircuitOpenFor          time.Duration
	WebhookLockTTL          time.Duration
	WebhookLockWait         time.Duration
	RateLimitWindow         time.Duration
	RateLimitMax            int
	BodyLimitBytes          int64
	SecurityHeadersEnabled  bool
	ReadinessRedisTimeout   time.Duration
	ShutdownTimeout         time.Duration
	ObsLogFormat            string
	ObsLogLevel             string
	ObsMetricsNamespace     string
	ObsPrometheusEnabled    bool
	ObsTracingEnabled       bool
	ObsTracingEndpoint      string
	ObsTracingExporter      string
	ObsLatencyBucketsMS     []float64
	ObsTracingSamplingRatio float64
}

// Gateway groups the hosted payment page settings. Every field is required to
// produce a signed redirect.
type Gateway struct {
	MerchantID  string `validate:"required"`
	SecretKey   string `validate:"required"`
	PaymentURL  string `validate:"required,url"`
	BaseURL     string `validate:"required,url"`
	Currency    string `validate:"required,len=3"`
	GatewayName string `validate:"required"`
}

// Storefront groups the storefront admin API settings.
type Storefront struct {
	StoreDomain string `validate:"required,hostname_port|hostname"`
	AccessToken string `validate:"required"`
	APIBaseURL  string `validate:"required,url"`
	ThankYouURL string `validate:"required,url"`
	CartURL     string `validate:"required,url"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads configuration from environment variables and optional .env files.
// Gateway and storefront settings are not checked here; see Gateway.Validate and
// Storefront.Validate.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	domain := strings.TrimSpace(k.String("SHOPPLAZA_STORE_DOMAIN"))
	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		TrustProxyHeaders:  parseBool(k.String("TRUST_PROXY_HEADERS")),
		Gateway: Gateway{
			MerchantID:  strings.TrimSpace(k.String("PINE_MERCHANT_ID")),
			SecretKey:   k.String("PINE_SECRET_KEY"),
			PaymentURL:  strings.TrimSpace(k.String("PINE_PAYMENT_URL")),
			BaseURL:     strings.TrimRight(strings.TrimSpace(k.String("BASE_URL")), "/"),
			Currency:    strings.ToUpper(valueOrDefault(k.String("PINE_CURRENCY"), "INR")),
			GatewayName: valueOrDefault(k.String("PINE_GATEWAY_NAME"), "Pine Labs"),
		},
		Storefront: Storefront{
			StoreDomain: domain,
			AccessToken: strings.TrimSpace(k.String("SHOPPLAZA_ACCESS_TOKEN")),
			APIBaseURL:  valueOrDefault(k.String("SHOPPLAZA_API_BASE_URL"), storeURL(domain, "/admin/api")),
			ThankYouURL: valueOrDefault(k.String("SHOPPLAZA_THANK_YOU_URL"), storeURL(domain, "/checkout/thank_you")),
			CartURL:     valueOrDefault(k.String("SHOPPLAZA_CART_URL"), storeURL(domain, "/cart")),
		},
		StorefrontTimeout:       parseDuration(k.String("STOREFRONT_TIMEOUT"), "10s"),
		StorefrontRetryMax:      parseInt(k.String("STOREFRONT_RETRY_MAX_ATTEMPTS"), 3),
		StorefrontRetryBase:     parseDuration(k.String("STOREFRONT_RETRY_BASE"), "200ms"),
		StorefrontRetryJitter:   parseFloat(k.String("STOREFRONT_RETRY_JITTER"), 0.2),
		CircuitMinRequests:      parseInt(k.String("CIRCUIT_STOREFRONT_MIN_REQUESTS"), 10),
		CircuitFailureRatio:     parseFloat(k.String("CIRCUIT_STOREFRONT_FAILURE_RATIO"), 0.5),
		CircuitOpenFor:          parseDuration(k.String("CIRCUIT_STOREFRONT_OPEN_FOR"), "30s"),
		WebhookLockWait:         parseDuration(k.String("WEBHOOK_LOCK_WAIT"), "5s"),
		RateLimitWindow:         parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:            parseInt(k.String("RATE_LIMIT_MAX"), 120),
		BodyLimitBytes:          int64(parseInt(k.String("BODY_LIMIT_BYTES"), 64<<10)),
		SecurityHeadersEnabled:  parseBool(valueOrDefault(k.String("SECURITY_HEADERS_ENABLED"), "true")),
		ReadinessRedisTimeout:   parseDuration(k.String("HEALTH_READY_REDIS_TIMEOUT"), "300ms"),
		ShutdownTimeout:         parseDuration(k.String("SHUTDOWN_TIMEOUT"), "10s"),
		ObsLogFormat:            valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		ObsLogLevel:             valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		ObsMetricsNamespace:     valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "paybridge"),
		ObsPrometheusEnabled:    parseBool(valueOrDefault(k.String("OBS_ENABLE_PROMETHEUS"), "true")),
		ObsTracingEnabled:       parseBool(k.String("OBS_ENABLE_TRACING")),
		ObsTracingEndpoint:      strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		ObsTracingExporter:      valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
		ObsLatencyBucketsMS:     parseBuckets(k.String("OBS_METRICS_BUCKETS_MS")),
		ObsTracingSamplingRatio: parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
	}

	if cfg.StorefrontRetryMax <= 0 {
		return nil, errors.New("STOREFRONT_RETRY_MAX_ATTEMPTS must be positive")
	}
	if cfg.StorefrontTimeout <= 0 {
		return nil, errors.New("STOREFRONT_TIMEOUT must be positive")
	}

	budget := cfg.SettlementBudget()
	if raw := strings.TrimSpace(k.String("WEBHOOK_LOCK_TTL")); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("WEBHOOK_LOCK_TTL: %w", err)
		}
		if ttl < budget {
			return nil, fmt.Errorf("WEBHOOK_LOCK_TTL %s is shorter than the settlement budget %s", ttl, budget)
		}
		cfg.WebhookLockTTL = ttl
	} else {
		cfg.WebhookLockTTL = budget + lockMargin
	}

	return cfg, nil
}

const lockMargin = 5 * time.Second

// SettlementBudget is the longest a settlement can hold the order lock: one
// order read and one transaction write, each exhausting its retries with
// maximum jitter.
func (c *Config) SettlementBudget() time.Duration {
	attempts := c.StorefrontRetryMax
	if attempts < 1 {
		attempts = 1
	}
	perCall := time.Duration(attempts) * c.StorefrontTimeout
	base := c.StorefrontRetryBase
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	jitter := c.StorefrontRetryJitter
	if jitter < 0 {
		jitter = 0
	}
	for attempt := 1; attempt < attempts; attempt++ {
		step := base * time.Duration(1<<uint(attempt-1))
		perCall += step + time.Duration(float64(step)*jitter)
	}
	return 2 * perCall
}

// Validate reports the first missing or malformed gateway setting.
func (g Gateway) Validate() error {
	return describe(validate.Struct(g), map[string]string{
		"MerchantID":  "PINE_MERCHANT_ID",
		"SecretKey":   "PINE_SECRET_KEY",
		"PaymentURL":  "PINE_PAYMENT_URL",
		"BaseURL":     "BASE_URL",
		"Currency":    "PINE_CURRENCY",
		"GatewayName": "PINE_GATEWAY_NAME",
	})
}

// Validate reports the first missing or malformed storefront setting.
func (s Storefront) Validate() error {
	return describe(validate.Struct(s), map[string]string{
		"StoreDomain": "SHOPPLAZA_STORE_DOMAIN",
		"AccessToken": "SHOPPLAZA_ACCESS_TOKEN",
		"APIBaseURL":  "SHOPPLAZA_API_BASE_URL",
		"ThankYouURL": "SHOPPLAZA_THANK_YOU_URL",
		"CartURL":     "SHOPPLAZA_CART_URL",
	})
}

// ReturnURL is the browser return endpoint announced to the gateway.
func (g Gateway) ReturnURL() string { return g.BaseURL + "/payment/return" }

// NotifyURL is the webhook endpoint announced to the gateway.
func (g Gateway) NotifyURL() string { return g.BaseURL + "/payment/webhook" }

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func describe(err error, names map[string]string) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	first := verrs[0]
	name := names[first.Field()]
	if name == "" {
		name = first.Field()
	}
	if first.Tag() == "required" {
		return fmt.Errorf("%s is required", name)
	}
	return fmt.Errorf("%s is invalid (%s)", name, first.Tag())
}

func storeURL(domain, path string) string {
	if domain == "" {
		return ""
	}
	return "https://" + domain + path
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// parseBuckets keeps the positive values of a comma separated list, ascending.
func parseBuckets(value string) []float64 {
	var buckets []float64
	for _, part := range splitAndTrim(value) {
		if v, err := strconv.ParseFloat(part, 64); err == nil && v > 0 {
			buckets = append(buckets, v)
		}
	}
	slices.Sort(buckets)
	return slices.Compact(buckets)
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
