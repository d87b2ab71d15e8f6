package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/paybridge/internal/common"
	"github.com/noah-isme/paybridge/internal/config"
	"github.com/noah-isme/paybridge/internal/lock"
	"github.com/noah-isme/paybridge/internal/signature"
	"github.com/noah-isme/paybridge/internal/storefront"
)

// StatusSuccess is the only gateway status that settles an order.
const StatusSuccess = "SUCCESS"

// Outcome describes what a verified notification led to.
type Outcome string

const (
	OutcomeSettled     Outcome = "settled"
	OutcomeAlreadyPaid Outcome = "already_paid"
	OutcomeIgnored     Outcome = "ignored"
)

// Notification is the verified subset of a gateway callback.
type Notification struct {
	OrderID       string `validate:"required"`
	TransactionID string `validate:"required_if=Status SUCCESS"`
	Status        string `validate:"required"`
	Amount        string `validate:"required_if=Status SUCCESS"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Service builds signed payment requests and settles storefront orders from
// verified gateway notifications.
type Service struct {
	Gateway    config.Gateway
	Storefront config.Storefront
	Orders     storefront.Client
	// Locker serialises settlement per order when set.
	Locker  *lock.Locker
	LockTTL time.Duration
}

// Initiate looks the order up and returns the gateway URL carrying the signed
// payment request.
func (s *Service) Initiate(ctx context.Context, orderID string) (string, error) {
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.Initiate")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	redirect, err := s.initiate(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "initiate failed")
	}
	return redirect, err
}

func (s *Service) initiate(ctx context.Context, orderID string) (string, error) {
	if err := s.Gateway.Validate(); err != nil {
		return "", common.ConfigurationError(err.Error(), err)
	}
	if err := s.Storefront.Validate(); err != nil {
		return "", common.ConfigurationError(err.Error(), err)
	}
	if s.Orders == nil {
		return "", common.ConfigurationError("storefront client not configured", nil)
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return "", common.ValidationError("order_id is required")
	}

	order, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return "", upstream(err)
	}
	if order.IsPaid() {
		return "", common.NewAppError(common.CodeOrderAlreadyPaid, "order is already paid", http.StatusConflict, nil)
	}
	if order.ID == "" {
		order.ID = orderID
	}

	payload, err := s.paymentRequest(order)
	if err != nil {
		return "", err
	}
	sig, err := signature.Codec{Secret: s.Gateway.SecretKey}.Sign(payload, signature.FieldSignature)
	if err != nil {
		return "", common.ConfigurationError("PINE_SECRET_KEY is required", err)
	}
	payload[signature.FieldSignature] = sig

	values := make(url.Values, len(payload))
	for key, value := range payload {
		values.Set(key, value)
	}
	sep := "?"
	if strings.Contains(s.Gateway.PaymentURL, "?") {
		sep = "&"
	}
	return s.Gateway.PaymentURL + sep + values.Encode(), nil
}

// paymentRequest assembles the unsigned fields announced to the gateway. The
// amount is the storefront total verbatim so the notification compares equal.
func (s *Service) paymentRequest(order storefront.Order) (map[string]string, error) {
	total := strings.TrimSpace(order.TotalPrice)
	amount, err := decimal.NewFromString(total)
	if err != nil || amount.IsNegative() {
		if err == nil {
			err = fmt.Errorf("negative total_price %s", order.TotalPrice)
		}
		return nil, upstream(&storefront.UpstreamError{Operation: "get_order", Kind: storefront.KindDecode, Err: err})
	}
	return map[string]string{
		"merchant_id":     s.Gateway.MerchantID,
		"order_id":        order.ID,
		"amount":          total,
		"currency":        s.Gateway.Currency,
		"customer_email":  order.CustomerEmail(),
		"customer_mobile": order.CustomerPhone(),
		"return_url":      s.Gateway.ReturnURL(),
		"notify_url":      s.Gateway.NotifyURL(),
	}, nil
}

// Confirm authenticates a gateway notification and, for successful payments,
// records the sale on the storefront unless the order is already paid.
func (s *Service) Confirm(ctx context.Context, fields map[string]string) (Outcome, error) {
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.Confirm")
	defer span.End()

	outcome, err := s.confirm(ctx, fields)
	span.SetAttributes(
		attribute.String("order.id", fields["order_id"]),
		attribute.String("payment.outcome", string(outcome)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "confirm failed")
	}
	return outcome, err
}

func (s *Service) confirm(ctx context.Context, fields map[string]string) (Outcome, error) {
	if strings.TrimSpace(s.Gateway.SecretKey) == "" {
		return "", common.ConfigurationError("PINE_SECRET_KEY is required", signature.ErrMissingSecret)
	}
	field := signature.TokenField(fields)
	codec := signature.Codec{Secret: s.Gateway.SecretKey}
	if field == "" || !codec.Verify(fields, field, fields[field]) {
		return "", common.AuthenticationFailure("invalid signature")
	}

	n := Notification{
		OrderID:       strings.TrimSpace(fields["order_id"]),
		TransactionID: strings.TrimSpace(fields["transaction_id"]),
		Status:        fields["status"],
		Amount:        strings.TrimSpace(fields["amount"]),
	}
	if err := validate.Struct(n); err != nil {
		return "", common.ValidationError(describeNotification(err))
	}
	if n.Status != StatusSuccess {
		return OutcomeIgnored, nil
	}
	amount, err := decimal.NewFromString(n.Amount)
	if err != nil {
		return "", common.ValidationError("amount is not a decimal number")
	}
	if err := s.Storefront.Validate(); err != nil {
		return "", common.ConfigurationError(err.Error(), err)
	}
	if s.Orders == nil {
		return "", common.ConfigurationError("storefront client not configured", nil)
	}

	if s.Locker == nil {
		return s.markPaid(ctx, n, amount)
	}
	var outcome Outcome
	err = s.Locker.WithLock(ctx, s.Locker.Key(n.OrderID), s.LockTTL, func(ctx context.Context) error {
		var markErr error
		outcome, markErr = s.markPaid(ctx, n, amount)
		return markErr
	})
	if err != nil {
		if common.IsAppError(err) {
			return "", err
		}
		return "", lockFailure(err)
	}
	return outcome, nil
}

// markPaid performs the read-then-conditionally-write against the storefront.
// The idempotency key lets the storefront drop a racing duplicate submission.
func (s *Service) markPaid(ctx context.Context, n Notification, amount decimal.Decimal) (Outcome, error) {
	logger := zerolog.Ctx(ctx).With().Str("order_id", n.OrderID).Logger()

	order, err := s.Orders.GetOrder(ctx, n.OrderID)
	if err != nil {
		logger.Warn().Err(err).Str("stage", "fetch_order").Msg("payment_confirm_upstream_error")
		return "", upstream(err)
	}
	if order.IsPaid() {
		logger.Info().Str("stage", "paid_check").Msg("payment_already_recorded")
		return OutcomeAlreadyPaid, nil
	}

	total, err := decimal.NewFromString(strings.TrimSpace(order.TotalPrice))
	if err != nil {
		return "", upstream(&storefront.UpstreamError{Operation: "get_order", Kind: storefront.KindDecode, Err: err})
	}
	if !total.Equal(amount) {
		logger.Warn().
			Str("stage", "amount_check").
			Str("notified_amount", n.Amount).
			Str("order_total", order.TotalPrice).
			Msg("payment_amount_mismatch")
		return "", common.NewAppError(common.CodeAmountMismatch, "notified amount does not match order total", http.StatusBadRequest, nil)
	}

	tx := storefront.SaleTransaction(s.Gateway.GatewayName, n.TransactionID, n.Amount)
	if err := s.Orders.CreateTransaction(ctx, n.OrderID, tx, IdempotencyKey(n.TransactionID)); err != nil {
		logger.Warn().Err(err).Str("stage", "create_transaction").Msg("payment_confirm_upstream_error")
		return "", upstream(err)
	}
	logger.Info().Str("stage", "create_transaction").Msg("payment_recorded")
	return OutcomeSettled, nil
}

// IdempotencyKey derives the storefront deduplication key for a gateway transaction.
func IdempotencyKey(transactionID string) string {
	sum := sha256.Sum256([]byte(transactionID))
	return "pinelabs-" + hex.EncodeToString(sum[:])
}

func upstream(err error) error {
	if upstreamErr, ok := storefront.AsUpstreamError(err); ok {
		return upstreamErr.AppError()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return common.NewAppError(common.CodeUpstreamTimeout, "storefront timed out", http.StatusGatewayTimeout, err)
	}
	return common.NewAppError(common.CodeUpstream, "storefront request failed", http.StatusBadGateway, err)
}

func lockFailure(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return common.NewAppError(common.CodeUpstreamTimeout, "timed out waiting for order lock", http.StatusGatewayTimeout, err)
	}
	return common.NewAppError(common.CodeUpstreamUnavailable, "order lock unavailable", http.StatusServiceUnavailable, err)
}

func describeNotification(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid notification"
	}
	names := map[string]string{
		"OrderID":       "order_id",
		"TransactionID": "transaction_id",
		"Status":        "status",
		"Amount":        "amount",
	}
	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, names[fe.Field()])
	}
	return strings.Join(missing, ", ") + " required"
}
