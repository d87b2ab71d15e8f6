package common

import (
	"errors"
	"net/http"
)

// Error codes shared by the payment endpoints.
const (
	CodeInvalidSignature    = "INVALID_SIGNATURE"
	CodeValidation          = "VALIDATION_FAILED"
	CodeConfiguration       = "CONFIGURATION_ERROR"
	CodeUpstream            = "UPSTREAM_ERROR"
	CodeUpstreamTimeout     = "UPSTREAM_TIMEOUT"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeOrderAlreadyPaid    = "ORDER_ALREADY_PAID"
	CodeAmountMismatch      = "AMOUNT_MISMATCH"
	CodeInternal            = "INTERNAL"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// AsAppError extracts the AppError from err's chain.
func AsAppError(err error) (*AppError, bool) {
	var target *AppError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// AuthenticationFailure reports a payload whose signature did not verify.
func AuthenticationFailure(message string) *AppError {
	return NewAppError(CodeInvalidSignature, message, http.StatusBadRequest, nil)
}

// ValidationError reports a missing or malformed request field.
func ValidationError(message string) *AppError {
	return NewAppError(CodeValidation, message, http.StatusBadRequest, nil)
}

// ConfigurationError reports missing service configuration.
func ConfigurationError(message string, err error) *AppError {
	return NewAppError(CodeConfiguration, message, http.StatusInternalServerError, err)
}

// WriteError renders err, falling back to a generic 500 for non-AppErrors.
func WriteError(w http.ResponseWriter, err error) {
	if appErr, ok := AsAppError(err); ok {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		JSON(w, status, errorEnvelope{Error: ErrorDetail{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details}})
		return
	}
	JSONError(w, http.StatusInternalServerError, CodeInternal, "internal error")
}
