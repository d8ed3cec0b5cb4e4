package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Auth / credential errors
	CodeAuthExchangeFailed = "AUTH_EXCHANGE_FAILED"
	CodeTokenRefreshFailed = "TOKEN_REFRESH_FAILED"
	CodeDecryptFailed      = "DECRYPT_FAILED"

	// Webhook errors
	CodeWebhookValidationFailed = "WEBHOOK_VALIDATION_FAILED"

	// Pipeline errors
	CodeDuplicateMessage    = "DUPLICATE_MESSAGE"
	CodeProviderTransient   = "PROVIDER_TRANSIENT"
	CodeClassifierMalformed = "CLASSIFIER_MALFORMED"
	CodePersistConflict     = "PERSIST_CONFLICT"
	CodeSubscriptionExpired = "SUBSCRIPTION_EXPIRED"

	// Validation errors
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeBadRequest       = "BAD_REQUEST"
	CodeMissingField     = "MISSING_FIELD"

	// Resource errors
	CodeNotFound = "NOT_FOUND"
	CodeConflict = "CONFLICT"

	// External / internal errors
	CodeDatabaseError = "DATABASE_ERROR"
	CodeExternalError = "EXTERNAL_ERROR"
	CodeInternalError = "INTERNAL_ERROR"
	CodeConfigError   = "CONFIG_ERROR"
	CodeTimeout       = "TIMEOUT"
)

// AppError represents a structured application error
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// HTTPStatus returns the HTTP status code
func (e *AppError) HTTPStatus() int {
	return e.Status
}

// Constructor functions
func New(code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

func Wrap(err error, code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// Credential errors

// AuthExchange reports a failed authorization-code exchange.
func AuthExchange(provider string, err error) *AppError {
	return &AppError{
		Code:    CodeAuthExchangeFailed,
		Message: fmt.Sprintf("authorization code exchange failed for %s", provider),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"provider": provider},
		Err:     err,
	}
}

// TokenRefresh reports a failed token refresh. Permanent refresh failures
// (revoked consent, invalid_grant) must not be retried; mark them with
// WithDetail("permanent", true).
func TokenRefresh(provider string, err error) *AppError {
	return &AppError{
		Code:    CodeTokenRefreshFailed,
		Message: fmt.Sprintf("token refresh failed for %s", provider),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"provider": provider},
		Err:     err,
	}
}

// Decrypt reports that a stored secret could not be decrypted. Never
// retryable: the ciphertext or key is wrong, not the transport.
func Decrypt(err error) *AppError {
	return &AppError{
		Code:    CodeDecryptFailed,
		Message: "stored secret could not be decrypted",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Webhook errors
func WebhookValidation(reason string) *AppError {
	return &AppError{
		Code:    CodeWebhookValidationFailed,
		Message: fmt.Sprintf("webhook validation failed: %s", reason),
		Status:  http.StatusBadRequest,
	}
}

// Pipeline errors
func DuplicateMessage(providerID string) *AppError {
	return &AppError{
		Code:    CodeDuplicateMessage,
		Message: "message already ingested",
		Status:  http.StatusConflict,
		Details: map[string]any{"provider_id": providerID},
	}
}

func ProviderTransient(provider string, err error) *AppError {
	return &AppError{
		Code:    CodeProviderTransient,
		Message: fmt.Sprintf("transient provider failure: %s", provider),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"provider": provider},
		Err:     err,
	}
}

func ClassifierMalformed(err error) *AppError {
	return &AppError{
		Code:    CodeClassifierMalformed,
		Message: "classifier returned malformed output",
		Status:  http.StatusBadGateway,
		Err:     err,
	}
}

func PersistConflict(providerID string) *AppError {
	return &AppError{
		Code:    CodePersistConflict,
		Message: "message persisted concurrently",
		Status:  http.StatusConflict,
		Details: map[string]any{"provider_id": providerID},
	}
}

func SubscriptionExpired(subscriptionID string) *AppError {
	return &AppError{
		Code:    CodeSubscriptionExpired,
		Message: "provider subscription expired",
		Status:  http.StatusGone,
		Details: map[string]any{"subscription_id": subscriptionID},
	}
}

// Validation errors
func BadRequest(message string) *AppError {
	return &AppError{
		Code:    CodeBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func ValidationFailed(message string) *AppError {
	return &AppError{
		Code:    CodeValidationFailed,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func MissingField(field string) *AppError {
	return &AppError{
		Code:    CodeMissingField,
		Message: fmt.Sprintf("missing required field: %s", field),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

// Resource errors
func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
		Status:  http.StatusConflict,
	}
}

// External errors
func DatabaseError(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeDatabaseError,
		Message: fmt.Sprintf("database error: %s", operation),
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func ExternalError(service string, err error) *AppError {
	return &AppError{
		Code:    CodeExternalError,
		Message: fmt.Sprintf("external service error: %s", service),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

// Internal errors
func Internal(message string) *AppError {
	if message == "" {
		message = "internal server error"
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

func InternalWithError(err error) *AppError {
	return &AppError{
		Code:    CodeInternalError,
		Message: "internal server error",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func ConfigError(message string) *AppError {
	return &AppError{
		Code:    CodeConfigError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

func Timeout(operation string) *AppError {
	return &AppError{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("operation timed out: %s", operation),
		Status:  http.StatusGatewayTimeout,
	}
}

// Helper functions
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalWithError(err)
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// HasCode reports whether err carries the given application error code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable reports whether a pipeline error is worth another background
// attempt. Duplicates and conflicts are successes for the caller, decrypt
// and validation failures cannot heal on their own.
func IsRetryable(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		// Unclassified failures get the benefit of the doubt.
		return true
	}
	switch appErr.Code {
	case CodeProviderTransient, CodeClassifierMalformed, CodeTimeout, CodeExternalError, CodeDatabaseError:
		return true
	case CodeTokenRefreshFailed:
		permanent, _ := appErr.Details["permanent"].(bool)
		return !permanent
	default:
		return false
	}
}
