// Package apperror provides structured error handling for the payment API.
// Every business failure leaves the service as an AppError so the HTTP layer
// can render a stable {code, message, details} body.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Infrastructure errors (5xx)
	CodeInternal         = "INTERNAL_ERROR"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeTimeout          = "TIMEOUT_ERROR"

	// Validation errors (400)
	CodeValidation   = "VALIDATION_ERROR"
	CodeInvalidInput = "INVALID_INPUT"

	// Business rule violations (422)
	CodeBusinessRule     = "BUSINESS_RULE_VIOLATION"
	CodeHeaderIncomplete = "PAYMENT_HEADER_INCOMPLETE"
	CodeOverAllocated    = "OVER_ALLOCATED"
	CodeDraftClosed      = "DRAFT_CLOSED"

	// Authorization errors (401, 403)
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict (409)
	CodeConflict                    = "CONFLICT"
	CodeDuplicate                   = "DUPLICATE_ENTRY"
	CodeIdempotency                 = "IDEMPOTENCY_CONFLICT"
	CodeConcurrentModification      = "CONCURRENT_MODIFICATION"
	CodePartialConfirmationRequired = "PARTIAL_CONFIRMATION_REQUIRED"
	CodeAlreadyRemitted             = "ALREADY_REMITTED"
)

// AppError is the standard error type of the service.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (field names, amounts, ids)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewInvalidInput reports a malformed request value (400).
func NewInvalidInput(field, message string) *AppError {
	return &AppError{
		Code:       CodeInvalidInput,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Details:    map[string]any{"field": field},
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewBusinessRule creates a business rule violation error (422)
func NewBusinessRule(code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NewHeaderIncomplete is returned when allocation is attempted before the
// payment header (date, type, payer, amount) is filled in.
func NewHeaderIncomplete(missing []string) *AppError {
	return &AppError{
		Code:       CodeHeaderIncomplete,
		Message:    "Payment header is incomplete",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"missing": missing},
	}
}

// NewOverAllocated is returned when allocations exceed the declared payment amount.
func NewOverAllocated(declared, applied fmt.Stringer) *AppError {
	return &AppError{
		Code:       CodeOverAllocated,
		Message:    "Allocated amount exceeds the payment amount",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details: map[string]any{
			"declared": declared.String(),
			"applied":  applied.String(),
		},
	}
}

// NewPartialConfirmationRequired is returned when a post would leave part of
// the payment unapplied and the operator has not confirmed it.
func NewPartialConfirmationRequired(declared, applied, shortfall fmt.Stringer) *AppError {
	return &AppError{
		Code:       CodePartialConfirmationRequired,
		Message:    "Payment is only partially allocated; confirmation required",
		HTTPStatus: http.StatusConflict,
		Details: map[string]any{
			"declared":  declared.String(),
			"applied":   applied.String(),
			"shortfall": shortfall.String(),
		},
	}
}

// NewDraftClosed is returned for mutations against a posted or cancelled draft.
func NewDraftClosed(id any, state string) *AppError {
	return &AppError{
		Code:       CodeDraftClosed,
		Message:    fmt.Sprintf("Payment draft is %s and cannot be modified", state),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"id": id, "state": state},
	}
}

// NewAlreadyRemitted lists the applications that were remitted earlier.
func NewAlreadyRemitted(ids []string) *AppError {
	return &AppError{
		Code:       CodeAlreadyRemitted,
		Message:    "Some payments are already remitted",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"ids": ids},
	}
}

// NewConcurrentModification creates an optimistic locking error
func NewConcurrentModification(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeConcurrentModification,
		Message:    "Record was modified by another request. Please refresh and try again.",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewStoreUnavailable wraps an I/O failure against the database or lock store.
func NewStoreUnavailable(err error) *AppError {
	return &AppError{
		Code:       CodeStoreUnavailable,
		Message:    "Storage is temporarily unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

// NewTimeout reports an operation that exceeded its deadline.
func NewTimeout(operation string) *AppError {
	return &AppError{
		Code:       CodeTimeout,
		Message:    fmt.Sprintf("%s timed out", operation),
		HTTPStatus: http.StatusGatewayTimeout,
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewUnauthorized creates an authentication error (401)
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewForbidden creates an authorization error (403)
func NewForbidden(message string) *AppError {
	return &AppError{
		Code:       CodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// NewIdempotencyConflict creates error when operation is already in progress
func NewIdempotencyConflict(key string) *AppError {
	return &AppError{
		Code:       CodeIdempotency,
		Message:    "Operation already in progress or completed",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"idempotency_key": key},
	}
}

// NewIdempotencyMismatch is returned when the same idempotency key is reused
// for a different operator, route or body.
func NewIdempotencyMismatch(key string) *AppError {
	return &AppError{
		Code:       CodeIdempotency,
		Message:    "Idempotency key mismatch",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"idempotency_key": key},
	}
}

// NewConflict creates a conflict error (409)
func NewConflict(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// NewDuplicate creates a duplicate entry error (409)
func NewDuplicate(entity, field, value string) *AppError {
	return &AppError{
		Code:       CodeDuplicate,
		Message:    fmt.Sprintf("%s with this %s already exists", entity, field),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "field": field, "value": value},
	}
}

// --- Helper functions ---

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool {
	return HasCode(err, CodeNotFound)
}

// IsConcurrentModification checks if error is CodeConcurrentModification
func IsConcurrentModification(err error) bool {
	return HasCode(err, CodeConcurrentModification)
}

// IsStoreUnavailable checks if error is CodeStoreUnavailable
func IsStoreUnavailable(err error) bool {
	return HasCode(err, CodeStoreUnavailable)
}

// IsRetryable reports errors that a read-modify-write may safely repeat.
func IsRetryable(err error) bool {
	return IsConcurrentModification(err) || IsStoreUnavailable(err)
}
