// Package dto provides Data Transfer Objects for API requests/responses.
package dto

import (
	"time"

	"paydesk/internal/core/apperror"
	"paydesk/internal/core/id"
)

// DateLayout is the wire format of calendar dates (payDate, dateFrom...).
const DateLayout = "2006-01-02"

// --- ID Response ---

// IDResponse for create operations.
type IDResponse struct {
	ID string `json:"id"`
}

// NewIDResponse creates ID response.
func NewIDResponse(i id.ID) IDResponse {
	return IDResponse{ID: i.String()}
}

// --- Success Response ---

// SuccessResponse for operations without data.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// --- Error Response ---

// ErrorResponse for error details.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ParseDate parses an optional calendar date. Empty yields nil.
func ParseDate(field, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(DateLayout, value, time.UTC)
	if err != nil {
		return nil, apperror.NewInvalidInput(field, "date must be formatted as YYYY-MM-DD")
	}
	return &t, nil
}
