// Package id provides UUIDv7 identifiers for drafts and payment applications.
package id

import (
	"fmt"

	"github.com/google/uuid"
)

// ID is a type alias for UUID.
type ID = uuid.UUID

// New generates a time-ordered UUIDv7.
func New() ID {
	v, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return v
}

// Parse converts string to ID with validation.
func Parse(s string) (ID, error) {
	return uuid.Parse(s)
}

// ParseList parses every string, failing on the first malformed value.
func ParseList(values []string) ([]ID, error) {
	out := make([]ID, 0, len(values))
	for i, s := range values {
		v, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("id at position %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Strings renders ids for error details and log fields.
func Strings(ids []ID) []string {
	out := make([]string, len(ids))
	for i, v := range ids {
		out[i] = v.String()
	}
	return out
}

// MustParse converts string to ID, panics on error.
// Use only for constants and tests.
func MustParse(s string) ID {
	return uuid.MustParse(s)
}

// IsNil checks if ID is zero-value.
func IsNil(v ID) bool {
	return v == uuid.Nil
}
