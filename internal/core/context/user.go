// Package context provides request-scoped values extraction.
package context

import (
	"context"
	"slices"
)

// UserContext describes the authenticated cashier operating the payment desk.
// Drafts and their allocations are scoped by UserID.
type UserContext struct {
	UserID    string
	Name      string
	Roles     []string
	SessionID string
}

type userContextKey struct{}

// WithUser adds UserContext to context.
func WithUser(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// GetUser returns UserContext from context.
func GetUser(ctx context.Context) *UserContext {
	if v, ok := ctx.Value(userContextKey{}).(*UserContext); ok {
		return v
	}
	return nil
}

// GetUserID returns user ID from context or empty string.
func GetUserID(ctx context.Context) string {
	if u := GetUser(ctx); u != nil {
		return u.UserID
	}
	return ""
}

// GetUserName returns the display name, falling back to the user ID.
func GetUserName(ctx context.Context) string {
	u := GetUser(ctx)
	if u == nil {
		return ""
	}
	if u.Name != "" {
		return u.Name
	}
	return u.UserID
}

// HasRole checks if user has specific role.
func HasRole(ctx context.Context, role string) bool {
	u := GetUser(ctx)
	if u == nil {
		return false
	}
	return slices.Contains(u.Roles, role)
}
