// Package middleware provides HTTP middleware for the payment API.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"paydesk/internal/core/apperror"
	appctx "paydesk/internal/core/context"
)

// JWTValidator interface for token validation.
type JWTValidator interface {
	ValidateToken(tokenString string) (*appctx.UserContext, error)
}

// Auth middleware validates JWT tokens and populates user context. The
// token subject becomes the operator that owns payment drafts.
func Auth(validator JWTValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			abortUnauthorized(c, "invalid authorization header format")
			return
		}

		user, err := validator.ValidateToken(parts[1])
		if err != nil {
			_ = c.Error(apperror.NewUnauthorized("invalid token").WithCause(err))
			c.Abort()
			return
		}

		ctx := appctx.WithUser(c.Request.Context(), user)
		c.Request = c.Request.WithContext(ctx)
		c.Set("user_id", user.UserID)

		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	_ = c.Error(apperror.NewUnauthorized(message))
	c.Abort()
}

// RequireRole allows the request only when the operator holds role. An
// empty role disables the check.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if role == "" || appctx.HasRole(c.Request.Context(), role) {
			c.Next()
			return
		}
		_ = c.Error(apperror.NewForbidden("role required").WithDetail("role", role))
		c.Abort()
	}
}
