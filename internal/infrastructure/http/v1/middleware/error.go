package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"paydesk/internal/core/apperror"
	"paydesk/pkg/logger"
)

// ErrorHandler middleware transforms errors into consistent JSON responses.
// Hides internal errors from clients while logging full details.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		// If response already written by handler, do not override it.
		if c.Writer.Written() {
			return
		}

		status := http.StatusInternalServerError
		body := gin.H{
			"code":    apperror.CodeInternal,
			"message": "Internal server error",
			"details": map[string]any{
				"request_id": c.GetString("request_id"),
			},
		}

		if appErr, ok := apperror.AsAppError(err); ok {
			if appErr.Err != nil {
				logger.Error(c.Request.Context(), "request error",
					"code", appErr.Code,
					"cause", appErr.Err,
				)
			}
			status = appErr.HTTPStatus
			if appErr.Code != apperror.CodeInternal {
				body = gin.H{
					"code":    appErr.Code,
					"message": appErr.Message,
					"details": appErr.Details,
				}
			}
		} else {
			logger.Error(c.Request.Context(), "unhandled error", "error", err)
		}

		failIdempotency(c, status, body)
		c.JSON(status, body)
	}
}

// failIdempotency records the exact error response for replay (best-effort).
func failIdempotency(c *gin.Context, status int, body any) {
	store, key, ok := idempotencyFromContext(c)
	if !ok {
		return
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return
	}
	if err := store.FailKey(c.Request.Context(), key, status, "application/json", raw); err != nil {
		logger.Warn(c.Request.Context(), "failed to record idempotent error", "key", key, "error", err)
	}
}
