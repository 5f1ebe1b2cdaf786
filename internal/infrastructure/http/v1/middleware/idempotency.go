package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"paydesk/internal/core/apperror"
	appctx "paydesk/internal/core/context"
	"paydesk/internal/infrastructure/storage/postgres"
	"paydesk/pkg/logger"
)

const (
	HeaderIdempotencyKey       = "Idempotency-Key"
	HeaderLegacyIdempotencyKey = "X-Idempotency-Key"

	maxIdempotencyBodyBytes = 1 << 20 // 1 MiB

	idempotencyKeyCtx   = "idempotency_key"
	idempotencyStoreCtx = "idempotency_store"
)

// IdempotencyStore keeps keyed responses. postgres.IdempotencyStore
// implements it.
type IdempotencyStore interface {
	AcquireKey(ctx context.Context, key, userID, operation, requestHash string) (*postgres.IdempotencyReplay, error)
	CompleteKey(ctx context.Context, key string, statusCode int, contentType string, body []byte) error
	FailKey(ctx context.Context, key string, statusCode int, contentType string, body []byte) error
}

var _ IdempotencyStore = (*postgres.IdempotencyStore)(nil)

// Idempotency middleware protects against duplicate requests. A retried
// post or remittance with the same key replays the first response.
func Idempotency(store IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost &&
			c.Request.Method != http.MethodPut &&
			c.Request.Method != http.MethodPatch &&
			c.Request.Method != http.MethodDelete {
			c.Next()
			return
		}

		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			key = c.GetHeader(HeaderLegacyIdempotencyKey)
		}
		if key == "" {
			c.Next()
			return
		}

		limited := io.LimitReader(c.Request.Body, maxIdempotencyBodyBytes+1)
		body, _ := io.ReadAll(limited)
		if len(body) > maxIdempotencyBodyBytes {
			appErr := apperror.NewValidation("request body too large for idempotency")
			appErr.HTTPStatus = http.StatusRequestEntityTooLarge
			_ = c.Error(appErr.WithDetail("max_bytes", maxIdempotencyBodyBytes))
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		hash := sha256.Sum256(append([]byte(c.Request.URL.Path+"\n"), body...))
		requestHash := hex.EncodeToString(hash[:])

		operation := c.Request.Method + " " + c.FullPath()
		userID := appctx.GetUserID(c.Request.Context())

		replay, err := store.AcquireKey(c.Request.Context(), key, userID, operation, requestHash)
		if err != nil {
			if _, ok := apperror.AsAppError(err); !ok {
				err = apperror.NewInternal(err).WithDetail("component", "idempotency")
			}
			_ = c.Error(err)
			c.Abort()
			return
		}

		if replay != nil {
			c.Header("Idempotent-Replayed", "true")
			if replay.StatusCode == http.StatusNoContent || len(replay.Body) == 0 {
				c.Status(replay.StatusCode)
			} else {
				c.Data(replay.StatusCode, replay.ContentType, replay.Body)
			}
			c.Abort()
			return
		}

		c.Set(idempotencyKeyCtx, key)
		c.Set(idempotencyStoreCtx, store)

		c.Next()
	}
}

// CompleteIdempotency stores a successful response for replay. It is a
// no-op when the request carried no key.
func CompleteIdempotency(c *gin.Context, statusCode int, response any) {
	store, key, ok := idempotencyFromContext(c)
	if !ok {
		return
	}

	var (
		raw         []byte
		contentType string
	)
	if response != nil {
		var err error
		if raw, err = json.Marshal(response); err != nil {
			logger.Warn(c.Request.Context(), "failed to encode idempotent response", "key", key, "error", err)
			return
		}
		contentType = "application/json; charset=utf-8"
	}
	if err := store.CompleteKey(c.Request.Context(), key, statusCode, contentType, raw); err != nil {
		logger.Warn(c.Request.Context(), "failed to record idempotent response", "key", key, "error", err)
	}
}

func idempotencyFromContext(c *gin.Context) (IdempotencyStore, string, bool) {
	key := c.GetString(idempotencyKeyCtx)
	if key == "" {
		return nil, "", false
	}
	v, ok := c.Get(idempotencyStoreCtx)
	if !ok {
		return nil, "", false
	}
	store, ok := v.(IdempotencyStore)
	return store, key, ok && store != nil
}
