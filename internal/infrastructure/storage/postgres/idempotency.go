package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Masterminds/squirrel"

	"paydesk/internal/core/apperror"
)

// IdempotencyStatus is the state of a keyed request.
type IdempotencyStatus string

const (
	IdempotencyStatusPending IdempotencyStatus = "pending"
	IdempotencyStatusSuccess IdempotencyStatus = "success"
	IdempotencyStatusFailed  IdempotencyStatus = "failed"
)

// staleAfter is how long a pending key may stay unfinished before another
// request with the same key takes it over.
const staleAfter = time.Minute

// IdempotencyReplay is a stored response returned instead of re-running
// the request.
type IdempotencyReplay struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// IdempotencyStore keeps Idempotency-Key records for posting and remittance
// requests so a retried click does not post a payment twice.
type IdempotencyStore struct {
	txManager *TxManager
	ttl       time.Duration
}

// NewIdempotencyStore creates a new idempotency store.
func NewIdempotencyStore(txManager *TxManager, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{txManager: txManager, ttl: ttl}
}

// AcquireKey claims key for the request. It returns
//   - (nil, nil) when the caller owns the key and should run the request
//   - (replay, nil) when the request already finished
//   - (nil, err) when the key is in use or was issued for another request
func (s *IdempotencyStore) AcquireKey(ctx context.Context, key, userID, operation, requestHash string) (*IdempotencyReplay, error) {
	now := time.Now().UTC()

	var (
		inserted             bool
		storedUser, storedOp string
		storedHash           string
		status               IdempotencyStatus
		response             []byte
		statusCode           *int
		contentType          *string
		updatedAt            time.Time
	)
	err := s.txManager.GetQuerier(ctx).QueryRow(ctx, `
		INSERT INTO sys_idempotency (idempotency_key, user_id, operation, status, request_hash, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $7)
		ON CONFLICT (idempotency_key) DO UPDATE SET expires_at = GREATEST(sys_idempotency.expires_at, EXCLUDED.expires_at)
		RETURNING (xmax = 0), user_id, operation, request_hash, status, response, response_status, response_content_type, updated_at
	`, key, userID, operation, IdempotencyStatusPending, requestHash, now, now.Add(s.ttl)).Scan(
		&inserted, &storedUser, &storedOp, &storedHash, &status, &response, &statusCode, &contentType, &updatedAt,
	)
	if err != nil {
		return nil, MapError(fmt.Errorf("acquire idempotency key: %w", err), "idempotency_key")
	}
	if inserted {
		return nil, nil
	}

	if storedUser != userID || storedOp != operation || storedHash != requestHash {
		return nil, apperror.NewIdempotencyMismatch(key).
			WithDetail("operation", operation)
	}

	switch status {
	case IdempotencyStatusSuccess, IdempotencyStatusFailed:
		return &IdempotencyReplay{
			StatusCode:  replayStatus(statusCode),
			ContentType: replayContentType(contentType),
			Body:        response,
		}, nil
	default:
		if now.Sub(updatedAt) < staleAfter {
			return nil, apperror.NewIdempotencyConflict(key)
		}
		query, args, err := Builder().Update("sys_idempotency").
			Set("updated_at", now).
			Where(squirrel.Eq{"idempotency_key": key, "status": IdempotencyStatusPending}).
			Where(squirrel.Lt{"updated_at": now.Add(-staleAfter)}).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("build reclaim: %w", err)
		}
		tag, err := s.txManager.GetQuerier(ctx).Exec(ctx, query, args...)
		if err != nil {
			return nil, MapError(fmt.Errorf("reclaim stale key: %w", err), "idempotency_key")
		}
		if tag.RowsAffected() == 0 {
			return nil, apperror.NewIdempotencyConflict(key)
		}
		return nil, nil
	}
}

// CompleteKey stores the response of a successful request.
func (s *IdempotencyStore) CompleteKey(ctx context.Context, key string, statusCode int, contentType string, body []byte) error {
	return s.finish(ctx, key, IdempotencyStatusSuccess, statusCode, contentType, body)
}

// FailKey stores the response of a rejected request so a retry replays it.
func (s *IdempotencyStore) FailKey(ctx context.Context, key string, statusCode int, contentType string, body []byte) error {
	return s.finish(ctx, key, IdempotencyStatusFailed, statusCode, contentType, body)
}

// ReleaseKey forgets a key whose request failed for a transient reason,
// letting the client retry with the same key.
func (s *IdempotencyStore) ReleaseKey(ctx context.Context, key string) error {
	query, args, err := Builder().Delete("sys_idempotency").
		Where(squirrel.Eq{"idempotency_key": key, "status": IdempotencyStatusPending}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build release: %w", err)
	}
	if _, err := s.txManager.GetQuerier(ctx).Exec(ctx, query, args...); err != nil {
		return MapError(fmt.Errorf("release idempotency key: %w", err), "idempotency_key")
	}
	return nil
}

func (s *IdempotencyStore) finish(ctx context.Context, key string, status IdempotencyStatus, statusCode int, contentType string, body []byte) error {
	if body != nil && !json.Valid(body) {
		body, _ = json.Marshal(map[string]string{"raw": string(body)})
	}
	query, args, err := Builder().Update("sys_idempotency").
		Set("status", status).
		Set("response", body).
		Set("response_status", statusCode).
		Set("response_content_type", contentType).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"idempotency_key": key}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build finish: %w", err)
	}
	if _, err := s.txManager.GetQuerier(ctx).Exec(ctx, query, args...); err != nil {
		return MapError(fmt.Errorf("finish idempotency key: %w", err), "idempotency_key")
	}
	return nil
}

// CleanupExpired removes expired records.
func (s *IdempotencyStore) CleanupExpired(ctx context.Context) (int64, error) {
	query, args, err := Builder().Delete("sys_idempotency").
		Where(squirrel.Lt{"expires_at": time.Now().UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build cleanup: %w", err)
	}
	tag, err := s.txManager.GetQuerier(ctx).Exec(ctx, query, args...)
	if err != nil {
		return 0, MapError(fmt.Errorf("cleanup idempotency keys: %w", err), "idempotency_key")
	}
	return tag.RowsAffected(), nil
}

func replayStatus(status *int) int {
	if status == nil || *status == 0 {
		return http.StatusOK
	}
	return *status
}

func replayContentType(ct *string) string {
	if ct == nil || *ct == "" {
		return "application/json"
	}
	return *ct
}
