package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/klauspost/compress/zstd"

	"paydesk/internal/core/audit"
	appctx "paydesk/internal/core/context"
	"paydesk/internal/core/id"
)

// CompressionAlgo names how an audit payload is stored.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// AuditEntry is one row of sys_audit.
type AuditEntry struct {
	ID                id.ID           `db:"id" json:"id"`
	EntityType        string          `db:"entity_type" json:"entityType"`
	EntityID          string          `db:"entity_id" json:"entityId"`
	Action            audit.Action    `db:"action" json:"action"`
	UserID            string          `db:"user_id" json:"userId"`
	UserName          string          `db:"user_name" json:"userName,omitempty"`
	RequestID         string          `db:"request_id" json:"requestId,omitempty"`
	Changes           json.RawMessage `db:"changes" json:"changes"`
	ChangesCompressed []byte          `db:"changes_compressed" json:"-"`
	CompressionAlgo   CompressionAlgo `db:"compression_algo" json:"-"`
	CreatedAt         time.Time       `db:"created_at" json:"createdAt"`
}

// AuditLog writes the change journal inside the caller's transaction.
// Posting a payment with many allocations produces large change sets;
// those above the threshold are stored zstd-compressed.
type AuditLog struct {
	txManager         *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
}

// NewAuditLog creates an audit log. Changes larger than compressThreshold
// bytes are compressed; zero selects 4 KiB.
func NewAuditLog(txManager *TxManager, compressThreshold int) (*AuditLog, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	if compressThreshold <= 0 {
		compressThreshold = 4 * 1024
	}
	return &AuditLog{
		txManager:         txManager,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: compressThreshold,
	}, nil
}

var _ audit.Logger = (*AuditLog)(nil)

// LogChange implements audit.Logger.
func (l *AuditLog) LogChange(ctx context.Context, entityType, entityID string, action audit.Action, changes map[string]any) error {
	raw, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}

	entry := AuditEntry{
		ID:         id.New(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		UserID:     appctx.GetUserID(ctx),
		UserName:   appctx.GetUserName(ctx),
		RequestID:  appctx.GetRequestID(ctx),
		CreatedAt:  time.Now().UTC(),
	}
	l.pack(&entry, raw)

	query, args, err := Builder().Insert("sys_audit").
		Columns("id", "entity_type", "entity_id", "action", "user_id", "user_name", "request_id",
			"changes", "changes_compressed", "compression_algo", "created_at").
		Values(entry.ID, entry.EntityType, entry.EntityID, entry.Action, entry.UserID, entry.UserName, entry.RequestID,
			entry.Changes, entry.ChangesCompressed, entry.CompressionAlgo, entry.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert: %w", err)
	}

	if _, err := l.txManager.GetQuerier(ctx).Exec(ctx, query, args...); err != nil {
		return MapError(fmt.Errorf("insert audit entry: %w", err), "audit")
	}
	return nil
}

// History returns the newest entries for an entity, decompressed.
func (l *AuditLog) History(ctx context.Context, entityType, entityID string, limit uint64) ([]AuditEntry, error) {
	if limit == 0 {
		limit = 50
	}
	query, args, err := Builder().
		Select("id", "entity_type", "entity_id", "action", "user_id", "user_name", "request_id",
			"changes", "changes_compressed", "compression_algo", "created_at").
		From("sys_audit").
		Where(squirrel.Eq{"entity_type": entityType, "entity_id": entityID}).
		OrderBy("created_at DESC").
		Limit(limit).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build audit history: %w", err)
	}

	var entries []AuditEntry
	if err := pgxscan.Select(ctx, l.txManager.GetQuerier(ctx), &entries, query, args...); err != nil {
		return nil, MapError(fmt.Errorf("query audit history: %w", err), "audit")
	}
	for i := range entries {
		if err := l.unpack(&entries[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (l *AuditLog) pack(e *AuditEntry, raw []byte) {
	if len(raw) > l.compressThreshold {
		e.ChangesCompressed = l.encoder.EncodeAll(raw, nil)
		e.Changes = nil
		e.CompressionAlgo = CompressionZstd
		return
	}
	e.Changes = raw
	e.CompressionAlgo = CompressionNone
}

func (l *AuditLog) unpack(e *AuditEntry) error {
	if e.CompressionAlgo != CompressionZstd || len(e.ChangesCompressed) == 0 {
		return nil
	}
	raw, err := l.decoder.DecodeAll(e.ChangesCompressed, nil)
	if err != nil {
		return fmt.Errorf("decompress audit %s: %w", e.ID, err)
	}
	e.Changes = raw
	e.ChangesCompressed = nil
	return nil
}
