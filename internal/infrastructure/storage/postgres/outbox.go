package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"paydesk/internal/core/events"
	"paydesk/internal/core/id"
	"paydesk/pkg/logger"
)

// OutboxStatus is the delivery state of an outbox message.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// maxOutboxRetries is the number of failed deliveries before a message
// is parked as failed.
const maxOutboxRetries = 5

// OutboxMessage is one row of sys_outbox.
type OutboxMessage struct {
	ID            id.ID        `db:"id" json:"id"`
	AggregateType string       `db:"aggregate_type" json:"aggregateType"`
	AggregateID   string       `db:"aggregate_id" json:"aggregateId"`
	EventType     string       `db:"event_type" json:"eventType"`
	Payload       []byte       `db:"payload" json:"payload"`
	Status        OutboxStatus `db:"status" json:"status"`
	RetryCount    int          `db:"retry_count" json:"retryCount"`
	LastError     *string      `db:"last_error" json:"lastError,omitempty"`
	NextRetryAt   *time.Time   `db:"next_retry_at" json:"nextRetryAt,omitempty"`
	CreatedAt     time.Time    `db:"created_at" json:"createdAt"`
	PublishedAt   *time.Time   `db:"published_at" json:"publishedAt,omitempty"`
}

var outboxColumns = ExtractDBColumns[OutboxMessage]()

// OutboxPublisher implements events.Publisher by writing to sys_outbox in
// the caller's transaction. A rolled-back post leaves no event behind.
type OutboxPublisher struct {
	txManager *TxManager
}

// NewOutboxPublisher creates a new outbox publisher.
func NewOutboxPublisher(txManager *TxManager) *OutboxPublisher {
	return &OutboxPublisher{txManager: txManager}
}

var _ events.Publisher = (*OutboxPublisher)(nil)

// Publish implements events.Publisher.
func (p *OutboxPublisher) Publish(ctx context.Context, event events.Event) error {
	if p.txManager.GetTx(ctx) == nil {
		return fmt.Errorf("outbox publish %s requires a transaction", event.EventType)
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	query, args, err := Builder().Insert("sys_outbox").
		Columns("id", "aggregate_type", "aggregate_id", "event_type", "payload", "status", "created_at").
		Values(id.New(), event.AggregateType, event.AggregateID, event.EventType, payload, OutboxStatusPending, time.Now().UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build outbox insert: %w", err)
	}

	if _, err := p.txManager.GetQuerier(ctx).Exec(ctx, query, args...); err != nil {
		return MapError(fmt.Errorf("insert outbox message: %w", err), "outbox")
	}
	return nil
}

// OutboxHandler delivers one message to the broker.
type OutboxHandler interface {
	Handle(ctx context.Context, msg *OutboxMessage) error
}

// OutboxRelay moves pending messages to an OutboxHandler. Several relays
// may run at once; rows are claimed with SKIP LOCKED.
type OutboxRelay struct {
	txManager *TxManager
	batchSize uint64
	handler   OutboxHandler
	now       func() time.Time
}

// NewOutboxRelay creates a new outbox relay.
func NewOutboxRelay(txManager *TxManager, batchSize int, handler OutboxHandler) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxRelay{
		txManager: txManager,
		batchSize: uint64(batchSize),
		handler:   handler,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ProcessBatch delivers up to batchSize due messages and returns how many
// were published. A failed delivery is rescheduled with linear backoff.
func (r *OutboxRelay) ProcessBatch(ctx context.Context) (int, error) {
	processed := 0
	err := r.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		query, args, err := Builder().Select(outboxColumns...).
			From("sys_outbox").
			Where(squirrel.Eq{"status": OutboxStatusPending}).
			Where(squirrel.Or{
				squirrel.Eq{"next_retry_at": nil},
				squirrel.LtOrEq{"next_retry_at": r.now()},
			}).
			OrderBy("created_at").
			Limit(r.batchSize).
			Suffix("FOR UPDATE SKIP LOCKED").
			ToSql()
		if err != nil {
			return fmt.Errorf("build outbox fetch: %w", err)
		}

		var messages []*OutboxMessage
		if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &messages, query, args...); err != nil {
			return MapError(fmt.Errorf("fetch outbox messages: %w", err), "outbox")
		}

		for _, msg := range messages {
			if err := r.deliver(ctx, msg); err != nil {
				logger.Warn(ctx, "outbox delivery failed",
					"message_id", msg.ID,
					"event_type", msg.EventType,
					"retry_count", msg.RetryCount,
					"error", err,
				)
				continue
			}
			processed++
		}
		return nil
	})
	return processed, err
}

func (r *OutboxRelay) deliver(ctx context.Context, msg *OutboxMessage) error {
	q := r.txManager.GetQuerier(ctx)

	if handleErr := r.handler.Handle(ctx, msg); handleErr != nil {
		status := OutboxStatusPending
		if msg.RetryCount+1 >= maxOutboxRetries {
			status = OutboxStatusFailed
		}
		query, args, err := Builder().Update("sys_outbox").
			Set("retry_count", squirrel.Expr("retry_count + 1")).
			Set("last_error", handleErr.Error()).
			Set("next_retry_at", r.now().Add(time.Duration(msg.RetryCount+1)*time.Minute)).
			Set("status", status).
			Where(squirrel.Eq{"id": msg.ID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build outbox retry: %w", err)
		}
		if _, err := q.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("reschedule outbox message: %w", err)
		}
		return handleErr
	}

	query, args, err := Builder().Update("sys_outbox").
		Set("status", OutboxStatusPublished).
		Set("published_at", r.now()).
		Where(squirrel.Eq{"id": msg.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build outbox publish: %w", err)
	}
	if _, err := q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("mark outbox message published: %w", err)
	}
	return nil
}

// PurgePublished deletes published messages older than olderThan.
func (r *OutboxRelay) PurgePublished(ctx context.Context, olderThan time.Duration) (int64, error) {
	query, args, err := Builder().Delete("sys_outbox").
		Where(squirrel.Eq{"status": OutboxStatusPublished}).
		Where(squirrel.Lt{"published_at": r.now().Add(-olderThan)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build outbox purge: %w", err)
	}
	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, query, args...)
	if err != nil {
		return 0, MapError(fmt.Errorf("purge outbox: %w", err), "outbox")
	}
	return tag.RowsAffected(), nil
}
