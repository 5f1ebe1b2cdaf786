package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"paydesk/internal/infrastructure/storage/postgres"
)

type publishClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// EventEnvelope is the JSON body published for every outbox message.
type EventEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	EventType     string          `json:"eventType"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

// RedisEventRelay implements postgres.OutboxHandler with Redis Pub/Sub.
// Each event type gets its own channel, e.g. "paydesk.events.payment.posted".
type RedisEventRelay struct {
	client        publishClient
	channelPrefix string
}

// NewRedisEventRelay creates a relay publishing under channelPrefix.
func NewRedisEventRelay(client publishClient, channelPrefix string) *RedisEventRelay {
	if channelPrefix == "" {
		channelPrefix = "paydesk.events."
	}
	return &RedisEventRelay{client: client, channelPrefix: channelPrefix}
}

var _ postgres.OutboxHandler = (*RedisEventRelay)(nil)

// Channel returns the channel used for an event type.
func (r *RedisEventRelay) Channel(eventType string) string {
	return r.channelPrefix + eventType
}

// Handle implements postgres.OutboxHandler.
func (r *RedisEventRelay) Handle(ctx context.Context, msg *postgres.OutboxMessage) error {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	body, err := json.Marshal(EventEnvelope{
		ID:            msg.ID.String(),
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		OccurredAt:    msg.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := r.client.Publish(ctx, r.Channel(msg.EventType), body).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.EventType, err)
	}
	return nil
}
