// Package events defines domain events written to the outbox.
package events

import "context"

// Event types
const (
	TypePaymentPosted    = "payment.posted"
	TypePaymentCancelled = "payment.cancelled"
	TypePaymentsRemitted = "payments.remitted"
)

// Event is a fact about an aggregate, published in the same transaction
// that produced it.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       any
}

// Publisher records events. Implementations must join the transaction in ctx.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
