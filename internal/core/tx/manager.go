// Package tx decouples domain services from the database transaction implementation.
package tx

import (
	"context"
)

// Manager runs fn inside a transaction: commit on nil, rollback on error.
// Nested calls join the transaction already carried by ctx.
type Manager interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ReadOnlyManager adds read-only transactions for report queries.
type ReadOnlyManager interface {
	Manager

	ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error
}
