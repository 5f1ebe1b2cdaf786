package payment

import (
	"context"

	"paydesk/internal/core/id"
)

// DraftRepository persists draft headers. Update compares Version and
// fails with a concurrent modification error when it moved.
type DraftRepository interface {
	Create(ctx context.Context, d *Draft) error
	Update(ctx context.Context, d *Draft) error
	Delete(ctx context.Context, draftID id.ID) error

	GetByID(ctx context.Context, draftID id.ID) (*Draft, error)
	// GetForUpdate locks the draft row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, draftID id.ID) (*Draft, error)
	GetActiveByOperator(ctx context.Context, operatorID string) (*Draft, error)

	// ExistsPostedORNumber reports whether another posted payment uses orNumber.
	ExistsPostedORNumber(ctx context.Context, orNumber string, exclude id.ID) (bool, error)
}

// AllocationStore is the staging table of allocations keyed by
// (draft, order). Aggregate is always computed by the store.
type AllocationStore interface {
	Get(ctx context.Context, draftID id.ID, orderID int64) (*Allocation, error)
	List(ctx context.Context, draftID id.ID) ([]Allocation, error)
	Insert(ctx context.Context, a *Allocation) error
	Update(ctx context.Context, a *Allocation) error
	// Delete reports whether a row was removed.
	Delete(ctx context.Context, draftID id.ID, orderID int64) (bool, error)
	DeleteAll(ctx context.Context, draftID id.ID) (int64, error)
	Aggregate(ctx context.Context, draftID id.ID) (Aggregate, error)
}
