package application

import (
	"context"
	"time"

	"paydesk/internal/core/id"
	"paydesk/internal/core/types"
)

// Repository persists payment applications.
type Repository interface {
	CreateBatch(ctx context.Context, apps []PaymentApplication) error

	ListUnremitted(ctx context.Context) ([]PaymentApplication, error)
	ListByOrder(ctx context.Context, orderID int64) ([]PaymentApplication, error)
	ListByPayment(ctx context.Context, paymentID id.ID) ([]PaymentApplication, error)

	// GetForUpdate locks the rows with the given ids. Missing ids are omitted.
	GetForUpdate(ctx context.Context, ids []id.ID) ([]PaymentApplication, error)
	MarkRemitted(ctx context.Context, ids []id.ID, remittedBy string, at time.Time) (int64, error)

	SumByOrder(ctx context.Context, orderID int64) (types.Money, error)
	TotalsByPayType(ctx context.Context, filter TotalsFilter) ([]PayTypeTotal, error)
}
