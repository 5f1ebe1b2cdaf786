// Package orders is the payment engine's view of the external order store.
package orders

import (
	"context"
	"time"

	"paydesk/internal/core/types"
)

// Balance is an order's billed and paid totals.
type Balance struct {
	OrderID    int64       `db:"order_id" json:"orderId"`
	GrandTotal types.Money `db:"grand_total" json:"grandTotal"`
	AmountPaid types.Money `db:"amount_paid" json:"amountPaid"`
	DatePaid   *time.Time  `db:"date_paid" json:"datePaid,omitempty"`
}

// Outstanding is grandTotal minus amountPaid, never negative.
func (b Balance) Outstanding() types.Money {
	return types.NonNegative(b.GrandTotal.Sub(b.AmountPaid))
}

// Ledger reads and adjusts order balances. Writes must join the
// transaction carried by ctx so posting stays atomic.
type Ledger interface {
	GetBalance(ctx context.Context, orderID int64) (Balance, error)
	// ApplyPayment adds amount to amountPaid and stamps datePaid.
	ApplyPayment(ctx context.Context, orderID int64, amount types.Money, paidAt time.Time) error
	// SetAmountPaid overwrites amountPaid, used to reconcile against posted applications.
	SetAmountPaid(ctx context.Context, orderID int64, amount types.Money) error
}
