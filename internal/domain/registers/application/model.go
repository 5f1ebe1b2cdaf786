// Package application is the register of posted payment applications and
// the remittance batcher that hands them over to the bank or cashier.
package application

import (
	"errors"
	"time"

	"paydesk/internal/core/id"
	"paydesk/internal/core/types"
)

// PaymentApplication is the immutable, posted share of one payment applied
// to one order. Only the remittance fields change after posting.
type PaymentApplication struct {
	ID            id.ID       `db:"id" json:"id"`
	PaymentID     id.ID       `db:"payment_id" json:"paymentId"`
	PaymentNumber string      `db:"payment_number" json:"paymentNumber"`
	OrderID       int64       `db:"order_id" json:"orderId"`
	PayType       string      `db:"pay_type" json:"payType"`
	PayDate       time.Time   `db:"pay_date" json:"payDate"`
	ORNumber      string      `db:"or_number" json:"orNumber"`
	Reference     string      `db:"reference" json:"reference,omitempty"`
	PayerName     string      `db:"payer_name" json:"payerName"`
	AmountApplied types.Money `db:"amount_applied" json:"amountApplied"`
	Withheld      types.Money `db:"withheld_amount" json:"withheldAmount"`
	TaxTypeCode   string      `db:"wtax_code" json:"wtaxCode,omitempty"`
	PostedBy      string      `db:"posted_by" json:"postedBy"`
	PostedAt      time.Time   `db:"posted_at" json:"postedAt"`

	Remitted     bool       `db:"remitted" json:"remitted"`
	RemittedBy   *string    `db:"remitted_by" json:"remittedBy,omitempty"`
	RemittedDate *time.Time `db:"remitted_date" json:"remittedDate,omitempty"`
}

// Validate checks the row against the register's storage constraints:
// every application moves money to a real order.
func (a PaymentApplication) Validate() error {
	switch {
	case id.IsNil(a.PaymentID):
		return errors.New("payment id is required")
	case a.OrderID <= 0:
		return errors.New("order id is required")
	case a.AmountApplied.Sign() <= 0:
		return errors.New("applied amount must be positive")
	case a.Withheld.IsNegative():
		return errors.New("withheld amount must not be negative")
	}
	return nil
}

// Group is the unremitted applications of one pay type.
type Group struct {
	PayType      string               `json:"payType"`
	Count        int                  `json:"count"`
	Subtotal     types.Money          `json:"subtotal"`
	Applications []PaymentApplication `json:"applications"`
}

// Batch is the set awaiting remittance, grouped by pay type.
type Batch struct {
	Groups     []Group     `json:"groups"`
	Count      int         `json:"count"`
	GrandTotal types.Money `json:"grandTotal"`
}

// PayTypeTotal is one row of the per-pay-type summary.
type PayTypeTotal struct {
	PayType string      `db:"pay_type" json:"payType"`
	Count   int64       `db:"payment_count" json:"count"`
	Total   types.Money `db:"total_amount" json:"total"`
}

// TotalsFilter narrows the per-pay-type summary.
type TotalsFilter struct {
	Remitted *bool
	DateFrom *time.Time
	DateTo   *time.Time
}
