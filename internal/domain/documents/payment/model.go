// Package payment stages incoming payments as per-operator drafts,
// allocates them across open orders and posts them into the
// payment application register.
package payment

import (
	"context"
	"slices"
	"strings"
	"time"

	"paydesk/internal/core/apperror"
	"paydesk/internal/core/entity"
	"paydesk/internal/core/id"
	"paydesk/internal/core/types"
)

// Draft is the staging header of one incoming payment. An operator has at
// most one draft in StateDraft at a time.
type Draft struct {
	entity.Document

	OperatorID   string      `db:"operator_id" json:"operatorId"`
	PayDate      *time.Time  `db:"pay_date" json:"payDate,omitempty"`
	PayType      string      `db:"pay_type" json:"payType"`
	Amount       types.Money `db:"amount" json:"amount"`
	Reference    string      `db:"reference" json:"reference,omitempty"`
	ORNumber     string      `db:"or_number" json:"orNumber,omitempty"`
	PayerName    string      `db:"payer_name" json:"payerName"`
	TransactedBy string      `db:"transacted_by" json:"transactedBy,omitempty"`
	TaxTypeCode  string      `db:"wtax_code" json:"wtaxCode,omitempty"`
}

// NewDraft creates an empty draft owned by operatorID.
func NewDraft(operatorID string) *Draft {
	return &Draft{
		Document:   entity.NewDocument(operatorID),
		OperatorID: operatorID,
		Amount:     types.Zero(),
	}
}

// Validate implements entity.Validatable.
func (d *Draft) Validate(_ context.Context) error {
	if d.OperatorID == "" {
		return apperror.NewValidation("operator is required").
			WithDetail("field", "operatorId")
	}
	if d.Amount.IsNegative() {
		return apperror.NewValidation("amount must not be negative").
			WithDetail("field", "amount")
	}
	return nil
}

// CanEditPayments checks the header fields required before orders can be
// allocated: date, a known pay type, payer and a positive amount.
// An empty allowedPayTypes accepts any non-empty pay type.
func (d *Draft) CanEditPayments(allowedPayTypes []string) error {
	var missing []string
	if d.PayDate == nil || d.PayDate.IsZero() {
		missing = append(missing, "payDate")
	}
	if d.PayType == "" || (len(allowedPayTypes) > 0 && !slices.Contains(allowedPayTypes, d.PayType)) {
		missing = append(missing, "payType")
	}
	if strings.TrimSpace(d.PayerName) == "" {
		missing = append(missing, "payerName")
	}
	if !d.Amount.IsPositive() {
		missing = append(missing, "amount")
	}
	if len(missing) > 0 {
		return apperror.NewHeaderIncomplete(missing)
	}
	return nil
}

// Allocation is the share of a draft applied to one order.
type Allocation struct {
	DraftID       id.ID       `db:"draft_id" json:"draftId"`
	OrderID       int64       `db:"order_id" json:"orderId"`
	AmountApplied types.Money `db:"amount_applied" json:"amountApplied"`
	Withheld      types.Money `db:"withheld_amount" json:"withheldAmount"`
	UpdatedAt     time.Time   `db:"updated_at" json:"updatedAt"`
}

// Validate checks the staging row constraints. A zero amount is never
// stored; clearing an allocation removes it.
func (a *Allocation) Validate() error {
	if a.AmountApplied.Sign() <= 0 {
		return apperror.NewValidation("applied amount must be positive").
			WithDetail("orderId", a.OrderID)
	}
	if a.Withheld.IsNegative() {
		return apperror.NewValidation("withheld amount must not be negative").
			WithDetail("orderId", a.OrderID)
	}
	return nil
}

// Aggregate is computed by the allocation store for one draft.
type Aggregate struct {
	AllocationCount int         `db:"allocation_count"`
	AllocatedAmount types.Money `db:"allocated_amount"`
	WithheldAmount  types.Money `db:"withheld_amount"`
}

// Summary is the draft-level view returned after every mutation.
type Summary struct {
	DraftID         id.ID       `json:"draftId"`
	Declared        types.Money `json:"declared"`
	AllocationCount int         `json:"allocationCount"`
	AllocatedAmount types.Money `json:"allocatedAmount"`
	WithheldAmount  types.Money `json:"withheldAmount"`
	// Remaining goes negative only when the header amount was lowered
	// below what is already allocated; posting then fails.
	Remaining types.Money `json:"remaining"`
}

// NewSummary derives a Summary from a draft and its store aggregate.
func NewSummary(d *Draft, agg Aggregate) Summary {
	return Summary{
		DraftID:         d.ID,
		Declared:        d.Amount,
		AllocationCount: agg.AllocationCount,
		AllocatedAmount: agg.AllocatedAmount,
		WithheldAmount:  agg.WithheldAmount,
		Remaining:       d.Amount.Sub(agg.AllocatedAmount),
	}
}

// DraftInput carries the header fields of saveDraft. TaxTypeCode is only
// honoured when the draft is created; later changes go through ChangeTaxType
// so allocations are recomputed.
type DraftInput struct {
	DraftID      *id.ID
	PayDate      *time.Time
	PayType      string
	Amount       types.Money
	Reference    string
	ORNumber     string
	PayerName    string
	TransactedBy string
	TaxTypeCode  *string
}

// apply copies header fields onto d.
func (in DraftInput) apply(d *Draft) {
	d.PayDate = in.PayDate
	d.PayType = strings.TrimSpace(in.PayType)
	d.Amount = types.Round2(in.Amount)
	d.Reference = strings.TrimSpace(in.Reference)
	d.ORNumber = strings.TrimSpace(in.ORNumber)
	d.PayerName = strings.TrimSpace(in.PayerName)
	d.TransactedBy = strings.TrimSpace(in.TransactedBy)
}

// OrderRef identifies the order being toggled. Balance and GrandTotal are
// looked up from the order ledger when nil.
type OrderRef struct {
	OrderID    int64
	Balance    *types.Money
	GrandTotal *types.Money
}

// ToggleOutcome tells what a toggle did.
type ToggleOutcome string

const (
	ToggleAllocated ToggleOutcome = "allocated"
	ToggleRemoved   ToggleOutcome = "removed"
	// ToggleSkipped means nothing was left to apply.
	ToggleSkipped ToggleOutcome = "skipped"
)

// ToggleResult is returned by ToggleOrder.
type ToggleResult struct {
	Outcome    ToggleOutcome `json:"outcome"`
	Allocation *Allocation   `json:"allocation,omitempty"`
	Summary    Summary       `json:"summary"`
}

// AllocationResult is returned by amount and withholding edits.
type AllocationResult struct {
	Allocation Allocation `json:"allocation"`
	Removed    bool       `json:"removed"`
	Summary    Summary    `json:"summary"`
}

// TaxChangeResult is returned by ChangeTaxType.
type TaxChangeResult struct {
	TaxTypeCode string       `json:"wtaxCode"`
	Allocations []Allocation `json:"allocations"`
	Summary     Summary      `json:"summary"`
}

// DraftView is a draft with its allocations and aggregate.
type DraftView struct {
	Draft       *Draft       `json:"draft"`
	Allocations []Allocation `json:"allocations"`
	Summary     Summary      `json:"summary"`
}

// PostResult is returned by a successful Post.
type PostResult struct {
	DraftID           id.ID       `json:"draftId"`
	Number            string      `json:"number"`
	ApplicationIDs    []id.ID     `json:"applicationIds"`
	Applied           types.Money `json:"applied"`
	Unapplied         types.Money `json:"unapplied"`
	Withheld          types.Money `json:"withheld"`
	DuplicateORNumber bool        `json:"duplicateOrNumber"`
}
