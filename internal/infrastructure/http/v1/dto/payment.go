package dto

import (
	"paydesk/internal/core/apperror"
	"paydesk/internal/core/id"
	"paydesk/internal/core/types"
	"paydesk/internal/domain/documents/payment"
)

// --- Request DTOs ---

// SaveDraftRequest is the payment header form. All fields are optional so
// the operator can save a partially filled header.
type SaveDraftRequest struct {
	DraftID      string       `json:"draftId,omitempty"`
	PayDate      string       `json:"payDate,omitempty"`
	PayType      string       `json:"payType,omitempty"`
	Amount       *types.Money `json:"amount,omitempty"`
	Reference    string       `json:"reference,omitempty"`
	ORNumber     string       `json:"orNumber,omitempty"`
	PayerName    string       `json:"payerName,omitempty"`
	TransactedBy string       `json:"transactedBy,omitempty"`
	WTaxCode     *string      `json:"wtaxCode,omitempty"`
}

// ToInput converts the request into a service input.
func (r *SaveDraftRequest) ToInput() (payment.DraftInput, error) {
	in := payment.DraftInput{
		PayType:      r.PayType,
		Amount:       types.Zero(),
		Reference:    r.Reference,
		ORNumber:     r.ORNumber,
		PayerName:    r.PayerName,
		TransactedBy: r.TransactedBy,
		TaxTypeCode:  r.WTaxCode,
	}
	if r.DraftID != "" {
		draftID, err := id.Parse(r.DraftID)
		if err != nil {
			return in, apperror.NewInvalidInput("draftId", "invalid id format")
		}
		in.DraftID = &draftID
	}
	payDate, err := ParseDate("payDate", r.PayDate)
	if err != nil {
		return in, err
	}
	in.PayDate = payDate
	if r.Amount != nil {
		in.Amount = *r.Amount
	}
	return in, nil
}

// ToggleOrderRequest optionally carries the balance the operator saw on
// screen. Missing values are read from the order ledger.
type ToggleOrderRequest struct {
	Balance    *types.Money `json:"balance,omitempty"`
	GrandTotal *types.Money `json:"grandTotal,omitempty"`
}

// AmountRequest sets an applied or withheld amount.
type AmountRequest struct {
	Amount types.Money `json:"amount"`
}

// ChangeTaxTypeRequest switches the draft's withholding tax type. An empty
// code clears it.
type ChangeTaxTypeRequest struct {
	WTaxCode string `json:"wtaxCode"`
}

// PostRequest confirms a partially allocated payment.
type PostRequest struct {
	ConfirmPartial bool `json:"confirmPartial"`
}

// --- Response DTOs ---

// DraftResponse wraps a draft view. Draft is null when the operator has
// no active draft.
type DraftResponse struct {
	Draft       *payment.Draft       `json:"draft"`
	Allocations []payment.Allocation `json:"allocations"`
	Summary     *payment.Summary     `json:"summary,omitempty"`
}

// FromDraftView maps a service view.
func FromDraftView(v *payment.DraftView) DraftResponse {
	if v == nil {
		return DraftResponse{Allocations: []payment.Allocation{}}
	}
	allocs := v.Allocations
	if allocs == nil {
		allocs = []payment.Allocation{}
	}
	summary := v.Summary
	return DraftResponse{Draft: v.Draft, Allocations: allocs, Summary: &summary}
}

// SaveDraftResponse returns the saved header and the soft OR# warning.
type SaveDraftResponse struct {
	Draft             *payment.Draft `json:"draft"`
	DuplicateORNumber bool           `json:"duplicateOrNumber"`
}

// ORNumberResponse answers the duplicate OR# check.
type ORNumberResponse struct {
	ORNumber string `json:"orNumber"`
	Exists   bool   `json:"exists"`
}

// RecalculateResponse returns the recomputed paid amount of an order.
type RecalculateResponse struct {
	OrderID    int64       `json:"orderId"`
	AmountPaid types.Money `json:"amountPaid"`
}
