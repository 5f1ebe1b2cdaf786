// Package wtax computes withholding tax deducted from customer payments.
package wtax

import (
	"context"

	"paydesk/internal/core/apperror"
	"paydesk/internal/core/types"
)

// TaxType is a configured withholding tax rate, e.g. "V2" (2% on the
// VAT-exclusive base).
type TaxType struct {
	Code        string      `db:"code" json:"code"`
	Description string      `db:"description" json:"description"`
	TaxRate     types.Money `db:"tax_rate" json:"taxRate"`
	// WithVAT applies the rate to the amount net of VAT.
	WithVAT bool `db:"with_vat" json:"withVat"`
}

// Validate implements entity.Validatable.
func (t *TaxType) Validate(_ context.Context) error {
	if t.Code == "" {
		return apperror.NewValidation("tax type code is required").
			WithDetail("field", "code")
	}
	if t.TaxRate.IsNegative() || t.TaxRate.GreaterThan(types.MustMoney("100")) {
		return apperror.NewValidation("tax rate must be between 0 and 100").
			WithDetail("field", "taxRate")
	}
	return nil
}
