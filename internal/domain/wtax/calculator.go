package wtax

import (
	"paydesk/internal/core/types"
)

var one = types.MustMoney("1")

// Compute returns the amount withheld from gross.
//
// For VAT-inclusive tax types the rate applies to gross / (1 + vat/100).
// A result equal to gross would net the payment to zero and is reported
// as no withholding. The result is rounded once, half-up to cents.
func Compute(gross types.Money, taxType *TaxType, vatRate types.Money) types.Money {
	if taxType == nil || gross.Sign() <= 0 {
		return types.Zero()
	}

	if !taxType.WithVAT {
		return types.Round2(types.Percent(gross, taxType.TaxRate))
	}

	divisor := one.Add(vatRate.Div(types.MustMoney("100")))
	base := gross.Div(divisor)
	withheld := types.Round2(types.Percent(base, taxType.TaxRate))
	if withheld.Equal(gross) {
		return types.Zero()
	}
	return withheld
}
