package wtax

import "paydesk/internal/core/types"

// DefaultVATRate is the VAT percent seeded into a fresh installation.
var DefaultVATRate = types.MustMoney("12")

// DefaultTaxTypes is the catalog seeded into a fresh installation.
func DefaultTaxTypes() []TaxType {
	return []TaxType{
		{Code: "NONE", Description: "No withholding", TaxRate: types.Zero()},
		{Code: "V1", Description: "Goods, 1% of VAT-exclusive amount", TaxRate: types.MustMoney("1"), WithVAT: true},
		{Code: "V2", Description: "Services, 2% of VAT-exclusive amount", TaxRate: types.MustMoney("2"), WithVAT: true},
		{Code: "NV1", Description: "Goods from non-VAT supplier, 1%", TaxRate: types.MustMoney("1")},
		{Code: "NV2", Description: "Services from non-VAT supplier, 2%", TaxRate: types.MustMoney("2")},
	}
}
