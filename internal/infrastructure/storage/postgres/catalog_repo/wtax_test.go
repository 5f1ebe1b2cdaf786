package catalog_repo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paydesk/internal/core/types"
	"paydesk/internal/domain/wtax"
)

func TestTaxTypeColumns(t *testing.T) {
	assert.Equal(t, []string{"code", "description", "tax_rate", "with_vat"}, taxTypeColumns)
}

func TestUpsertQuery(t *testing.T) {
	repo := NewTaxTypeRepo(nil)
	rate := types.MustMoney("2")

	sql, args, err := repo.upsertQuery(wtax.TaxType{Code: "V2", Description: "2% net of VAT", TaxRate: rate, WithVAT: true}).ToSql()
	require.NoError(t, err)

	assert.Equal(t,
		"INSERT INTO wtax_types (code,description,tax_rate,with_vat) VALUES ($1,$2,$3,$4) "+
			"ON CONFLICT (code) DO UPDATE SET description = EXCLUDED.description, "+
			"tax_rate = EXCLUDED.tax_rate, with_vat = EXCLUDED.with_vat",
		sql)
	assert.Equal(t, []any{"V2", "2% net of VAT", rate, true}, args)
}

func TestVATQuery(t *testing.T) {
	sql, args, err := NewTaxTypeRepo(nil).vatQuery().ToSql()
	require.NoError(t, err)

	assert.Equal(t, "SELECT value FROM control_settings WHERE key = $1", sql)
	assert.Equal(t, []any{"vat_rate"}, args)
}
