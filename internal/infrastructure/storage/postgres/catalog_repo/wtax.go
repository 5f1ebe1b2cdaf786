// Package catalog_repo stores reference data used by the payment desk.
package catalog_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"paydesk/internal/core/apperror"
	"paydesk/internal/core/types"
	"paydesk/internal/domain/wtax"
	"paydesk/internal/infrastructure/storage/postgres"
)

const (
	taxTypeTable   = "wtax_types"
	settingsTable  = "control_settings"
	vatRateSetting = "vat_rate"
)

var taxTypeColumns = postgres.ExtractDBColumns[wtax.TaxType]()

// TaxTypeRepo implements wtax.Repository and wtax.VATSource.
type TaxTypeRepo struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

// NewTaxTypeRepo creates a new tax type repository.
func NewTaxTypeRepo(txManager *postgres.TxManager) *TaxTypeRepo {
	return &TaxTypeRepo{txManager: txManager, builder: postgres.Builder()}
}

var (
	_ wtax.Repository = (*TaxTypeRepo)(nil)
	_ wtax.VATSource  = (*TaxTypeRepo)(nil)
)

func (r *TaxTypeRepo) GetByCode(ctx context.Context, code string) (*wtax.TaxType, error) {
	sql, args, err := r.builder.Select(taxTypeColumns...).
		From(taxTypeTable).
		Where(squirrel.Eq{"code": code}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var t wtax.TaxType
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &t, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("tax type", code)
		}
		return nil, postgres.MapError(fmt.Errorf("get tax type: %w", err), taxTypeTable)
	}
	return &t, nil
}

func (r *TaxTypeRepo) List(ctx context.Context) ([]wtax.TaxType, error) {
	sql, args, err := r.builder.Select(taxTypeColumns...).
		From(taxTypeTable).
		OrderBy("code").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var out []wtax.TaxType
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, postgres.MapError(fmt.Errorf("list tax types: %w", err), taxTypeTable)
	}
	return out, nil
}

// Upsert stores a tax type, replacing the rate of an existing code.
func (r *TaxTypeRepo) Upsert(ctx context.Context, t wtax.TaxType) error {
	sql, args, err := r.upsertQuery(t).ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return postgres.MapError(fmt.Errorf("upsert tax type: %w", err), taxTypeTable)
	}
	return nil
}

func (r *TaxTypeRepo) upsertQuery(t wtax.TaxType) squirrel.InsertBuilder {
	return r.builder.Insert(taxTypeTable).
		Columns(taxTypeColumns...).
		Values(t.Code, t.Description, t.TaxRate, t.WithVAT).
		Suffix("ON CONFLICT (code) DO UPDATE SET description = EXCLUDED.description, " +
			"tax_rate = EXCLUDED.tax_rate, with_vat = EXCLUDED.with_vat")
}

// VATRate reads the shop-wide VAT percentage. A missing setting means no VAT.
func (r *TaxTypeRepo) VATRate(ctx context.Context) (types.Money, error) {
	sql, args, err := r.vatQuery().ToSql()
	if err != nil {
		return types.Zero(), fmt.Errorf("build query: %w", err)
	}

	var raw string
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &raw, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return types.Zero(), nil
		}
		return types.Zero(), postgres.MapError(fmt.Errorf("get vat rate: %w", err), settingsTable)
	}

	rate, err := types.NewMoneyFromString(raw)
	if err != nil {
		return types.Zero(), apperror.NewInternal(err).WithDetail("setting", vatRateSetting)
	}
	return rate, nil
}

func (r *TaxTypeRepo) vatQuery() squirrel.SelectBuilder {
	return r.builder.Select("value").
		From(settingsTable).
		Where(squirrel.Eq{"key": vatRateSetting})
}
