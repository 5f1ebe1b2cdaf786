package wtax

import (
	"context"

	"paydesk/internal/core/types"
)

// Repository reads configured tax types.
type Repository interface {
	GetByCode(ctx context.Context, code string) (*TaxType, error)
	List(ctx context.Context) ([]TaxType, error)
}

// VATSource provides the shop's current VAT rate in percent.
type VATSource interface {
	VATRate(ctx context.Context) (types.Money, error)
}
