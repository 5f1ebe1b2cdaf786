package wtax

import (
	"context"
	"fmt"

	"paydesk/internal/core/types"
)

// Service resolves a tax type code together with the VAT rate it needs.
type Service struct {
	repo Repository
	vat  VATSource
}

// NewService creates a new tax type service.
func NewService(repo Repository, vat VATSource) *Service {
	return &Service{repo: repo, vat: vat}
}

// Resolve returns the tax type for code and the current VAT rate.
// An empty code means no withholding: nil type, zero rate.
func (s *Service) Resolve(ctx context.Context, code string) (*TaxType, types.Money, error) {
	if code == "" {
		return nil, types.Zero(), nil
	}

	tt, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, types.Zero(), fmt.Errorf("get tax type %s: %w", code, err)
	}

	vat := types.Zero()
	if tt.WithVAT {
		if vat, err = s.vat.VATRate(ctx); err != nil {
			return nil, types.Zero(), fmt.Errorf("get vat rate: %w", err)
		}
	}
	return tt, vat, nil
}

// List returns all tax types with the current VAT rate.
func (s *Service) List(ctx context.Context) ([]TaxType, types.Money, error) {
	items, err := s.repo.List(ctx)
	if err != nil {
		return nil, types.Zero(), fmt.Errorf("list tax types: %w", err)
	}
	vat, err := s.vat.VATRate(ctx)
	if err != nil {
		return nil, types.Zero(), fmt.Errorf("get vat rate: %w", err)
	}
	return items, vat, nil
}
