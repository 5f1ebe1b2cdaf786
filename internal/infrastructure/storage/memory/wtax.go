package memory

import (
	"context"
	"sort"

	"paydesk/internal/core/apperror"
	"paydesk/internal/core/types"
	"paydesk/internal/domain/wtax"
)

// TaxTypeRepo implements wtax.Repository and wtax.VATSource.
type TaxTypeRepo struct {
	store *Store
}

// TaxTypes returns the tax type repository.
func (s *Store) TaxTypes() *TaxTypeRepo {
	return &TaxTypeRepo{store: s}
}

func (r *TaxTypeRepo) GetByCode(_ context.Context, code string) (*wtax.TaxType, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	t, ok := r.store.st.taxTypes[code]
	if !ok {
		return nil, apperror.NewNotFound("wtax_type", code)
	}
	return &t, nil
}

func (r *TaxTypeRepo) List(_ context.Context) ([]wtax.TaxType, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	out := make([]wtax.TaxType, 0, len(r.store.st.taxTypes))
	for _, t := range r.store.st.taxTypes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *TaxTypeRepo) VATRate(_ context.Context) (types.Money, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.store.st.vatRate, nil
}

var (
	_ wtax.Repository = (*TaxTypeRepo)(nil)
	_ wtax.VATSource  = (*TaxTypeRepo)(nil)
)
