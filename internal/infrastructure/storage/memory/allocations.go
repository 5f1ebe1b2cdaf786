package memory

import (
	"context"
	"sort"

	"paydesk/internal/core/apperror"
	"paydesk/internal/core/id"
	"paydesk/internal/core/types"
	"paydesk/internal/domain/documents/payment"
)

// AllocationRepo implements payment.AllocationStore.
type AllocationRepo struct {
	store *Store
}

// Allocations returns the allocation store.
func (s *Store) Allocations() *AllocationRepo {
	return &AllocationRepo{store: s}
}

func (r *AllocationRepo) Get(_ context.Context, draftID id.ID, orderID int64) (*payment.Allocation, error) {
	if err := r.store.fault("allocations.Get"); err != nil {
		return nil, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	a, ok := r.store.st.allocations[allocationKey{draftID, orderID}]
	if !ok {
		return nil, apperror.NewNotFound("payment_allocation", orderID)
	}
	return &a, nil
}

func (r *AllocationRepo) List(_ context.Context, draftID id.ID) ([]payment.Allocation, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var out []payment.Allocation
	for k, a := range r.store.st.allocations {
		if k.draftID == draftID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (r *AllocationRepo) Insert(_ context.Context, a *payment.Allocation) error {
	if err := r.store.fault("allocations.Insert"); err != nil {
		return err
	}
	if err := a.Validate(); err != nil {
		return checkViolation("payment_allocation", err)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	k := allocationKey{a.DraftID, a.OrderID}
	if _, ok := r.store.st.allocations[k]; ok {
		return apperror.NewDuplicate("payment_allocation", "order_id", "")
	}
	r.store.st.allocations[k] = *a
	return nil
}

func (r *AllocationRepo) Update(_ context.Context, a *payment.Allocation) error {
	if err := r.store.fault("allocations.Update"); err != nil {
		return err
	}
	if err := a.Validate(); err != nil {
		return checkViolation("payment_allocation", err)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	k := allocationKey{a.DraftID, a.OrderID}
	if _, ok := r.store.st.allocations[k]; !ok {
		return apperror.NewNotFound("payment_allocation", a.OrderID)
	}
	r.store.st.allocations[k] = *a
	return nil
}

func (r *AllocationRepo) Delete(_ context.Context, draftID id.ID, orderID int64) (bool, error) {
	if err := r.store.fault("allocations.Delete"); err != nil {
		return false, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	k := allocationKey{draftID, orderID}
	_, ok := r.store.st.allocations[k]
	delete(r.store.st.allocations, k)
	return ok, nil
}

func (r *AllocationRepo) DeleteAll(_ context.Context, draftID id.ID) (int64, error) {
	if err := r.store.fault("allocations.DeleteAll"); err != nil {
		return 0, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var n int64
	for k := range r.store.st.allocations {
		if k.draftID == draftID {
			delete(r.store.st.allocations, k)
			n++
		}
	}
	return n, nil
}

func (r *AllocationRepo) Aggregate(_ context.Context, draftID id.ID) (payment.Aggregate, error) {
	if err := r.store.fault("allocations.Aggregate"); err != nil {
		return payment.Aggregate{}, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	agg := payment.Aggregate{AllocatedAmount: types.Zero(), WithheldAmount: types.Zero()}
	for k, a := range r.store.st.allocations {
		if k.draftID != draftID {
			continue
		}
		agg.AllocationCount++
		agg.AllocatedAmount = agg.AllocatedAmount.Add(a.AmountApplied)
		agg.WithheldAmount = agg.WithheldAmount.Add(a.Withheld)
	}
	return agg, nil
}

var _ payment.AllocationStore = (*AllocationRepo)(nil)
