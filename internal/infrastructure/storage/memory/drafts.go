package memory

import (
	"context"
	"time"

	"paydesk/internal/core/apperror"
	"paydesk/internal/core/entity"
	"paydesk/internal/core/id"
	"paydesk/internal/domain/documents/payment"
)

// DraftRepo implements payment.DraftRepository.
type DraftRepo struct {
	store *Store
}

// Drafts returns the draft repository.
func (s *Store) Drafts() *DraftRepo {
	return &DraftRepo{store: s}
}

func (r *DraftRepo) Create(_ context.Context, d *payment.Draft) error {
	if err := r.store.fault("drafts.Create"); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.st.drafts[d.ID]; ok {
		return apperror.NewDuplicate("payment_draft", "id", d.ID.String())
	}
	if d.IsDraft() {
		for _, other := range r.store.st.drafts {
			if other.OperatorID == d.OperatorID && other.IsDraft() {
				return apperror.NewDuplicate("payment_draft", "operator_id", d.OperatorID)
			}
		}
	}
	r.store.st.drafts[d.ID] = *d
	return nil
}

func (r *DraftRepo) Update(_ context.Context, d *payment.Draft) error {
	if err := r.store.fault("drafts.Update"); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, ok := r.store.st.drafts[d.ID]
	if !ok || current.Version != d.Version {
		return apperror.NewConcurrentModification("payment_draft", d.ID.String())
	}
	d.Version++
	d.UpdatedAt = time.Now().UTC()
	r.store.st.drafts[d.ID] = *d
	return nil
}

func (r *DraftRepo) Delete(_ context.Context, draftID id.ID) error {
	if err := r.store.fault("drafts.Delete"); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.st.drafts, draftID)
	return nil
}

func (r *DraftRepo) GetByID(_ context.Context, draftID id.ID) (*payment.Draft, error) {
	if err := r.store.fault("drafts.GetByID"); err != nil {
		return nil, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	d, ok := r.store.st.drafts[draftID]
	if !ok {
		return nil, apperror.NewNotFound("payment_draft", draftID.String())
	}
	return &d, nil
}

func (r *DraftRepo) GetForUpdate(ctx context.Context, draftID id.ID) (*payment.Draft, error) {
	if err := r.store.fault("drafts.GetForUpdate"); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, draftID)
}

func (r *DraftRepo) GetActiveByOperator(_ context.Context, operatorID string) (*payment.Draft, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, d := range r.store.st.drafts {
		if d.OperatorID == operatorID && d.State == entity.StateDraft {
			return &d, nil
		}
	}
	return nil, apperror.NewNotFound("payment_draft", operatorID)
}

func (r *DraftRepo) ExistsPostedORNumber(_ context.Context, orNumber string, exclude id.ID) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, d := range r.store.st.drafts {
		if d.ID != exclude && d.State == entity.StatePosted && d.ORNumber == orNumber {
			return true, nil
		}
	}
	return false, nil
}

var _ payment.DraftRepository = (*DraftRepo)(nil)
