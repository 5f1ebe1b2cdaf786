package memory

import (
	"context"
	"sort"
	"time"

	"paydesk/internal/core/apperror"
	"paydesk/internal/core/id"
	"paydesk/internal/core/types"
	"paydesk/internal/domain/registers/application"
)

// ApplicationRepo implements application.Repository.
type ApplicationRepo struct {
	store *Store
}

// Applications returns the payment application repository.
func (s *Store) Applications() *ApplicationRepo {
	return &ApplicationRepo{store: s}
}

func (r *ApplicationRepo) CreateBatch(_ context.Context, apps []application.PaymentApplication) error {
	if err := r.store.fault("applications.CreateBatch"); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, a := range apps {
		if err := a.Validate(); err != nil {
			return checkViolation("payment_application", err)
		}
		if _, ok := r.store.st.applications[a.ID]; ok {
			return apperror.NewDuplicate("payment_application", "id", a.ID.String())
		}
	}
	for _, a := range apps {
		r.store.st.applications[a.ID] = a
		r.store.st.appOrder = append(r.store.st.appOrder, a.ID)
	}
	return nil
}

// filter returns matching applications in insertion order. Callers hold mu.
func (r *ApplicationRepo) filter(match func(application.PaymentApplication) bool) []application.PaymentApplication {
	var out []application.PaymentApplication
	for _, appID := range r.store.st.appOrder {
		a, ok := r.store.st.applications[appID]
		if ok && match(a) {
			out = append(out, a)
		}
	}
	return out
}

func (r *ApplicationRepo) ListUnremitted(_ context.Context) ([]application.PaymentApplication, error) {
	if err := r.store.fault("applications.ListUnremitted"); err != nil {
		return nil, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.filter(func(a application.PaymentApplication) bool { return !a.Remitted }), nil
}

func (r *ApplicationRepo) ListByOrder(_ context.Context, orderID int64) ([]application.PaymentApplication, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.filter(func(a application.PaymentApplication) bool { return a.OrderID == orderID }), nil
}

func (r *ApplicationRepo) ListByPayment(_ context.Context, paymentID id.ID) ([]application.PaymentApplication, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.filter(func(a application.PaymentApplication) bool { return a.PaymentID == paymentID }), nil
}

func (r *ApplicationRepo) GetForUpdate(_ context.Context, ids []id.ID) ([]application.PaymentApplication, error) {
	if err := r.store.fault("applications.GetForUpdate"); err != nil {
		return nil, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	out := make([]application.PaymentApplication, 0, len(ids))
	for _, v := range ids {
		if a, ok := r.store.st.applications[v]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *ApplicationRepo) MarkRemitted(_ context.Context, ids []id.ID, remittedBy string, at time.Time) (int64, error) {
	if err := r.store.fault("applications.MarkRemitted"); err != nil {
		return 0, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var n int64
	for _, v := range ids {
		a, ok := r.store.st.applications[v]
		if !ok || a.Remitted {
			continue
		}
		by, when := remittedBy, at
		a.Remitted = true
		a.RemittedBy = &by
		a.RemittedDate = &when
		r.store.st.applications[v] = a
		n++
	}
	return n, nil
}

func (r *ApplicationRepo) SumByOrder(_ context.Context, orderID int64) (types.Money, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	sum := types.Zero()
	for _, a := range r.store.st.applications {
		if a.OrderID == orderID {
			sum = sum.Add(a.AmountApplied)
		}
	}
	return sum, nil
}

func (r *ApplicationRepo) TotalsByPayType(_ context.Context, f application.TotalsFilter) ([]application.PayTypeTotal, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	byType := make(map[string]*application.PayTypeTotal)
	for _, a := range r.store.st.applications {
		if f.Remitted != nil && a.Remitted != *f.Remitted {
			continue
		}
		if f.DateFrom != nil && a.PayDate.Before(*f.DateFrom) {
			continue
		}
		if f.DateTo != nil && a.PayDate.After(*f.DateTo) {
			continue
		}
		t, ok := byType[a.PayType]
		if !ok {
			t = &application.PayTypeTotal{PayType: a.PayType, Total: types.Zero()}
			byType[a.PayType] = t
		}
		t.Count++
		t.Total = t.Total.Add(a.AmountApplied)
	}

	out := make([]application.PayTypeTotal, 0, len(byType))
	for _, t := range byType {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PayType < out[j].PayType })
	return out, nil
}

var _ application.Repository = (*ApplicationRepo)(nil)
