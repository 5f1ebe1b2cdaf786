// Package memory is an in-process storage backend: every repository the
// payment engine needs, plus a transaction manager that restores a
// snapshot on rollback. It serves local development and tests.
package memory

import (
	"context"
	"maps"
	"sync"

	"paydesk/internal/core/apperror"
	"paydesk/internal/core/id"
	"paydesk/internal/core/tx"
	"paydesk/internal/core/types"
	"paydesk/internal/domain/documents/payment"
	"paydesk/internal/domain/orders"
	"paydesk/internal/domain/registers/application"
	"paydesk/internal/domain/wtax"
)

type allocationKey struct {
	draftID id.ID
	orderID int64
}

type state struct {
	drafts       map[id.ID]payment.Draft
	allocations  map[allocationKey]payment.Allocation
	applications map[id.ID]application.PaymentApplication
	appOrder     []id.ID
	orders       map[int64]orders.Balance
	taxTypes     map[string]wtax.TaxType
	vatRate      types.Money
}

func (s *state) clone() *state {
	return &state{
		drafts:       maps.Clone(s.drafts),
		allocations:  maps.Clone(s.allocations),
		applications: maps.Clone(s.applications),
		appOrder:     append([]id.ID(nil), s.appOrder...),
		orders:       maps.Clone(s.orders),
		taxTypes:     maps.Clone(s.taxTypes),
		vatRate:      s.vatRate,
	}
}

// Store holds all tables. Repositories returned by its accessors share it.
type Store struct {
	mu sync.Mutex
	st *state

	// txMu serializes transactions so a snapshot can be restored safely.
	txMu sync.Mutex

	faultsMu sync.Mutex
	faults   map[string][]error
}

// NewStore creates an empty store with a 12% VAT rate.
func NewStore() *Store {
	return &Store{
		st: &state{
			drafts:       make(map[id.ID]payment.Draft),
			allocations:  make(map[allocationKey]payment.Allocation),
			applications: make(map[id.ID]application.PaymentApplication),
			orders:       make(map[int64]orders.Balance),
			taxTypes:     make(map[string]wtax.TaxType),
			vatRate:      types.MustMoney("12"),
		},
		faults: make(map[string][]error),
	}
}

// FailNext makes the next calls of op return errs, one per call.
// Operation names are "<repo>.<method>", e.g. "orders.ApplyPayment".
func (s *Store) FailNext(op string, errs ...error) {
	s.faultsMu.Lock()
	defer s.faultsMu.Unlock()
	s.faults[op] = append(s.faults[op], errs...)
}

func (s *Store) fault(op string) error {
	s.faultsMu.Lock()
	defer s.faultsMu.Unlock()
	queue := s.faults[op]
	if len(queue) == 0 {
		return nil
	}
	s.faults[op] = queue[1:]
	return queue[0]
}

// checkViolation reports a row rejected by the table constraints in
// migrations/001_payments.sql, the same way the postgres store does.
func checkViolation(entity string, err error) error {
	return apperror.NewValidation("value violates a storage constraint").
		WithDetail("entity", entity).
		WithCause(err)
}

// SetOrder creates or replaces an order balance.
func (s *Store) SetOrder(b orders.Balance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.orders[b.OrderID] = b
}

// SetTaxType creates or replaces a withholding tax type.
func (s *Store) SetTaxType(t wtax.TaxType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.taxTypes[t.Code] = t
}

// SetVATRate replaces the VAT rate.
func (s *Store) SetVATRate(rate types.Money) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.vatRate = rate
}

// TxManager implements tx.ReadOnlyManager over the store.
type TxManager struct {
	store *Store
}

type txKey struct{}

// TxManager returns the store's transaction manager.
func (s *Store) TxManager() *TxManager {
	return &TxManager{store: s}
}

// RunInTransaction implements tx.Manager. Nested calls join the outer
// transaction; a failing outer fn restores the state seen at BEGIN.
func (m *TxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	m.store.txMu.Lock()
	defer m.store.txMu.Unlock()

	m.store.mu.Lock()
	snapshot := m.store.st.clone()
	m.store.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		m.store.mu.Lock()
		m.store.st = snapshot
		m.store.mu.Unlock()
		return err
	}
	return nil
}

// ReadOnly runs fn against a stable view: no write transaction can start
// until it returns. Nested calls join the outer transaction.
func (m *TxManager) ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	m.store.txMu.Lock()
	defer m.store.txMu.Unlock()
	return fn(context.WithValue(ctx, txKey{}, true))
}

var _ tx.ReadOnlyManager = (*TxManager)(nil)
