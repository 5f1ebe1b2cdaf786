package memory

import (
	"context"
	"time"

	"paydesk/internal/core/apperror"
	"paydesk/internal/core/types"
	"paydesk/internal/domain/orders"
)

// OrderLedger implements orders.Ledger.
type OrderLedger struct {
	store *Store
}

// Orders returns the order ledger.
func (s *Store) Orders() *OrderLedger {
	return &OrderLedger{store: s}
}

func (l *OrderLedger) GetBalance(_ context.Context, orderID int64) (orders.Balance, error) {
	if err := l.store.fault("orders.GetBalance"); err != nil {
		return orders.Balance{}, err
	}
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	b, ok := l.store.st.orders[orderID]
	if !ok {
		return orders.Balance{}, apperror.NewNotFound("order", orderID)
	}
	return b, nil
}

func (l *OrderLedger) ApplyPayment(_ context.Context, orderID int64, amount types.Money, paidAt time.Time) error {
	if err := l.store.fault("orders.ApplyPayment"); err != nil {
		return err
	}
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	b, ok := l.store.st.orders[orderID]
	if !ok {
		return apperror.NewNotFound("order", orderID)
	}
	b.AmountPaid = b.AmountPaid.Add(amount)
	b.DatePaid = &paidAt
	l.store.st.orders[orderID] = b
	return nil
}

func (l *OrderLedger) SetAmountPaid(_ context.Context, orderID int64, amount types.Money) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	b, ok := l.store.st.orders[orderID]
	if !ok {
		return apperror.NewNotFound("order", orderID)
	}
	b.AmountPaid = amount
	l.store.st.orders[orderID] = b
	return nil
}

var _ orders.Ledger = (*OrderLedger)(nil)
