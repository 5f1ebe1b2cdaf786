package register_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"paydesk/internal/core/apperror"
	"paydesk/internal/core/types"
	"paydesk/internal/domain/orders"
	"paydesk/internal/infrastructure/storage/postgres"
)

const ordersTable = "orders"

// OrderLedger implements orders.Ledger on the shop's orders table. It only
// reads grand_total and writes amount_paid and date_paid.
type OrderLedger struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

// NewOrderLedger creates a new order ledger.
func NewOrderLedger(txManager *postgres.TxManager) *OrderLedger {
	return &OrderLedger{txManager: txManager, builder: postgres.Builder()}
}

var _ orders.Ledger = (*OrderLedger)(nil)

func (l *OrderLedger) GetBalance(ctx context.Context, orderID int64) (orders.Balance, error) {
	var b orders.Balance
	sql, args, err := l.builder.Select("order_id", "grand_total", "amount_paid", "date_paid").
		From(ordersTable).
		Where(squirrel.Eq{"order_id": orderID}).
		ToSql()
	if err != nil {
		return b, fmt.Errorf("build query: %w", err)
	}
	if err := pgxscan.Get(ctx, l.txManager.GetQuerier(ctx), &b, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return b, apperror.NewNotFound("order", orderID)
		}
		return b, postgres.MapError(fmt.Errorf("get order balance: %w", err), ordersTable)
	}
	return b, nil
}

func (l *OrderLedger) applyPaymentQuery(orderID int64, amount types.Money, paidAt time.Time) squirrel.UpdateBuilder {
	return l.builder.Update(ordersTable).
		Set("amount_paid", squirrel.Expr("amount_paid + ?", amount)).
		Set("date_paid", paidAt).
		Where(squirrel.Eq{"order_id": orderID})
}

// ApplyPayment adds amount atomically in SQL, so concurrent posts against
// the same order never lose an increment.
func (l *OrderLedger) ApplyPayment(ctx context.Context, orderID int64, amount types.Money, paidAt time.Time) error {
	return l.exec(ctx, orderID, l.applyPaymentQuery(orderID, amount, paidAt))
}

func (l *OrderLedger) SetAmountPaid(ctx context.Context, orderID int64, amount types.Money) error {
	return l.exec(ctx, orderID, l.builder.Update(ordersTable).
		Set("amount_paid", amount).
		Where(squirrel.Eq{"order_id": orderID}))
}

func (l *OrderLedger) exec(ctx context.Context, orderID int64, q squirrel.UpdateBuilder) error {
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := l.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return postgres.MapError(fmt.Errorf("update order %d: %w", orderID, err), ordersTable)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("order", orderID)
	}
	return nil
}
