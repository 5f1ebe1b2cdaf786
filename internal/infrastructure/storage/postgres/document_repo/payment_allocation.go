package document_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"paydesk/internal/core/apperror"
	"paydesk/internal/core/id"
	"paydesk/internal/domain/documents/payment"
	"paydesk/internal/infrastructure/storage/postgres"
)

const paymentAllocationTable = "payment_allocation"

var allocationColumns = postgres.ExtractDBColumns[payment.Allocation]()

// PaymentAllocationRepo implements payment.AllocationStore on the
// payment_allocation table, keyed by (draft_id, order_id).
type PaymentAllocationRepo struct {
	txManager *postgres.TxManager
}

// NewPaymentAllocationRepo creates a new allocation repository.
func NewPaymentAllocationRepo(txManager *postgres.TxManager) *PaymentAllocationRepo {
	return &PaymentAllocationRepo{txManager: txManager}
}

var _ payment.AllocationStore = (*PaymentAllocationRepo)(nil)

func (r *PaymentAllocationRepo) key(draftID id.ID, orderID int64) squirrel.Eq {
	return squirrel.Eq{"draft_id": draftID, "order_id": orderID}
}

func (r *PaymentAllocationRepo) Get(ctx context.Context, draftID id.ID, orderID int64) (*payment.Allocation, error) {
	sql, args, err := postgres.Builder().Select(allocationColumns...).
		From(paymentAllocationTable).
		Where(r.key(draftID, orderID)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var a payment.Allocation
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &a, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound(paymentAllocationTable, orderID)
		}
		return nil, postgres.MapError(fmt.Errorf("get allocation: %w", err), paymentAllocationTable)
	}
	return &a, nil
}

func (r *PaymentAllocationRepo) List(ctx context.Context, draftID id.ID) ([]payment.Allocation, error) {
	sql, args, err := postgres.Builder().Select(allocationColumns...).
		From(paymentAllocationTable).
		Where(squirrel.Eq{"draft_id": draftID}).
		OrderBy("order_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var out []payment.Allocation
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, postgres.MapError(fmt.Errorf("list allocations: %w", err), paymentAllocationTable)
	}
	return out, nil
}

func (r *PaymentAllocationRepo) Insert(ctx context.Context, a *payment.Allocation) error {
	sql, args, err := postgres.Builder().Insert(paymentAllocationTable).
		SetMap(postgres.StructToMap(a)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return postgres.MapError(fmt.Errorf("insert allocation: %w", err), paymentAllocationTable)
	}
	return nil
}

func (r *PaymentAllocationRepo) Update(ctx context.Context, a *payment.Allocation) error {
	sql, args, err := postgres.Builder().Update(paymentAllocationTable).
		Set("amount_applied", a.AmountApplied).
		Set("withheld_amount", a.Withheld).
		Set("updated_at", a.UpdatedAt).
		Where(r.key(a.DraftID, a.OrderID)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return postgres.MapError(fmt.Errorf("update allocation: %w", err), paymentAllocationTable)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound(paymentAllocationTable, a.OrderID)
	}
	return nil
}

func (r *PaymentAllocationRepo) Delete(ctx context.Context, draftID id.ID, orderID int64) (bool, error) {
	n, err := r.delete(ctx, r.key(draftID, orderID))
	return n > 0, err
}

func (r *PaymentAllocationRepo) DeleteAll(ctx context.Context, draftID id.ID) (int64, error) {
	return r.delete(ctx, squirrel.Eq{"draft_id": draftID})
}

func (r *PaymentAllocationRepo) delete(ctx context.Context, where squirrel.Eq) (int64, error) {
	sql, args, err := postgres.Builder().Delete(paymentAllocationTable).Where(where).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}
	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return 0, postgres.MapError(fmt.Errorf("delete allocations: %w", err), paymentAllocationTable)
	}
	return tag.RowsAffected(), nil
}

// aggregateQuery sums a draft's allocations in the database.
func aggregateQuery(draftID id.ID) squirrel.SelectBuilder {
	return postgres.Builder().
		Select(
			"COUNT(*) AS allocation_count",
			"COALESCE(SUM(amount_applied), 0) AS allocated_amount",
			"COALESCE(SUM(withheld_amount), 0) AS withheld_amount",
		).
		From(paymentAllocationTable).
		Where(squirrel.Eq{"draft_id": draftID})
}

func (r *PaymentAllocationRepo) Aggregate(ctx context.Context, draftID id.ID) (payment.Aggregate, error) {
	var agg payment.Aggregate
	sql, args, err := aggregateQuery(draftID).ToSql()
	if err != nil {
		return agg, fmt.Errorf("build aggregate: %w", err)
	}
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &agg, sql, args...); err != nil {
		return agg, postgres.MapError(fmt.Errorf("aggregate allocations: %w", err), paymentAllocationTable)
	}
	return agg, nil
}
