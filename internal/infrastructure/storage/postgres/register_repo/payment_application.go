// Package register_repo stores registers of posted facts: payment
// applications and order balances.
package register_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"paydesk/internal/core/id"
	"paydesk/internal/core/types"
	"paydesk/internal/domain/registers/application"
	"paydesk/internal/infrastructure/storage/postgres"
)

const paymentApplicationTable = "payment_application"

var applicationColumns = postgres.ExtractDBColumns[application.PaymentApplication]()

// insertColumns excludes the remittance fields, which start empty.
var insertColumns = applicationColumns[:len(applicationColumns)-3]

// PaymentApplicationRepo implements application.Repository.
type PaymentApplicationRepo struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

// NewPaymentApplicationRepo creates a new payment application repository.
func NewPaymentApplicationRepo(txManager *postgres.TxManager) *PaymentApplicationRepo {
	return &PaymentApplicationRepo{
		txManager: txManager,
		builder:   postgres.Builder(),
	}
}

var _ application.Repository = (*PaymentApplicationRepo)(nil)

// CreateBatch inserts applications. Inside a transaction it uses COPY.
func (r *PaymentApplicationRepo) CreateBatch(ctx context.Context, apps []application.PaymentApplication) error {
	if len(apps) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(apps))
	for _, a := range apps {
		m := postgres.StructToMap(a)
		row := make([]any, len(insertColumns))
		for i, col := range insertColumns {
			row[i] = m[col]
		}
		rows = append(rows, row)
	}

	if r.txManager.GetTx(ctx) != nil {
		if _, err := r.txManager.CopyFromSlice(ctx, paymentApplicationTable, insertColumns, rows); err != nil {
			return postgres.MapError(fmt.Errorf("copy applications: %w", err), paymentApplicationTable)
		}
		return nil
	}

	q := r.builder.Insert(paymentApplicationTable).Columns(insertColumns...)
	for _, row := range rows {
		q = q.Values(row...)
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return postgres.MapError(fmt.Errorf("insert applications: %w", err), paymentApplicationTable)
	}
	return nil
}

func (r *PaymentApplicationRepo) selectWhere(where any, suffix ...string) squirrel.SelectBuilder {
	q := r.builder.Select(applicationColumns...).
		From(paymentApplicationTable).
		Where(where).
		OrderBy("posted_at", "id")
	for _, s := range suffix {
		q = q.Suffix(s)
	}
	return q
}

func (r *PaymentApplicationRepo) list(ctx context.Context, q squirrel.SelectBuilder) ([]application.PaymentApplication, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var out []application.PaymentApplication
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, postgres.MapError(fmt.Errorf("select applications: %w", err), paymentApplicationTable)
	}
	return out, nil
}

func (r *PaymentApplicationRepo) ListUnremitted(ctx context.Context) ([]application.PaymentApplication, error) {
	return r.list(ctx, r.selectWhere(squirrel.Eq{"remitted": false}))
}

func (r *PaymentApplicationRepo) ListByOrder(ctx context.Context, orderID int64) ([]application.PaymentApplication, error) {
	return r.list(ctx, r.selectWhere(squirrel.Eq{"order_id": orderID}))
}

func (r *PaymentApplicationRepo) ListByPayment(ctx context.Context, paymentID id.ID) ([]application.PaymentApplication, error) {
	return r.list(ctx, r.selectWhere(squirrel.Eq{"payment_id": paymentID}))
}

// GetForUpdate locks the listed applications for a remittance run.
func (r *PaymentApplicationRepo) GetForUpdate(ctx context.Context, ids []id.ID) ([]application.PaymentApplication, error) {
	if r.txManager.GetTx(ctx) == nil {
		return nil, fmt.Errorf("%s: get for update requires a transaction", paymentApplicationTable)
	}
	return r.list(ctx, r.selectWhere(squirrel.Eq{"id": ids}, "FOR UPDATE"))
}

// markRemittedQuery only touches rows still unremitted, so the affected
// count exposes a concurrent remittance.
func (r *PaymentApplicationRepo) markRemittedQuery(ids []id.ID, remittedBy string, at time.Time) squirrel.UpdateBuilder {
	return r.builder.Update(paymentApplicationTable).
		Set("remitted", true).
		Set("remitted_by", remittedBy).
		Set("remitted_date", at).
		Where(squirrel.Eq{"id": ids, "remitted": false})
}

func (r *PaymentApplicationRepo) MarkRemitted(ctx context.Context, ids []id.ID, remittedBy string, at time.Time) (int64, error) {
	sql, args, err := r.markRemittedQuery(ids, remittedBy, at).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build update: %w", err)
	}
	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return 0, postgres.MapError(fmt.Errorf("mark remitted: %w", err), paymentApplicationTable)
	}
	return tag.RowsAffected(), nil
}

func (r *PaymentApplicationRepo) SumByOrder(ctx context.Context, orderID int64) (types.Money, error) {
	sql, args, err := r.builder.Select("COALESCE(SUM(amount_applied), 0)").
		From(paymentApplicationTable).
		Where(squirrel.Eq{"order_id": orderID}).
		ToSql()
	if err != nil {
		return types.Zero(), fmt.Errorf("build sum: %w", err)
	}
	var sum types.Money
	if err := r.txManager.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&sum); err != nil {
		return types.Zero(), postgres.MapError(fmt.Errorf("sum applications: %w", err), paymentApplicationTable)
	}
	return sum, nil
}

func (r *PaymentApplicationRepo) totalsQuery(f application.TotalsFilter) squirrel.SelectBuilder {
	q := r.builder.Select(
		"pay_type",
		"COUNT(*) AS payment_count",
		"COALESCE(SUM(amount_applied), 0) AS total_amount",
	).From(paymentApplicationTable)

	if f.Remitted != nil {
		q = q.Where(squirrel.Eq{"remitted": *f.Remitted})
	}
	if f.DateFrom != nil {
		q = q.Where(squirrel.GtOrEq{"pay_date": *f.DateFrom})
	}
	if f.DateTo != nil {
		q = q.Where(squirrel.LtOrEq{"pay_date": *f.DateTo})
	}
	return q.GroupBy("pay_type").OrderBy("pay_type")
}

func (r *PaymentApplicationRepo) TotalsByPayType(ctx context.Context, f application.TotalsFilter) ([]application.PayTypeTotal, error) {
	sql, args, err := r.totalsQuery(f).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build totals: %w", err)
	}
	var out []application.PayTypeTotal
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, postgres.MapError(fmt.Errorf("totals by pay type: %w", err), paymentApplicationTable)
	}
	return out, nil
}
