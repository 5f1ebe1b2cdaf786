package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paydesk/internal/core/apperror"
	"paydesk/internal/core/id"
	"paydesk/internal/core/types"
	"paydesk/internal/domain/orders"
	"paydesk/internal/domain/registers/application"
	"paydesk/internal/infrastructure/storage/memory"
)

var remitAt = time.Date(2025, 3, 31, 17, 0, 0, 0, time.UTC)

type countingMetrics struct {
	runs  int
	count int
	total types.Money
}

func (m *countingMetrics) RemittanceCompleted(count int, total types.Money) {
	m.runs++
	m.count += count
	m.total = total
}

func newService(t *testing.T) (*application.Service, *memory.Store, *countingMetrics) {
	t.Helper()
	store := memory.NewStore()
	metrics := &countingMetrics{}
	svc := application.NewService(application.ServiceConfig{
		Repo:      store.Applications(),
		Ledger:    store.Orders(),
		TxManager: store.TxManager(),
		Metrics:   metrics,
		Clock:     func() time.Time { return remitAt },
	})
	return svc, store, metrics
}

func newApp(payType string, orderID int64, amount string) application.PaymentApplication {
	return application.PaymentApplication{
		ID:            id.New(),
		PaymentID:     id.New(),
		PaymentNumber: "PAY-2025-00001",
		OrderID:       orderID,
		PayType:       payType,
		PayDate:       time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
		ORNumber:      "OR-1001",
		PayerName:     "Santos Printing Supply",
		AmountApplied: types.MustMoney(amount),
		Withheld:      types.Zero(),
		PostedBy:      "cashier-1",
		PostedAt:      time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
	}
}

func seed(t *testing.T, svc *application.Service, apps ...application.PaymentApplication) {
	t.Helper()
	require.NoError(t, svc.Record(context.Background(), apps))
}

func TestRecord_Validation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Record(ctx, nil))

	bad := newApp("Cash", 0, "10")
	err := svc.Record(ctx, []application.PaymentApplication{bad})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	bad = newApp("Cash", 1, "-10")
	err = svc.Record(ctx, []application.PaymentApplication{bad})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	// a zero application moves no money
	bad = newApp("Cash", 1, "0")
	err = svc.Record(ctx, []application.PaymentApplication{bad})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	batch, err := svc.ListUnremitted(ctx)
	require.NoError(t, err)
	assert.Zero(t, batch.Count)
}

func TestListUnremitted_GroupsByPayType(t *testing.T) {
	svc, _, _ := newService(t)
	seed(t, svc,
		newApp("Check", 1, "500"),
		newApp("Cash", 2, "120.50"),
		newApp("Cash", 3, "79.50"),
	)

	batch, err := svc.ListUnremitted(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, batch.Count)
	assert.True(t, types.MustMoney("700").Equal(batch.GrandTotal))
	require.Len(t, batch.Groups, 2)
	assert.Equal(t, "Cash", batch.Groups[0].PayType)
	assert.Equal(t, 2, batch.Groups[0].Count)
	assert.True(t, types.MustMoney("200").Equal(batch.Groups[0].Subtotal))
	assert.Equal(t, "Check", batch.Groups[1].PayType)
	assert.Equal(t, int64(1), batch.Groups[1].Applications[0].OrderID)
}

func TestRemit_MarksAll(t *testing.T) {
	svc, store, metrics := newService(t)
	a, b := newApp("Cash", 1, "100"), newApp("Check", 2, "250")
	seed(t, svc, a, b)

	n, err := svc.Remit(context.Background(), []id.ID{a.ID, b.ID, a.ID}, "Treasurer Cruz")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := store.Applications().GetForUpdate(context.Background(), []id.ID{a.ID, b.ID})
	require.NoError(t, err)
	for _, r := range rows {
		assert.True(t, r.Remitted)
		require.NotNil(t, r.RemittedBy)
		assert.Equal(t, "Treasurer Cruz", *r.RemittedBy)
		require.NotNil(t, r.RemittedDate)
		assert.Equal(t, remitAt, *r.RemittedDate)
	}

	batch, err := svc.ListUnremitted(context.Background())
	require.NoError(t, err)
	assert.Zero(t, batch.Count)

	assert.Equal(t, 1, metrics.runs)
	assert.True(t, types.MustMoney("350").Equal(metrics.total))
}

func TestRemit_AllOrNothing(t *testing.T) {
	svc, _, _ := newService(t)
	a, b, c := newApp("Cash", 1, "100"), newApp("Cash", 2, "200"), newApp("Cash", 3, "300")
	seed(t, svc, a, b, c)
	ctx := context.Background()

	_, err := svc.Remit(ctx, []id.ID{a.ID}, "Treasurer Cruz")
	require.NoError(t, err)

	_, err = svc.Remit(ctx, []id.ID{b.ID, a.ID}, "Treasurer Cruz")
	require.True(t, apperror.HasCode(err, apperror.CodeAlreadyRemitted))
	appErr, _ := apperror.AsAppError(err)
	assert.Equal(t, []string{a.ID.String()}, appErr.Details["ids"])

	_, err = svc.Remit(ctx, []id.ID{c.ID, id.New()}, "Treasurer Cruz")
	assert.True(t, apperror.IsNotFound(err))

	batch, err := svc.ListUnremitted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Count)
}

func TestRemit_StoreFailureRollsBack(t *testing.T) {
	svc, store, metrics := newService(t)
	a := newApp("Cash", 1, "100")
	seed(t, svc, a)

	store.FailNext("applications.MarkRemitted", apperror.NewStoreUnavailable(assert.AnError))

	_, err := svc.Remit(context.Background(), []id.ID{a.ID}, "Treasurer Cruz")
	assert.True(t, apperror.IsStoreUnavailable(err))
	assert.Zero(t, metrics.runs)

	batch, err := svc.ListUnremitted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Count)
}

func TestRemit_Validation(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.Remit(context.Background(), nil, "Treasurer Cruz")
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	_, err = svc.Remit(context.Background(), []id.ID{id.New()}, "")
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestHistoryAndTotals(t *testing.T) {
	svc, _, _ := newService(t)
	first, second := newApp("Cash", 7, "100"), newApp("Check", 7, "50")
	other := newApp("Cash", 8, "30")
	seed(t, svc, first, second, other)
	ctx := context.Background()

	history, err := svc.History(ctx, 7)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, first.ID, history[0].ID)

	byPayment, err := svc.ListByPayment(ctx, other.PaymentID)
	require.NoError(t, err)
	assert.Len(t, byPayment, 1)

	_, err = svc.Remit(ctx, []id.ID{other.ID}, "Treasurer Cruz")
	require.NoError(t, err)

	unremitted := false
	totals, err := svc.Totals(ctx, application.TotalsFilter{Remitted: &unremitted})
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, "Cash", totals[0].PayType)
	assert.Equal(t, int64(1), totals[0].Count)
	assert.True(t, types.MustMoney("100").Equal(totals[0].Total))

	all, err := svc.Totals(ctx, application.TotalsFilter{})
	require.NoError(t, err)
	assert.True(t, types.MustMoney("130").Equal(all[0].Total))
}

func TestRecalculateAmountPaid(t *testing.T) {
	svc, store, _ := newService(t)
	store.SetOrder(orders.Balance{OrderID: 7, GrandTotal: types.MustMoney("500"), AmountPaid: types.MustMoney("999")})
	seed(t, svc, newApp("Cash", 7, "100"), newApp("Check", 7, "50.25"))

	sum, err := svc.RecalculateAmountPaid(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, types.MustMoney("150.25").Equal(sum))

	b, err := store.Orders().GetBalance(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, types.MustMoney("150.25").Equal(b.AmountPaid))

	_, err = svc.RecalculateAmountPaid(context.Background(), 404)
	assert.True(t, apperror.IsNotFound(err))
}

type countingTx struct {
	*memory.TxManager
	reads  int
	writes int
}

func (c *countingTx) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	c.writes++
	return c.TxManager.RunInTransaction(ctx, fn)
}

func (c *countingTx) ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	c.reads++
	return c.TxManager.ReadOnly(ctx, fn)
}

func TestReportsUseReadOnlyTransactions(t *testing.T) {
	store := memory.NewStore()
	txm := &countingTx{TxManager: store.TxManager()}
	svc := application.NewService(application.ServiceConfig{
		Repo:      store.Applications(),
		Ledger:    store.Orders(),
		TxManager: txm,
	})
	ctx := context.Background()
	a := newApp("Cash", 7, "100")
	seed(t, svc, a)

	_, err := svc.ListUnremitted(ctx)
	require.NoError(t, err)
	_, err = svc.History(ctx, 7)
	require.NoError(t, err)
	_, err = svc.ListByPayment(ctx, a.PaymentID)
	require.NoError(t, err)
	_, err = svc.Totals(ctx, application.TotalsFilter{})
	require.NoError(t, err)

	assert.Equal(t, 4, txm.reads)
	assert.Zero(t, txm.writes)

	_, err = svc.Remit(ctx, []id.ID{a.ID}, "Treasurer Cruz")
	require.NoError(t, err)
	assert.Equal(t, 1, txm.writes)
}
