package payment_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paydesk/internal/core/apperror"
	appctx "paydesk/internal/core/context"
	"paydesk/internal/core/events"
	"paydesk/internal/core/id"
	"paydesk/internal/core/numerator"
	"paydesk/internal/core/retry"
	"paydesk/internal/core/types"
	"paydesk/internal/domain/documents/payment"
	"paydesk/internal/domain/orders"
	"paydesk/internal/domain/registers/application"
	"paydesk/internal/domain/wtax"
	"paydesk/internal/infrastructure/storage/memory"
)

var (
	payDate = time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	fixedAt = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

type recordingMetrics struct {
	mu      sync.Mutex
	retries map[string]int
	posts   map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{retries: map[string]int{}, posts: map[string]int{}}
}

func (m *recordingMetrics) AllocationOp(string, string) {}

func (m *recordingMetrics) PostingCompleted(result string, _ types.Money) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts[result]++
}

func (m *recordingMetrics) StoreRetry(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries[op]++
}

type fixture struct {
	store   *memory.Store
	svc     *payment.Service
	apps    *application.Service
	events  *recordingPublisher
	metrics *recordingMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	store.SetTaxType(wtax.TaxType{Code: "V2", Description: "Goods 1%", TaxRate: types.MustMoney("1")})
	store.SetTaxType(wtax.TaxType{Code: "W10", Description: "Professional fees", TaxRate: types.MustMoney("10")})
	store.SetTaxType(wtax.TaxType{Code: "VAT2", Description: "Services 2% of VAT base", TaxRate: types.MustMoney("2"), WithVAT: true})

	pub := &recordingPublisher{}
	metrics := newRecordingMetrics()
	clock := func() time.Time { return fixedAt }

	apps := application.NewService(application.ServiceConfig{
		Repo:      store.Applications(),
		Ledger:    store.Orders(),
		TxManager: store.TxManager(),
		Events:    pub,
		Clock:     clock,
	})

	opts := payment.DefaultOptions()
	opts.PayTypes = []string{"Cash", "Check", "Bank Transfer"}
	opts.Retry = retry.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}

	svc := payment.NewService(payment.Config{
		Drafts:       store.Drafts(),
		Allocations:  store.Allocations(),
		Applications: apps,
		Ledger:       store.Orders(),
		TaxTypes:     wtax.NewService(store.TaxTypes(), store.TaxTypes()),
		TxManager:    store.TxManager(),
		Numerator:    numerator.NewMemoryGenerator(),
		Events:       pub,
		Metrics:      metrics,
		Options:      opts,
		Clock:        clock,
	})

	return &fixture{store: store, svc: svc, apps: apps, events: pub, metrics: metrics}
}

func (f *fixture) order(orderID int64, grandTotal, paid string) {
	f.store.SetOrder(orders.Balance{
		OrderID:    orderID,
		GrandTotal: types.MustMoney(grandTotal),
		AmountPaid: types.MustMoney(paid),
	})
}

func (f *fixture) balance(t *testing.T, orderID int64) orders.Balance {
	t.Helper()
	b, err := f.store.Orders().GetBalance(context.Background(), orderID)
	require.NoError(t, err)
	return b
}

func asCashier(operator string) context.Context {
	return appctx.WithUser(context.Background(), &appctx.UserContext{UserID: operator, Name: "Cashier " + operator})
}

func strPtr(s string) *string { return &s }

func header(amount, taxCode string) payment.DraftInput {
	date := payDate
	return payment.DraftInput{
		PayDate:     &date,
		PayType:     "Cash",
		Amount:      types.MustMoney(amount),
		ORNumber:    "OR-1001",
		PayerName:   "Santos Printing Supply",
		TaxTypeCode: strPtr(taxCode),
	}
}

func assertMoney(t *testing.T, want string, got types.Money, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, types.MustMoney(want).Equal(got),
		append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok, "expected AppError, got %v", err)
	assert.Equal(t, code, appErr.Code)
}

func TestSaveDraft_ConvergesOnActiveDraft(t *testing.T) {
	f := newFixture(t)
	ctx := asCashier("cashier-1")

	first, err := f.svc.SaveDraft(ctx, header("1000", ""))
	require.NoError(t, err)

	in := header("1500", "W10")
	in.PayerName = "  Reyes Bookbinding  "
	second, err := f.svc.SaveDraft(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Reyes Bookbinding", second.PayerName)
	assertMoney(t, "1500", second.Amount)
	// tax type is only taken at creation
	assert.Equal(t, "", second.TaxTypeCode)
	assert.Equal(t, 2, second.Version)
}

func TestSaveDraft_DefaultTaxType(t *testing.T) {
	f := newFixture(t)
	in := header("1000", "")
	in.TaxTypeCode = nil

	d, err := f.svc.SaveDraft(asCashier("cashier-1"), in)
	require.NoError(t, err)
	assert.Equal(t, "V2", d.TaxTypeCode)
}

func TestSaveDraft_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SaveDraft(context.Background(), header("1000", ""))
	assertCode(t, err, apperror.CodeUnauthorized)

	_, err = f.svc.SaveDraft(asCashier("cashier-1"), header("-1", ""))
	assertCode(t, err, apperror.CodeValidation)
}

func TestGetActiveDraft_RestoresAllocations(t *testing.T) {
	f := newFixture(t)
	ctx := asCashier("cashier-1")
	f.order(1, "600", "0")

	d, err := f.svc.SaveDraft(ctx, header("1000", ""))
	require.NoError(t, err)
	_, err = f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: 1})
	require.NoError(t, err)

	view, err := f.svc.GetActiveDraft(ctx)
	require.NoError(t, err)
	assert.Equal(t, d.ID, view.Draft.ID)
	require.Len(t, view.Allocations, 1)
	assertMoney(t, "600", view.Allocations[0].AmountApplied)
	assertMoney(t, "400", view.Summary.Remaining)

	_, err = f.svc.GetActiveDraft(asCashier("cashier-2"))
	assert.True(t, apperror.IsNotFound(err))
}

// Orders A and B each owe 600 against a 1000 payment with no withholding.
func TestToggleOrder_FullAllocationAcrossTwoOrders(t *testing.T) {
	f := newFixture(t)
	ctx := asCashier("cashier-1")
	f.order(1, "600", "0")
	f.order(2, "600", "0")

	d, err := f.svc.SaveDraft(ctx, header("1000", ""))
	require.NoError(t, err)

	a, err := f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: 1})
	require.NoError(t, err)
	assert.Equal(t, payment.ToggleAllocated, a.Outcome)
	assertMoney(t, "600", a.Allocation.AmountApplied)
	assertMoney(t, "0", a.Allocation.Withheld)

	b, err := f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: 2})
	require.NoError(t, err)
	assert.Equal(t, payment.ToggleAllocated, b.Outcome)
	assertMoney(t, "400", b.Allocation.AmountApplied)

	assert.Equal(t, 2, b.Summary.AllocationCount)
	assertMoney(t, "1000", b.Summary.AllocatedAmount)
	assertMoney(t, "0", b.Summary.Remaining)

	res, err := f.svc.Post(ctx, d.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "PAY-2025-00001", res.Number)
	assert.Len(t, res.ApplicationIDs, 2)
	assertMoney(t, "1000", res.Applied)
	assertMoney(t, "0", res.Unapplied)
	assert.False(t, res.DuplicateORNumber)

	assertMoney(t, "600", f.balance(t, 1).AmountPaid)
	assertMoney(t, "400", f.balance(t, 2).AmountPaid)
	require.NotNil(t, f.balance(t, 2).DatePaid)

	batch, err := f.apps.ListUnremitted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Count)
	assertMoney(t, "1000", batch.GrandTotal)

	_, err = f.svc.GetActiveDraft(ctx)
	assert.True(t, apperror.IsNotFound(err))

	view, err := f.svc.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, view.Allocations)
	assert.Equal(t, "PAY-2025-00001", view.Draft.Number)

	assert.Contains(t, f.events.types(), events.TypePaymentPosted)
}

func TestPost_PartialNeedsConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := asCashier("cashier-1")
	f.order(1, "600", "0")

	d, err := f.svc.SaveDraft(ctx, header("1000", ""))
	require.NoError(t, err)
	_, err = f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: 1})
	require.NoError(t, err)

	_, err = f.svc.Post(ctx, d.ID, false)
	assertCode(t, err, apperror.CodePartialConfirmationRequired)
	appErr, _ := apperror.AsAppError(err)
	assert.Equal(t, "400", appErr.Details["shortfall"])

	view, err := f.svc.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, view.Draft.IsDraft())
	assert.Len(t, view.Allocations, 1)
	assertMoney(t, "0", f.balance(t, 1).AmountPaid)

	res, err := f.svc.Post(ctx, d.ID, true)
	require.NoError(t, err)
	assertMoney(t, "600", res.Applied)
	assertMoney(t, "400", res.Unapplied)
	assertMoney(t, "600", f.balance(t, 1).AmountPaid)
	assertMoney(t, "0", f.balance(t, 1).Outstanding())
}

func TestToggleOrder_VATInclusiveWithholding(t *testing.T) {
	f := newFixture(t)
	ctx := asCashier("cashier-1")
	f.order(7, "1120", "0")

	d, err := f.svc.SaveDraft(ctx, header("1120", "VAT2"))
	require.NoError(t, err)

	res, err := f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: 7})
	require.NoError(t, err)
	require.Equal(t, payment.ToggleAllocated, res.Outcome)

	// base 1120 / 1.12 = 1000, 2% of base withheld
	assertMoney(t, "20", res.Allocation.Withheld)
	assertMoney(t, "1100", res.Allocation.AmountApplied)
	assertMoney(t, "20", res.Summary.WithheldAmount)
	assertMoney(t, "20", res.Summary.Remaining)
}

func TestToggleOrder_VATInclusiveBalanceBelowWithholding(t *testing.T) {
	f := newFixture(t)
	ctx := asCashier("cashier-1")
	// 20 would be withheld on 1120, only 10 is left to pay
	f.order(7, "1120", "1110")

	d, err := f.svc.SaveDraft(ctx, header("1000", "VAT2"))
	require.NoError(t, err)

	res, err := f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: 7})
	require.NoError(t, err)
	require.Equal(t, payment.ToggleAllocated, res.Outcome)
	assertMoney(t, "10", res.Allocation.AmountApplied)
	assertMoney(t, "0", res.Allocation.Withheld)
	assert.Equal(t, 1, res.Summary.AllocationCount)
	assertMoney(t, "990", res.Summary.Remaining)
}

func TestToggleOrder_ConcurrentTogglesKeepBothAllocations(t *testing.T) {
	f := newFixture(t)
	ctx := asCashier("cashier-1")
	f.order(1, "300", "0")
	f.order(2, "400", "0")

	d, err := f.svc.SaveDraft(ctx, header("1000", ""))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, orderID := range []int64{1, 2} {
		wg.Add(1)
		go func(orderID int64) {
			defer wg.Done()
			_, err := f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: orderID})
			errs <- err
		}(orderID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	view, err := f.svc.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, view.Summary.AllocationCount)
	assertMoney(t, "700", view.Summary.AllocatedAmount)
	assertMoney(t, "300", view.Summary.Remaining)
}

func TestToggleOrder_SecondToggleRemoves(t *testing.T) {
	f := newFixture(t)
	ctx := asCashier("cashier-1")
	f.order(1, "600", "0")

	d, err := f.svc.SaveDraft(ctx, header("1000", ""))
	require.NoError(t, err)
	_, err = f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: 1})
	require.NoError(t, err)

	res, err := f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: 1})
	require.NoError(t, err)
	assert.Equal(t, payment.ToggleRemoved, res.Outcome)
	assert.Nil(t, res.Allocation)
	assert.Equal(t, 0, res.Summary.AllocationCount)
	assertMoney(t, "1000", res.Summary.Remaining)
}

func TestToggleOrder_SkipsWhenNothingRemains(t *testing.T) {
	f := newFixture(t)
	ctx := asCashier("cashier-1")
	f.order(1, "600", "0")
	f.order(2, "250", "250")
	f.order(3, "100", "0")

	d, err := f.svc.SaveDraft(ctx, header("600", ""))
	require.NoError(t, err)
	_, err = f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: 1})
	require.NoError(t, err)

	res, err := f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: 3})
	require.NoError(t, err)
	assert.Equal(t, payment.ToggleSkipped, res.Outcome)
	assert.Equal(t, 1, res.Summary.AllocationCount)

	_, err = f.svc.DeleteAllocation(ctx, d.ID, 1)
	require.NoError(t, err)

	// fully paid order has no balance
	res, err = f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: 2})
	require.NoError(t, err)
	assert.Equal(t, payment.ToggleSkipped, res.Outcome)
}

func TestToggleOrder_UsesCallerBalance(t *testing.T) {
	f := newFixture(t)
	ctx := asCashier("cashier-1")

	d, err := f.svc.SaveDraft(ctx, header("1000", ""))
	require.NoError(t, err)

	balance, total := types.MustMoney("250"), types.MustMoney("900")
	res, err := f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: 99, Balance: &balance, GrandTotal: &total})
	require.NoError(t, err)
	assertMoney(t, "250", res.Allocation.AmountApplied)

	_, err = f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: 100})
	assert.True(t, apperror.IsNotFound(err))
}

func TestToggleOrder_HeaderIncomplete(t *testing.T) {
	f := newFixture(t)
	ctx := asCashier("cashier-1")
	f.order(1, "600", "0")

	in := header("1000", "")
	in.PayerName = ""
	in.PayType = "Barter"
	d, err := f.svc.SaveDraft(ctx, in)
	require.NoError(t, err)

	_, err = f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: 1})
	assertCode(t, err, apperror.CodeHeaderIncomplete)
	appErr, _ := apperror.AsAppError(err)
	assert.Equal(t, []string{"payType", "payerName"}, appErr.Details["missing"])
}

func TestDeleteThenToggle_ResetsAmount(t *testing.T) {
	f := newFixture(t)
	ctx := asCashier("cashier-1")
	f.order(1, "600", "0")

	d, err := f.svc.SaveDraft(ctx, header("1000", ""))
	require.NoError(t, err)
	_, err = f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: 1})
	require.NoError(t, err)

	edited, err := f.svc.SetAllocationAmount(ctx, d.ID, 1, types.MustMoney("100"))
	require.NoError(t, err)
	assertMoney(t, "100", edited.Allocation.AmountApplied)
	assertMoney(t, "900", edited.Summary.Remaining)

	summary, err := f.svc.DeleteAllocation(ctx, d.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.AllocationCount)

	// deleting again is not an error
	_, err = f.svc.DeleteAllocation(ctx, d.ID, 1)
	require.NoError(t, err)

	res, err := f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: 1})
	require.NoError(t, err)
	assertMoney(t, "600", res.Allocation.AmountApplied)
}

func TestSetAllocationAmount_Clamped(t *testing.T) {
	f := newFixture(t)
	ctx := asCashier("cashier-1")
	f.order(1, "600", "0")
	f.order(2, "600", "0")

	d, err := f.svc.SaveDraft(ctx, header("1000", ""))
	require.NoError(t, err)
	for _, orderID := range []int64{1, 2} {
		_, err = f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: orderID})
		require.NoError(t, err)
	}

	res, err := f.svc.SetAllocationAmount(ctx, d.ID, 2, types.MustMoney("900"))
	require.NoError(t, err)
	assertMoney(t, "400", res.Allocation.AmountApplied)
	assertMoney(t, "0", res.Summary.Remaining)

	res, err = f.svc.SetAllocationAmount(ctx, d.ID, 1, types.MustMoney("-5"))
	require.NoError(t, err)
	assert.True(t, res.Removed)
	assertMoney(t, "0", res.Allocation.AmountApplied)
	assertMoney(t, "400", res.Summary.AllocatedAmount)
	assert.Equal(t, 1, res.Summary.AllocationCount)

	_, err = f.svc.SetAllocationAmount(ctx, d.ID, 3, types.MustMoney("1"))
	assert.True(t, apperror.IsNotFound(err))
}

func TestSetAllocationAmount_ZeroUnallocatesBeforePost(t *testing.T) {
	f := newFixture(t)
	ctx := asCashier("cashier-1")
	f.order(1, "600", "0")
	f.order(2, "600", "0")

	d, err := f.svc.SaveDraft(ctx, header("1000", ""))
	require.NoError(t, err)
	for _, orderID := range []int64{1, 2} {
		_, err = f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: orderID})
		require.NoError(t, err)
	}

	res, err := f.svc.SetAllocationAmount(ctx, d.ID, 2, types.Zero())
	require.NoError(t, err)
	assert.True(t, res.Removed)
	assert.Equal(t, 1, res.Summary.AllocationCount)

	_, err = f.store.Allocations().Get(ctx, d.ID, 2)
	assert.True(t, apperror.IsNotFound(err))

	posted, err := f.svc.Post(ctx, d.ID, true)
	require.NoError(t, err)
	require.Len(t, posted.ApplicationIDs, 1)
	assertMoney(t, "600", posted.Applied)

	apps, err := f.apps.ListByPayment(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, int64(1), apps[0].OrderID)
	for _, a := range apps {
		assert.True(t, a.AmountApplied.IsPositive())
	}

	// nothing was paid to order 2
	assertMoney(t, "0", f.balance(t, 2).AmountPaid)
	assert.Nil(t, f.balance(t, 2).DatePaid)
}

func TestToggleOrder_RemoveWithIncompleteHeader(t *testing.T) {
	f := newFixture(t)
	ctx := asCashier("cashier-1")
	f.order(1, "600", "0")

	d, err := f.svc.SaveDraft(ctx, header("1000", ""))
	require.NoError(t, err)
	_, err = f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: 1})
	require.NoError(t, err)

	cleared := header("0", "")
	cleared.DraftID = &d.ID
	_, err = f.svc.SaveDraft(ctx, cleared)
	require.NoError(t, err)

	res, err := f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: 1})
	require.NoError(t, err)
	assert.Equal(t, payment.ToggleRemoved, res.Outcome)
	assert.Equal(t, 0, res.Summary.AllocationCount)

	// allocating still needs the header
	_, err = f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: 1})
	assertCode(t, err, apperror.CodeHeaderIncomplete)
}

func TestSetWithheldAmount(t *testing.T) {
	f := newFixture(t)
	ctx := asCashier("cashier-1")
	f.order(1, "600", "0")

	d, err := f.svc.SaveDraft(ctx, header("1000", ""))
	require.NoError(t, err)
	_, err = f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: 1})
	require.NoError(t, err)

	res, err := f.svc.SetWithheldAmount(ctx, d.ID, 1, types.MustMoney("12.345"))
	require.NoError(t, err)
	assertMoney(t, "12.35", res.Allocation.Withheld)
	assertMoney(t, "600", res.Allocation.AmountApplied)
	assertMoney(t, "12.35", res.Summary.WithheldAmount)
}

func TestChangeTaxType_KeepsAppliedAmounts(t *testing.T) {
	f := newFixture(t)
	ctx := asCashier("cashier-1")
	f.order(1, "500", "0")
	f.order(2, "300", "0")

	d, err := f.svc.SaveDraft(ctx, header("1000", ""))
	require.NoError(t, err)
	for _, orderID := range []int64{1, 2} {
		_, err = f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: orderID})
		require.NoError(t, err)
	}

	res, err := f.svc.ChangeTaxType(ctx, d.ID, "W10")
	require.NoError(t, err)
	assert.Equal(t, "W10", res.TaxTypeCode)
	require.Len(t, res.Allocations, 2)
	assertMoney(t, "500", res.Allocations[0].AmountApplied)
	assertMoney(t, "50", res.Allocations[0].Withheld)
	assertMoney(t, "300", res.Allocations[1].AmountApplied)
	assertMoney(t, "30", res.Allocations[1].Withheld)
	assertMoney(t, "800", res.Summary.AllocatedAmount)
	assertMoney(t, "80", res.Summary.WithheldAmount)

	res, err = f.svc.ChangeTaxType(ctx, d.ID, "")
	require.NoError(t, err)
	assertMoney(t, "0", res.Summary.WithheldAmount)
	assertMoney(t, "800", res.Summary.AllocatedAmount)

	view, err := f.svc.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "", view.Draft.TaxTypeCode)

	_, err = f.svc.ChangeTaxType(ctx, d.ID, "NOPE")
	assert.True(t, apperror.IsNotFound(err))
}

func TestAllocatedNeverExceedsAmount(t *testing.T) {
	f := newFixture(t)
	ctx := asCashier("cashier-1")
	for i := int64(1); i <= 6; i++ {
		f.order(i, "275.50", "0")
	}

	d, err := f.svc.SaveDraft(ctx, header("1000", ""))
	require.NoError(t, err)

	for i := int64(1); i <= 6; i++ {
		res, err := f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: i})
		require.NoError(t, err)
		assert.True(t, res.Summary.AllocatedAmount.LessThanOrEqual(d.Amount))
		assert.False(t, res.Summary.Remaining.IsNegative())
	}

	view, err := f.svc.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	assertMoney(t, "1000", view.Summary.AllocatedAmount)
	assert.Equal(t, 4, view.Summary.AllocationCount)
}

func TestPost_Rejections(t *testing.T) {
	t.Run("no allocations", func(t *testing.T) {
		f := newFixture(t)
		ctx := asCashier("cashier-1")
		d, err := f.svc.SaveDraft(ctx, header("1000", ""))
		require.NoError(t, err)

		_, err = f.svc.Post(ctx, d.ID, true)
		assertCode(t, err, apperror.CodeValidation)
	})

	t.Run("missing OR number", func(t *testing.T) {
		f := newFixture(t)
		ctx := asCashier("cashier-1")
		f.order(1, "1000", "0")
		in := header("1000", "")
		in.ORNumber = " "
		d, err := f.svc.SaveDraft(ctx, in)
		require.NoError(t, err)
		_, err = f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: 1})
		require.NoError(t, err)

		_, err = f.svc.Post(ctx, d.ID, false)
		assertCode(t, err, apperror.CodeValidation)
		appErr, _ := apperror.AsAppError(err)
		assert.Equal(t, "orNumber", appErr.Details["field"])
	})

	t.Run("amount lowered below allocations", func(t *testing.T) {
		f := newFixture(t)
		ctx := asCashier("cashier-1")
		f.order(1, "600", "0")
		d, err := f.svc.SaveDraft(ctx, header("1000", ""))
		require.NoError(t, err)
		_, err = f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: 1})
		require.NoError(t, err)

		in := header("500", "")
		in.DraftID = &d.ID
		_, err = f.svc.SaveDraft(ctx, in)
		require.NoError(t, err)

		view, err := f.svc.GetDraft(ctx, d.ID)
		require.NoError(t, err)
		assertMoney(t, "-100", view.Summary.Remaining)

		_, err = f.svc.Post(ctx, d.ID, true)
		assertCode(t, err, apperror.CodeOverAllocated)
		assert.Equal(t, 1, f.metrics.posts["over_allocated"])
	})
}

func TestPost_FailureLeavesDraftUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := asCashier("cashier-1")
	f.order(1, "600", "0")
	f.order(2, "400", "0")

	d, err := f.svc.SaveDraft(ctx, header("1000", ""))
	require.NoError(t, err)
	for _, orderID := range []int64{1, 2} {
		_, err = f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: orderID})
		require.NoError(t, err)
	}

	// the second order update fails after the first one was applied
	f.store.FailNext("orders.ApplyPayment", nil, assert.AnError)

	_, err = f.svc.Post(ctx, d.ID, false)
	require.ErrorIs(t, err, assert.AnError)

	view, err := f.svc.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, view.Draft.IsDraft())
	assert.Empty(t, view.Draft.Number)
	assert.Len(t, view.Allocations, 2)
	assertMoney(t, "0", f.balance(t, 1).AmountPaid)
	assertMoney(t, "0", f.balance(t, 2).AmountPaid)

	batch, err := f.apps.ListUnremitted(ctx)
	require.NoError(t, err)
	assert.Zero(t, batch.Count)
	assert.NotContains(t, f.events.types(), events.TypePaymentPosted)

	res, err := f.svc.Post(ctx, d.ID, false)
	require.NoError(t, err)
	assertMoney(t, "1000", res.Applied)
	assertMoney(t, "600", f.balance(t, 1).AmountPaid)
}

func TestToggleOrder_RetriesOnStoreUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := asCashier("cashier-1")
	f.order(1, "600", "0")

	d, err := f.svc.SaveDraft(ctx, header("1000", ""))
	require.NoError(t, err)

	f.store.FailNext("allocations.Insert", apperror.NewStoreUnavailable(assert.AnError))

	res, err := f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: 1})
	require.NoError(t, err)
	assert.Equal(t, payment.ToggleAllocated, res.Outcome)
	assert.Equal(t, 1, res.Summary.AllocationCount)
	assert.Equal(t, 1, f.metrics.retries["toggle"])
}

func TestToggleOrder_GivesUpAfterRetries(t *testing.T) {
	f := newFixture(t)
	ctx := asCashier("cashier-1")
	f.order(1, "600", "0")

	d, err := f.svc.SaveDraft(ctx, header("1000", ""))
	require.NoError(t, err)

	unavailable := apperror.NewStoreUnavailable(assert.AnError)
	f.store.FailNext("allocations.Insert", unavailable, unavailable, unavailable)

	_, err = f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: 1})
	assertCode(t, err, apperror.CodeStoreUnavailable)

	view, err := f.svc.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, view.Allocations)
}

func TestOperatorScoping(t *testing.T) {
	f := newFixture(t)
	owner, other := asCashier("cashier-1"), asCashier("cashier-2")
	f.order(1, "600", "0")

	d, err := f.svc.SaveDraft(owner, header("1000", ""))
	require.NoError(t, err)

	_, err = f.svc.GetDraft(other, d.ID)
	assert.True(t, apperror.IsNotFound(err))
	_, err = f.svc.ToggleOrder(other, d.ID, payment.OrderRef{OrderID: 1})
	assert.True(t, apperror.IsNotFound(err))
	_, err = f.svc.Post(other, d.ID, true)
	assert.True(t, apperror.IsNotFound(err))

	require.NoError(t, f.svc.Cancel(other, d.ID))
	_, err = f.svc.GetDraft(owner, d.ID)
	require.NoError(t, err)

	// each operator keeps an independent draft
	mine, err := f.svc.SaveDraft(other, header("50", ""))
	require.NoError(t, err)
	assert.NotEqual(t, d.ID, mine.ID)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := asCashier("cashier-1")
	f.order(1, "600", "0")

	d, err := f.svc.SaveDraft(ctx, header("1000", ""))
	require.NoError(t, err)
	_, err = f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: 1})
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(ctx, d.ID))
	_, err = f.svc.GetDraft(ctx, d.ID)
	assert.True(t, apperror.IsNotFound(err))

	allocs, err := f.store.Allocations().List(ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, allocs)
	assertMoney(t, "0", f.balance(t, 1).AmountPaid)

	// cancelling twice is a no-op
	require.NoError(t, f.svc.Cancel(ctx, d.ID))
	require.NoError(t, f.svc.Cancel(ctx, id.New()))

	assert.Equal(t, []string{events.TypePaymentCancelled}, f.events.types())
}

func TestPostedDraftIsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := asCashier("cashier-1")
	f.order(1, "1000", "0")

	d, err := f.svc.SaveDraft(ctx, header("1000", ""))
	require.NoError(t, err)
	_, err = f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: 1})
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, d.ID, false)
	require.NoError(t, err)

	assertCode(t, f.svc.Cancel(ctx, d.ID), apperror.CodeDraftClosed)
	_, err = f.svc.Post(ctx, d.ID, false)
	assertCode(t, err, apperror.CodeDraftClosed)
	_, err = f.svc.DeleteAllocation(ctx, d.ID, 1)
	assertCode(t, err, apperror.CodeDraftClosed)

	in := header("10", "")
	in.DraftID = &d.ID
	_, err = f.svc.SaveDraft(ctx, in)
	assertCode(t, err, apperror.CodeDraftClosed)
}

func TestDuplicateORNumberIsAWarning(t *testing.T) {
	f := newFixture(t)
	ctx := asCashier("cashier-1")
	f.order(1, "100", "0")
	f.order(2, "100", "0")

	post := func(orderID int64) *payment.PostResult {
		d, err := f.svc.SaveDraft(ctx, header("100", ""))
		require.NoError(t, err)
		_, err = f.svc.ToggleOrder(ctx, d.ID, payment.OrderRef{OrderID: orderID})
		require.NoError(t, err)

		if orderID == 2 {
			dup, err := f.svc.CheckORNumber(ctx, "OR-1001", d.ID)
			require.NoError(t, err)
			assert.True(t, dup)
		}

		res, err := f.svc.Post(ctx, d.ID, false)
		require.NoError(t, err)
		return res
	}

	first := post(1)
	assert.False(t, first.DuplicateORNumber)
	second := post(2)
	assert.True(t, second.DuplicateORNumber)
	assert.Equal(t, "PAY-2025-00002", second.Number)

	_, err := f.svc.CheckORNumber(ctx, "", id.New())
	assertCode(t, err, apperror.CodeValidation)
}
