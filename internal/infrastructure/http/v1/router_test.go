package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paydesk/internal/core/apperror"
	appctx "paydesk/internal/core/context"
	"paydesk/internal/core/numerator"
	"paydesk/internal/core/retry"
	"paydesk/internal/core/types"
	"paydesk/internal/domain/documents/payment"
	"paydesk/internal/domain/orders"
	"paydesk/internal/domain/registers/application"
	"paydesk/internal/domain/wtax"
	"paydesk/internal/infrastructure/http/v1/dto"
	"paydesk/internal/infrastructure/metrics"
	"paydesk/internal/infrastructure/storage/memory"
	"paydesk/internal/infrastructure/storage/postgres"
	"paydesk/pkg/logger"
)

type staticValidator map[string]*appctx.UserContext

func (v staticValidator) ValidateToken(token string) (*appctx.UserContext, error) {
	if u, ok := v[token]; ok {
		return u, nil
	}
	return nil, errors.New("unknown token")
}

type replayEntry struct {
	status      int
	contentType string
	body        []byte
	hash        string
	done        bool
}

type fakeIdempotency struct {
	mu      sync.Mutex
	entries map[string]*replayEntry
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{entries: map[string]*replayEntry{}}
}

func (f *fakeIdempotency) AcquireKey(_ context.Context, key, _, _, requestHash string) (*postgres.IdempotencyReplay, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	if !ok {
		f.entries[key] = &replayEntry{hash: requestHash}
		return nil, nil
	}
	if e.hash != requestHash {
		return nil, apperror.NewIdempotencyMismatch(key)
	}
	if !e.done {
		return nil, apperror.NewIdempotencyConflict(key)
	}
	return &postgres.IdempotencyReplay{StatusCode: e.status, ContentType: e.contentType, Body: e.body}, nil
}

func (f *fakeIdempotency) CompleteKey(_ context.Context, key string, status int, contentType string, body []byte) error {
	return f.finish(key, status, contentType, body)
}

func (f *fakeIdempotency) FailKey(_ context.Context, key string, status int, contentType string, body []byte) error {
	return f.finish(key, status, contentType, body)
}

func (f *fakeIdempotency) finish(key string, status int, contentType string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.entries[key]
	e.status, e.contentType, e.body, e.done = status, contentType, body, true
	return nil
}

type testServer struct {
	router http.Handler
	store  *memory.Store
	idem   *fakeIdempotency
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := memory.NewStore()
	store.SetTaxType(wtax.TaxType{Code: "V2", Description: "Goods 1%", TaxRate: types.MustMoney("1")})
	store.SetTaxType(wtax.TaxType{Code: "W10", Description: "Professional fees", TaxRate: types.MustMoney("10")})
	store.SetVATRate(types.MustMoney("12"))
	store.SetOrder(orders.Balance{OrderID: 1, GrandTotal: types.MustMoney("600"), AmountPaid: types.Zero()})
	store.SetOrder(orders.Balance{OrderID: 2, GrandTotal: types.MustMoney("600"), AmountPaid: types.Zero()})

	clock := func() time.Time { return time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC) }
	m := metrics.New()

	apps := application.NewService(application.ServiceConfig{
		Repo:      store.Applications(),
		Ledger:    store.Orders(),
		TxManager: store.TxManager(),
		Metrics:   m,
		Clock:     clock,
	})
	taxTypes := wtax.NewService(store.TaxTypes(), store.TaxTypes())

	opts := payment.DefaultOptions()
	opts.PayTypes = []string{"Cash", "Check"}
	opts.Retry = retry.Policy{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}

	payments := payment.NewService(payment.Config{
		Drafts:       store.Drafts(),
		Allocations:  store.Allocations(),
		Applications: apps,
		Ledger:       store.Orders(),
		TaxTypes:     taxTypes,
		TxManager:    store.TxManager(),
		Numerator:    numerator.NewMemoryGenerator(),
		Metrics:      m,
		Options:      opts,
		Clock:        clock,
	})

	idem := newFakeIdempotency()
	router := NewRouter(RouterConfig{
		Logger: logger.Nop(),
		JWTValidator: staticValidator{
			"cashier-token":    {UserID: "cashier-1", Name: "Ana"},
			"other-token":      {UserID: "cashier-2", Name: "Ben"},
			"supervisor-token": {UserID: "sup-1", Name: "Cora", Roles: []string{"supervisor"}},
		},
		Payments:     payments,
		Applications: apps,
		TaxTypes:     taxTypes,
		Metrics:      m,
		Idempotency:  idem,
		Version:      "test",
		ShopName:     "Test Print Shop",
		RemitRole:    "supervisor",
	})

	return &testServer{router: router, store: store, idem: idem}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[dto.ErrorResponse](t, w).Code
}

func (s *testServer) saveDraft(t *testing.T, token, amount string) *payment.Draft {
	t.Helper()
	w := s.do(t, http.MethodPut, "/api/v1/payments/draft", token, map[string]any{
		"payDate":   "2025-03-14",
		"payType":   "Cash",
		"amount":    amount,
		"orNumber":  "OR-1001",
		"payerName": "Santos Printing Supply",
		"wtaxCode":  "",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[dto.SaveDraftResponse](t, w).Draft
}

func TestRouter_RequiresToken(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/payments/draft", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, apperror.CodeUnauthorized, errorCode(t, w))

	w = s.do(t, http.MethodGet, "/api/v1/payments/draft", "bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/health/info", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"storage":"memory"`)

	w = s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "paydesk_http_requests_total")
}

func TestRouter_ActiveDraftEmpty(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/payments/draft", "cashier-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[dto.DraftResponse](t, w)
	assert.Nil(t, resp.Draft)
	assert.Empty(t, resp.Allocations)
}

func TestRouter_AllocateAndPost(t *testing.T) {
	s := newTestServer(t)
	d := s.saveDraft(t, "cashier-token", "1000")
	base := "/api/v1/payments/drafts/" + d.ID.String()

	w := s.do(t, http.MethodPost, base+"/allocations/1/toggle", "cashier-token", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode[payment.ToggleResult](t, w)
	assert.Equal(t, payment.ToggleAllocated, first.Outcome)
	assert.True(t, types.MustMoney("600").Equal(first.Allocation.AmountApplied))

	w = s.do(t, http.MethodPost, base+"/allocations/2/toggle", "cashier-token", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	second := decode[payment.ToggleResult](t, w)
	assert.True(t, types.MustMoney("400").Equal(second.Allocation.AmountApplied))
	assert.True(t, second.Summary.Remaining.IsZero())

	w = s.do(t, http.MethodGet, "/api/v1/payments/draft", "cashier-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[dto.DraftResponse](t, w)
	require.NotNil(t, view.Draft)
	assert.Len(t, view.Allocations, 2)

	w = s.do(t, http.MethodPost, base+"/post", "cashier-token", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	posted := decode[payment.PostResult](t, w)
	assert.Equal(t, "PAY-2025-00001", posted.Number)
	assert.Len(t, posted.ApplicationIDs, 2)

	w = s.do(t, http.MethodGet, "/api/v1/payments/orders/2/history", "cashier-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[dto.ApplicationsResponse](t, w)
	require.Len(t, history.Items, 1)
	assert.True(t, types.MustMoney("400").Equal(history.Items[0].AmountApplied))

	w = s.do(t, http.MethodGet, "/api/v1/payments/or-numbers/OR-1001", "cashier-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[dto.ORNumberResponse](t, w).Exists)

	w = s.do(t, http.MethodGet, "/api/v1/payments/totals?remitted=false", "cashier-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	totals := decode[dto.TotalsResponse](t, w)
	require.Len(t, totals.Items, 1)
	assert.Equal(t, "Cash", totals.Items[0].PayType)
	assert.True(t, types.MustMoney("1000").Equal(totals.Items[0].Total))
}

func TestRouter_PartialPostNeedsConfirmation(t *testing.T) {
	s := newTestServer(t)
	d := s.saveDraft(t, "cashier-token", "1000")
	base := "/api/v1/payments/drafts/" + d.ID.String()

	w := s.do(t, http.MethodPost, base+"/allocations/1/toggle", "cashier-token", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, base+"/post", "cashier-token", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperror.CodePartialConfirmationRequired, errorCode(t, w))

	w = s.do(t, http.MethodPost, base+"/post", "cashier-token", dto.PostRequest{ConfirmPartial: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, types.MustMoney("400").Equal(decode[payment.PostResult](t, w).Unapplied))
}

func TestRouter_BadParams(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/payments/drafts/not-a-uuid", "cashier-token", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperror.CodeInvalidInput, errorCode(t, w))

	d := s.saveDraft(t, "cashier-token", "1000")
	w = s.do(t, http.MethodPut, "/api/v1/payments/drafts/"+d.ID.String()+"/allocations/abc", "cashier-token",
		dto.AmountRequest{Amount: types.MustMoney("10")})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPut, "/api/v1/payments/draft", "cashier-token", map[string]any{"payDate": "14/03/2025"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_ForeignDraftIsNotFound(t *testing.T) {
	s := newTestServer(t)
	d := s.saveDraft(t, "cashier-token", "1000")

	w := s.do(t, http.MethodGet, "/api/v1/payments/drafts/"+d.ID.String(), "other-token", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_CancelDraft(t *testing.T) {
	s := newTestServer(t)
	d := s.saveDraft(t, "cashier-token", "1000")

	w := s.do(t, http.MethodDelete, "/api/v1/payments/drafts/"+d.ID.String(), "cashier-token", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/payments/draft", "cashier-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode[dto.DraftResponse](t, w).Draft)
}

func TestRouter_RemitRequiresRole(t *testing.T) {
	s := newTestServer(t)
	d := s.saveDraft(t, "cashier-token", "600")
	base := "/api/v1/payments/drafts/" + d.ID.String()
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, base+"/allocations/1/toggle", "cashier-token", nil).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, base+"/post", "cashier-token", nil).Code)

	w := s.do(t, http.MethodGet, "/api/v1/remittance/unremitted", "cashier-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	batch := decode[application.Batch](t, w)
	require.Equal(t, 1, batch.Count)
	appID := batch.Groups[0].Applications[0].ID.String()

	req := dto.RemitRequest{IDs: []string{appID}, RemittedBy: "Cora"}
	w = s.do(t, http.MethodPost, "/api/v1/remittance", "cashier-token", req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/remittance", "supervisor-token", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, decode[dto.RemitResponse](t, w).Remitted)

	w = s.do(t, http.MethodPost, "/api/v1/remittance", "supervisor-token", req)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperror.CodeAlreadyRemitted, errorCode(t, w))
}

func TestRouter_RemittanceSlip(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/remittance/slip.pdf", "supervisor-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))
}

func TestRouter_WTaxTypes(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/wtax-types", "cashier-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"V2"`)
	assert.Contains(t, w.Body.String(), `"code":"W10"`)
}

func TestRouter_IdempotentPostReplays(t *testing.T) {
	s := newTestServer(t)
	d := s.saveDraft(t, "cashier-token", "600")
	base := "/api/v1/payments/drafts/" + d.ID.String()
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, base+"/allocations/1/toggle", "cashier-token", nil).Code)

	first := s.do(t, http.MethodPost, base+"/post", "cashier-token", nil, "Idempotency-Key", "post-1")
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())

	again := s.do(t, http.MethodPost, base+"/post", "cashier-token", nil, "Idempotency-Key", "post-1")
	assert.Equal(t, http.StatusOK, again.Code)
	assert.Equal(t, "true", again.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), again.Body.String())

	b, err := s.store.Orders().GetBalance(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, types.MustMoney("600").Equal(b.AmountPaid))
}
