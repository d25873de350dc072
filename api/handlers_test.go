/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Document lifecycle over HTTP (create, edit, delete, return)
- Error taxonomy to status code mapping
- Tenant header enforcement
- Demo scenarios
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/coordinator"
	"github.com/warp/stock-ledger/generic"
	"github.com/warp/stock-ledger/lock"
	"github.com/warp/stock-ledger/store/memory"
	"go.uber.org/zap"
)

const testTenant = "pharmacy-1"

func newTestRouter(t *testing.T, opts ...coordinator.Option) http.Handler {
	t.Helper()
	coord := coordinator.New(memory.New(), opts...)
	h := NewHandler(coord, zap.NewNop())
	h.now = func() time.Time { return time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC) }
	return NewRouter(h, RouterConfig{CORSOrigins: []string{"http://localhost:5173"}})
}

func call(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return callAs(t, h, testTenant, method, path, body)
}

func callAs(t *testing.T, h http.Handler, tenant, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set(HeaderTenant, tenant)
	}
	req.Header.Set(HeaderActorID, "u-7")
	req.Header.Set(HeaderActorName, "Ravi")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func seedPartners(t *testing.T, h http.Handler) {
	t.Helper()
	for _, p := range []PartnerRequest{
		{ID: "dist-1", Kind: "distributor", Name: "Medline"},
		{ID: "cust-1", Kind: "customer", Name: "City Clinic"},
	} {
		rec := call(t, h, http.MethodPost, "/api/partners", p)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	rec := call(t, h, http.MethodPost, "/api/accounts", AccountRequest{ID: "cash-1", Name: "Till", Type: "cash"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func lineReq(itemID, lot string, qty int64) LineRequest {
	return LineRequest{
		ItemID:   itemID,
		ItemName: "Item " + itemID,
		LotCode:  lot,
		Quantity: decimal.NewFromInt(qty),
		Rate:     decimal.NewFromInt(10),
		Expiry:   "2027-03",
	}
}

// =============================================================================
// DOCUMENT LIFECYCLE
// =============================================================================

func TestPurchaseLifecycle(t *testing.T) {
	h := newTestRouter(t)
	seedPartners(t, h)

	// GIVEN: a purchase of 10 paid 40 in cash
	rec := call(t, h, http.MethodPost, "/api/purchases", DocumentRequest{
		PartnerID:  "dist-1",
		Date:       "2026-01-10",
		AmountPaid: decimal.NewFromInt(40),
		AccountID:  "cash-1",
		Lines:      []LineRequest{lineReq("A", "B1", 10)},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[ResultDTO](t, rec)
	require.NotNil(t, created.Document)
	assert.Equal(t, "2026-01-10T00:00:00Z", created.Document.Date)
	assert.Equal(t, "partial", created.Document.PaymentStatus)
	require.Len(t, created.StockEntries, 1)
	assert.Equal(t, "Ravi", created.StockEntries[0].ActorName)
	require.Len(t, created.Payments, 1)
	id := created.Document.ID

	// WHEN: the quantity is edited down to 6
	rec = call(t, h, http.MethodPut, "/api/purchases/"+id, DocumentRequest{
		PartnerID:  "dist-1",
		AmountPaid: decimal.NewFromInt(40),
		AccountID:  "cash-1",
		Lines:      []LineRequest{lineReq("A", "B1", 6)},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: the item and its timeline reflect the edit
	rec = call(t, h, http.MethodGet, "/api/inventory/items/A", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	item := decodeBody[ItemDTO](t, rec)
	assert.True(t, item.Quantity.Equal(decimal.NewFromInt(6)))
	require.Len(t, item.Lots, 1)
	assert.False(t, item.Lots[0].Expired)
	assert.Equal(t, []string{id}, item.Sources)

	rec = call(t, h, http.MethodGet, "/api/inventory/items/A/timeline", nil)
	timeline := decodeBody[[]EntryDTO](t, rec)
	require.Len(t, timeline, 3)
	assert.Equal(t, "PURCHASE_EDIT_REVERSE", timeline[1].Type)

	rec = call(t, h, http.MethodGet, "/api/documents/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// AND: deleting twice is rejected the second time
	rec = call(t, h, http.MethodDelete, "/api/purchases/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = call(t, h, http.MethodDelete, "/api/purchases/"+id, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = call(t, h, http.MethodGet, "/api/accounts/cash-1", nil)
	account := decodeBody[AccountDTO](t, rec)
	assert.True(t, account.Balance.IsZero(), "settlement cancelled with the document")
}

func TestOversellIsAConflictAndWritesNothing(t *testing.T) {
	h := newTestRouter(t)
	seedPartners(t, h)
	rec := call(t, h, http.MethodPost, "/api/purchases", DocumentRequest{PartnerID: "dist-1", Lines: []LineRequest{lineReq("A", "B1", 5)}})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = call(t, h, http.MethodPost, "/api/sales", DocumentRequest{PartnerID: "cust-1", Lines: []LineRequest{lineReq("A", "B1", 8)}})

	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "Insufficient stock", body.Error)

	rec = call(t, h, http.MethodGet, "/api/partners/cust-1/ledger", nil)
	assert.Empty(t, decodeBody[[]EntryDTO](t, rec))
}

func TestSaleReturnOverHTTP(t *testing.T) {
	h := newTestRouter(t)
	seedPartners(t, h)
	call(t, h, http.MethodPost, "/api/purchases", DocumentRequest{PartnerID: "dist-1", Lines: []LineRequest{lineReq("A", "B1", 10)}})
	rec := call(t, h, http.MethodPost, "/api/sales", DocumentRequest{PartnerID: "cust-1", Lines: []LineRequest{lineReq("A", "B1", 4)}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sale := decodeBody[ResultDTO](t, rec)

	rec = call(t, h, http.MethodPost, "/api/sales/"+sale.Document.ID+"/returns", ReturnRequest{
		Lines: []ReturnLineRequest{{LotID: sale.Document.Lines[0].LotID, Quantity: decimal.NewFromInt(1)}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ret := decodeBody[ResultDTO](t, rec)
	assert.Equal(t, "SALE_RETURN", ret.Document.Kind)

	rec = call(t, h, http.MethodGet, "/api/documents/"+sale.Document.ID, nil)
	assert.Equal(t, "returned", decodeBody[DocumentDTO](t, rec).Status)
}

func TestPaymentsOverHTTP(t *testing.T) {
	h := newTestRouter(t)
	seedPartners(t, h)

	rec := call(t, h, http.MethodPost, "/api/payments", PaymentRequest{
		PartnerID: "cust-1", AccountID: "cash-1", Amount: decimal.NewFromInt(25),
		Direction: "in", Method: "cheque", Pending: true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decodeBody[ResultDTO](t, rec)
	require.Len(t, res.Payments, 1)
	assert.Equal(t, "PENDING", res.Payments[0].Status)

	rec = call(t, h, http.MethodPost, "/api/payments/"+res.Payments[0].ID+"/settle", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "COMPLETED", decodeBody[PaymentDTO](t, rec).Status)

	rec = call(t, h, http.MethodGet, "/api/accounts/cash-1", nil)
	assert.True(t, decodeBody[AccountDTO](t, rec).Balance.Equal(decimal.NewFromInt(25)))
}

// =============================================================================
// STOCK AND REPAIR
// =============================================================================

func TestImportAdjustAndRepair(t *testing.T) {
	h := newTestRouter(t)

	rec := call(t, h, http.MethodPost, "/api/inventory/import", ImportRequest{
		Rows: []ImportRowRequest{{ItemID: "A", ItemName: "Aspirin", LotCode: "B1", Quantity: decimal.NewFromInt(5), At: "2025-12-01"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = call(t, h, http.MethodPost, "/api/inventory/adjustments", AdjustmentRequest{ItemID: "A", LotCode: "B1", Quantity: decimal.NewFromInt(-2), Remark: "breakage"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[EntryDTO](t, rec).Balance.Equal(decimal.NewFromInt(3)))

	rec = call(t, h, http.MethodPost, "/api/inventory/items/A/repair", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	replay := decodeBody[ReplayDTO](t, rec)
	assert.Equal(t, 0, replay.Rewritten)
	assert.True(t, replay.FinalBalance.Equal(decimal.NewFromInt(3)))

	rec = call(t, h, http.MethodPost, "/api/admin/repair?workers=2", RepairRequest{From: "2025-01-01"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = call(t, h, http.MethodPost, "/api/admin/repair?workers=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// ERRORS
// =============================================================================

func TestRequestErrors(t *testing.T) {
	h := newTestRouter(t)
	seedPartners(t, h)

	tests := []struct {
		name   string
		tenant string
		method string
		path   string
		body   any
		want   int
		field  string
	}{
		{"missing tenant", "", http.MethodGet, "/api/documents/x", nil, http.StatusBadRequest, "tenant"},
		{"unknown document", testTenant, http.MethodGet, "/api/documents/nope", nil, http.StatusNotFound, ""},
		{"no lines", testTenant, http.MethodPost, "/api/purchases", DocumentRequest{PartnerID: "dist-1"}, http.StatusBadRequest, "DocumentRequest.Lines"},
		{"bad partner kind", testTenant, http.MethodPost, "/api/partners", PartnerRequest{Kind: "vendor", Name: "X"}, http.StatusBadRequest, "PartnerRequest.Kind"},
		{"bad date", testTenant, http.MethodPost, "/api/purchases", DocumentRequest{PartnerID: "dist-1", Date: "10/01/2026", Lines: []LineRequest{lineReq("A", "B1", 1)}}, http.StatusBadRequest, "date"},
		{"unknown field", testTenant, http.MethodPost, "/api/partners", map[string]string{"nickname": "x"}, http.StatusBadRequest, "body"},
		{"other tenant", "pharmacy-2", http.MethodGet, "/api/partners/dist-1", nil, http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := callAs(t, h, tt.tenant, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			if tt.field != "" {
				assert.Equal(t, tt.field, decodeBody[ErrorResponse](t, rec).Field)
			}
		})
	}
}

type busyLocker struct{}

func (busyLocker) Acquire(context.Context, ...string) (lock.Release, error) {
	return nil, generic.ErrLockNotObtained
}

func TestBusySubjectIsLocked(t *testing.T) {
	h := newTestRouter(t, coordinator.WithLocker(busyLocker{}))

	rec := call(t, h, http.MethodPost, "/api/partners", PartnerRequest{Kind: "customer", Name: "X"})

	assert.Equal(t, http.StatusLocked, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{generic.NewValidationError("x", "bad"), http.StatusBadRequest},
		{&generic.NotFoundError{Kind: "item", ID: "A"}, http.StatusNotFound},
		{&generic.InsufficientStockError{ItemID: "A"}, http.StatusConflict},
		{&generic.InvalidStateError{DocumentID: "d"}, http.StatusConflict},
		{generic.ErrLockNotObtained, http.StatusLocked},
		{&generic.ConsistencyError{What: "balance"}, http.StatusInternalServerError},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, _ := statusFor(tt.err)
		assert.Equal(t, tt.want, got, "%v", tt.err)
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenarios(t *testing.T) {
	h := newTestRouter(t)

	rec := call(t, h, http.MethodGet, "/api/scenarios", nil)
	assert.Len(t, decodeBody[[]ScenarioDTO](t, rec), len(scenarios))

	rec = callAs(t, h, "demo-1", http.MethodPost, "/api/scenarios", map[string]string{"scenario_id": "pharmacy-week"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody[ScenarioReport](t, rec)
	require.Len(t, report.Steps, 6)
	for _, s := range report.Steps {
		assert.Empty(t, s.Error, s.Step)
	}

	rec = callAs(t, h, "demo-1", http.MethodGet, "/api/inventory/items/para-500", nil)
	assert.True(t, decodeBody[ItemDTO](t, rec).Quantity.Equal(decimal.NewFromInt(160)))

	rec = callAs(t, h, "demo-1", http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "pharmacy-week", decodeBody[ScenarioDTO](t, rec).ID)

	rec = callAs(t, h, "demo-2", http.MethodPost, "/api/scenarios", map[string]string{"scenario_id": "oversell"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report = decodeBody[ScenarioReport](t, rec)
	require.Len(t, report.Steps, 2)
	assert.Contains(t, report.Steps[1].Error, "insufficient stock")

	rec = callAs(t, h, "demo-3", http.MethodPost, "/api/scenarios", map[string]string{"scenario_id": "backdated-import"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = callAs(t, h, "demo-3", http.MethodGet, "/api/inventory/items/ors-sach/timeline", nil)
	timeline := decodeBody[[]EntryDTO](t, rec)
	require.Len(t, timeline, 2)
	assert.Equal(t, "IMPORT", timeline[0].Type)
	assert.True(t, timeline[1].Balance.Equal(decimal.NewFromInt(75)))

	rec = call(t, h, http.MethodPost, "/api/scenarios", map[string]string{"scenario_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
