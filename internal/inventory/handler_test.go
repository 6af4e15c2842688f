package inventory

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/valuation"
)

func newTestRouter(t *testing.T) (*chi.Mux, *testEnv) {
	t.Helper()
	env := newTestEnv(t, valuation.MethodFIFO, false)
	r := chi.NewRouter()
	NewHandler(nil, env.svc).MountRoutes(r)
	return r, env
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandlerReceiptAndBalance(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := do(r, http.MethodPost, "/receipts", `{"warehouse_id":1,"product_id":7,"posted_at":"2012-12-12T01:00:00Z","qty":"20","rate":"1000"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(r, http.MethodPost, "/issues", `{"warehouse_id":1,"product_id":7,"posted_at":"2012-12-25T03:00:00Z","qty":"15"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(r, http.MethodGet, "/balances?warehouse_id=1&product_id=7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var balance Balance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balance))
	requireDecimal(t, "5", balance.Qty)
	requireDecimal(t, "5000", balance.Value)
	requireDecimal(t, "1000", balance.ValuationRate)
}

func TestHandlerReconciliationLifecycle(t *testing.T) {
	r, env := newTestRouter(t)
	env.receipt(t, "2012-12-12 01:00", "20", "1000")

	rec := do(r, http.MethodPost, "/reconciliations", `{"code":"SR-1","warehouse_id":1,"product_id":7,"posted_at":"2012-12-20T00:00:00Z","qty":"18","valuation_rate":"950"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res ReconciliationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	requireDecimal(t, "-2900", res.Reconciliation.ValueChange)

	rec = do(r, http.MethodPost, "/reconciliations", `{"code":"SR-1","warehouse_id":1,"product_id":7,"qty":"18","valuation_rate":"950"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(r, http.MethodGet, "/reconciliations/1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(r, http.MethodPost, "/reconciliations/1/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(r, http.MethodPost, "/reconciliations/1/cancel", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(r, http.MethodPost, "/reconciliations/99/cancel", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerErrors(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := do(r, http.MethodPost, "/reconciliations", `{"warehouse_id":1,"product_id":7}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodPost, "/reconciliations", `{"product_id":7,"qty":"1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "warehouseid")

	rec = do(r, http.MethodPost, "/issues", `{"warehouse_id":1,"product_id":7,"qty":"3"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(r, http.MethodPost, "/reconciliations", `{"warehouse_id":1,"product_id":7,"qty":"3"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(r, http.MethodPost, "/receipts", `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodGet, "/balances?warehouse_id=1", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodGet, "/reconciliations/abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerStockCardPaginates(t *testing.T) {
	r, env := newTestRouter(t)
	env.receipt(t, "2012-12-12 01:00", "20", "1000")
	env.receipt(t, "2012-12-15 02:00", "10", "700")
	env.issue(t, "2012-12-25 03:00", "15")

	rec := do(r, http.MethodGet, "/stock-card?warehouse_id=1&product_id=7&per_page=2&page=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Entries    []Movement `json:"entries"`
		Pagination struct {
			Total      int `json:"total"`
			TotalPages int `json:"total_pages"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Entries, 1)
	require.Equal(t, 3, body.Pagination.Total)
	require.Equal(t, 2, body.Pagination.TotalPages)
	require.Equal(t, MovementIssue, body.Entries[0].Kind)

	rec = do(r, http.MethodGet, "/stock-card?warehouse_id=1&product_id=7&to=2012-12-15", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Entries, 2)

	rec = do(r, http.MethodPost, "/balances/rebuild?warehouse_id=1&product_id=7", "")
	require.Equal(t, http.StatusOK, rec.Code)
}
