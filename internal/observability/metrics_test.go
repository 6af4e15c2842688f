package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/valuation"
)

func scrape(t *testing.T, metrics *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, `stockledger_http_requests_total{code="418",route="/test"} 1`)
	require.Contains(t, body, `stockledger_http_request_duration_seconds_bucket{route="/test"`)
}

func TestObserveRepostLabelsOutcome(t *testing.T) {
	metrics := NewMetrics()

	metrics.ObserveRepost("apply_reconciliation", valuation.MethodFIFO, 3, 20*time.Millisecond, nil)
	metrics.ObserveRepost("apply_reconciliation", valuation.MethodFIFO, 0, time.Millisecond,
		fmt.Errorf("step 2: %w", inventory.ErrInsufficientStock))
	metrics.ObserveRepost("rebuild", valuation.MethodMovingAverage, 0, time.Millisecond, errors.New("connection reset"))

	body := scrape(t, metrics)
	require.Contains(t, body, `stockledger_reposts_total{method="FIFO",operation="apply_reconciliation",outcome="ok"} 1`)
	require.Contains(t, body, `stockledger_reposts_total{method="FIFO",operation="apply_reconciliation",outcome="rejected"} 1`)
	require.Contains(t, body, `stockledger_reposts_total{method="MOVING_AVERAGE",operation="rebuild",outcome="error"} 1`)
	require.Contains(t, body, `stockledger_repost_rows_rewritten_total{operation="apply_reconciliation"} 3`)
	require.False(t, strings.Contains(body, `stockledger_repost_rows_rewritten_total{operation="rebuild"}`))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var metrics *Metrics
	metrics.ObserveRepost("rebuild", valuation.MethodFIFO, 1, time.Second, nil)

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
