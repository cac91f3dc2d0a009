package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsHandlerExposesLedgerCollectors(t *testing.T) {
	metrics := NewMetrics()
	ledger := metrics.Ledger()
	ledger.MovementPosted("sale")
	ledger.Rejected("insufficient_stock")
	ledger.ObserveLockWait(3 * time.Millisecond)
	ledger.Inconsistency()
	ledger.CacheResult(true)

	body := scrape(t, metrics)
	require.Contains(t, body, `stockledger_movements_total{type="sale"} 1`)
	require.Contains(t, body, `stockledger_rejections_total{reason="insufficient_stock"} 1`)
	require.Contains(t, body, "stockledger_lock_wait_seconds_bucket")
	require.Contains(t, body, "stockledger_ledger_inconsistencies_total 1")
	require.Contains(t, body, `stockledger_balance_cache_total{result="hit"} 1`)
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
	require.Contains(t, body, `stockledger_http_requests_total{code="418",method="GET",route="/test"} 1`)
	require.Contains(t, body, `stockledger_http_request_duration_seconds_bucket{route="/test"`)
}

func TestNilLedgerMetricsAreSafe(t *testing.T) {
	var ledger *LedgerMetrics
	ledger.MovementPosted("sale")
	ledger.LockRetry()
	ledger.LockTimeout()
	ledger.Alert("opened")
	ledger.TransferTransition("shipped")

	var metrics *Metrics
	require.Nil(t, metrics.Ledger())
}
