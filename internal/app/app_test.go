package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/inventory/transfer"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/jobs"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, StorePostgres, cfg.LedgerStore)
	require.Equal(t, LockLocal, cfg.LedgerLockBackend)
	require.Equal(t, 3, cfg.LedgerLockRetries)
	require.Equal(t, 2*time.Second, cfg.LedgerLockTimeout)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsUnknownBackends(t *testing.T) {
	t.Setenv("LEDGER_STORE", "sqlite")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("LEDGER_STORE", StoreMemory)
	t.Setenv("LEDGER_LOCK_BACKEND", "etcd")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigRefusesMemoryStoreInProduction(t *testing.T) {
	t.Setenv("LEDGER_STORE", StoreMemory)
	t.Setenv("APP_ENV", "production")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "not allowed in production")

	t.Setenv("APP_ENV", "staging")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, StoreMemory, cfg.LedgerStore)
}

func TestTestModeFlag(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())
	t.Setenv(testModeEnv, "")
	RefreshTestMode()
	require.False(t, InTestMode())
}

func TestJSONLoggerCarriesService(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, &Config{LogFormat: "json"}).Info("hello")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "stockledger", line["service"])
	require.Equal(t, "hello", line["msg"])
}

func TestActorMiddleware(t *testing.T) {
	var seen int64
	h := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ActorHeader, "42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(42), seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ActorHeader, "bob")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func memoryConfig(t *testing.T, mr *miniredis.Miniredis) *Config {
	t.Helper()
	return &Config{
		LedgerStore:        StoreMemory,
		LedgerLockBackend:  LockRedis,
		LedgerLockTimeout:  time.Second,
		LedgerLockTTL:      5 * time.Second,
		BalanceCacheTTL:    time.Minute,
		RedisAddr:          mr.Addr(),
		RateLimitPerMinute: 1000,
		AppRequestTimeout:  5 * time.Second,
	}
}

func TestRouterServesLedgerOnMemoryStore(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig(t, mr)
	metrics := observability.NewMetrics()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	ledger, err := BuildLedger(context.Background(), cfg, nil, LedgerOptions{Metrics: metrics, Redis: client})
	require.NoError(t, err)
	t.Cleanup(ledger.Close)

	router := NewRouter(RouterParams{
		Config:           cfg,
		InventoryHandler: inventory.NewHandler(nil, ledger.Service, ledger.Reconciler),
		TransferHandler:  transfer.NewHandler(nil, ledger.Transfers),
		JobHandler:       jobs.NewHandler(nil, nil),
		Metrics:          metrics,
	})
	do := func(method, path, body string) *httptest.ResponseRecorder {
		var req *http.Request
		if body == "" {
			req = httptest.NewRequest(method, path, nil)
		} else {
			req = httptest.NewRequest(method, path, strings.NewReader(body))
		}
		req.Header.Set(ActorHeader, "7")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = do(http.MethodPost, "/api/v1/movements",
		`{"product_id":1,"warehouse_id":2,"type":"purchase","quantity":"5","unit_cost":"2"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(http.MethodGet, "/api/v1/balances/1/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"on_hand":"5"`)
	require.True(t, mr.Exists("stockledger:balance:1:2"))

	rec = do(http.MethodGet, "/api/v1/transfers/99", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(http.MethodGet, "/jobs/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "stockledger_http_requests_total")
}
