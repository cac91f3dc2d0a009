package transfer_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory/transfer"
)

func serve(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerDrivesTransferLifecycle(t *testing.T) {
	h := newHarness(t, transfer.Config{})
	h.stock(t, source, "10", "2")
	r := chi.NewRouter()
	r.Route("/transfers", transfer.NewHandler(nil, h.transfers).MountRoutes)

	rec := serve(t, r, http.MethodPost, "/transfers",
		fmt.Sprintf(`{"source_warehouse_id":%d,"destination_warehouse_id":%d,"items":[{"product_id":%d,"quantity":"4"}]}`, source, dest, product))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created transfer.Transfer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	base := fmt.Sprintf("/transfers/%d", created.ID)

	rec = serve(t, r, http.MethodPost, base+"/receive", `{"items":[{"item_id":1,"received":"1"}]}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(t, r, http.MethodPost, base+"/submit", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = serve(t, r, http.MethodPost, base+"/ship", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(t, r, http.MethodPost, base+"/receive",
		fmt.Sprintf(`{"items":[{"item_id":%d,"received":"4"}]}`, created.Items[0].ID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(t, r, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Status transfer.Status `json:"status"`
		Totals struct {
			Received string `json:"received"`
		} `json:"totals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, transfer.StatusCompleted, got.Status)
	require.Equal(t, "4", got.Totals.Received)

	rec = serve(t, r, http.MethodGet, base+"/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = serve(t, r, http.MethodGet, "/transfers?status=completed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), created.Code)
}

func TestHandlerRejectsBadRequests(t *testing.T) {
	h := newHarness(t, transfer.Config{})
	r := chi.NewRouter()
	r.Route("/transfers", transfer.NewHandler(nil, h.transfers).MountRoutes)

	rec := serve(t, r, http.MethodPost, "/transfers", `{"source_warehouse_id":1,"destination_warehouse_id":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serve(t, r, http.MethodGet, "/transfers/77", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = serve(t, r, http.MethodPost, "/transfers/77/cancel", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
