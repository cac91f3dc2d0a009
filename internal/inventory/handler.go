package inventory

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/stockledger/internal/inventory/tracking"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	reconciler *Reconciler
	validate   *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, reconciler *Reconciler) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, reconciler: reconciler, validate: httpx.NewValidator()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/movements", func(r chi.Router) {
		r.Get("/", h.listMovements)
		r.Post("/", h.postMovement)
		r.Get("/{id}", h.getMovement)
		r.Post("/{id}/reverse", h.reverseMovement)
	})
	r.Get("/balances", h.listBalances)
	r.Get("/balances/{productID}/{warehouseID}", h.getBalance)
	r.Get("/balances/{productID}/{warehouseID}/reconcile", h.reconcile)

	r.Post("/reservations", h.reserve)
	r.Post("/reservations/release", h.release)

	r.Get("/alerts", h.listAlerts)
	r.Get("/alerts/{id}", h.getAlert)
	r.Post("/alerts/{id}/acknowledge", h.acknowledgeAlert)
	r.Post("/alerts/{id}/resolve", h.resolveAlert)

	r.Get("/batches", h.listBatches)
	r.Post("/batches/{id}/hold", h.holdBatch(true))
	r.Post("/batches/{id}/release", h.holdBatch(false))
	r.Get("/serials", h.listSerials)
	r.Post("/serials/{id}/transition", h.transitionSerial)

	r.Get("/valuation/{productID}/{warehouseID}", h.valuation)
	r.Get("/products/{id}/policy", h.getPolicy)
	r.Put("/products/{id}/policy", h.putPolicy)
	r.Post("/products/{id}/revalue", h.revalue)
	r.Get("/settings/{productID}/{warehouseID}", h.getSettings)
	r.Put("/settings/{productID}/{warehouseID}", h.putSettings)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := httpx.Validate(h.validate, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.DebugContext(r.Context(), "inventory request failed",
		slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func keyParams(r *http.Request) (int64, int64, error) {
	productID, err := httpx.IDParam(r, "productID")
	if err != nil {
		return 0, 0, err
	}
	warehouseID, err := httpx.IDParam(r, "warehouseID")
	if err != nil {
		return 0, 0, err
	}
	return productID, warehouseID, nil
}

func queryInt(r *http.Request, name string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return v
}

func queryTime(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, httpx.ErrValidation
	}
	return t, nil
}

func (h *Handler) postMovement(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := shared.ActorFromContext(r.Context())
	out, err := h.service.Apply(r.Context(), req.intent(actor, r.Header.Get("Idempotency-Key")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newMovementResponse(out))
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	from, err := queryTime(r, "from")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	page := shared.PageFromQuery(q)
	movements, err := h.service.Movements(r.Context(), MovementFilter{
		ProductID:     queryInt(r, "product_id"),
		WarehouseID:   queryInt(r, "warehouse_id"),
		BatchID:       queryInt(r, "batch_id"),
		Type:          MovementType(q.Get("type")),
		ReferenceKind: DocumentKind(q.Get("reference_kind")),
		ReferenceID:   q.Get("reference_id"),
		From:          from,
		To:            to,
		IncludeVoided: q.Get("include_voided") == "true",
		Limit:         page.Limit,
		Offset:        page.Offset,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) getMovement(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	m, err := h.service.Movement(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) reverseMovement(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req reverseRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	out, err := h.service.Reverse(r.Context(), ReverseInput{
		MovementID:    id,
		SerialNumbers: req.SerialNumbers,
		ActorID:       shared.ActorFromContext(r.Context()),
		Note:          req.Note,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newMovementResponse(out))
}

func (h *Handler) listBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.service.Balances(r.Context(), queryInt(r, "product_id"), queryInt(r, "warehouse_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	views := make([]BalanceView, 0, len(balances))
	for _, b := range balances {
		views = append(views, b.View())
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	productID, warehouseID, err := keyParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	balance, err := h.service.Balance(r.Context(), productID, warehouseID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balance.View())
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	productID, warehouseID, err := keyParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.reconciler.Reconcile(r.Context(), Key{ProductID: productID, WarehouseID: warehouseID})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	h.reservation(w, r, h.service.Reserve)
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	h.reservation(w, r, h.service.Release)
}

func (h *Handler) reservation(w http.ResponseWriter, r *http.Request, op func(context.Context, ReservationInput) (Outcome, error)) {
	var req reservationRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := op(r.Context(), req.input(shared.ActorFromContext(r.Context())))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newMovementResponse(out))
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	page := shared.PageFromQuery(r.URL.Query())
	alerts, err := h.service.Alerts(r.Context(), AlertFilter{
		ProductID:   queryInt(r, "product_id"),
		WarehouseID: queryInt(r, "warehouse_id"),
		ActiveOnly:  r.URL.Query().Get("active") == "true",
		Limit:       page.Limit,
		Offset:      page.Offset,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, alerts)
}

func (h *Handler) getAlert(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	alert, err := h.service.Alert(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, alert)
}

func (h *Handler) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	alert, err := h.service.AcknowledgeAlert(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, alert)
}

func (h *Handler) resolveAlert(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	alert, err := h.service.ResolveAlert(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, alert)
}

func (h *Handler) listBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := shared.PageFromQuery(q)
	filter := tracking.BatchFilter{
		ProductID:     queryInt(r, "product_id"),
		WarehouseID:   queryInt(r, "warehouse_id"),
		Status:        tracking.BatchStatus(q.Get("status")),
		OnlyRemaining: q.Get("remaining") == "true",
		Limit:         page.Limit,
		Offset:        page.Offset,
	}
	if q.Get("expiring_until") != "" {
		until, err := queryTime(r, "expiring_until")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		filter.ExpiringUntil = &until
	}
	batches, err := h.service.Batches(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batches)
}

func (h *Handler) holdBatch(hold bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		batch, err := h.service.HoldBatch(r.Context(), id, hold, shared.ActorFromContext(r.Context()))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, batch)
	}
}

func (h *Handler) listSerials(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := shared.PageFromQuery(q)
	serials, err := h.service.Serials(r.Context(), tracking.SerialFilter{
		ProductID:   queryInt(r, "product_id"),
		WarehouseID: queryInt(r, "warehouse_id"),
		Status:      tracking.SerialStatus(q.Get("status")),
		Number:      q.Get("number"),
		Limit:       page.Limit,
		Offset:      page.Offset,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, serials)
}

func (h *Handler) transitionSerial(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req serialTransitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	serial, err := h.service.TransitionSerial(r.Context(), id, tracking.SerialStatus(req.Status), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, serial)
}

func (h *Handler) valuation(w http.ResponseWriter, r *http.Request) {
	productID, warehouseID, err := keyParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	v, err := h.service.Valuation(r.Context(), productID, warehouseID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) getPolicy(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	policy, err := h.service.Policy(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, policy)
}

func (h *Handler) putPolicy(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req policyRequest
	if !h.decode(w, r, &req) {
		return
	}
	policy, err := h.service.SetPolicy(r.Context(), Policy{
		ProductID:      id,
		Method:         req.Method,
		StandardCost:   req.StandardCost,
		TrackBatches:   req.TrackBatches,
		Serialized:     req.Serialized,
		WarrantyMonths: req.WarrantyMonths,
	}, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, policy)
}

func (h *Handler) revalue(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req revalueRequest
	if !h.decode(w, r, &req) {
		return
	}
	balances, err := h.service.Revalue(r.Context(), id, req.StandardCost, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balances)
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	productID, warehouseID, err := keyParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	settings, err := h.service.Settings(r.Context(), productID, warehouseID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, settings)
}

func (h *Handler) putSettings(w http.ResponseWriter, r *http.Request) {
	productID, warehouseID, err := keyParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req settingsRequest
	if !h.decode(w, r, &req) {
		return
	}
	settings, change, err := h.service.SetSettings(r.Context(), StockSettings{
		ProductID:      productID,
		WarehouseID:    warehouseID,
		AllowBackorder: req.AllowBackorder,
		AlertThreshold: req.AlertThreshold,
	}, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, struct {
		StockSettings
		Alert *AlertChange `json:"alert,omitempty"`
	}{settings, change})
}
