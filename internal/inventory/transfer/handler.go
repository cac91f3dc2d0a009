package transfer

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Handler exposes the transfer state machine over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs transfer handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: httpx.NewValidator()}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Get("/history", h.history)
		r.Get("/transit", h.transit)
		r.Post("/items", h.addItem)
		r.Delete("/items/{itemID}", h.removeItem)
		r.Post("/submit", h.submit)
		r.Post("/approve", h.approve)
		r.Post("/ship", h.ship)
		r.Post("/receive", h.receive)
		r.Post("/cancel", h.cancel)
	})
}

type itemRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	BatchID   int64           `json:"batch_id" validate:"gte=0"`
	Quantity  decimal.Decimal `json:"quantity" validate:"gt=0"`
}

func (r itemRequest) input() ItemInput {
	return ItemInput{ProductID: r.ProductID, BatchID: r.BatchID, Quantity: r.Quantity}
}

type createRequest struct {
	SourceWarehouseID      int64         `json:"source_warehouse_id" validate:"required,gt=0"`
	DestinationWarehouseID int64         `json:"destination_warehouse_id" validate:"required,gt=0,nefield=SourceWarehouseID"`
	Note                   string        `json:"note" validate:"max=500"`
	Items                  []itemRequest `json:"items" validate:"dive"`
}

type noteRequest struct {
	Note string `json:"note" validate:"max=500"`
}

type approveRequest struct {
	Items []struct {
		ItemID   int64           `json:"item_id" validate:"required,gt=0"`
		Approved decimal.Decimal `json:"approved" validate:"gte=0"`
	} `json:"items" validate:"dive"`
	Note string `json:"note" validate:"max=500"`
}

type shipRequest struct {
	Items []struct {
		ItemID        int64               `json:"item_id" validate:"required,gt=0"`
		Quantity      decimal.NullDecimal `json:"quantity" validate:"omitempty,gte=0"`
		SerialNumbers []string            `json:"serial_numbers" validate:"dive,required"`
		Condition     string              `json:"condition" validate:"max=200"`
	} `json:"items" validate:"dive"`
	Note string `json:"note" validate:"max=500"`
}

type receiveRequest struct {
	Items []struct {
		ItemID         int64           `json:"item_id" validate:"required,gt=0"`
		Received       decimal.Decimal `json:"received" validate:"gte=0"`
		Damaged        decimal.Decimal `json:"damaged" validate:"gte=0"`
		SerialNumbers  []string        `json:"serial_numbers" validate:"dive,required"`
		DamagedSerials []string        `json:"damaged_serials" validate:"dive,required"`
		Condition      string          `json:"condition" validate:"max=200"`
	} `json:"items" validate:"required,min=1,dive"`
	Note string `json:"note" validate:"max=500"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
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
	h.logger.DebugContext(r.Context(), "transfer request failed",
		slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := shared.PageFromQuery(q)
	warehouseID, _ := strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	transfers, err := h.service.List(r.Context(), Filter{
		Status:      Status(q.Get("status")),
		WarehouseID: warehouseID,
		Limit:       page.Limit,
		Offset:      page.Offset,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, transfers)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := CreateInput{
		SourceWarehouseID:      req.SourceWarehouseID,
		DestinationWarehouseID: req.DestinationWarehouseID,
		Note:                   req.Note,
		ActorID:                shared.ActorFromContext(r.Context()),
	}
	for _, item := range req.Items {
		in.Items = append(in.Items, item.input())
	}
	t, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, t)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, struct {
		Transfer
		Totals Totals `json:"totals"`
	}{t, t.Totals()})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.History(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) transit(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.Transit(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req itemRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, err := h.service.AddItem(r.Context(), id, req.input(), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	itemID, err := httpx.IDParam(r, "itemID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.RemoveItem(r.Context(), id, itemID, shared.ActorFromContext(r.Context())); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req noteRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	t, err := h.service.Submit(r.Context(), id, shared.ActorFromContext(r.Context()), req.Note)
	h.respond(w, r, t, err)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req approveRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	in := ApproveInput{Quantities: map[int64]decimal.Decimal{}, ActorID: shared.ActorFromContext(r.Context()), Note: req.Note}
	for _, item := range req.Items {
		in.Quantities[item.ItemID] = item.Approved
	}
	t, err := h.service.Approve(r.Context(), id, in)
	h.respond(w, r, t, err)
}

func (h *Handler) ship(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req shipRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	in := ShipInput{ActorID: shared.ActorFromContext(r.Context()), Note: req.Note}
	for _, item := range req.Items {
		in.Lines = append(in.Lines, ShipLine{
			ItemID:        item.ItemID,
			Quantity:      item.Quantity,
			SerialNumbers: item.SerialNumbers,
			Condition:     item.Condition,
		})
	}
	t, err := h.service.Ship(r.Context(), id, in)
	h.respond(w, r, t, err)
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req receiveRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := ReceiveInput{ActorID: shared.ActorFromContext(r.Context()), Note: req.Note}
	for _, item := range req.Items {
		in.Lines = append(in.Lines, ReceiptLine{
			ItemID:         item.ItemID,
			Received:       item.Received,
			Damaged:        item.Damaged,
			SerialNumbers:  item.SerialNumbers,
			DamagedSerials: item.DamagedSerials,
			Condition:      item.Condition,
		})
	}
	t, err := h.service.Receive(r.Context(), id, in)
	h.respond(w, r, t, err)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req cancelRequest
	if !h.decode(w, r, &req) {
		return
	}
	t, err := h.service.Cancel(r.Context(), id, shared.ActorFromContext(r.Context()), req.Reason)
	h.respond(w, r, t, err)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, t Transfer, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}
