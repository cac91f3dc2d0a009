package inventory

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory/valuation"
)

type movementRequest struct {
	ProductID       int64               `json:"product_id" validate:"required,gt=0"`
	WarehouseID     int64               `json:"warehouse_id" validate:"required,gt=0"`
	Type            MovementType        `json:"type" validate:"required"`
	Quantity        decimal.Decimal     `json:"quantity"`
	UnitCost        decimal.NullDecimal `json:"unit_cost" validate:"omitempty,gte=0"`
	BatchID         int64               `json:"batch_id" validate:"gte=0"`
	BatchNumber     string              `json:"batch_number" validate:"max=64"`
	ManufacturedAt  *time.Time          `json:"manufactured_at"`
	ExpiresAt       *time.Time          `json:"expires_at"`
	SerialNumbers   []string            `json:"serial_numbers" validate:"dive,required,max=128"`
	FromReservation bool                `json:"from_reservation"`
	ReferenceKind   DocumentKind        `json:"reference_kind" validate:"max=64"`
	ReferenceID     string              `json:"reference_id" validate:"max=128"`
	Note            string              `json:"note" validate:"max=500"`
}

func (r movementRequest) intent(actorID int64, idempotencyKey string) MovementIntent {
	in := MovementIntent{
		ProductID:       r.ProductID,
		WarehouseID:     r.WarehouseID,
		Type:            r.Type,
		Quantity:        r.Quantity,
		UnitCost:        r.UnitCost,
		BatchID:         r.BatchID,
		SerialNumbers:   r.SerialNumbers,
		FromReservation: r.FromReservation,
		Reference:       Reference{Kind: r.ReferenceKind, ID: r.ReferenceID},
		ActorID:         actorID,
		Note:            r.Note,
		IdempotencyKey:  idempotencyKey,
	}
	if in.Reference.Kind == "" {
		in.Reference.Kind = DocumentManual
	}
	if r.BatchNumber != "" {
		in.NewBatch = &NewBatch{Number: r.BatchNumber, ManufacturedAt: r.ManufacturedAt, ExpiresAt: r.ExpiresAt}
	}
	return in
}

type movementResponse struct {
	Movements []Movement   `json:"movements"`
	Balance   BalanceView  `json:"balance"`
	Alert     *AlertChange `json:"alert,omitempty"`
}

func newMovementResponse(out Outcome) movementResponse {
	return movementResponse{Movements: out.Movements, Balance: out.Balance.View(), Alert: out.Alert}
}

type reverseRequest struct {
	SerialNumbers []string `json:"serial_numbers" validate:"dive,required"`
	Note          string   `json:"note" validate:"max=500"`
}

type reservationRequest struct {
	ProductID     int64           `json:"product_id" validate:"required,gt=0"`
	WarehouseID   int64           `json:"warehouse_id" validate:"required,gt=0"`
	Quantity      decimal.Decimal `json:"quantity" validate:"gt=0"`
	ReferenceKind DocumentKind    `json:"reference_kind" validate:"max=64"`
	ReferenceID   string          `json:"reference_id" validate:"max=128"`
}

func (r reservationRequest) input(actorID int64) ReservationInput {
	return ReservationInput{
		ProductID:   r.ProductID,
		WarehouseID: r.WarehouseID,
		Quantity:    r.Quantity,
		Reference:   Reference{Kind: r.ReferenceKind, ID: r.ReferenceID},
		ActorID:     actorID,
	}
}

type policyRequest struct {
	Method         valuation.Method `json:"cost_method" validate:"required"`
	StandardCost   decimal.Decimal  `json:"standard_cost" validate:"gte=0"`
	TrackBatches   bool             `json:"track_batches"`
	Serialized     bool             `json:"serialized"`
	WarrantyMonths int              `json:"warranty_months" validate:"gte=0,lte=240"`
}

type settingsRequest struct {
	AllowBackorder bool                `json:"allow_backorder"`
	AlertThreshold decimal.NullDecimal `json:"alert_threshold" validate:"omitempty,gte=0"`
}

type revalueRequest struct {
	StandardCost decimal.Decimal `json:"standard_cost" validate:"gte=0"`
}

type serialTransitionRequest struct {
	Status string `json:"status" validate:"required,oneof=available reserved defective"`
}
