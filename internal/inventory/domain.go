package inventory

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory/tracking"
	"github.com/odyssey-erp/stockledger/internal/inventory/valuation"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	MovementPurchase             MovementType = "purchase"
	MovementSale                 MovementType = "sale"
	MovementTransferIn           MovementType = "transfer_in"
	MovementTransferOut          MovementType = "transfer_out"
	MovementAdjustment           MovementType = "adjustment"
	MovementReturn               MovementType = "return"
	MovementInitial              MovementType = "initial"
	MovementManufacturingConsume MovementType = "manufacturing_consume"
	MovementManufacturingOutput  MovementType = "manufacturing_output"
)

// Direction returns the canonical sign of the movement type: +1 incoming,
// -1 outgoing, 0 when the caller supplies the sign (adjustments).
func (t MovementType) Direction() int {
	switch t {
	case MovementPurchase, MovementTransferIn, MovementReturn, MovementInitial, MovementManufacturingOutput:
		return 1
	case MovementSale, MovementTransferOut, MovementManufacturingConsume:
		return -1
	default:
		return 0
	}
}

// IsValid checks if the type is known.
func (t MovementType) IsValid() bool {
	return t == MovementAdjustment || t.Direction() != 0
}

// DocumentKind names the kind of document that caused a movement.
type DocumentKind string

const (
	DocumentSalesOrder         DocumentKind = "sales_order"
	DocumentPurchaseOrder      DocumentKind = "purchase_order"
	DocumentGoodsReceipt       DocumentKind = "goods_receipt"
	DocumentAdjustment         DocumentKind = "stock_adjustment"
	DocumentTransfer           DocumentKind = "stock_transfer"
	DocumentManufacturingOrder DocumentKind = "manufacturing_order"
	DocumentRental             DocumentKind = "rental"
	DocumentSalesReturn        DocumentKind = "sales_return"
	DocumentOpeningBalance     DocumentKind = "opening_balance"
	DocumentReversal           DocumentKind = "reversal"
	DocumentManual             DocumentKind = "manual"
)

// Reference links a movement to the document that caused it. The ledger
// stores it and never resolves it.
type Reference struct {
	Kind DocumentKind `json:"kind"`
	ID   string       `json:"id"`
}

// Key identifies a stock unit.
type Key struct {
	ProductID   int64 `json:"product_id"`
	WarehouseID int64 `json:"warehouse_id"`
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%d", k.ProductID, k.WarehouseID)
}

// LockKey returns the lock key guarding the stock unit.
func (k Key) LockKey() string {
	return shared.StockLockKey(k.ProductID, k.WarehouseID)
}

// Less orders keys by product then warehouse.
func (k Key) Less(o Key) bool {
	if k.ProductID != o.ProductID {
		return k.ProductID < o.ProductID
	}
	return k.WarehouseID < o.WarehouseID
}

// Movement is one immutable ledger row. Quantity is signed.
type Movement struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product_id"`
	WarehouseID int64           `json:"warehouse_id"`
	BatchID     int64           `json:"batch_id,omitempty"`
	Type        MovementType    `json:"type"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	StockBefore decimal.Decimal `json:"stock_before"`
	StockAfter  decimal.Decimal `json:"stock_after"`
	Reference   Reference       `json:"reference"`
	ActorID     int64           `json:"actor_id"`
	Note        string          `json:"note,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	VoidedAt    *time.Time      `json:"voided_at,omitempty"`
	VoidedBy    int64           `json:"voided_by,omitempty"`
	ReversedBy  int64           `json:"reversed_by,omitempty"`
}

// Key returns the stock unit the movement belongs to.
func (m Movement) Key() Key {
	return Key{ProductID: m.ProductID, WarehouseID: m.WarehouseID}
}

// Value returns the signed cost value of the movement.
func (m Movement) Value() decimal.Decimal {
	return m.Quantity.Mul(m.UnitCost)
}

// Balance is the persisted projection of the movement log for a stock unit.
type Balance struct {
	ProductID   int64           `json:"product_id"`
	WarehouseID int64           `json:"warehouse_id"`
	OnHand      decimal.Decimal `json:"on_hand"`
	Reserved    decimal.Decimal `json:"reserved"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Available returns on-hand minus reserved.
func (b Balance) Available() decimal.Decimal {
	return b.OnHand.Sub(b.Reserved)
}

// Key returns the stock unit of the balance.
func (b Balance) Key() Key {
	return Key{ProductID: b.ProductID, WarehouseID: b.WarehouseID}
}

// BalanceView is the read model returned to callers.
type BalanceView struct {
	Balance
	Available decimal.Decimal `json:"available"`
}

// View renders the balance with its derived available quantity.
func (b Balance) View() BalanceView {
	return BalanceView{Balance: b, Available: b.Available()}
}

// StockSettings holds per stock unit behaviour switches.
type StockSettings struct {
	ProductID      int64               `json:"product_id"`
	WarehouseID    int64               `json:"warehouse_id"`
	AllowBackorder bool                `json:"allow_backorder"`
	AlertThreshold decimal.NullDecimal `json:"alert_threshold"`
}

// NewBatch describes lot metadata for an incoming movement.
type NewBatch struct {
	Number         string     `json:"batch_number"`
	ManufacturedAt *time.Time `json:"manufactured_at,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// MovementIntent is a request to change stock. Fixed-direction types take a
// positive magnitude; adjustments take a signed, non-zero quantity.
type MovementIntent struct {
	ProductID       int64
	WarehouseID     int64
	Type            MovementType
	Quantity        decimal.Decimal
	UnitCost        decimal.NullDecimal
	BatchID         int64
	NewBatch        *NewBatch
	SerialNumbers   []string
	FromReservation bool
	Reference       Reference
	ActorID         int64
	Note            string
	IdempotencyKey  string
}

// Key returns the stock unit targeted by the intent.
func (in MovementIntent) Key() Key {
	return Key{ProductID: in.ProductID, WarehouseID: in.WarehouseID}
}

// Delta returns the signed quantity change the intent will apply.
func (in MovementIntent) Delta() decimal.Decimal {
	switch in.Type.Direction() {
	case 1:
		return in.Quantity.Abs()
	case -1:
		return in.Quantity.Abs().Neg()
	default:
		return in.Quantity
	}
}

// LockKeys lists the keys an intent must hold while it is applied.
func (in MovementIntent) LockKeys() []string {
	keys := []string{in.Key().LockKey()}
	if in.BatchID != 0 {
		keys = append(keys, shared.BatchLockKey(in.BatchID))
	}
	return keys
}

func (in MovementIntent) validate() error {
	if in.ProductID == 0 || in.WarehouseID == 0 {
		return ErrProductWarehouseRequired
	}
	if !in.Type.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownMovementType, in.Type)
	}
	if in.Quantity.IsZero() {
		return ErrInvalidQuantity
	}
	if in.Type.Direction() != 0 && in.Quantity.IsNegative() {
		return fmt.Errorf("%w: %s takes a positive magnitude", ErrInvalidQuantity, in.Type)
	}
	if in.UnitCost.Valid && in.UnitCost.Decimal.IsNegative() {
		return ErrInvalidUnitCost
	}
	if in.UnitCost.Valid && in.Delta().IsNegative() && in.Type != MovementAdjustment {
		return ErrExplicitCost
	}
	if in.NewBatch != nil && in.Delta().IsNegative() {
		return fmt.Errorf("%w: new batches only apply to incoming movements", ErrInvalidQuantity)
	}
	if in.FromReservation && in.Delta().IsPositive() {
		return fmt.Errorf("%w: only outgoing movements consume reservations", ErrInvalidQuantity)
	}
	if in.NewBatch != nil && strings.TrimSpace(in.NewBatch.Number) == "" {
		return fmt.Errorf("%w: batch number required", ErrInvalidQuantity)
	}
	if in.NewBatch != nil && in.BatchID != 0 {
		return fmt.Errorf("%w: give either a batch id or new batch data", ErrInvalidQuantity)
	}
	return nil
}

// MovementFilter filters ledger queries.
type MovementFilter struct {
	ProductID     int64
	WarehouseID   int64
	BatchID       int64
	Type          MovementType
	ReferenceKind DocumentKind
	ReferenceID   string
	From          time.Time
	To            time.Time
	IncludeVoided bool
	Limit         int
	Offset        int
}

// AlertStatus enumerates low-stock alert states.
type AlertStatus string

const (
	AlertOpen         AlertStatus = "open"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// Active reports whether the alert still blocks a new one for the key.
func (s AlertStatus) Active() bool {
	return s == AlertOpen || s == AlertAcknowledged
}

// LowStockAlert is raised when available stock drops under the threshold.
type LowStockAlert struct {
	ID             int64           `json:"id"`
	ProductID      int64           `json:"product_id"`
	WarehouseID    int64           `json:"warehouse_id"`
	Status         AlertStatus     `json:"status"`
	Threshold      decimal.Decimal `json:"threshold"`
	Available      decimal.Decimal `json:"available"`
	OpenedAt       time.Time       `json:"opened_at"`
	AcknowledgedBy int64           `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty"`
	ResolvedBy     int64           `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
}

// Key returns the stock unit of the alert.
func (a LowStockAlert) Key() Key {
	return Key{ProductID: a.ProductID, WarehouseID: a.WarehouseID}
}

// AlertFilter filters alert listings.
type AlertFilter struct {
	ProductID   int64
	WarehouseID int64
	ActiveOnly  bool
	Limit       int
	Offset      int
}

// AlertChange records an alert opened or resolved by a ledger write.
type AlertChange struct {
	Alert  LowStockAlert `json:"alert"`
	Opened bool          `json:"opened"`
}

// Outcome is everything one ledger write produced.
type Outcome struct {
	Movements []Movement
	Balance   Balance
	Alert     *AlertChange
}

// ReservationInput describes a reserve or release request.
type ReservationInput struct {
	ProductID   int64
	WarehouseID int64
	Quantity    decimal.Decimal
	Reference   Reference
	ActorID     int64
}

// ReverseInput describes a request to offset an earlier movement.
type ReverseInput struct {
	MovementID    int64
	SerialNumbers []string
	ActorID       int64
	Note          string
}

// Aliases for tracking and valuation types used across the ledger API.
type (
	Batch  = tracking.Batch
	Serial = tracking.Serial
	Policy = valuation.Policy
)
