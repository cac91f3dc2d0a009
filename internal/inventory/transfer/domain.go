// Package transfer moves stock between warehouses through an in-transit
// state: draft, pending, in_transit, then completed or cancelled.
package transfer

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the lifecycle of a transfer.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusInTransit Status = "in_transit"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// IsValid checks if the status is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusInTransit, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanEdit checks if items may still be added or removed.
func (s Status) CanEdit() bool {
	return s == StatusDraft
}

// CanShip checks if the transfer may leave the source warehouse.
func (s Status) CanShip() bool {
	return s == StatusPending
}

// CanReceive checks if the destination may book receipts.
func (s Status) CanReceive() bool {
	return s == StatusInTransit
}

// CanCancel checks if the transfer may still be cancelled.
func (s Status) CanCancel() bool {
	return s != StatusCompleted && s != StatusCancelled
}

// Action names a state machine operation, recorded in history.
type Action string

const (
	ActionCreate  Action = "create"
	ActionSubmit  Action = "submit"
	ActionApprove Action = "approve"
	ActionShip    Action = "ship"
	ActionReceive Action = "receive"
	ActionCancel  Action = "cancel"
)

// Transfer is a request to move stock from one warehouse to another.
type Transfer struct {
	ID                     int64      `json:"id"`
	Code                   string     `json:"code"`
	SourceWarehouseID      int64      `json:"source_warehouse_id"`
	DestinationWarehouseID int64      `json:"destination_warehouse_id"`
	Status                 Status     `json:"status"`
	Note                   string     `json:"note,omitempty"`
	RequestedBy            int64      `json:"requested_by"`
	RequestedAt            time.Time  `json:"requested_at"`
	ApprovedBy             int64      `json:"approved_by,omitempty"`
	ApprovedAt             *time.Time `json:"approved_at,omitempty"`
	ShippedBy              int64      `json:"shipped_by,omitempty"`
	ShippedAt              *time.Time `json:"shipped_at,omitempty"`
	ReceivedBy             int64      `json:"received_by,omitempty"`
	ReceivedAt             *time.Time `json:"received_at,omitempty"`
	CancelledBy            int64      `json:"cancelled_by,omitempty"`
	CancelledAt            *time.Time `json:"cancelled_at,omitempty"`
	CancelReason           string     `json:"cancel_reason,omitempty"`
	UpdatedAt              time.Time  `json:"updated_at"`
	Items                  []Item     `json:"items"`
}

// Totals sums the quantity breakdown over all items.
type Totals struct {
	Requested decimal.Decimal `json:"requested"`
	Approved  decimal.Decimal `json:"approved"`
	Shipped   decimal.Decimal `json:"shipped"`
	Received  decimal.Decimal `json:"received"`
	Damaged   decimal.Decimal `json:"damaged"`
}

// Totals aggregates the items of the transfer.
func (t Transfer) Totals() Totals {
	var out Totals
	for _, it := range t.Items {
		out.Requested = out.Requested.Add(it.Requested)
		out.Approved = out.Approved.Add(it.ApprovedQuantity())
		out.Shipped = out.Shipped.Add(it.Shipped)
		out.Received = out.Received.Add(it.Received)
		out.Damaged = out.Damaged.Add(it.Damaged)
	}
	return out
}

// Settled reports whether every item is fully accounted for at the
// destination.
func (t Transfer) Settled() bool {
	for _, it := range t.Items {
		if it.Outstanding().IsPositive() {
			return false
		}
	}
	return true
}

// AnyReceived reports whether the destination booked any quantity.
func (t Transfer) AnyReceived() bool {
	for _, it := range t.Items {
		if it.Received.IsPositive() || it.Damaged.IsPositive() {
			return true
		}
	}
	return false
}

// Item returns the item with the given id.
func (t Transfer) Item(id int64) (Item, bool) {
	for _, it := range t.Items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

// Item is one product line of a transfer.
type Item struct {
	ID                int64               `json:"id"`
	TransferID        int64               `json:"transfer_id"`
	ProductID         int64               `json:"product_id"`
	BatchID           int64               `json:"batch_id,omitempty"`
	Requested         decimal.Decimal     `json:"requested"`
	Approved          decimal.NullDecimal `json:"approved"`
	Shipped           decimal.Decimal     `json:"shipped"`
	Received          decimal.Decimal     `json:"received"`
	Damaged           decimal.Decimal     `json:"damaged"`
	ShippingCondition string              `json:"shipping_condition,omitempty"`
	ReceiptCondition  string              `json:"receipt_condition,omitempty"`
}

// ApprovedQuantity returns the approved quantity, defaulting to requested
// when no approval was recorded.
func (it Item) ApprovedQuantity() decimal.Decimal {
	if it.Approved.Valid {
		return it.Approved.Decimal
	}
	return it.Requested
}

// Outstanding returns shipped quantity not yet received or written off.
func (it Item) Outstanding() decimal.Decimal {
	return it.Shipped.Sub(it.Received).Sub(it.Damaged)
}

// Transit is stock that left the source ledger and has not reached the
// destination. One row exists per cost layer shipped.
type Transit struct {
	ID                     int64           `json:"id"`
	TransferID             int64           `json:"transfer_id"`
	ItemID                 int64           `json:"item_id"`
	ProductID              int64           `json:"product_id"`
	SourceWarehouseID      int64           `json:"source_warehouse_id"`
	DestinationWarehouseID int64           `json:"destination_warehouse_id"`
	MovementID             int64           `json:"movement_id"`
	Quantity               decimal.Decimal `json:"quantity"`
	Outstanding            decimal.Decimal `json:"outstanding"`
	UnitCost               decimal.Decimal `json:"unit_cost"`
	BatchNumber            string          `json:"batch_number,omitempty"`
	ManufacturedAt         *time.Time      `json:"manufactured_at,omitempty"`
	ExpiresAt              *time.Time      `json:"expires_at,omitempty"`
	SerialNumbers          []string        `json:"serial_numbers,omitempty"`
	ShippedAt              time.Time       `json:"shipped_at"`
	ClosedAt               *time.Time      `json:"closed_at,omitempty"`
}

// HistoryEntry is one append-only record of a state machine step.
type HistoryEntry struct {
	ID         int64     `json:"id"`
	TransferID int64     `json:"transfer_id"`
	Action     Action    `json:"action"`
	FromStatus Status    `json:"from_status,omitempty"`
	ToStatus   Status    `json:"to_status"`
	ActorID    int64     `json:"actor_id"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreateInput opens a draft transfer.
type CreateInput struct {
	SourceWarehouseID      int64
	DestinationWarehouseID int64
	Note                   string
	Items                  []ItemInput
	ActorID                int64
}

// ItemInput adds a product line to a draft.
type ItemInput struct {
	ProductID int64
	BatchID   int64
	Quantity  decimal.Decimal
}

// ApproveInput approves a pending transfer. Items without an entry are
// approved at their requested quantity.
type ApproveInput struct {
	Quantities map[int64]decimal.Decimal
	ActorID    int64
	Note       string
}

// ShipLine overrides what leaves the source for one item.
type ShipLine struct {
	ItemID        int64
	Quantity      decimal.NullDecimal
	SerialNumbers []string
	Condition     string
}

// ShipInput ships a pending transfer. Items without a line ship their
// approved quantity.
type ShipInput struct {
	Lines   []ShipLine
	ActorID int64
	Note    string
}

// ReceiptLine books a receipt for one item.
type ReceiptLine struct {
	ItemID         int64
	Received       decimal.Decimal
	Damaged        decimal.Decimal
	SerialNumbers  []string
	DamagedSerials []string
	Condition      string
}

// ReceiveInput books receipts against an in-transit transfer.
type ReceiveInput struct {
	Lines   []ReceiptLine
	ActorID int64
	Note    string
}

// Filter narrows transfer listings.
type Filter struct {
	Status        Status
	WarehouseID   int64
	Limit, Offset int
}

// StatusChangedEvent is published after a transition commits.
type StatusChangedEvent struct {
	TransferID int64     `json:"transfer_id"`
	Code       string    `json:"code"`
	Action     Action    `json:"action"`
	From       Status    `json:"from"`
	To         Status    `json:"to"`
	Totals     Totals    `json:"totals"`
	ActorID    int64     `json:"actor_id"`
	ChangedAt  time.Time `json:"changed_at"`
}
