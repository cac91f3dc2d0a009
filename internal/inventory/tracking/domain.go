// Package tracking maintains lot (batch) and unit (serial) identities that
// stock movements consume and produce.
package tracking

import (
	"time"

	"github.com/shopspring/decimal"
)

// BatchStatus enumerates batch lifecycle states.
type BatchStatus string

const (
	BatchAvailable BatchStatus = "available"
	BatchReserved  BatchStatus = "reserved" // held back from issue selection
	BatchExpired   BatchStatus = "expired"
	BatchConsumed  BatchStatus = "consumed"
)

// Batch is a lot of one product in one warehouse sharing cost and dates.
type Batch struct {
	ID             int64           `json:"id"`
	ProductID      int64           `json:"product_id"`
	WarehouseID    int64           `json:"warehouse_id"`
	Number         string          `json:"batch_number"`
	ManufacturedAt *time.Time      `json:"manufactured_at,omitempty"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	Received       decimal.Decimal `json:"received"`
	Remaining      decimal.Decimal `json:"remaining"`
	Status         BatchStatus     `json:"status"`
	ReceivedAt     time.Time       `json:"received_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ExpiredAt reports whether the batch is past its expiry date at asOf.
func (b Batch) ExpiredAt(asOf time.Time) bool {
	return b.ExpiresAt != nil && !b.ExpiresAt.After(asOf)
}

// Issuable reports whether issue selection may draw from the batch.
func (b Batch) Issuable(asOf time.Time) bool {
	if !b.Remaining.IsPositive() {
		return false
	}
	if b.Status == BatchExpired || b.Status == BatchReserved {
		return false
	}
	return !b.ExpiredAt(asOf)
}

// SerialStatus enumerates the single-unit lifecycle.
type SerialStatus string

const (
	SerialAvailable SerialStatus = "available"
	SerialReserved  SerialStatus = "reserved"
	SerialSold      SerialStatus = "sold"
	SerialReturned  SerialStatus = "returned"
	SerialDefective SerialStatus = "defective"
)

// IsValid checks if the status is known.
func (s SerialStatus) IsValid() bool {
	switch s {
	case SerialAvailable, SerialReserved, SerialSold, SerialReturned, SerialDefective:
		return true
	default:
		return false
	}
}

var serialTransitions = map[SerialStatus][]SerialStatus{
	SerialAvailable: {SerialReserved},
	SerialReserved:  {SerialSold, SerialAvailable},
	SerialSold:      {SerialReturned},
	SerialReturned:  {SerialAvailable},
}

// CanTransition reports whether a serial may move from one status to another.
// Every status may be marked defective.
func CanTransition(from, to SerialStatus) bool {
	if !to.IsValid() || from == to {
		return false
	}
	if to == SerialDefective {
		return true
	}
	for _, next := range serialTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Serial is one uniquely identified physical unit.
type Serial struct {
	ID             int64        `json:"id"`
	ProductID      int64        `json:"product_id"`
	Number         string       `json:"serial_number"`
	WarehouseID    int64        `json:"warehouse_id"` // zero while in transit or after sale
	BatchID        int64        `json:"batch_id,omitempty"`
	Status         SerialStatus `json:"status"`
	WarrantyMonths int          `json:"warranty_months"`
	WarrantyStart  *time.Time   `json:"warranty_start,omitempty"`
	WarrantyEnd    *time.Time   `json:"warranty_end,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// UnderWarranty reports whether the warranty window covers at.
func (s Serial) UnderWarranty(at time.Time) bool {
	return s.WarrantyStart != nil && s.WarrantyEnd != nil && !at.Before(*s.WarrantyStart) && at.Before(*s.WarrantyEnd)
}

// BatchInput describes a lot received into stock.
type BatchInput struct {
	ProductID      int64
	WarehouseID    int64
	Number         string
	ManufacturedAt *time.Time
	ExpiresAt      *time.Time
	UnitCost       decimal.Decimal
	Quantity       decimal.Decimal
}

// SerialInput describes a unit registered into stock.
type SerialInput struct {
	ProductID      int64
	WarehouseID    int64
	Number         string
	BatchID        int64
	WarrantyMonths int
}

// BatchFilter narrows batch listings.
type BatchFilter struct {
	ProductID     int64
	WarehouseID   int64
	Status        BatchStatus
	ExpiringUntil *time.Time
	OnlyRemaining bool
	Limit         int
	Offset        int
}

// SerialFilter narrows serial listings.
type SerialFilter struct {
	ProductID   int64
	WarehouseID int64
	Status      SerialStatus
	Number      string
	Limit       int
	Offset      int
}
