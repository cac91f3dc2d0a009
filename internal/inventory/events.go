package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// MovementPostedEvent is published after a movement commits.
type MovementPostedEvent struct {
	Movement  Movement        `json:"movement"`
	OnHand    decimal.Decimal `json:"on_hand"`
	Reserved  decimal.Decimal `json:"reserved"`
	Available decimal.Decimal `json:"available"`
	PostedAt  time.Time       `json:"posted_at"`
}

// AlertChangedEvent is published when a low-stock alert opens or resolves.
type AlertChangedEvent struct {
	Alert    LowStockAlert `json:"alert"`
	Opened   bool          `json:"opened"`
	ChangeAt time.Time     `json:"changed_at"`
}

// EventSink receives committed ledger facts. Failures never roll back the
// write that produced the event.
type EventSink interface {
	MovementPosted(ctx context.Context, evt MovementPostedEvent) error
	AlertChanged(ctx context.Context, evt AlertChangedEvent) error
}

// NopEventSink discards events.
type NopEventSink struct{}

func (NopEventSink) MovementPosted(context.Context, MovementPostedEvent) error { return nil }
func (NopEventSink) AlertChanged(context.Context, AlertChangedEvent) error     { return nil }
