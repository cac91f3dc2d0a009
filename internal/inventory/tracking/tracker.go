package tracking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Store persists batches and serials inside the caller's transaction. Get
// methods lock the returned row for the rest of the transaction.
type Store interface {
	GetBatch(ctx context.Context, id int64) (Batch, error)
	FindBatch(ctx context.Context, productID, warehouseID int64, number string) (Batch, error)
	InsertBatch(ctx context.Context, batch *Batch) error
	UpdateBatch(ctx context.Context, batch Batch) error
	StockBatches(ctx context.Context, productID, warehouseID int64) ([]Batch, error)

	GetSerial(ctx context.Context, id int64) (Serial, error)
	FindSerial(ctx context.Context, productID int64, number string) (Serial, error)
	InsertSerial(ctx context.Context, serial *Serial) error
	UpdateSerial(ctx context.Context, serial Serial) error
}

// Tracker applies batch and serial rules on top of a Store.
type Tracker struct {
	store Store
	now   func() time.Time
}

// NewTracker binds a tracker to a transactional store.
func NewTracker(store Store, now func() time.Time) *Tracker {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Tracker{store: store, now: now}
}

// CreateBatch registers a new lot; the number must be unused for the stock unit.
func (t *Tracker) CreateBatch(ctx context.Context, in BatchInput) (Batch, error) {
	if err := validateBatchInput(in); err != nil {
		return Batch{}, err
	}
	if _, err := t.store.FindBatch(ctx, in.ProductID, in.WarehouseID, in.Number); err == nil {
		return Batch{}, ErrDuplicateBatch
	} else if !errors.Is(err, ErrBatchNotFound) {
		return Batch{}, err
	}
	now := t.now()
	batch := Batch{
		ProductID:      in.ProductID,
		WarehouseID:    in.WarehouseID,
		Number:         in.Number,
		ManufacturedAt: in.ManufacturedAt,
		ExpiresAt:      in.ExpiresAt,
		UnitCost:       in.UnitCost,
		Received:       in.Quantity,
		Remaining:      in.Quantity,
		Status:         BatchAvailable,
		ReceivedAt:     now,
		UpdatedAt:      now,
	}
	if batch.ExpiredAt(now) {
		batch.Status = BatchExpired
	}
	if err := t.store.InsertBatch(ctx, &batch); err != nil {
		return Batch{}, err
	}
	return batch, nil
}

// Receive adds quantity to the lot with the given number, creating it when
// missing. An existing lot's cost becomes the weighted average of old and new.
func (t *Tracker) Receive(ctx context.Context, in BatchInput) (Batch, error) {
	if err := validateBatchInput(in); err != nil {
		return Batch{}, err
	}
	batch, err := t.store.FindBatch(ctx, in.ProductID, in.WarehouseID, in.Number)
	if errors.Is(err, ErrBatchNotFound) {
		return t.CreateBatch(ctx, in)
	}
	if err != nil {
		return Batch{}, err
	}
	if batch.ExpiresAt == nil {
		batch.ExpiresAt = in.ExpiresAt
	}
	if batch.ManufacturedAt == nil {
		batch.ManufacturedAt = in.ManufacturedAt
	}
	return t.restock(ctx, batch, in.Quantity, decimal.NewNullDecimal(in.UnitCost))
}

// Restock returns quantity to an existing lot. When cost is valid the lot
// cost is blended with it.
func (t *Tracker) Restock(ctx context.Context, batchID int64, qty decimal.Decimal, cost decimal.NullDecimal) (Batch, error) {
	if !qty.IsPositive() {
		return Batch{}, ErrInvalidQuantity
	}
	batch, err := t.store.GetBatch(ctx, batchID)
	if err != nil {
		return Batch{}, err
	}
	return t.restock(ctx, batch, qty, cost)
}

func (t *Tracker) restock(ctx context.Context, batch Batch, qty decimal.Decimal, cost decimal.NullDecimal) (Batch, error) {
	if cost.Valid && !cost.Decimal.Equal(batch.UnitCost) {
		total := batch.Remaining.Add(qty)
		if batch.Remaining.IsPositive() && total.IsPositive() {
			value := batch.Remaining.Mul(batch.UnitCost).Add(qty.Mul(cost.Decimal))
			batch.UnitCost = value.DivRound(total, 6)
		} else {
			batch.UnitCost = cost.Decimal
		}
	}
	batch.Remaining = batch.Remaining.Add(qty)
	batch.Received = batch.Received.Add(qty)
	now := t.now()
	switch {
	case batch.ExpiredAt(now):
		batch.Status = BatchExpired
	case batch.Status == BatchConsumed:
		batch.Status = BatchAvailable
	}
	batch.UpdatedAt = now
	if err := t.store.UpdateBatch(ctx, batch); err != nil {
		return Batch{}, err
	}
	return batch, nil
}

// Consume decrements a lot and returns what remains. A lot that reaches zero
// is marked consumed.
func (t *Tracker) Consume(ctx context.Context, batchID int64, qty decimal.Decimal) (decimal.Decimal, error) {
	if !qty.IsPositive() {
		return decimal.Zero, ErrInvalidQuantity
	}
	batch, err := t.store.GetBatch(ctx, batchID)
	if err != nil {
		return decimal.Zero, err
	}
	if qty.GreaterThan(batch.Remaining) {
		return batch.Remaining, &OverconsumptionError{BatchID: batchID, Requested: qty, Remaining: batch.Remaining}
	}
	batch.Remaining = batch.Remaining.Sub(qty)
	if batch.Remaining.IsZero() {
		batch.Status = BatchConsumed
	}
	batch.UpdatedAt = t.now()
	if err := t.store.UpdateBatch(ctx, batch); err != nil {
		return decimal.Zero, err
	}
	return batch.Remaining, nil
}

// Batch loads a lot and checks it belongs to the stock unit.
func (t *Tracker) Batch(ctx context.Context, batchID, productID, warehouseID int64) (Batch, error) {
	batch, err := t.store.GetBatch(ctx, batchID)
	if err != nil {
		return Batch{}, err
	}
	if batch.ProductID != productID || batch.WarehouseID != warehouseID {
		return Batch{}, ErrBatchMismatch
	}
	return batch, nil
}

// Expire marks a lot expired when its expiry date has passed. It reports
// whether the status changed.
func (t *Tracker) Expire(ctx context.Context, batchID int64, asOf time.Time) (bool, error) {
	batch, err := t.store.GetBatch(ctx, batchID)
	if err != nil {
		return false, err
	}
	if batch.Status == BatchExpired || batch.Status == BatchConsumed || !batch.ExpiredAt(asOf) {
		return false, nil
	}
	batch.Status = BatchExpired
	batch.UpdatedAt = t.now()
	return true, t.store.UpdateBatch(ctx, batch)
}

// Hold withdraws a lot from issue selection; Unhold returns it.
func (t *Tracker) Hold(ctx context.Context, batchID int64, hold bool) (Batch, error) {
	batch, err := t.store.GetBatch(ctx, batchID)
	if err != nil {
		return Batch{}, err
	}
	switch {
	case hold && batch.Status == BatchAvailable:
		batch.Status = BatchReserved
	case !hold && batch.Status == BatchReserved:
		batch.Status = BatchAvailable
	default:
		return Batch{}, fmt.Errorf("tracking: batch %d is %s: %w", batchID, batch.Status, ErrBatchState)
	}
	batch.UpdatedAt = t.now()
	if err := t.store.UpdateBatch(ctx, batch); err != nil {
		return Batch{}, err
	}
	return batch, nil
}

// RegisterSerial records a new unit as available at a warehouse.
func (t *Tracker) RegisterSerial(ctx context.Context, in SerialInput) (Serial, error) {
	number := strings.TrimSpace(in.Number)
	if in.ProductID == 0 || number == "" {
		return Serial{}, fmt.Errorf("tracking: product and serial number required: %w", ErrInvalidSerial)
	}
	if _, err := t.store.FindSerial(ctx, in.ProductID, number); err == nil {
		return Serial{}, fmt.Errorf("%w: %s", ErrDuplicateSerial, number)
	} else if !errors.Is(err, ErrSerialNotFound) {
		return Serial{}, err
	}
	now := t.now()
	serial := Serial{
		ProductID:      in.ProductID,
		Number:         number,
		WarehouseID:    in.WarehouseID,
		BatchID:        in.BatchID,
		Status:         SerialAvailable,
		WarrantyMonths: in.WarrantyMonths,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := t.store.InsertSerial(ctx, &serial); err != nil {
		return Serial{}, err
	}
	return serial, nil
}

// TransitionSerial moves a unit to a new status.
func (t *Tracker) TransitionSerial(ctx context.Context, serialID int64, to SerialStatus) (Serial, error) {
	serial, err := t.store.GetSerial(ctx, serialID)
	if err != nil {
		return Serial{}, err
	}
	if err := t.transition(&serial, to); err != nil {
		return Serial{}, err
	}
	if err := t.store.UpdateSerial(ctx, serial); err != nil {
		return Serial{}, err
	}
	return serial, nil
}

// Serial loads a unit by number for the product.
func (t *Tracker) Serial(ctx context.Context, productID int64, number string) (Serial, error) {
	serial, err := t.store.FindSerial(ctx, productID, strings.TrimSpace(number))
	if err != nil {
		if errors.Is(err, ErrSerialNotFound) {
			return Serial{}, fmt.Errorf("%w: %s", ErrSerialNotFound, number)
		}
		return Serial{}, err
	}
	return serial, nil
}

// Save persists changes made through Step.
func (t *Tracker) Save(ctx context.Context, serial Serial) error {
	serial.UpdatedAt = t.now()
	return t.store.UpdateSerial(ctx, serial)
}

// Step applies one status change in memory, enforcing the state machine.
func (t *Tracker) Step(serial *Serial, to SerialStatus) error {
	return t.transition(serial, to)
}

func (t *Tracker) transition(serial *Serial, to SerialStatus) error {
	if !CanTransition(serial.Status, to) {
		return &IllegalSerialTransitionError{SerialNumber: serial.Number, From: serial.Status, To: to}
	}
	now := t.now()
	if to == SerialSold && serial.WarrantyMonths > 0 {
		start := now
		end := now.AddDate(0, serial.WarrantyMonths, 0)
		serial.WarrantyStart = &start
		serial.WarrantyEnd = &end
	}
	serial.Status = to
	serial.UpdatedAt = now
	return nil
}

func validateBatchInput(in BatchInput) error {
	if in.ProductID == 0 || in.WarehouseID == 0 || strings.TrimSpace(in.Number) == "" {
		return fmt.Errorf("tracking: product, warehouse and batch number required: %w", ErrInvalidBatch)
	}
	if !in.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	if in.UnitCost.IsNegative() {
		return fmt.Errorf("tracking: unit cost must be >= 0: %w", ErrInvalidBatch)
	}
	return nil
}
