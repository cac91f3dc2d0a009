package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory/tracking"
	"github.com/odyssey-erp/stockledger/internal/inventory/valuation"
)

// ledgerSource prices against the locked, in-flight state of one posting.
type ledgerSource struct {
	tx      TxRepository
	policy  Policy
	balance *Balance
}

func (s ledgerSource) Policy(context.Context, int64) (Policy, error) {
	return s.policy, nil
}

func (s ledgerSource) Position(context.Context, int64, int64) (valuation.Position, error) {
	return valuation.Position{OnHand: s.balance.OnHand, UnitCost: s.balance.UnitCost}, nil
}

func (s ledgerSource) Layers(ctx context.Context, productID, warehouseID int64) ([]tracking.Batch, error) {
	return s.tx.StockBatches(ctx, productID, warehouseID)
}

func (s ledgerSource) Layer(ctx context.Context, batchID int64) (tracking.Batch, error) {
	return s.tx.GetBatch(ctx, batchID)
}

// posting carries the state of one intent while it is applied.
type posting struct {
	svc      *Service
	tx       TxRepository
	tracker  *tracking.Tracker
	policy   Policy
	settings StockSettings
	balance  Balance
	intent   MovementIntent
	at       time.Time
}

func (p *posting) source() ledgerSource {
	return ledgerSource{tx: p.tx, policy: p.policy, balance: &p.balance}
}

func (p *posting) receive(ctx context.Context) ([]Movement, error) {
	in := p.intent
	qty := in.Delta()
	cost, err := p.receiptCost(ctx)
	if err != nil {
		return nil, err
	}
	var batchID int64
	if p.policy.LayerTracked() || in.BatchID != 0 || in.NewBatch != nil {
		batch, err := p.receiveBatch(ctx, qty, cost)
		if err != nil {
			return nil, err
		}
		batchID = batch.ID
	}
	if p.policy.Serialized {
		if err := p.receiveSerials(ctx, batchID); err != nil {
			return nil, err
		}
	}
	newCost, err := p.svc.engine.CostAfterReceipt(ctx, p.source(), in.ProductID, in.WarehouseID, qty, cost)
	if err != nil {
		return nil, err
	}
	m, err := p.write(ctx, qty, cost, batchID)
	if err != nil {
		return nil, err
	}
	p.balance.UnitCost = newCost
	return []Movement{m}, nil
}

// receiptCost prices an incoming movement. Standard-cost products always
// receive at standard; otherwise an explicit cost wins, then the current cost.
func (p *posting) receiptCost(ctx context.Context) (decimal.Decimal, error) {
	in := p.intent
	if p.policy.Method == valuation.MethodStandard {
		return p.policy.StandardCost, nil
	}
	if in.UnitCost.Valid {
		return in.UnitCost.Decimal.Round(valuation.CostScale), nil
	}
	cost, err := p.svc.engine.CostForIssue(ctx, p.source(), in.ProductID, in.WarehouseID, in.BatchID)
	var noBasis *valuation.NoCostBasisError
	if errors.As(err, &noBasis) {
		return p.balance.UnitCost, nil
	}
	return cost, err
}

func (p *posting) receiveBatch(ctx context.Context, qty, cost decimal.Decimal) (Batch, error) {
	in := p.intent
	switch {
	case in.BatchID != 0:
		if _, err := p.tracker.Batch(ctx, in.BatchID, in.ProductID, in.WarehouseID); err != nil {
			return Batch{}, err
		}
		return p.tracker.Restock(ctx, in.BatchID, qty, decimal.NewNullDecimal(cost))
	case in.NewBatch != nil:
		return p.tracker.Receive(ctx, tracking.BatchInput{
			ProductID:      in.ProductID,
			WarehouseID:    in.WarehouseID,
			Number:         in.NewBatch.Number,
			ManufacturedAt: in.NewBatch.ManufacturedAt,
			ExpiresAt:      in.NewBatch.ExpiresAt,
			UnitCost:       cost,
			Quantity:       qty,
		})
	default:
		return p.tracker.CreateBatch(ctx, tracking.BatchInput{
			ProductID:   in.ProductID,
			WarehouseID: in.WarehouseID,
			Number:      autoBatchNumber(p.at),
			UnitCost:    cost,
			Quantity:    qty,
		})
	}
}

func autoBatchNumber(at time.Time) string {
	return fmt.Sprintf("AUTO-%s-%s", at.Format("20060102"), uuid.NewString()[:8])
}

func (p *posting) receiveSerials(ctx context.Context, batchID int64) error {
	in := p.intent
	for _, number := range in.SerialNumbers {
		serial, err := p.tracker.Serial(ctx, in.ProductID, number)
		if errors.Is(err, tracking.ErrSerialNotFound) {
			if in.Type == MovementTransferIn || in.Type == MovementReturn || in.Reference.Kind == DocumentReversal {
				return err
			}
			if _, err := p.tracker.RegisterSerial(ctx, tracking.SerialInput{
				ProductID:      in.ProductID,
				Number:         number,
				WarehouseID:    in.WarehouseID,
				BatchID:        batchID,
				WarrantyMonths: p.policy.WarrantyMonths,
			}); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		switch {
		case in.Type == MovementTransferIn:
			if serial.WarehouseID != 0 || serial.Status != tracking.SerialAvailable {
				return fmt.Errorf("%w: %s is not in transit", tracking.ErrSerialLocation, serial.Number)
			}
		case in.Type == MovementReturn:
			if err := p.tracker.Step(&serial, tracking.SerialReturned); err != nil {
				return err
			}
		case serial.Status == tracking.SerialSold && in.Reference.Kind == DocumentReversal:
			if err := p.tracker.Step(&serial, tracking.SerialReturned); err != nil {
				return err
			}
			if err := p.tracker.Step(&serial, tracking.SerialAvailable); err != nil {
				return err
			}
		case serial.Status == tracking.SerialReturned:
			if err := p.tracker.Step(&serial, tracking.SerialAvailable); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: %s", tracking.ErrDuplicateSerial, serial.Number)
		}
		serial.WarehouseID = in.WarehouseID
		if batchID != 0 {
			serial.BatchID = batchID
		}
		if err := p.tracker.Save(ctx, serial); err != nil {
			return err
		}
	}
	return nil
}

func (p *posting) issue(ctx context.Context) ([]Movement, error) {
	in := p.intent
	qty := in.Delta().Abs()
	key := in.Key()
	backorder := p.svc.cfg.AllowNegativeStock || p.settings.AllowBackorder
	if in.FromReservation {
		if qty.GreaterThan(p.balance.Reserved) {
			return nil, &InsufficientStockError{Key: key, Requested: qty, Available: p.balance.Reserved}
		}
		if !backorder && qty.GreaterThan(p.balance.OnHand) {
			return nil, &InsufficientStockError{Key: key, Requested: qty, Available: p.balance.OnHand}
		}
	} else if !backorder && qty.GreaterThan(p.balance.Available()) {
		return nil, &InsufficientStockError{Key: key, Requested: qty, Available: p.balance.Available()}
	}

	plan, err := p.plan(ctx, qty, backorder)
	if err != nil {
		return nil, err
	}
	if p.policy.Serialized {
		if err := p.issueSerials(ctx); err != nil {
			return nil, err
		}
	}
	movements := make([]Movement, 0, len(plan.Allocations))
	for _, a := range plan.Allocations {
		if a.BatchID != 0 {
			if _, err := p.tracker.Consume(ctx, a.BatchID, a.Quantity); err != nil {
				return nil, err
			}
		}
		before := p.balance
		m, err := p.write(ctx, a.Quantity.Neg(), a.UnitCost, a.BatchID)
		if err != nil {
			return nil, err
		}
		switch {
		case p.policy.Method == valuation.MethodStandard:
			p.balance.UnitCost = p.policy.StandardCost
		case p.policy.Method == valuation.MethodFIFO, p.policy.Method == valuation.MethodLIFO, in.UnitCost.Valid:
			p.balance.UnitCost = valuation.RemoveValue(before.OnHand, before.UnitCost, a.Quantity, a.UnitCost)
		}
		movements = append(movements, m)
	}
	if in.FromReservation {
		p.balance.Reserved = p.balance.Reserved.Sub(qty)
	}
	return movements, nil
}

// plan splits an issue into priced allocations. A pinned batch yields one
// allocation; layer-tracked products draw in method order; everything else
// issues unbatched at the running cost.
func (p *posting) plan(ctx context.Context, qty decimal.Decimal, backorder bool) (valuation.Plan, error) {
	in := p.intent
	src := p.source()
	if in.BatchID != 0 {
		batch, err := p.tracker.Batch(ctx, in.BatchID, in.ProductID, in.WarehouseID)
		if err != nil {
			return valuation.Plan{}, err
		}
		if in.Type != MovementAdjustment && !batch.Issuable(p.at) {
			return valuation.Plan{}, fmt.Errorf("inventory: batch %s is %s: %w", batch.Number, batch.Status, tracking.ErrBatchState)
		}
		cost := in.UnitCost.Decimal
		if !in.UnitCost.Valid {
			var err error
			if cost, err = p.svc.engine.CostForIssue(ctx, src, in.ProductID, in.WarehouseID, batch.ID); err != nil {
				return valuation.Plan{}, err
			}
		}
		return valuation.Plan{Allocations: []valuation.Allocation{{
			BatchID:     batch.ID,
			BatchNumber: batch.Number,
			Quantity:    qty,
			UnitCost:    cost,
		}}, Shortfall: decimal.Zero}, nil
	}

	plan, err := p.svc.engine.AllocateIssue(ctx, src, in.ProductID, in.WarehouseID, qty)
	if err != nil {
		return valuation.Plan{}, err
	}
	if in.UnitCost.Valid {
		for i := range plan.Allocations {
			plan.Allocations[i].UnitCost = in.UnitCost.Decimal
		}
	}
	if plan.Shortfall.IsPositive() {
		switch {
		case backorder:
			cost := p.balance.UnitCost
			if p.policy.Method == valuation.MethodStandard {
				cost = p.policy.StandardCost
			}
			if in.UnitCost.Valid {
				cost = in.UnitCost.Decimal
			}
			plan.Allocations = append(plan.Allocations, valuation.Allocation{Quantity: plan.Shortfall, UnitCost: cost})
		case p.policy.Method == valuation.MethodFIFO || p.policy.Method == valuation.MethodLIFO:
			return valuation.Plan{}, &valuation.NoCostBasisError{
				ProductID:   in.ProductID,
				WarehouseID: in.WarehouseID,
				Method:      p.policy.Method,
				Shortfall:   plan.Shortfall,
			}
		default:
			return valuation.Plan{}, &InsufficientStockError{
				Key:       in.Key(),
				Requested: qty,
				Available: qty.Sub(plan.Shortfall),
			}
		}
	}
	return plan, nil
}

func (p *posting) issueSerials(ctx context.Context) error {
	in := p.intent
	for _, number := range in.SerialNumbers {
		serial, err := p.tracker.Serial(ctx, in.ProductID, number)
		if err != nil {
			return err
		}
		if serial.WarehouseID != in.WarehouseID {
			return fmt.Errorf("%w: %s is not in warehouse %d", tracking.ErrSerialLocation, serial.Number, in.WarehouseID)
		}
		switch in.Type {
		case MovementTransferOut:
			if serial.Status != tracking.SerialAvailable {
				return fmt.Errorf("%w: %s is %s", tracking.ErrSerialLocation, serial.Number, serial.Status)
			}
			serial.WarehouseID = 0
		case MovementAdjustment:
			// A unit already flagged defective is written off where it stands.
			if serial.Status == tracking.SerialDefective {
				serial.WarehouseID = 0
				break
			}
			if err := p.tracker.Step(&serial, tracking.SerialDefective); err != nil {
				return err
			}
			if in.Reference.Kind == DocumentReversal {
				serial.WarehouseID = 0
			}
		default:
			if serial.Status == tracking.SerialAvailable {
				if err := p.tracker.Step(&serial, tracking.SerialReserved); err != nil {
					return err
				}
			}
			if err := p.tracker.Step(&serial, tracking.SerialSold); err != nil {
				return err
			}
			serial.WarehouseID = 0
		}
		if err := p.tracker.Save(ctx, serial); err != nil {
			return err
		}
	}
	return nil
}

// write appends one movement and moves the running on-hand.
func (p *posting) write(ctx context.Context, qty, cost decimal.Decimal, batchID int64) (Movement, error) {
	in := p.intent
	m := Movement{
		ProductID:   in.ProductID,
		WarehouseID: in.WarehouseID,
		BatchID:     batchID,
		Type:        in.Type,
		Quantity:    qty,
		UnitCost:    cost.Round(valuation.CostScale),
		StockBefore: p.balance.OnHand,
		StockAfter:  p.balance.OnHand.Add(qty),
		Reference:   in.Reference,
		ActorID:     in.ActorID,
		Note:        in.Note,
		CreatedAt:   p.at,
	}
	if err := p.tx.InsertMovement(ctx, &m); err != nil {
		return Movement{}, err
	}
	p.balance.OnHand = m.StockAfter
	return m, nil
}

func checkSerialCount(in MovementIntent) error {
	qty := in.Quantity.Abs()
	if !qty.Equal(qty.Truncate(0)) {
		return fmt.Errorf("%w: quantity %s is fractional", ErrSerialCount, qty)
	}
	if !qty.Equal(decimal.NewFromInt(int64(len(in.SerialNumbers)))) {
		return fmt.Errorf("%w: %d serials for quantity %s", ErrSerialCount, len(in.SerialNumbers), qty)
	}
	seen := make(map[string]struct{}, len(in.SerialNumbers))
	for _, number := range in.SerialNumbers {
		if _, dup := seen[number]; dup {
			return fmt.Errorf("%w: %s listed twice", ErrSerialCount, number)
		}
		seen[number] = struct{}{}
	}
	return nil
}
