package valuation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory/tracking"
)

// Position is the current quantity and unit cost of a stock unit.
type Position struct {
	OnHand   decimal.Decimal
	UnitCost decimal.Decimal
}

// Source supplies the state the engine prices against. Inside a ledger
// transaction it reads the locked rows; outside it serves previews.
type Source interface {
	Policy(ctx context.Context, productID int64) (Policy, error)
	Position(ctx context.Context, productID, warehouseID int64) (Position, error)
	Layers(ctx context.Context, productID, warehouseID int64) ([]tracking.Batch, error)
	Layer(ctx context.Context, batchID int64) (tracking.Batch, error)
}

// Engine dispatches pricing on the product's cost method.
type Engine struct {
	now func() time.Time
}

// NewEngine constructs an Engine. now decides batch expiry during selection.
func NewEngine(now func() time.Time) *Engine {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{now: now}
}

// CostAfterReceipt returns the unit cost of the stock unit after receiving
// qty at cost. Standard-cost products never move on receipt.
func (e *Engine) CostAfterReceipt(ctx context.Context, src Source, productID, warehouseID int64, qty, cost decimal.Decimal) (decimal.Decimal, error) {
	policy, err := src.Policy(ctx, productID)
	if err != nil {
		return decimal.Zero, err
	}
	if policy.Method == MethodStandard {
		return policy.StandardCost, nil
	}
	pos, err := src.Position(ctx, productID, warehouseID)
	if err != nil {
		return decimal.Zero, err
	}
	return AverageCost(pos.OnHand, pos.UnitCost, qty, cost), nil
}

// CostForIssue returns the unit cost an issue would carry. batchID pins the
// layer for FIFO and LIFO; zero means the next layer in method order.
func (e *Engine) CostForIssue(ctx context.Context, src Source, productID, warehouseID, batchID int64) (decimal.Decimal, error) {
	policy, err := src.Policy(ctx, productID)
	if err != nil {
		return decimal.Zero, err
	}
	switch policy.Method {
	case MethodStandard:
		return policy.StandardCost, nil
	case MethodFIFO, MethodLIFO:
		if batchID != 0 {
			layer, err := src.Layer(ctx, batchID)
			if err != nil {
				return decimal.Zero, err
			}
			return layer.UnitCost, nil
		}
		layers, err := src.Layers(ctx, productID, warehouseID)
		if err != nil {
			return decimal.Zero, err
		}
		ordered := Order(policy.Method, layers, e.now())
		if len(ordered) == 0 {
			return decimal.Zero, &NoCostBasisError{ProductID: productID, WarehouseID: warehouseID, Method: policy.Method}
		}
		return ordered[0].UnitCost, nil
	default:
		pos, err := src.Position(ctx, productID, warehouseID)
		if err != nil {
			return decimal.Zero, err
		}
		return pos.UnitCost, nil
	}
}

// AllocateIssue splits an issue of qty across the product's layers. Products
// that are not layer tracked get a single unbatched allocation.
func (e *Engine) AllocateIssue(ctx context.Context, src Source, productID, warehouseID int64, qty decimal.Decimal) (Plan, error) {
	policy, err := src.Policy(ctx, productID)
	if err != nil {
		return Plan{}, err
	}
	pos, err := src.Position(ctx, productID, warehouseID)
	if err != nil {
		return Plan{}, err
	}
	flat := pos.UnitCost
	if policy.Method == MethodStandard {
		flat = policy.StandardCost
	}
	if !policy.LayerTracked() {
		return Plan{Allocations: []Allocation{{Quantity: qty, UnitCost: flat}}, Shortfall: decimal.Zero}, nil
	}
	layers, err := src.Layers(ctx, productID, warehouseID)
	if err != nil {
		return Plan{}, err
	}
	costOf := func(tracking.Batch) decimal.Decimal { return flat }
	if policy.Method == MethodFIFO || policy.Method == MethodLIFO {
		costOf = func(b tracking.Batch) decimal.Decimal { return b.UnitCost }
	}
	return Allocate(policy.Method, layers, qty, e.now(), costOf), nil
}

// Valuation summarises the value of a stock unit.
type Valuation struct {
	ProductID   int64            `json:"product_id"`
	WarehouseID int64            `json:"warehouse_id"`
	Method      Method           `json:"cost_method"`
	OnHand      decimal.Decimal  `json:"on_hand"`
	UnitCost    decimal.Decimal  `json:"unit_cost"`
	Value       decimal.Decimal  `json:"value"`
	Layers      []tracking.Batch `json:"layers,omitempty"`
}

// Preview values a stock unit without locking.
func (e *Engine) Preview(ctx context.Context, src Source, productID, warehouseID int64) (Valuation, error) {
	policy, err := src.Policy(ctx, productID)
	if err != nil {
		return Valuation{}, err
	}
	pos, err := src.Position(ctx, productID, warehouseID)
	if err != nil {
		return Valuation{}, err
	}
	v := Valuation{
		ProductID:   productID,
		WarehouseID: warehouseID,
		Method:      policy.Method,
		OnHand:      pos.OnHand,
		UnitCost:    pos.UnitCost,
		Value:       pos.OnHand.Mul(pos.UnitCost).Round(CostScale),
	}
	if policy.LayerTracked() {
		layers, err := src.Layers(ctx, productID, warehouseID)
		if err != nil {
			return Valuation{}, err
		}
		v.Layers = Order(policy.Method, layers, e.now())
	}
	return v, nil
}
