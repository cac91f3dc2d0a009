package valuation

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory/tracking"
)

// CostScale is the number of decimal places kept on unit costs.
const CostScale = 6

// AverageCost blends an incoming lot into a running average. A non-positive
// prior quantity carries no value, so the incoming cost wins.
func AverageCost(oldQty, oldCost, inQty, inCost decimal.Decimal) decimal.Decimal {
	if !oldQty.IsPositive() {
		return inCost
	}
	total := oldQty.Add(inQty)
	if !total.IsPositive() {
		return inCost
	}
	value := oldQty.Mul(oldCost).Add(inQty.Mul(inCost))
	return value.DivRound(total, CostScale)
}

// RemoveValue returns the unit cost left after issuing outQty at outCost. When
// nothing remains the previous cost is kept as the last known cost.
func RemoveValue(oldQty, oldCost, outQty, outCost decimal.Decimal) decimal.Decimal {
	remaining := oldQty.Sub(outQty)
	if !remaining.IsPositive() || !oldQty.IsPositive() {
		return oldCost
	}
	if outCost.Equal(oldCost) {
		return oldCost
	}
	value := oldQty.Mul(oldCost).Sub(outQty.Mul(outCost))
	if value.IsNegative() {
		return decimal.Zero
	}
	return value.DivRound(remaining, CostScale)
}

// Allocation is one slice of an issue drawn from a single layer.
type Allocation struct {
	BatchID     int64           `json:"batch_id,omitempty"`
	BatchNumber string          `json:"batch_number,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

// Plan is the layer split for one issue. Shortfall is what the layers could not cover.
type Plan struct {
	Allocations []Allocation
	Shortfall   decimal.Decimal
}

// Value returns the total cost of the allocated quantity.
func (p Plan) Value() decimal.Decimal {
	total := decimal.Zero
	for _, a := range p.Allocations {
		total = total.Add(a.Quantity.Mul(a.UnitCost))
	}
	return total
}

// Order returns the issuable layers in the sequence the method draws them:
// FIFO oldest receipt first, LIFO newest first, otherwise earliest expiry first.
func Order(method Method, layers []tracking.Batch, asOf time.Time) []tracking.Batch {
	out := make([]tracking.Batch, 0, len(layers))
	for _, l := range layers {
		if l.Issuable(asOf) {
			out = append(out, l)
		}
	}
	byReceipt := func(a, b tracking.Batch) bool {
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		return a.ID < b.ID
	}
	switch method {
	case MethodFIFO:
		sort.SliceStable(out, func(i, j int) bool { return byReceipt(out[i], out[j]) })
	case MethodLIFO:
		sort.SliceStable(out, func(i, j int) bool { return byReceipt(out[j], out[i]) })
	default:
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i], out[j]
			switch {
			case a.ExpiresAt != nil && b.ExpiresAt != nil && !a.ExpiresAt.Equal(*b.ExpiresAt):
				return a.ExpiresAt.Before(*b.ExpiresAt)
			case a.ExpiresAt != nil && b.ExpiresAt == nil:
				return true
			case a.ExpiresAt == nil && b.ExpiresAt != nil:
				return false
			}
			return byReceipt(a, b)
		})
	}
	return out
}

// Allocate splits qty across layers in method order. costOf prices each
// allocation; FIFO and LIFO use the layer cost.
func Allocate(method Method, layers []tracking.Batch, qty decimal.Decimal, asOf time.Time, costOf func(tracking.Batch) decimal.Decimal) Plan {
	plan := Plan{Shortfall: qty}
	for _, layer := range Order(method, layers, asOf) {
		if !plan.Shortfall.IsPositive() {
			break
		}
		take := decimal.Min(layer.Remaining, plan.Shortfall)
		plan.Allocations = append(plan.Allocations, Allocation{
			BatchID:     layer.ID,
			BatchNumber: layer.Number,
			Quantity:    take,
			UnitCost:    costOf(layer),
		})
		plan.Shortfall = plan.Shortfall.Sub(take)
	}
	return plan
}
