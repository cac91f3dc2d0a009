package valuation

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory/tracking"
)

type stubSource struct {
	policy   Policy
	position Position
	layers   []tracking.Batch
}

func (s stubSource) Policy(context.Context, int64) (Policy, error) { return s.policy, nil }

func (s stubSource) Position(context.Context, int64, int64) (Position, error) {
	return s.position, nil
}

func (s stubSource) Layers(context.Context, int64, int64) ([]tracking.Batch, error) {
	return s.layers, nil
}

func (s stubSource) Layer(_ context.Context, id int64) (tracking.Batch, error) {
	for _, l := range s.layers {
		if l.ID == id {
			return l, nil
		}
	}
	return tracking.Batch{}, tracking.ErrBatchNotFound
}

var now = time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func layer(id int64, remaining, cost string, age time.Duration) tracking.Batch {
	return tracking.Batch{ID: id, Number: "B" + decimal.NewFromInt(id).String(), Remaining: d(remaining), UnitCost: d(cost), Status: tracking.BatchAvailable, ReceivedAt: now.Add(-age)}
}

func TestAverageCost(t *testing.T) {
	require.True(t, AverageCost(d("0"), d("0"), d("100"), d("10")).Equal(d("10")))
	require.True(t, AverageCost(d("10"), d("100000"), d("5"), d("120000")).Equal(d("106666.666667")))
	require.True(t, AverageCost(d("-5"), d("3"), d("10"), d("7")).Equal(d("7")))
}

func TestRemoveValueKeepsLastCostWhenDepleted(t *testing.T) {
	require.True(t, RemoveValue(d("10"), d("4"), d("10"), d("9")).Equal(d("4")))
	require.True(t, RemoveValue(d("20"), d("6.5"), d("10"), d("5")).Equal(d("8")))
	require.True(t, RemoveValue(d("20"), d("6.5"), d("10"), d("6.5")).Equal(d("6.5")))
}

func TestFIFOAllocationSpansBatches(t *testing.T) {
	src := stubSource{
		policy: Policy{ProductID: 1, Method: MethodFIFO},
		layers: []tracking.Batch{layer(2, "10", "8", time.Hour), layer(1, "10", "5", 2*time.Hour)},
	}
	engine := NewEngine(func() time.Time { return now })
	plan, err := engine.AllocateIssue(context.Background(), src, 1, 1, d("15"))
	require.NoError(t, err)
	require.True(t, plan.Shortfall.IsZero())
	require.Len(t, plan.Allocations, 2)
	require.Equal(t, int64(1), plan.Allocations[0].BatchID)
	require.True(t, plan.Allocations[0].Quantity.Equal(d("10")))
	require.True(t, plan.Allocations[0].UnitCost.Equal(d("5")))
	require.Equal(t, int64(2), plan.Allocations[1].BatchID)
	require.True(t, plan.Allocations[1].Quantity.Equal(d("5")))
	require.True(t, plan.Allocations[1].UnitCost.Equal(d("8")))
	require.True(t, plan.Value().Equal(d("90")))
}

func TestLIFOAllocationDrawsNewestFirst(t *testing.T) {
	src := stubSource{
		policy: Policy{ProductID: 1, Method: MethodLIFO},
		layers: []tracking.Batch{layer(1, "10", "5", 2*time.Hour), layer(2, "10", "8", time.Hour)},
	}
	engine := NewEngine(func() time.Time { return now })
	plan, err := engine.AllocateIssue(context.Background(), src, 1, 1, d("12"))
	require.NoError(t, err)
	require.Equal(t, int64(2), plan.Allocations[0].BatchID)
	require.Equal(t, int64(1), plan.Allocations[1].BatchID)
	require.True(t, plan.Allocations[1].Quantity.Equal(d("2")))
}

func TestAllocationSkipsExpiredAndReportsShortfall(t *testing.T) {
	expired := layer(1, "10", "5", 3*time.Hour)
	past := now.Add(-time.Minute)
	expired.ExpiresAt = &past
	src := stubSource{
		policy: Policy{ProductID: 1, Method: MethodFIFO},
		layers: []tracking.Batch{expired, layer(2, "4", "8", time.Hour)},
	}
	engine := NewEngine(func() time.Time { return now })
	plan, err := engine.AllocateIssue(context.Background(), src, 1, 1, d("6"))
	require.NoError(t, err)
	require.Len(t, plan.Allocations, 1)
	require.True(t, plan.Shortfall.Equal(d("2")))
}

func TestAverageTrackedUsesEarliestExpiryAtAverageCost(t *testing.T) {
	soon := now.AddDate(0, 0, 3)
	later := now.AddDate(0, 1, 0)
	a := layer(1, "5", "1", 2*time.Hour)
	a.ExpiresAt = &later
	b := layer(2, "5", "2", time.Hour)
	b.ExpiresAt = &soon
	src := stubSource{
		policy:   Policy{ProductID: 1, Method: MethodAverage, TrackBatches: true},
		position: Position{OnHand: d("10"), UnitCost: d("1.5")},
		layers:   []tracking.Batch{a, b},
	}
	engine := NewEngine(func() time.Time { return now })
	plan, err := engine.AllocateIssue(context.Background(), src, 1, 1, d("7"))
	require.NoError(t, err)
	require.Equal(t, int64(2), plan.Allocations[0].BatchID)
	require.True(t, plan.Allocations[0].UnitCost.Equal(d("1.5")))
	require.True(t, plan.Allocations[1].Quantity.Equal(d("2")))
}

func TestCostForIssueByMethod(t *testing.T) {
	engine := NewEngine(func() time.Time { return now })
	ctx := context.Background()

	avg := stubSource{policy: Policy{Method: MethodAverage}, position: Position{OnHand: d("3"), UnitCost: d("4.25")}}
	cost, err := engine.CostForIssue(ctx, avg, 1, 1, 0)
	require.NoError(t, err)
	require.True(t, cost.Equal(d("4.25")))

	std := stubSource{policy: Policy{Method: MethodStandard, StandardCost: d("9")}}
	cost, err = engine.CostForIssue(ctx, std, 1, 1, 0)
	require.NoError(t, err)
	require.True(t, cost.Equal(d("9")))

	fifo := stubSource{policy: Policy{Method: MethodFIFO}, layers: []tracking.Batch{layer(5, "1", "3", time.Hour)}}
	cost, err = engine.CostForIssue(ctx, fifo, 1, 1, 5)
	require.NoError(t, err)
	require.True(t, cost.Equal(d("3")))

	empty := stubSource{policy: Policy{Method: MethodFIFO}}
	_, err = engine.CostForIssue(ctx, empty, 1, 1, 0)
	var noBasis *NoCostBasisError
	require.ErrorAs(t, err, &noBasis)
	require.ErrorIs(t, err, ErrNoCostBasis)
}

func TestCostAfterReceipt(t *testing.T) {
	engine := NewEngine(nil)
	ctx := context.Background()
	avg := stubSource{policy: Policy{Method: MethodAverage}, position: Position{OnHand: d("100"), UnitCost: d("10")}}
	cost, err := engine.CostAfterReceipt(ctx, avg, 1, 1, d("100"), d("20"))
	require.NoError(t, err)
	require.True(t, cost.Equal(d("15")))

	std := stubSource{policy: Policy{Method: MethodStandard, StandardCost: d("12")}, position: Position{OnHand: d("1"), UnitCost: d("12")}}
	cost, err = engine.CostAfterReceipt(ctx, std, 1, 1, d("5"), d("99"))
	require.NoError(t, err)
	require.True(t, cost.Equal(d("12")))
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod(" FIFO ")
	require.NoError(t, err)
	require.Equal(t, MethodFIFO, m)
	_, err = ParseMethod("hifo")
	require.ErrorIs(t, err, ErrUnknownMethod)
}
