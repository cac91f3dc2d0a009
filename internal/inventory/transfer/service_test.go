package transfer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/inventory/memstore"
	"github.com/odyssey-erp/stockledger/internal/inventory/transfer"
	"github.com/odyssey-erp/stockledger/internal/inventory/valuation"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/platform/keylock"
)

const (
	product int64 = 5
	source  int64 = 1
	dest    int64 = 2
)

type transferEvents struct {
	mu     sync.Mutex
	events []transfer.StatusChangedEvent
}

func (r *transferEvents) TransferStatusChanged(_ context.Context, evt transfer.StatusChangedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

type harness struct {
	ledger    *inventory.Service
	transfers *transfer.Service
	store     *memstore.Store
	events    *transferEvents
}

func newHarness(t *testing.T, cfg transfer.Config) harness {
	t.Helper()
	var mu sync.Mutex
	now := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
	h := harness{store: memstore.New(), events: &transferEvents{}}
	h.ledger = inventory.NewService(inventory.ServiceParams{
		Repo:   h.store,
		Locker: keylock.NewLocal(),
		Now:    clock,
	})
	h.transfers = transfer.NewService(transfer.ServiceParams{
		Repo:   h.store.Transfers(),
		Ledger: h.ledger,
		Events: h.events,
		Config: cfg,
	})
	return h
}

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func (h harness) stock(t *testing.T, warehouseID int64, qty, cost string) {
	t.Helper()
	_, err := h.ledger.Apply(context.Background(), inventory.MovementIntent{
		ProductID:   product,
		WarehouseID: warehouseID,
		Type:        inventory.MovementInitial,
		Quantity:    d(qty),
		UnitCost:    decimal.NewNullDecimal(d(cost)),
	})
	require.NoError(t, err)
}

func (h harness) onHand(t *testing.T, warehouseID int64) decimal.Decimal {
	t.Helper()
	b, err := h.store.GetBalance(context.Background(), inventory.Key{ProductID: product, WarehouseID: warehouseID})
	if err != nil {
		require.ErrorIs(t, err, inventory.ErrBalanceNotFound)
		return decimal.Zero
	}
	return b.OnHand
}

func (h harness) pending(t *testing.T, qty string) transfer.Transfer {
	t.Helper()
	ctx := context.Background()
	tr, err := h.transfers.Create(ctx, transfer.CreateInput{
		SourceWarehouseID:      source,
		DestinationWarehouseID: dest,
		Items:                  []transfer.ItemInput{{ProductID: product, Quantity: d(qty)}},
		ActorID:                3,
	})
	require.NoError(t, err)
	require.Equal(t, transfer.StatusDraft, tr.Status)
	tr, err = h.transfers.Submit(ctx, tr.ID, 3, "")
	require.NoError(t, err)
	require.Equal(t, transfer.StatusPending, tr.Status)
	return tr
}

func TestTransferWithDamagedReceiptCompletes(t *testing.T) {
	h := newHarness(t, transfer.Config{})
	ctx := context.Background()
	h.stock(t, source, "100", "4")
	tr := h.pending(t, "50")

	tr, err := h.transfers.Ship(ctx, tr.ID, transfer.ShipInput{ActorID: 4})
	require.NoError(t, err)
	require.Equal(t, transfer.StatusInTransit, tr.Status)
	require.True(t, h.onHand(t, source).Equal(d("50")))
	require.True(t, h.onHand(t, dest).IsZero())

	transit, err := h.transfers.Transit(ctx, tr.ID)
	require.NoError(t, err)
	require.Len(t, transit, 1)
	require.True(t, transit[0].Outstanding.Equal(d("50")))
	require.True(t, transit[0].UnitCost.Equal(d("4")))

	item := tr.Items[0]
	tr, err = h.transfers.Receive(ctx, tr.ID, transfer.ReceiveInput{
		Lines:   []transfer.ReceiptLine{{ItemID: item.ID, Received: d("45"), Damaged: d("5"), Condition: "crushed pallet"}},
		ActorID: 5,
	})
	require.NoError(t, err)
	require.Equal(t, transfer.StatusCompleted, tr.Status)
	require.NotNil(t, tr.ReceivedAt)
	require.True(t, h.onHand(t, dest).Equal(d("45")))

	totals := tr.Totals()
	require.True(t, totals.Shipped.Equal(d("50")))
	require.True(t, totals.Received.Equal(d("45")))
	require.True(t, totals.Damaged.Equal(d("5")))

	writeOffs, err := h.ledger.Movements(ctx, inventory.MovementFilter{WarehouseID: dest, Type: inventory.MovementAdjustment})
	require.NoError(t, err)
	require.Len(t, writeOffs, 1)
	require.True(t, writeOffs[0].Quantity.Equal(d("-5")))
	require.True(t, writeOffs[0].UnitCost.Equal(d("4")))

	transit, err = h.transfers.Transit(ctx, tr.ID)
	require.NoError(t, err)
	require.True(t, transit[0].Outstanding.IsZero())
	require.NotNil(t, transit[0].ClosedAt)

	history, err := h.transfers.History(ctx, tr.ID)
	require.NoError(t, err)
	actions := make([]transfer.Action, 0, len(history))
	for _, e := range history {
		actions = append(actions, e.Action)
	}
	require.Equal(t, []transfer.Action{transfer.ActionCreate, transfer.ActionSubmit, transfer.ActionShip, transfer.ActionReceive}, actions)
	require.Len(t, h.events.events, 4)
	require.Equal(t, transfer.StatusCompleted, h.events.events[3].To)
}

func TestPartialReceiptStaysInTransit(t *testing.T) {
	h := newHarness(t, transfer.Config{})
	ctx := context.Background()
	h.stock(t, source, "30", "2")
	tr := h.pending(t, "30")
	tr, err := h.transfers.Ship(ctx, tr.ID, transfer.ShipInput{})
	require.NoError(t, err)
	itemID := tr.Items[0].ID

	tr, err = h.transfers.Receive(ctx, tr.ID, transfer.ReceiveInput{
		Lines: []transfer.ReceiptLine{{ItemID: itemID, Received: d("10")}},
	})
	require.NoError(t, err)
	require.Equal(t, transfer.StatusInTransit, tr.Status)
	require.True(t, tr.Items[0].Outstanding().Equal(d("20")))

	_, err = h.transfers.Receive(ctx, tr.ID, transfer.ReceiveInput{
		Lines: []transfer.ReceiptLine{{ItemID: itemID, Received: d("25")}},
	})
	require.ErrorIs(t, err, transfer.ErrInvalidTransition)
	require.ErrorIs(t, err, httpx.ErrConflict)

	tr, err = h.transfers.Receive(ctx, tr.ID, transfer.ReceiveInput{
		Lines: []transfer.ReceiptLine{{ItemID: itemID, Received: d("20")}},
	})
	require.NoError(t, err)
	require.Equal(t, transfer.StatusCompleted, tr.Status)
	require.True(t, h.onHand(t, dest).Equal(d("30")))
	require.True(t, h.onHand(t, source).IsZero())
}

func TestCancelInTransitReturnsStock(t *testing.T) {
	h := newHarness(t, transfer.Config{})
	ctx := context.Background()
	h.stock(t, source, "20", "3")
	tr := h.pending(t, "12")
	tr, err := h.transfers.Ship(ctx, tr.ID, transfer.ShipInput{})
	require.NoError(t, err)
	require.True(t, h.onHand(t, source).Equal(d("8")))

	tr, err = h.transfers.Cancel(ctx, tr.ID, 9, "truck unavailable")
	require.NoError(t, err)
	require.Equal(t, transfer.StatusCancelled, tr.Status)
	require.Equal(t, "truck unavailable", tr.CancelReason)
	require.True(t, h.onHand(t, source).Equal(d("20")))

	balance, err := h.ledger.Balance(ctx, product, source)
	require.NoError(t, err)
	require.True(t, balance.UnitCost.Equal(d("3")))

	_, err = h.transfers.Cancel(ctx, tr.ID, 9, "again")
	require.ErrorIs(t, err, transfer.ErrInvalidTransition)
}

func TestCancelAfterReceiptIsRejected(t *testing.T) {
	h := newHarness(t, transfer.Config{})
	ctx := context.Background()
	h.stock(t, source, "10", "1")
	tr := h.pending(t, "10")
	tr, err := h.transfers.Ship(ctx, tr.ID, transfer.ShipInput{})
	require.NoError(t, err)
	_, err = h.transfers.Receive(ctx, tr.ID, transfer.ReceiveInput{
		Lines: []transfer.ReceiptLine{{ItemID: tr.Items[0].ID, Received: d("1")}},
	})
	require.NoError(t, err)

	_, err = h.transfers.Cancel(ctx, tr.ID, 1, "changed mind")
	require.ErrorIs(t, err, transfer.ErrInvalidTransition)
	require.True(t, h.onHand(t, source).IsZero())
}

func TestShipBeyondSourceStockRollsBack(t *testing.T) {
	h := newHarness(t, transfer.Config{})
	ctx := context.Background()
	h.stock(t, source, "5", "1")
	tr := h.pending(t, "6")

	_, err := h.transfers.Ship(ctx, tr.ID, transfer.ShipInput{})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	got, err := h.transfers.Get(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, transfer.StatusPending, got.Status)
	require.True(t, got.Items[0].Shipped.IsZero())
	require.True(t, h.onHand(t, source).Equal(d("5")))
	transit, err := h.transfers.Transit(ctx, tr.ID)
	require.NoError(t, err)
	require.Empty(t, transit)
}

func TestInvalidTransitions(t *testing.T) {
	h := newHarness(t, transfer.Config{})
	ctx := context.Background()

	_, err := h.transfers.Create(ctx, transfer.CreateInput{SourceWarehouseID: source, DestinationWarehouseID: source})
	require.ErrorIs(t, err, transfer.ErrSameWarehouse)

	draft, err := h.transfers.Create(ctx, transfer.CreateInput{SourceWarehouseID: source, DestinationWarehouseID: dest})
	require.NoError(t, err)
	_, err = h.transfers.Submit(ctx, draft.ID, 1, "")
	require.ErrorIs(t, err, transfer.ErrInvalidTransition)
	_, err = h.transfers.Ship(ctx, draft.ID, transfer.ShipInput{})
	require.ErrorIs(t, err, transfer.ErrInvalidTransition)
	_, err = h.transfers.Receive(ctx, draft.ID, transfer.ReceiveInput{Lines: []transfer.ReceiptLine{{ItemID: 1, Received: d("1")}}})
	require.ErrorIs(t, err, transfer.ErrInvalidTransition)

	item, err := h.transfers.AddItem(ctx, draft.ID, transfer.ItemInput{ProductID: product, Quantity: d("2")}, 1)
	require.NoError(t, err)
	_, err = h.transfers.Submit(ctx, draft.ID, 1, "")
	require.NoError(t, err)
	_, err = h.transfers.AddItem(ctx, draft.ID, transfer.ItemInput{ProductID: product, Quantity: d("1")}, 1)
	require.ErrorIs(t, err, transfer.ErrInvalidTransition)
	err = h.transfers.RemoveItem(ctx, draft.ID, item.ID, 1)
	require.ErrorIs(t, err, transfer.ErrInvalidTransition)

	_, err = h.transfers.Get(ctx, 999)
	require.ErrorIs(t, err, transfer.ErrTransferNotFound)
}

func TestApprovalGatesShipment(t *testing.T) {
	h := newHarness(t, transfer.Config{RequireApproval: true})
	ctx := context.Background()
	h.stock(t, source, "40", "2")
	tr := h.pending(t, "20")

	_, err := h.transfers.Ship(ctx, tr.ID, transfer.ShipInput{})
	require.ErrorIs(t, err, transfer.ErrInvalidTransition)

	itemID := tr.Items[0].ID
	_, err = h.transfers.Approve(ctx, tr.ID, transfer.ApproveInput{Quantities: map[int64]decimal.Decimal{itemID: d("25")}})
	require.ErrorIs(t, err, transfer.ErrInvalidTransition)

	tr, err = h.transfers.Approve(ctx, tr.ID, transfer.ApproveInput{Quantities: map[int64]decimal.Decimal{itemID: d("15")}, ActorID: 8})
	require.NoError(t, err)
	require.Equal(t, transfer.StatusPending, tr.Status)
	require.True(t, tr.Items[0].ApprovedQuantity().Equal(d("15")))

	_, err = h.transfers.Approve(ctx, tr.ID, transfer.ApproveInput{})
	require.ErrorIs(t, err, transfer.ErrInvalidTransition)

	tr, err = h.transfers.Ship(ctx, tr.ID, transfer.ShipInput{})
	require.NoError(t, err)
	require.True(t, tr.Items[0].Shipped.Equal(d("15")))
	require.True(t, h.onHand(t, source).Equal(d("25")))
}

func TestFIFOShipmentCarriesLayers(t *testing.T) {
	h := newHarness(t, transfer.Config{})
	ctx := context.Background()
	_, err := h.ledger.SetPolicy(ctx, inventory.Policy{ProductID: product, Method: valuation.MethodFIFO}, 1)
	require.NoError(t, err)
	for _, layer := range []struct{ number, qty, cost string }{{"L1", "4", "1"}, {"L2", "6", "2"}} {
		_, err := h.ledger.Apply(ctx, inventory.MovementIntent{
			ProductID: product, WarehouseID: source, Type: inventory.MovementPurchase,
			Quantity: d(layer.qty), UnitCost: decimal.NewNullDecimal(d(layer.cost)),
			NewBatch: &inventory.NewBatch{Number: layer.number},
		})
		require.NoError(t, err)
	}
	tr := h.pending(t, "7")
	tr, err = h.transfers.Ship(ctx, tr.ID, transfer.ShipInput{})
	require.NoError(t, err)

	transit, err := h.transfers.Transit(ctx, tr.ID)
	require.NoError(t, err)
	require.Len(t, transit, 2)
	require.Equal(t, "L1", transit[0].BatchNumber)
	require.True(t, transit[0].Quantity.Equal(d("4")))
	require.Equal(t, "L2", transit[1].BatchNumber)
	require.True(t, transit[1].Quantity.Equal(d("3")))

	_, err = h.transfers.Receive(ctx, tr.ID, transfer.ReceiveInput{
		Lines: []transfer.ReceiptLine{{ItemID: tr.Items[0].ID, Received: d("7")}},
	})
	require.NoError(t, err)
	v, err := h.ledger.Valuation(ctx, product, dest)
	require.NoError(t, err)
	require.True(t, v.OnHand.Equal(d("7")))
	require.Len(t, v.Layers, 2)
	require.True(t, v.Layers[0].UnitCost.Equal(d("1")))
	require.True(t, v.Layers[1].Remaining.Equal(d("3")))
}
