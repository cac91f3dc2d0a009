package inventory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/inventory/memstore"
)

// laggingStore serves committed reads that miss the newest movement, as a
// snapshot taken just before a concurrent write would. Transactions see the
// current state.
type laggingStore struct {
	*memstore.Store
}

func (s laggingStore) KeyHistory(ctx context.Context, key inventory.Key) ([]inventory.Movement, error) {
	history, err := s.Store.KeyHistory(ctx, key)
	if len(history) > 0 {
		history = history[:len(history)-1]
	}
	return history, err
}

// phantomWriteStore reports a newer movement on every committed listing.
type phantomWriteStore struct {
	*memstore.Store
}

func (s phantomWriteStore) ListMovements(context.Context, inventory.MovementFilter) ([]inventory.Movement, error) {
	return []inventory.Movement{{ID: 1 << 40, ProductID: product, WarehouseID: warehouse}}, nil
}

func TestReconcileMatchesFoldedLog(t *testing.T) {
	f := newFixture(t)
	purchase(t, f.svc, "10", "3", "")
	purchase(t, f.svc, "5", "6", "")
	_, err := sale(f.svc, "7")
	require.NoError(t, err)

	report, err := inventory.NewReconciler(f.svc).Reconcile(context.Background(), unit)
	require.NoError(t, err)
	require.Equal(t, 3, report.Movements)
	require.True(t, report.OnHand.Equal(dec("8")))
	require.True(t, report.Balance.OnHand.Equal(dec("8")))
}

func TestReconcileReportsDrift(t *testing.T) {
	f := newFixture(t)
	purchase(t, f.svc, "10", "3", "")
	balance, err := f.store.GetBalance(context.Background(), unit)
	require.NoError(t, err)
	balance.OnHand = dec("12")
	f.store.PutBalance(balance)

	rec := inventory.NewReconciler(f.svc)
	_, err = rec.Reconcile(context.Background(), unit)
	require.ErrorIs(t, err, inventory.ErrLedgerConsistency)
	var drift *inventory.LedgerConsistencyError
	require.True(t, errors.As(err, &drift))
	require.True(t, drift.Expected.Equal(dec("10")))
	require.True(t, drift.Actual.Equal(dec("12")))

	_, err = rec.ReconcileAll(context.Background(), 2)
	require.ErrorIs(t, err, inventory.ErrLedgerConsistency)

	after, err := f.store.GetBalance(context.Background(), unit)
	require.NoError(t, err)
	require.True(t, after.OnHand.Equal(dec("12")))
}

func TestReconcileAllCoversEveryUnit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	purchase(t, f.svc, "4", "1", "")
	for _, wh := range []int64{20, 30} {
		_, err := f.svc.Apply(ctx, inventory.MovementIntent{
			ProductID: product, WarehouseID: wh, Type: inventory.MovementInitial,
			Quantity: dec("2"), UnitCost: cost("1"),
		})
		require.NoError(t, err)
	}

	summary, err := inventory.NewReconciler(f.svc).ReconcileAll(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Keys)
	require.Equal(t, 3, summary.Movements)
}

func TestRevalueAveragesCorrectsDriftedCost(t *testing.T) {
	f := newFixture(t)
	purchase(t, f.svc, "10", "10", "")
	purchase(t, f.svc, "10", "20", "")
	balance, err := f.store.GetBalance(context.Background(), unit)
	require.NoError(t, err)
	require.True(t, balance.UnitCost.Equal(dec("15")))

	balance.UnitCost = dec("99")
	f.store.PutBalance(balance)

	summary, err := inventory.NewReconciler(f.svc).RevalueAverages(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Checked)
	require.Equal(t, 1, summary.Corrected)

	fixed, err := f.store.GetBalance(context.Background(), unit)
	require.NoError(t, err)
	require.True(t, fixed.UnitCost.Equal(dec("15")))

	summary, err = inventory.NewReconciler(f.svc).RevalueAverages(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.Corrected)
}

func TestReconcileConfirmsDriftInsideTransaction(t *testing.T) {
	f := newFixture(t, func(p *inventory.ServiceParams) {
		p.Repo = laggingStore{Store: p.Repo.(*memstore.Store)}
	})
	purchase(t, f.svc, "10", "3", "")
	purchase(t, f.svc, "5", "3", "")

	report, err := inventory.NewReconciler(f.svc).Reconcile(context.Background(), unit)
	require.NoError(t, err)
	require.Equal(t, 2, report.Movements)
	require.True(t, report.OnHand.Equal(dec("15")))
}

func TestRevalueAveragesReadsLatestMovementInTransaction(t *testing.T) {
	f := newFixture(t, func(p *inventory.ServiceParams) {
		p.Repo = phantomWriteStore{Store: p.Repo.(*memstore.Store)}
	})
	purchase(t, f.svc, "10", "10", "")
	purchase(t, f.svc, "10", "20", "")
	balance, err := f.store.GetBalance(context.Background(), unit)
	require.NoError(t, err)
	balance.UnitCost = dec("99")
	f.store.PutBalance(balance)

	summary, err := inventory.NewReconciler(f.svc).RevalueAverages(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Corrected)
	require.Zero(t, summary.Skipped)
}
