package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
)

func TestFailedTxLeavesNoTrace(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := inventory.Key{ProductID: 1, WarehouseID: 2}
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		require.NoError(t, tx.UpsertBalance(ctx, inventory.Balance{ProductID: 1, WarehouseID: 2, OnHand: decimal.NewFromInt(3)}))
		m := inventory.Movement{ProductID: 1, WarehouseID: 2, Quantity: decimal.NewFromInt(3), StockAfter: decimal.NewFromInt(3)}
		require.NoError(t, tx.InsertMovement(ctx, &m))
		require.NotZero(t, m.ID)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetBalance(ctx, key)
	require.ErrorIs(t, err, inventory.ErrBalanceNotFound)
	history, err := s.KeyHistory(ctx, key)
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestVoidMovementOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	var id int64
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		m := inventory.Movement{ProductID: 1, WarehouseID: 2, Quantity: decimal.NewFromInt(1)}
		if err := tx.InsertMovement(ctx, &m); err != nil {
			return err
		}
		id = m.ID
		return nil
	}))

	void := func() error {
		return s.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
			return tx.VoidMovement(ctx, id, 5, 99, time.Now())
		})
	}
	require.NoError(t, void())
	require.ErrorIs(t, void(), inventory.ErrAlreadyVoided)

	m, err := s.GetMovement(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(99), m.ReversedBy)
	require.NotNil(t, m.VoidedAt)
}

func TestSecondActiveAlertRejected(t *testing.T) {
	s := New()
	ctx := context.Background()
	insert := func() error {
		return s.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
			return tx.InsertAlert(ctx, &inventory.LowStockAlert{ProductID: 1, WarehouseID: 2, Status: inventory.AlertOpen})
		})
	}
	require.NoError(t, insert())
	require.Error(t, insert())

	alerts, err := s.ListAlerts(ctx, inventory.AlertFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
}
