package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	batches map[int64]Batch
	serials map[int64]Serial
	nextID  int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{batches: map[int64]Batch{}, serials: map[int64]Serial{}}
}

func (m *memoryStore) GetBatch(_ context.Context, id int64) (Batch, error) {
	b, ok := m.batches[id]
	if !ok {
		return Batch{}, ErrBatchNotFound
	}
	return b, nil
}

func (m *memoryStore) FindBatch(_ context.Context, productID, warehouseID int64, number string) (Batch, error) {
	for _, b := range m.batches {
		if b.ProductID == productID && b.WarehouseID == warehouseID && b.Number == number {
			return b, nil
		}
	}
	return Batch{}, ErrBatchNotFound
}

func (m *memoryStore) InsertBatch(_ context.Context, b *Batch) error {
	m.nextID++
	b.ID = m.nextID
	m.batches[b.ID] = *b
	return nil
}

func (m *memoryStore) UpdateBatch(_ context.Context, b Batch) error {
	m.batches[b.ID] = b
	return nil
}

func (m *memoryStore) StockBatches(_ context.Context, productID, warehouseID int64) ([]Batch, error) {
	var out []Batch
	for _, b := range m.batches {
		if b.ProductID == productID && b.WarehouseID == warehouseID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memoryStore) GetSerial(_ context.Context, id int64) (Serial, error) {
	s, ok := m.serials[id]
	if !ok {
		return Serial{}, ErrSerialNotFound
	}
	return s, nil
}

func (m *memoryStore) FindSerial(_ context.Context, productID int64, number string) (Serial, error) {
	for _, s := range m.serials {
		if s.ProductID == productID && s.Number == number {
			return s, nil
		}
	}
	return Serial{}, ErrSerialNotFound
}

func (m *memoryStore) InsertSerial(_ context.Context, s *Serial) error {
	m.nextID++
	s.ID = m.nextID
	m.serials[s.ID] = *s
	return nil
}

func (m *memoryStore) UpdateSerial(_ context.Context, s Serial) error {
	m.serials[s.ID] = s
	return nil
}

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestTracker() (*Tracker, *memoryStore) {
	store := newMemoryStore()
	return NewTracker(store, func() time.Time { return fixedNow }), store
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestConsumeIsMonotonicAndGuarded(t *testing.T) {
	tracker, store := newTestTracker()
	ctx := context.Background()

	batch, err := tracker.CreateBatch(ctx, BatchInput{ProductID: 1, WarehouseID: 1, Number: "B1", UnitCost: dec(5), Quantity: dec(10)})
	require.NoError(t, err)

	remaining, err := tracker.Consume(ctx, batch.ID, dec(4))
	require.NoError(t, err)
	require.True(t, remaining.Equal(dec(6)))

	_, err = tracker.Consume(ctx, batch.ID, dec(7))
	var over *OverconsumptionError
	require.ErrorAs(t, err, &over)
	require.ErrorIs(t, err, ErrOverconsumption)
	require.True(t, over.Remaining.Equal(dec(6)))

	remaining, err = tracker.Consume(ctx, batch.ID, dec(6))
	require.NoError(t, err)
	require.True(t, remaining.IsZero())
	require.Equal(t, BatchConsumed, store.batches[batch.ID].Status)

	restocked, err := tracker.Restock(ctx, batch.ID, dec(2), decimal.NullDecimal{})
	require.NoError(t, err)
	require.Equal(t, BatchAvailable, restocked.Status)
	require.True(t, restocked.Remaining.Equal(dec(2)))
}

func TestCreateBatchRejectsDuplicateNumber(t *testing.T) {
	tracker, _ := newTestTracker()
	ctx := context.Background()
	in := BatchInput{ProductID: 1, WarehouseID: 1, Number: "LOT-9", UnitCost: dec(1), Quantity: dec(1)}
	_, err := tracker.CreateBatch(ctx, in)
	require.NoError(t, err)
	_, err = tracker.CreateBatch(ctx, in)
	require.ErrorIs(t, err, ErrDuplicateBatch)

	in.WarehouseID = 2
	_, err = tracker.CreateBatch(ctx, in)
	require.NoError(t, err)
}

func TestReceiveBlendsCostIntoExistingBatch(t *testing.T) {
	tracker, _ := newTestTracker()
	ctx := context.Background()
	_, err := tracker.Receive(ctx, BatchInput{ProductID: 1, WarehouseID: 1, Number: "L1", UnitCost: dec(10), Quantity: dec(10)})
	require.NoError(t, err)
	batch, err := tracker.Receive(ctx, BatchInput{ProductID: 1, WarehouseID: 1, Number: "L1", UnitCost: dec(20), Quantity: dec(10)})
	require.NoError(t, err)
	require.True(t, batch.Remaining.Equal(dec(20)))
	require.True(t, batch.UnitCost.Equal(dec(15)), batch.UnitCost.String())
}

func TestExpireAndIssuable(t *testing.T) {
	tracker, _ := newTestTracker()
	ctx := context.Background()
	past := fixedNow.AddDate(0, 0, -1)
	future := fixedNow.AddDate(0, 1, 0)

	fresh, err := tracker.CreateBatch(ctx, BatchInput{ProductID: 1, WarehouseID: 1, Number: "F", UnitCost: dec(1), Quantity: dec(1), ExpiresAt: &future})
	require.NoError(t, err)
	require.True(t, fresh.Issuable(fixedNow))
	require.False(t, fresh.Issuable(future.Add(time.Hour)))

	changed, err := tracker.Expire(ctx, fresh.ID, fixedNow)
	require.NoError(t, err)
	require.False(t, changed)

	changed, err = tracker.Expire(ctx, fresh.ID, future.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, changed)

	stale, err := tracker.CreateBatch(ctx, BatchInput{ProductID: 1, WarehouseID: 1, Number: "S", UnitCost: dec(1), Quantity: dec(1), ExpiresAt: &past})
	require.NoError(t, err)
	require.Equal(t, BatchExpired, stale.Status)
}

func TestHoldExcludesBatchFromIssue(t *testing.T) {
	tracker, _ := newTestTracker()
	ctx := context.Background()
	b, err := tracker.CreateBatch(ctx, BatchInput{ProductID: 1, WarehouseID: 1, Number: "Q", UnitCost: dec(1), Quantity: dec(3)})
	require.NoError(t, err)
	held, err := tracker.Hold(ctx, b.ID, true)
	require.NoError(t, err)
	require.False(t, held.Issuable(fixedNow))
	_, err = tracker.Hold(ctx, b.ID, true)
	require.ErrorIs(t, err, ErrBatchState)
	released, err := tracker.Hold(ctx, b.ID, false)
	require.NoError(t, err)
	require.True(t, released.Issuable(fixedNow))
}

func TestSerialStateMachine(t *testing.T) {
	cases := []struct {
		from, to SerialStatus
		ok       bool
	}{
		{SerialAvailable, SerialReserved, true},
		{SerialReserved, SerialSold, true},
		{SerialReserved, SerialAvailable, true},
		{SerialSold, SerialReturned, true},
		{SerialReturned, SerialAvailable, true},
		{SerialSold, SerialDefective, true},
		{SerialAvailable, SerialDefective, true},
		{SerialSold, SerialAvailable, false},
		{SerialAvailable, SerialSold, false},
		{SerialDefective, SerialAvailable, false},
		{SerialReturned, SerialSold, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTransitionSerialSetsWarrantyOnSale(t *testing.T) {
	tracker, _ := newTestTracker()
	ctx := context.Background()
	serial, err := tracker.RegisterSerial(ctx, SerialInput{ProductID: 3, WarehouseID: 1, Number: "SN-1", WarrantyMonths: 12})
	require.NoError(t, err)

	_, err = tracker.RegisterSerial(ctx, SerialInput{ProductID: 3, WarehouseID: 1, Number: "SN-1"})
	require.ErrorIs(t, err, ErrDuplicateSerial)

	_, err = tracker.TransitionSerial(ctx, serial.ID, SerialSold)
	var illegal *IllegalSerialTransitionError
	require.ErrorAs(t, err, &illegal)
	require.Equal(t, SerialAvailable, illegal.From)

	_, err = tracker.TransitionSerial(ctx, serial.ID, SerialReserved)
	require.NoError(t, err)
	sold, err := tracker.TransitionSerial(ctx, serial.ID, SerialSold)
	require.NoError(t, err)
	require.NotNil(t, sold.WarrantyEnd)
	require.Equal(t, fixedNow.AddDate(1, 0, 0), *sold.WarrantyEnd)
	require.True(t, sold.UnderWarranty(fixedNow.AddDate(0, 6, 0)))
}
