package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/inventory/tracking"
	"github.com/odyssey-erp/stockledger/internal/inventory/transfer"
)

// txRepo operates on the private state of one transaction. It implements
// both inventory.TxRepository and transfer.TxRepository.
type txRepo struct {
	st *state
}

var (
	_ inventory.TxRepository   = (*txRepo)(nil)
	_ transfer.TxRepository    = (*txRepo)(nil)
	_ inventory.RepositoryPort = (*Store)(nil)
	_ transfer.RepositoryPort  = (*TransferStore)(nil)
)

func (t *txRepo) Ledger() inventory.TxRepository {
	return t
}

func (t *txRepo) GetBalanceForUpdate(_ context.Context, key inventory.Key) (inventory.Balance, error) {
	b, ok := t.st.balances[key]
	if !ok {
		return inventory.Balance{}, inventory.ErrBalanceNotFound
	}
	return b, nil
}

func (t *txRepo) ProductBalances(_ context.Context, productID int64) ([]inventory.Balance, error) {
	out := []inventory.Balance{}
	for _, b := range t.st.balances {
		if b.ProductID == productID {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b inventory.Balance) int { return cmp.Compare(a.WarehouseID, b.WarehouseID) })
	return out, nil
}

func (t *txRepo) UpsertBalance(_ context.Context, b inventory.Balance) error {
	t.st.balances[b.Key()] = b
	return nil
}

func (t *txRepo) InsertMovement(_ context.Context, m *inventory.Movement) error {
	t.st.seq.movement++
	m.ID = t.st.seq.movement
	t.st.movements = append(t.st.movements, *m)
	return nil
}

func (t *txRepo) GetMovementForUpdate(_ context.Context, id int64) (inventory.Movement, error) {
	return findMovement(t.st, id)
}

func (t *txRepo) VoidMovement(_ context.Context, id, actorID, reversedBy int64, at time.Time) error {
	idx, ok := slices.BinarySearchFunc(t.st.movements, id, func(m inventory.Movement, id int64) int { return cmp.Compare(m.ID, id) })
	if !ok {
		return inventory.ErrMovementNotFound
	}
	m := &t.st.movements[idx]
	if m.VoidedAt != nil {
		return inventory.ErrAlreadyVoided
	}
	m.VoidedAt = &at
	m.VoidedBy = actorID
	m.ReversedBy = reversedBy
	return nil
}

func (t *txRepo) KeyHistory(_ context.Context, key inventory.Key) ([]inventory.Movement, error) {
	return keyHistory(t.st, key), nil
}

func (t *txRepo) KeyBatches(_ context.Context, key inventory.Key) ([]tracking.Batch, error) {
	return keyBatches(t.st, key), nil
}

func (t *txRepo) LatestMovementID(_ context.Context, key inventory.Key) (int64, error) {
	for i := len(t.st.movements) - 1; i >= 0; i-- {
		if t.st.movements[i].Key() == key {
			return t.st.movements[i].ID, nil
		}
	}
	return 0, nil
}

func (t *txRepo) GetPolicy(_ context.Context, productID int64) (inventory.Policy, error) {
	return findPolicy(t.st, productID)
}

func (t *txRepo) UpsertPolicy(_ context.Context, p inventory.Policy) error {
	t.st.policies[p.ProductID] = p
	return nil
}

func (t *txRepo) GetSettings(_ context.Context, key inventory.Key) (inventory.StockSettings, error) {
	return findSettings(t.st, key)
}

func (t *txRepo) UpsertSettings(_ context.Context, s inventory.StockSettings) error {
	t.st.settings[inventory.Key{ProductID: s.ProductID, WarehouseID: s.WarehouseID}] = s
	return nil
}

func (t *txRepo) GetActiveAlert(_ context.Context, key inventory.Key) (inventory.LowStockAlert, error) {
	for _, a := range t.st.alerts {
		if a.Key() == key && a.Status.Active() {
			return a, nil
		}
	}
	return inventory.LowStockAlert{}, inventory.ErrAlertNotFound
}

func (t *txRepo) GetAlertForUpdate(_ context.Context, id int64) (inventory.LowStockAlert, error) {
	a, ok := t.st.alerts[id]
	if !ok {
		return inventory.LowStockAlert{}, inventory.ErrAlertNotFound
	}
	return a, nil
}

func (t *txRepo) InsertAlert(ctx context.Context, a *inventory.LowStockAlert) error {
	if _, err := t.GetActiveAlert(ctx, a.Key()); err == nil {
		return fmt.Errorf("memstore: active alert exists for %s", a.Key())
	}
	t.st.seq.alert++
	a.ID = t.st.seq.alert
	t.st.alerts[a.ID] = *a
	return nil
}

func (t *txRepo) UpdateAlert(_ context.Context, a inventory.LowStockAlert) error {
	if _, ok := t.st.alerts[a.ID]; !ok {
		return inventory.ErrAlertNotFound
	}
	t.st.alerts[a.ID] = a
	return nil
}

func (t *txRepo) GetBatch(_ context.Context, id int64) (tracking.Batch, error) {
	return findBatch(t.st, id)
}

func (t *txRepo) FindBatch(_ context.Context, productID, warehouseID int64, number string) (tracking.Batch, error) {
	for _, b := range t.st.batches {
		if b.ProductID == productID && b.WarehouseID == warehouseID && b.Number == number {
			return b, nil
		}
	}
	return tracking.Batch{}, tracking.ErrBatchNotFound
}

func (t *txRepo) InsertBatch(ctx context.Context, b *tracking.Batch) error {
	if _, err := t.FindBatch(ctx, b.ProductID, b.WarehouseID, b.Number); err == nil {
		return tracking.ErrDuplicateBatch
	}
	t.st.seq.batch++
	b.ID = t.st.seq.batch
	t.st.batches[b.ID] = *b
	return nil
}

func (t *txRepo) UpdateBatch(_ context.Context, b tracking.Batch) error {
	if _, ok := t.st.batches[b.ID]; !ok {
		return tracking.ErrBatchNotFound
	}
	t.st.batches[b.ID] = b
	return nil
}

func (t *txRepo) StockBatches(_ context.Context, productID, warehouseID int64) ([]tracking.Batch, error) {
	out := []tracking.Batch{}
	for _, b := range t.st.batches {
		if b.ProductID == productID && b.WarehouseID == warehouseID && b.Remaining.IsPositive() {
			out = append(out, b)
		}
	}
	sortBatches(out)
	return out, nil
}

func (t *txRepo) GetSerial(_ context.Context, id int64) (tracking.Serial, error) {
	s, ok := t.st.serials[id]
	if !ok {
		return tracking.Serial{}, tracking.ErrSerialNotFound
	}
	return s, nil
}

func (t *txRepo) FindSerial(_ context.Context, productID int64, number string) (tracking.Serial, error) {
	for _, s := range t.st.serials {
		if s.ProductID == productID && s.Number == number {
			return s, nil
		}
	}
	return tracking.Serial{}, tracking.ErrSerialNotFound
}

func (t *txRepo) InsertSerial(ctx context.Context, s *tracking.Serial) error {
	if _, err := t.FindSerial(ctx, s.ProductID, s.Number); err == nil {
		return fmt.Errorf("%w: %s", tracking.ErrDuplicateSerial, s.Number)
	}
	t.st.seq.serial++
	s.ID = t.st.seq.serial
	t.st.serials[s.ID] = *s
	return nil
}

func (t *txRepo) UpdateSerial(_ context.Context, s tracking.Serial) error {
	if _, ok := t.st.serials[s.ID]; !ok {
		return tracking.ErrSerialNotFound
	}
	t.st.serials[s.ID] = s
	return nil
}

func (t *txRepo) GetTransferForUpdate(_ context.Context, id int64) (transfer.Transfer, error) {
	return loadTransfer(t.st, id)
}

func (t *txRepo) InsertTransfer(_ context.Context, tr *transfer.Transfer) error {
	t.st.seq.transfer++
	tr.ID = t.st.seq.transfer
	stored := *tr
	stored.Items = nil
	t.st.transfers[tr.ID] = stored
	return nil
}

func (t *txRepo) UpdateTransfer(_ context.Context, tr transfer.Transfer) error {
	if _, ok := t.st.transfers[tr.ID]; !ok {
		return transfer.ErrTransferNotFound
	}
	tr.Items = nil
	t.st.transfers[tr.ID] = tr
	return nil
}

func (t *txRepo) InsertItem(_ context.Context, it *transfer.Item) error {
	t.st.seq.item++
	it.ID = t.st.seq.item
	t.st.items[it.ID] = *it
	return nil
}

func (t *txRepo) UpdateItem(_ context.Context, it transfer.Item) error {
	if _, ok := t.st.items[it.ID]; !ok {
		return transfer.ErrItemNotFound
	}
	t.st.items[it.ID] = it
	return nil
}

func (t *txRepo) DeleteItem(_ context.Context, transferID, itemID int64) error {
	it, ok := t.st.items[itemID]
	if !ok || it.TransferID != transferID {
		return transfer.ErrItemNotFound
	}
	delete(t.st.items, itemID)
	return nil
}

func (t *txRepo) OpenTransit(_ context.Context, transferID int64) ([]transfer.Transit, error) {
	out := []transfer.Transit{}
	for _, row := range t.st.transit {
		if row.TransferID == transferID && row.Outstanding.IsPositive() {
			out = append(out, cloneTransit(row))
		}
	}
	slices.SortFunc(out, func(a, b transfer.Transit) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *txRepo) InsertTransit(_ context.Context, row *transfer.Transit) error {
	t.st.seq.transit++
	row.ID = t.st.seq.transit
	t.st.transit[row.ID] = cloneTransit(*row)
	return nil
}

func (t *txRepo) UpdateTransit(_ context.Context, row transfer.Transit) error {
	if _, ok := t.st.transit[row.ID]; !ok {
		return fmt.Errorf("memstore: transit row %d not found", row.ID)
	}
	t.st.transit[row.ID] = cloneTransit(row)
	return nil
}

func (t *txRepo) AppendHistory(_ context.Context, h *transfer.HistoryEntry) error {
	t.st.seq.history++
	h.ID = t.st.seq.history
	t.st.history = append(t.st.history, *h)
	return nil
}

func loadTransfer(st *state, id int64) (transfer.Transfer, error) {
	tr, ok := st.transfers[id]
	if !ok {
		return transfer.Transfer{}, transfer.ErrTransferNotFound
	}
	tr.Items = []transfer.Item{}
	for _, it := range st.items {
		if it.TransferID == id {
			tr.Items = append(tr.Items, it)
		}
	}
	slices.SortFunc(tr.Items, func(a, b transfer.Item) int { return cmp.Compare(a.ID, b.ID) })
	return tr, nil
}
