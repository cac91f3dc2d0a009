package memstore

import (
	"cmp"
	"context"
	"slices"

	"github.com/odyssey-erp/stockledger/internal/inventory/transfer"
)

// TransferStore is the transfer repository view of a Store.
type TransferStore struct {
	store *Store
}

// WithTx runs fn in a store transaction.
func (t *TransferStore) WithTx(ctx context.Context, fn func(context.Context, transfer.TxRepository) error) error {
	return t.store.withTx(ctx, func(ctx context.Context, tx *txRepo) error { return fn(ctx, tx) })
}

func (t *TransferStore) GetTransfer(_ context.Context, id int64) (transfer.Transfer, error) {
	return loadTransfer(t.store.read(), id)
}

func (t *TransferStore) ListTransfers(_ context.Context, f transfer.Filter) ([]transfer.Transfer, error) {
	out := []transfer.Transfer{}
	for _, tr := range t.store.read().transfers {
		if f.Status != "" && tr.Status != f.Status {
			continue
		}
		if f.WarehouseID != 0 && tr.SourceWarehouseID != f.WarehouseID && tr.DestinationWarehouseID != f.WarehouseID {
			continue
		}
		out = append(out, tr)
	}
	slices.SortFunc(out, func(a, b transfer.Transfer) int { return cmp.Compare(b.ID, a.ID) })
	return page(out, f.Limit, f.Offset), nil
}

func (t *TransferStore) History(_ context.Context, transferID int64) ([]transfer.HistoryEntry, error) {
	out := []transfer.HistoryEntry{}
	for _, h := range t.store.read().history {
		if h.TransferID == transferID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (t *TransferStore) ListTransit(_ context.Context, transferID int64) ([]transfer.Transit, error) {
	out := []transfer.Transit{}
	for _, row := range t.store.read().transit {
		if row.TransferID == transferID {
			out = append(out, cloneTransit(row))
		}
	}
	slices.SortFunc(out, func(a, b transfer.Transit) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}
