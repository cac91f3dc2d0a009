// Package memstore is an in-memory implementation of the ledger and transfer
// repositories. Transactions are serialised and run against a private copy
// of the state that replaces the committed state only when fn succeeds.
package memstore

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/inventory/tracking"
	"github.com/odyssey-erp/stockledger/internal/inventory/transfer"
)

type sequences struct {
	movement, batch, serial, alert, transfer, item, transit, history int64
}

type state struct {
	balances  map[inventory.Key]inventory.Balance
	movements []inventory.Movement
	policies  map[int64]inventory.Policy
	settings  map[inventory.Key]inventory.StockSettings
	batches   map[int64]tracking.Batch
	serials   map[int64]tracking.Serial
	alerts    map[int64]inventory.LowStockAlert
	transfers map[int64]transfer.Transfer
	items     map[int64]transfer.Item
	transit   map[int64]transfer.Transit
	history   []transfer.HistoryEntry
	seq       sequences
}

func newState() *state {
	return &state{
		balances:  map[inventory.Key]inventory.Balance{},
		policies:  map[int64]inventory.Policy{},
		settings:  map[inventory.Key]inventory.StockSettings{},
		batches:   map[int64]tracking.Batch{},
		serials:   map[int64]tracking.Serial{},
		alerts:    map[int64]inventory.LowStockAlert{},
		transfers: map[int64]transfer.Transfer{},
		items:     map[int64]transfer.Item{},
		transit:   map[int64]transfer.Transit{},
	}
}

func (s *state) clone() *state {
	out := &state{
		balances:  maps.Clone(s.balances),
		movements: slices.Clone(s.movements),
		policies:  maps.Clone(s.policies),
		settings:  maps.Clone(s.settings),
		batches:   maps.Clone(s.batches),
		serials:   maps.Clone(s.serials),
		alerts:    maps.Clone(s.alerts),
		transfers: maps.Clone(s.transfers),
		items:     maps.Clone(s.items),
		transit:   make(map[int64]transfer.Transit, len(s.transit)),
		history:   slices.Clone(s.history),
		seq:       s.seq,
	}
	for id, row := range s.transit {
		out.transit[id] = cloneTransit(row)
	}
	return out
}

func cloneTransit(row transfer.Transit) transfer.Transit {
	row.SerialNumbers = slices.Clone(row.SerialNumbers)
	return row
}

// Store holds the committed state.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	st   *state
}

// New returns an empty store.
func New() *Store {
	return &Store{st: newState()}
}

// WithTx runs fn against a copy of the state and commits it on success.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return s.withTx(ctx, func(ctx context.Context, tx *txRepo) error { return fn(ctx, tx) })
}

func (s *Store) withTx(ctx context.Context, fn func(context.Context, *txRepo) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	work := s.st.clone()
	s.mu.RUnlock()
	if err := fn(ctx, &txRepo{st: work}); err != nil {
		return err
	}
	s.mu.Lock()
	s.st = work
	s.mu.Unlock()
	return nil
}

func (s *Store) read() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st
}

// Committed states are never mutated in place, so readers may keep using the
// pointer read() returned after the lock is released.

// PutBalance overwrites a balance row directly, bypassing the ledger. Tests
// use it to simulate drift.
func (s *Store) PutBalance(b inventory.Balance) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.st.clone()
	next.balances[b.Key()] = b
	s.st = next
}

// PutBatch overwrites a batch row directly.
func (s *Store) PutBatch(b tracking.Batch) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.st.clone()
	next.batches[b.ID] = b
	s.st = next
}

func (s *Store) GetBalance(_ context.Context, key inventory.Key) (inventory.Balance, error) {
	b, ok := s.read().balances[key]
	if !ok {
		return inventory.Balance{}, inventory.ErrBalanceNotFound
	}
	return b, nil
}

func (s *Store) ListBalances(_ context.Context, productID, warehouseID int64) ([]inventory.Balance, error) {
	out := []inventory.Balance{}
	for _, b := range s.read().balances {
		if (productID == 0 || b.ProductID == productID) && (warehouseID == 0 || b.WarehouseID == warehouseID) {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b inventory.Balance) int { return compareKeys(a.Key(), b.Key()) })
	return out, nil
}

func (s *Store) ListKeys(_ context.Context) ([]inventory.Key, error) {
	st := s.read()
	seen := map[inventory.Key]struct{}{}
	for key := range st.balances {
		seen[key] = struct{}{}
	}
	for _, m := range st.movements {
		seen[m.Key()] = struct{}{}
	}
	keys := slices.Collect(maps.Keys(seen))
	slices.SortFunc(keys, compareKeys)
	return keys, nil
}

func (s *Store) GetMovement(_ context.Context, id int64) (inventory.Movement, error) {
	return findMovement(s.read(), id)
}

func (s *Store) ListMovements(_ context.Context, f inventory.MovementFilter) ([]inventory.Movement, error) {
	out := []inventory.Movement{}
	movements := s.read().movements
	for i := len(movements) - 1; i >= 0; i-- {
		m := movements[i]
		switch {
		case f.ProductID != 0 && m.ProductID != f.ProductID,
			f.WarehouseID != 0 && m.WarehouseID != f.WarehouseID,
			f.BatchID != 0 && m.BatchID != f.BatchID,
			f.Type != "" && m.Type != f.Type,
			f.ReferenceKind != "" && m.Reference.Kind != f.ReferenceKind,
			f.ReferenceID != "" && m.Reference.ID != f.ReferenceID,
			!f.From.IsZero() && m.CreatedAt.Before(f.From),
			!f.To.IsZero() && !m.CreatedAt.Before(f.To),
			!f.IncludeVoided && m.VoidedAt != nil:
			continue
		}
		out = append(out, m)
	}
	return page(out, f.Limit, f.Offset), nil
}

func (s *Store) KeyHistory(_ context.Context, key inventory.Key) ([]inventory.Movement, error) {
	return keyHistory(s.read(), key), nil
}

func (s *Store) KeyBatches(_ context.Context, key inventory.Key) ([]tracking.Batch, error) {
	return keyBatches(s.read(), key), nil
}

func (s *Store) GetPolicy(_ context.Context, productID int64) (inventory.Policy, error) {
	return findPolicy(s.read(), productID)
}

func (s *Store) GetSettings(_ context.Context, key inventory.Key) (inventory.StockSettings, error) {
	return findSettings(s.read(), key)
}

func (s *Store) GetBatch(_ context.Context, id int64) (tracking.Batch, error) {
	return findBatch(s.read(), id)
}

func (s *Store) ListBatches(_ context.Context, f tracking.BatchFilter) ([]tracking.Batch, error) {
	out := []tracking.Batch{}
	for _, b := range s.read().batches {
		switch {
		case f.ProductID != 0 && b.ProductID != f.ProductID,
			f.WarehouseID != 0 && b.WarehouseID != f.WarehouseID,
			f.Status != "" && b.Status != f.Status,
			f.ExpiringUntil != nil && (b.ExpiresAt == nil || b.ExpiresAt.After(*f.ExpiringUntil)),
			f.OnlyRemaining && !b.Remaining.IsPositive():
			continue
		}
		out = append(out, b)
	}
	sortBatches(out)
	return page(out, f.Limit, f.Offset), nil
}

func (s *Store) GetSerial(_ context.Context, id int64) (tracking.Serial, error) {
	serial, ok := s.read().serials[id]
	if !ok {
		return tracking.Serial{}, tracking.ErrSerialNotFound
	}
	return serial, nil
}

func (s *Store) ListSerials(_ context.Context, f tracking.SerialFilter) ([]tracking.Serial, error) {
	out := []tracking.Serial{}
	for _, serial := range s.read().serials {
		switch {
		case f.ProductID != 0 && serial.ProductID != f.ProductID,
			f.WarehouseID != 0 && serial.WarehouseID != f.WarehouseID,
			f.Status != "" && serial.Status != f.Status,
			f.Number != "" && serial.Number != f.Number:
			continue
		}
		out = append(out, serial)
	}
	slices.SortFunc(out, func(a, b tracking.Serial) int { return cmp.Compare(a.ID, b.ID) })
	return page(out, f.Limit, f.Offset), nil
}

func (s *Store) GetAlert(_ context.Context, id int64) (inventory.LowStockAlert, error) {
	alert, ok := s.read().alerts[id]
	if !ok {
		return inventory.LowStockAlert{}, inventory.ErrAlertNotFound
	}
	return alert, nil
}

func (s *Store) ListAlerts(_ context.Context, f inventory.AlertFilter) ([]inventory.LowStockAlert, error) {
	out := []inventory.LowStockAlert{}
	for _, a := range s.read().alerts {
		switch {
		case f.ProductID != 0 && a.ProductID != f.ProductID,
			f.WarehouseID != 0 && a.WarehouseID != f.WarehouseID,
			f.ActiveOnly && !a.Status.Active():
			continue
		}
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b inventory.LowStockAlert) int {
		if c := b.OpenedAt.Compare(a.OpenedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return page(out, f.Limit, f.Offset), nil
}

// Transfers returns the transfer repository view of the store. Both views
// share state and transactions.
func (s *Store) Transfers() *TransferStore {
	return &TransferStore{store: s}
}

func compareKeys(a, b inventory.Key) int {
	if c := cmp.Compare(a.ProductID, b.ProductID); c != 0 {
		return c
	}
	return cmp.Compare(a.WarehouseID, b.WarehouseID)
}

func sortBatches(batches []tracking.Batch) {
	slices.SortFunc(batches, func(a, b tracking.Batch) int {
		if c := a.ReceivedAt.Compare(b.ReceivedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func findMovement(st *state, id int64) (inventory.Movement, error) {
	idx, ok := slices.BinarySearchFunc(st.movements, id, func(m inventory.Movement, id int64) int { return cmp.Compare(m.ID, id) })
	if !ok {
		return inventory.Movement{}, inventory.ErrMovementNotFound
	}
	return st.movements[idx], nil
}

func findPolicy(st *state, productID int64) (inventory.Policy, error) {
	p, ok := st.policies[productID]
	if !ok {
		return inventory.Policy{}, inventory.ErrPolicyNotFound
	}
	return p, nil
}

func findSettings(st *state, key inventory.Key) (inventory.StockSettings, error) {
	settings, ok := st.settings[key]
	if !ok {
		return inventory.StockSettings{}, inventory.ErrSettingsNotFound
	}
	return settings, nil
}

func findBatch(st *state, id int64) (tracking.Batch, error) {
	b, ok := st.batches[id]
	if !ok {
		return tracking.Batch{}, tracking.ErrBatchNotFound
	}
	return b, nil
}

func keyHistory(st *state, key inventory.Key) []inventory.Movement {
	out := []inventory.Movement{}
	for _, m := range st.movements {
		if m.Key() == key {
			out = append(out, m)
		}
	}
	return out
}

func keyBatches(st *state, key inventory.Key) []tracking.Batch {
	out := []tracking.Batch{}
	for _, b := range st.batches {
		if b.ProductID == key.ProductID && b.WarehouseID == key.WarehouseID {
			out = append(out, b)
		}
	}
	sortBatches(out)
	return out
}
