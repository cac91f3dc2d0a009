package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
)

// Repository persists transfers in PostgreSQL alongside the stock ledger.
type Repository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{pool: pool, lockTimeout: lockTimeout}
}

// WithTx runs fn in one transaction shared by transfer and ledger writes.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("transfer repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, db.TxOptions{LockTimeout: r.lockTimeout}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{q: tx, ledger: inventory.NewTxRepository(tx)})
	})
	if db.IsLockFailure(err) {
		return fmt.Errorf("%w: %w", inventory.ErrLockContention, err)
	}
	return err
}

type txRepository struct {
	q      db.Querier
	ledger inventory.TxRepository
}

func (r *txRepository) Ledger() inventory.TxRepository {
	return r.ledger
}

const transferColumns = `id, code, source_warehouse_id, destination_warehouse_id, status, note,
requested_by, requested_at, COALESCE(approved_by, 0), approved_at, COALESCE(shipped_by, 0), shipped_at,
COALESCE(received_by, 0), received_at, COALESCE(cancelled_by, 0), cancelled_at, cancel_reason, updated_at`

func scanTransfer(row pgx.Row) (Transfer, error) {
	var t Transfer
	err := row.Scan(&t.ID, &t.Code, &t.SourceWarehouseID, &t.DestinationWarehouseID, &t.Status, &t.Note,
		&t.RequestedBy, &t.RequestedAt, &t.ApprovedBy, &t.ApprovedAt, &t.ShippedBy, &t.ShippedAt,
		&t.ReceivedBy, &t.ReceivedAt, &t.CancelledBy, &t.CancelledAt, &t.CancelReason, &t.UpdatedAt)
	return t, err
}

const itemColumns = `id, transfer_id, product_id, COALESCE(batch_id, 0), requested, approved, shipped, received, damaged,
shipping_condition, receipt_condition`

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.TransferID, &it.ProductID, &it.BatchID, &it.Requested, &it.Approved,
		&it.Shipped, &it.Received, &it.Damaged, &it.ShippingCondition, &it.ReceiptCondition)
	return it, err
}

const transitColumns = `id, transfer_id, item_id, product_id, source_warehouse_id, destination_warehouse_id, movement_id,
quantity, outstanding, unit_cost, batch_number, manufactured_at, expires_at, COALESCE(serial_numbers, '{}'), shipped_at, closed_at`

func scanTransit(row pgx.Row) (Transit, error) {
	var t Transit
	err := row.Scan(&t.ID, &t.TransferID, &t.ItemID, &t.ProductID, &t.SourceWarehouseID, &t.DestinationWarehouseID,
		&t.MovementID, &t.Quantity, &t.Outstanding, &t.UnitCost, &t.BatchNumber, &t.ManufacturedAt, &t.ExpiresAt,
		&t.SerialNumbers, &t.ShippedAt, &t.ClosedAt)
	return t, err
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func loadTransfer(ctx context.Context, q db.Querier, id int64, lock string) (Transfer, error) {
	t, err := scanTransfer(q.QueryRow(ctx, `SELECT `+transferColumns+` FROM stock_transfers WHERE id=$1`+lock, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transfer{}, ErrTransferNotFound
	}
	if err != nil {
		return Transfer{}, err
	}
	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM stock_transfer_items WHERE transfer_id=$1 ORDER BY id`+lock, id)
	if err != nil {
		return Transfer{}, err
	}
	if t.Items, err = collect(rows, scanItem); err != nil {
		return Transfer{}, err
	}
	return t, nil
}

func (r *txRepository) GetTransferForUpdate(ctx context.Context, id int64) (Transfer, error) {
	return loadTransfer(ctx, r.q, id, " FOR UPDATE")
}

func (r *txRepository) InsertTransfer(ctx context.Context, t *Transfer) error {
	return r.q.QueryRow(ctx, `INSERT INTO stock_transfers (code, source_warehouse_id, destination_warehouse_id, status, note,
requested_by, requested_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		t.Code, t.SourceWarehouseID, t.DestinationWarehouseID, string(t.Status), t.Note,
		t.RequestedBy, t.RequestedAt, t.UpdatedAt).Scan(&t.ID)
}

func (r *txRepository) UpdateTransfer(ctx context.Context, t Transfer) error {
	_, err := r.q.Exec(ctx, `UPDATE stock_transfers SET status=$2, approved_by=$3, approved_at=$4, shipped_by=$5, shipped_at=$6,
received_by=$7, received_at=$8, cancelled_by=$9, cancelled_at=$10, cancel_reason=$11, updated_at=$12 WHERE id=$1`,
		t.ID, string(t.Status), db.NullInt(t.ApprovedBy), t.ApprovedAt, db.NullInt(t.ShippedBy), t.ShippedAt,
		db.NullInt(t.ReceivedBy), t.ReceivedAt, db.NullInt(t.CancelledBy), t.CancelledAt, t.CancelReason, t.UpdatedAt)
	return err
}

func (r *txRepository) InsertItem(ctx context.Context, it *Item) error {
	return r.q.QueryRow(ctx, `INSERT INTO stock_transfer_items (transfer_id, product_id, batch_id, requested, approved,
shipped, received, damaged) VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		it.TransferID, it.ProductID, db.NullInt(it.BatchID), it.Requested, it.Approved, it.Shipped, it.Received, it.Damaged).Scan(&it.ID)
}

func (r *txRepository) UpdateItem(ctx context.Context, it Item) error {
	_, err := r.q.Exec(ctx, `UPDATE stock_transfer_items SET approved=$2, shipped=$3, received=$4, damaged=$5,
shipping_condition=$6, receipt_condition=$7 WHERE id=$1`,
		it.ID, it.Approved, it.Shipped, it.Received, it.Damaged, it.ShippingCondition, it.ReceiptCondition)
	return err
}

func (r *txRepository) DeleteItem(ctx context.Context, transferID, itemID int64) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM stock_transfer_items WHERE transfer_id=$1 AND id=$2`, transferID, itemID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *txRepository) OpenTransit(ctx context.Context, transferID int64) ([]Transit, error) {
	rows, err := r.q.Query(ctx, `SELECT `+transitColumns+` FROM inventory_transit
WHERE transfer_id=$1 AND outstanding > 0 ORDER BY id FOR UPDATE`, transferID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTransit)
}

func (r *txRepository) InsertTransit(ctx context.Context, t *Transit) error {
	return r.q.QueryRow(ctx, `INSERT INTO inventory_transit (transfer_id, item_id, product_id, source_warehouse_id,
destination_warehouse_id, movement_id, quantity, outstanding, unit_cost, batch_number, manufactured_at, expires_at,
serial_numbers, shipped_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14) RETURNING id`,
		t.TransferID, t.ItemID, t.ProductID, t.SourceWarehouseID, t.DestinationWarehouseID, t.MovementID,
		t.Quantity, t.Outstanding, t.UnitCost, t.BatchNumber, t.ManufacturedAt, t.ExpiresAt, t.SerialNumbers, t.ShippedAt).Scan(&t.ID)
}

func (r *txRepository) UpdateTransit(ctx context.Context, t Transit) error {
	_, err := r.q.Exec(ctx, `UPDATE inventory_transit SET outstanding=$2, serial_numbers=$3, closed_at=$4 WHERE id=$1`,
		t.ID, t.Outstanding, t.SerialNumbers, t.ClosedAt)
	return err
}

func (r *txRepository) AppendHistory(ctx context.Context, h *HistoryEntry) error {
	return r.q.QueryRow(ctx, `INSERT INTO stock_transfer_history (transfer_id, action, from_status, to_status, actor_id, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		h.TransferID, string(h.Action), string(h.FromStatus), string(h.ToStatus), h.ActorID, h.Note, h.CreatedAt).Scan(&h.ID)
}

func (r *Repository) GetTransfer(ctx context.Context, id int64) (Transfer, error) {
	return loadTransfer(ctx, r.pool, id, "")
}

// ListTransfers returns headers newest first. Items are not loaded.
func (r *Repository) ListTransfers(ctx context.Context, f Filter) ([]Transfer, error) {
	var w db.Where
	if f.Status != "" {
		w.Add("status = ?", string(f.Status))
	}
	if f.WarehouseID != 0 {
		w.Add("? IN (source_warehouse_id, destination_warehouse_id)", f.WarehouseID)
	}
	where := w.SQL()
	page := w.Page(f.Limit, f.Offset)
	rows, err := r.pool.Query(ctx, `SELECT `+transferColumns+` FROM stock_transfers `+where+` ORDER BY id DESC `+page, w.Args()...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTransfer)
}

func (r *Repository) History(ctx context.Context, transferID int64) ([]HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, transfer_id, action, from_status, to_status, actor_id, note, created_at
FROM stock_transfer_history WHERE transfer_id=$1 ORDER BY id`, transferID)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row pgx.Row) (HistoryEntry, error) {
		var h HistoryEntry
		err := row.Scan(&h.ID, &h.TransferID, &h.Action, &h.FromStatus, &h.ToStatus, &h.ActorID, &h.Note, &h.CreatedAt)
		return h, err
	})
}

func (r *Repository) ListTransit(ctx context.Context, transferID int64) ([]Transit, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+transitColumns+` FROM inventory_transit WHERE transfer_id=$1 ORDER BY id`, transferID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTransit)
}
