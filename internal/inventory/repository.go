package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/inventory/tracking"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
)

// TxRepository exposes the transactional operations used by the ledger.
// Get*ForUpdate and the tracking.Store getters lock the rows they return.
type TxRepository interface {
	tracking.Store

	GetBalanceForUpdate(ctx context.Context, key Key) (Balance, error)
	ProductBalances(ctx context.Context, productID int64) ([]Balance, error)
	UpsertBalance(ctx context.Context, balance Balance) error

	InsertMovement(ctx context.Context, m *Movement) error
	GetMovementForUpdate(ctx context.Context, id int64) (Movement, error)
	VoidMovement(ctx context.Context, id, actorID, reversedBy int64, at time.Time) error
	KeyHistory(ctx context.Context, key Key) ([]Movement, error)
	KeyBatches(ctx context.Context, key Key) ([]Batch, error)
	LatestMovementID(ctx context.Context, key Key) (int64, error)

	GetPolicy(ctx context.Context, productID int64) (Policy, error)
	UpsertPolicy(ctx context.Context, policy Policy) error
	GetSettings(ctx context.Context, key Key) (StockSettings, error)
	UpsertSettings(ctx context.Context, settings StockSettings) error

	GetActiveAlert(ctx context.Context, key Key) (LowStockAlert, error)
	GetAlertForUpdate(ctx context.Context, id int64) (LowStockAlert, error)
	InsertAlert(ctx context.Context, alert *LowStockAlert) error
	UpdateAlert(ctx context.Context, alert LowStockAlert) error
}

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewRepository constructs Repository. lockTimeout bounds row lock waits
// inside ledger transactions.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{pool: pool, lockTimeout: lockTimeout}
}

// WithTx executes the callback inside a READ COMMITTED transaction. Row
// lock timeouts, deadlocks and serialisation failures surface as
// ErrLockContention so the service retries them.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("inventory repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, db.TxOptions{LockTimeout: r.lockTimeout}, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
	if db.IsLockFailure(err) {
		return fmt.Errorf("%w: %w", ErrLockContention, err)
	}
	return err
}

// NewTxRepository wraps a caller-owned transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{q: tx}
}

type txRepository struct {
	q db.Querier
}

const balanceColumns = `product_id, warehouse_id, on_hand, reserved, unit_cost, updated_at`

func scanBalance(row pgx.Row) (Balance, error) {
	var b Balance
	err := row.Scan(&b.ProductID, &b.WarehouseID, &b.OnHand, &b.Reserved, &b.UnitCost, &b.UpdatedAt)
	return b, err
}

const movementColumns = `id, product_id, warehouse_id, COALESCE(batch_id, 0), movement_type, quantity, unit_cost,
stock_before, stock_after, ref_kind, ref_id, actor_id, note, created_at, voided_at, COALESCE(voided_by, 0), COALESCE(reversed_by, 0)`

func scanMovement(row pgx.Row) (Movement, error) {
	var m Movement
	err := row.Scan(&m.ID, &m.ProductID, &m.WarehouseID, &m.BatchID, &m.Type, &m.Quantity, &m.UnitCost,
		&m.StockBefore, &m.StockAfter, &m.Reference.Kind, &m.Reference.ID, &m.ActorID, &m.Note, &m.CreatedAt,
		&m.VoidedAt, &m.VoidedBy, &m.ReversedBy)
	return m, err
}

const batchColumns = `id, product_id, warehouse_id, batch_number, manufactured_at, expires_at, unit_cost,
received, remaining, status, received_at, updated_at`

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.ProductID, &b.WarehouseID, &b.Number, &b.ManufacturedAt, &b.ExpiresAt, &b.UnitCost,
		&b.Received, &b.Remaining, &b.Status, &b.ReceivedAt, &b.UpdatedAt)
	return b, err
}

const serialColumns = `id, product_id, serial_number, COALESCE(warehouse_id, 0), COALESCE(batch_id, 0), status,
warranty_months, warranty_start, warranty_end, created_at, updated_at`

func scanSerial(row pgx.Row) (Serial, error) {
	var s Serial
	err := row.Scan(&s.ID, &s.ProductID, &s.Number, &s.WarehouseID, &s.BatchID, &s.Status,
		&s.WarrantyMonths, &s.WarrantyStart, &s.WarrantyEnd, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

const alertColumns = `id, product_id, warehouse_id, status, threshold, available, opened_at,
COALESCE(acknowledged_by, 0), acknowledged_at, COALESCE(resolved_by, 0), resolved_at`

func scanAlert(row pgx.Row) (LowStockAlert, error) {
	var a LowStockAlert
	err := row.Scan(&a.ID, &a.ProductID, &a.WarehouseID, &a.Status, &a.Threshold, &a.Available, &a.OpenedAt,
		&a.AcknowledgedBy, &a.AcknowledgedAt, &a.ResolvedBy, &a.ResolvedAt)
	return a, err
}

func notFound(err, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
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

// GetBalanceForUpdate serialises writers of the stock unit on an advisory
// lock first, so two transactions creating its first balance row queue up
// instead of both seeing no row.
func (r *txRepository) GetBalanceForUpdate(ctx context.Context, key Key) (Balance, error) {
	if err := db.LockKey(ctx, r.q, key.LockKey()); err != nil {
		return Balance{}, err
	}
	b, err := scanBalance(r.q.QueryRow(ctx, `SELECT `+balanceColumns+` FROM stock_balances
WHERE product_id=$1 AND warehouse_id=$2 FOR UPDATE`, key.ProductID, key.WarehouseID))
	return b, notFound(err, ErrBalanceNotFound)
}

func (r *txRepository) ProductBalances(ctx context.Context, productID int64) ([]Balance, error) {
	rows, err := r.q.Query(ctx, `SELECT `+balanceColumns+` FROM stock_balances
WHERE product_id=$1 ORDER BY warehouse_id FOR UPDATE`, productID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanBalance)
}

func (r *txRepository) UpsertBalance(ctx context.Context, b Balance) error {
	_, err := r.q.Exec(ctx, `INSERT INTO stock_balances (product_id, warehouse_id, on_hand, reserved, unit_cost, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (product_id, warehouse_id) DO UPDATE SET on_hand=EXCLUDED.on_hand, reserved=EXCLUDED.reserved,
unit_cost=EXCLUDED.unit_cost, updated_at=EXCLUDED.updated_at`, b.ProductID, b.WarehouseID, b.OnHand, b.Reserved, b.UnitCost, b.UpdatedAt)
	return err
}

func (r *txRepository) InsertMovement(ctx context.Context, m *Movement) error {
	return r.q.QueryRow(ctx, `INSERT INTO stock_movements (product_id, warehouse_id, batch_id, movement_type, quantity, unit_cost,
stock_before, stock_after, ref_kind, ref_id, actor_id, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13) RETURNING id`,
		m.ProductID, m.WarehouseID, db.NullInt(m.BatchID), string(m.Type), m.Quantity, m.UnitCost,
		m.StockBefore, m.StockAfter, string(m.Reference.Kind), m.Reference.ID, m.ActorID, m.Note, m.CreatedAt).Scan(&m.ID)
}

func (r *txRepository) GetMovementForUpdate(ctx context.Context, id int64) (Movement, error) {
	m, err := scanMovement(r.q.QueryRow(ctx, `SELECT `+movementColumns+` FROM stock_movements WHERE id=$1 FOR UPDATE`, id))
	return m, notFound(err, ErrMovementNotFound)
}

func (r *txRepository) VoidMovement(ctx context.Context, id, actorID, reversedBy int64, at time.Time) error {
	tag, err := r.q.Exec(ctx, `UPDATE stock_movements SET voided_at=$2, voided_by=$3, reversed_by=$4
WHERE id=$1 AND voided_at IS NULL`, id, at, db.NullInt(actorID), reversedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyVoided
	}
	return nil
}

func (r *txRepository) GetPolicy(ctx context.Context, productID int64) (Policy, error) {
	return getPolicy(ctx, r.q, productID, " FOR SHARE")
}

func getPolicy(ctx context.Context, q db.Querier, productID int64, lock string) (Policy, error) {
	var p Policy
	err := q.QueryRow(ctx, `SELECT product_id, cost_method, standard_cost, track_batches, serialized, warranty_months
FROM products_policy WHERE product_id=$1`+lock, productID).
		Scan(&p.ProductID, &p.Method, &p.StandardCost, &p.TrackBatches, &p.Serialized, &p.WarrantyMonths)
	return p, notFound(err, ErrPolicyNotFound)
}

func (r *txRepository) UpsertPolicy(ctx context.Context, p Policy) error {
	_, err := r.q.Exec(ctx, `INSERT INTO products_policy (product_id, cost_method, standard_cost, track_batches, serialized, warranty_months, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW())
ON CONFLICT (product_id) DO UPDATE SET cost_method=EXCLUDED.cost_method, standard_cost=EXCLUDED.standard_cost,
track_batches=EXCLUDED.track_batches, serialized=EXCLUDED.serialized, warranty_months=EXCLUDED.warranty_months, updated_at=NOW()`,
		p.ProductID, string(p.Method), p.StandardCost, p.TrackBatches, p.Serialized, p.WarrantyMonths)
	return err
}

func (r *txRepository) GetSettings(ctx context.Context, key Key) (StockSettings, error) {
	return getSettings(ctx, r.q, key)
}

func getSettings(ctx context.Context, q db.Querier, key Key) (StockSettings, error) {
	var s StockSettings
	err := q.QueryRow(ctx, `SELECT product_id, warehouse_id, allow_backorder, alert_threshold
FROM stock_settings WHERE product_id=$1 AND warehouse_id=$2`, key.ProductID, key.WarehouseID).
		Scan(&s.ProductID, &s.WarehouseID, &s.AllowBackorder, &s.AlertThreshold)
	return s, notFound(err, ErrSettingsNotFound)
}

func (r *txRepository) UpsertSettings(ctx context.Context, s StockSettings) error {
	_, err := r.q.Exec(ctx, `INSERT INTO stock_settings (product_id, warehouse_id, allow_backorder, alert_threshold, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (product_id, warehouse_id) DO UPDATE SET allow_backorder=EXCLUDED.allow_backorder,
alert_threshold=EXCLUDED.alert_threshold, updated_at=NOW()`, s.ProductID, s.WarehouseID, s.AllowBackorder, s.AlertThreshold)
	return err
}

func (r *txRepository) GetActiveAlert(ctx context.Context, key Key) (LowStockAlert, error) {
	a, err := scanAlert(r.q.QueryRow(ctx, `SELECT `+alertColumns+` FROM low_stock_alerts
WHERE product_id=$1 AND warehouse_id=$2 AND status IN ('open','acknowledged') FOR UPDATE`, key.ProductID, key.WarehouseID))
	return a, notFound(err, ErrAlertNotFound)
}

func (r *txRepository) GetAlertForUpdate(ctx context.Context, id int64) (LowStockAlert, error) {
	a, err := scanAlert(r.q.QueryRow(ctx, `SELECT `+alertColumns+` FROM low_stock_alerts WHERE id=$1 FOR UPDATE`, id))
	return a, notFound(err, ErrAlertNotFound)
}

func (r *txRepository) InsertAlert(ctx context.Context, a *LowStockAlert) error {
	return r.q.QueryRow(ctx, `INSERT INTO low_stock_alerts (product_id, warehouse_id, status, threshold, available, opened_at)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, a.ProductID, a.WarehouseID, string(a.Status), a.Threshold, a.Available, a.OpenedAt).Scan(&a.ID)
}

func (r *txRepository) UpdateAlert(ctx context.Context, a LowStockAlert) error {
	_, err := r.q.Exec(ctx, `UPDATE low_stock_alerts SET status=$2, available=$3, acknowledged_by=$4, acknowledged_at=$5,
resolved_by=$6, resolved_at=$7 WHERE id=$1`, a.ID, string(a.Status), a.Available, db.NullInt(a.AcknowledgedBy), a.AcknowledgedAt,
		db.NullInt(a.ResolvedBy), a.ResolvedAt)
	return err
}

func (r *txRepository) GetBatch(ctx context.Context, id int64) (Batch, error) {
	b, err := scanBatch(r.q.QueryRow(ctx, `SELECT `+batchColumns+` FROM stock_batches WHERE id=$1 FOR UPDATE`, id))
	return b, notFound(err, tracking.ErrBatchNotFound)
}

func (r *txRepository) FindBatch(ctx context.Context, productID, warehouseID int64, number string) (Batch, error) {
	b, err := scanBatch(r.q.QueryRow(ctx, `SELECT `+batchColumns+` FROM stock_batches
WHERE product_id=$1 AND warehouse_id=$2 AND batch_number=$3 FOR UPDATE`, productID, warehouseID, number))
	return b, notFound(err, tracking.ErrBatchNotFound)
}

func (r *txRepository) InsertBatch(ctx context.Context, b *Batch) error {
	err := r.q.QueryRow(ctx, `INSERT INTO stock_batches (product_id, warehouse_id, batch_number, manufactured_at, expires_at,
unit_cost, received, remaining, status, received_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		b.ProductID, b.WarehouseID, b.Number, b.ManufacturedAt, b.ExpiresAt, b.UnitCost, b.Received, b.Remaining,
		string(b.Status), b.ReceivedAt, b.UpdatedAt).Scan(&b.ID)
	if db.IsUniqueViolation(err) {
		return tracking.ErrDuplicateBatch
	}
	return err
}

func (r *txRepository) UpdateBatch(ctx context.Context, b Batch) error {
	_, err := r.q.Exec(ctx, `UPDATE stock_batches SET manufactured_at=$2, expires_at=$3, unit_cost=$4, received=$5,
remaining=$6, status=$7, updated_at=$8 WHERE id=$1`,
		b.ID, b.ManufacturedAt, b.ExpiresAt, b.UnitCost, b.Received, b.Remaining, string(b.Status), b.UpdatedAt)
	return err
}

func (r *txRepository) StockBatches(ctx context.Context, productID, warehouseID int64) ([]Batch, error) {
	rows, err := r.q.Query(ctx, `SELECT `+batchColumns+` FROM stock_batches
WHERE product_id=$1 AND warehouse_id=$2 AND remaining > 0 ORDER BY received_at, id FOR UPDATE`, productID, warehouseID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanBatch)
}

func (r *txRepository) GetSerial(ctx context.Context, id int64) (Serial, error) {
	s, err := scanSerial(r.q.QueryRow(ctx, `SELECT `+serialColumns+` FROM stock_serials WHERE id=$1 FOR UPDATE`, id))
	return s, notFound(err, tracking.ErrSerialNotFound)
}

func (r *txRepository) FindSerial(ctx context.Context, productID int64, number string) (Serial, error) {
	s, err := scanSerial(r.q.QueryRow(ctx, `SELECT `+serialColumns+` FROM stock_serials
WHERE product_id=$1 AND serial_number=$2 FOR UPDATE`, productID, number))
	return s, notFound(err, tracking.ErrSerialNotFound)
}

func (r *txRepository) InsertSerial(ctx context.Context, s *Serial) error {
	err := r.q.QueryRow(ctx, `INSERT INTO stock_serials (product_id, serial_number, warehouse_id, batch_id, status,
warranty_months, warranty_start, warranty_end, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		s.ProductID, s.Number, db.NullInt(s.WarehouseID), db.NullInt(s.BatchID), string(s.Status),
		s.WarrantyMonths, s.WarrantyStart, s.WarrantyEnd, s.CreatedAt, s.UpdatedAt).Scan(&s.ID)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", tracking.ErrDuplicateSerial, s.Number)
	}
	return err
}

func (r *txRepository) UpdateSerial(ctx context.Context, s Serial) error {
	_, err := r.q.Exec(ctx, `UPDATE stock_serials SET warehouse_id=$2, batch_id=$3, status=$4, warranty_start=$5,
warranty_end=$6, updated_at=$7 WHERE id=$1`,
		s.ID, db.NullInt(s.WarehouseID), db.NullInt(s.BatchID), string(s.Status), s.WarrantyStart, s.WarrantyEnd, s.UpdatedAt)
	return err
}

// Read side. These run on the pool without locks.

func (r *Repository) GetBalance(ctx context.Context, key Key) (Balance, error) {
	b, err := scanBalance(r.pool.QueryRow(ctx, `SELECT `+balanceColumns+` FROM stock_balances
WHERE product_id=$1 AND warehouse_id=$2`, key.ProductID, key.WarehouseID))
	return b, notFound(err, ErrBalanceNotFound)
}

func (r *Repository) ListBalances(ctx context.Context, productID, warehouseID int64) ([]Balance, error) {
	var w db.Where
	if productID != 0 {
		w.Add("product_id = ?", productID)
	}
	if warehouseID != 0 {
		w.Add("warehouse_id = ?", warehouseID)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+balanceColumns+` FROM stock_balances `+w.SQL()+` ORDER BY product_id, warehouse_id`, w.Args()...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanBalance)
}

func (r *Repository) ListKeys(ctx context.Context) ([]Key, error) {
	rows, err := r.pool.Query(ctx, `SELECT product_id, warehouse_id FROM stock_balances
UNION SELECT DISTINCT product_id, warehouse_id FROM stock_movements ORDER BY 1, 2`)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row pgx.Row) (Key, error) {
		var k Key
		err := row.Scan(&k.ProductID, &k.WarehouseID)
		return k, err
	})
}

func (r *Repository) GetMovement(ctx context.Context, id int64) (Movement, error) {
	m, err := scanMovement(r.pool.QueryRow(ctx, `SELECT `+movementColumns+` FROM stock_movements WHERE id=$1`, id))
	return m, notFound(err, ErrMovementNotFound)
}

// ListMovements returns matching rows newest first.
func (r *Repository) ListMovements(ctx context.Context, f MovementFilter) ([]Movement, error) {
	var w db.Where
	if f.ProductID != 0 {
		w.Add("product_id = ?", f.ProductID)
	}
	if f.WarehouseID != 0 {
		w.Add("warehouse_id = ?", f.WarehouseID)
	}
	if f.BatchID != 0 {
		w.Add("batch_id = ?", f.BatchID)
	}
	if f.Type != "" {
		w.Add("movement_type = ?", string(f.Type))
	}
	if f.ReferenceKind != "" {
		w.Add("ref_kind = ?", string(f.ReferenceKind))
	}
	if f.ReferenceID != "" {
		w.Add("ref_id = ?", f.ReferenceID)
	}
	if !f.From.IsZero() {
		w.Add("created_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		w.Add("created_at < ?", f.To)
	}
	if !f.IncludeVoided {
		w.AddRaw("voided_at IS NULL")
	}
	where := w.SQL()
	page := w.Page(f.Limit, f.Offset)
	rows, err := r.pool.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements `+where+` ORDER BY id DESC `+page, w.Args()...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanMovement)
}

// KeyHistory returns every movement of a stock unit in write order.
func (r *Repository) KeyHistory(ctx context.Context, key Key) ([]Movement, error) {
	return keyHistory(ctx, r.pool, key)
}

// KeyBatches returns every batch of a stock unit, spent ones included.
func (r *Repository) KeyBatches(ctx context.Context, key Key) ([]Batch, error) {
	return keyBatches(ctx, r.pool, key)
}

func (r *txRepository) KeyHistory(ctx context.Context, key Key) ([]Movement, error) {
	return keyHistory(ctx, r.q, key)
}

func (r *txRepository) KeyBatches(ctx context.Context, key Key) ([]Batch, error) {
	return keyBatches(ctx, r.q, key)
}

func (r *txRepository) LatestMovementID(ctx context.Context, key Key) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM stock_movements
WHERE product_id=$1 AND warehouse_id=$2`, key.ProductID, key.WarehouseID).Scan(&id)
	return id, err
}

func keyHistory(ctx context.Context, q db.Querier, key Key) ([]Movement, error) {
	rows, err := q.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements
WHERE product_id=$1 AND warehouse_id=$2 ORDER BY id`, key.ProductID, key.WarehouseID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanMovement)
}

func keyBatches(ctx context.Context, q db.Querier, key Key) ([]Batch, error) {
	rows, err := q.Query(ctx, `SELECT `+batchColumns+` FROM stock_batches
WHERE product_id=$1 AND warehouse_id=$2 ORDER BY received_at, id`, key.ProductID, key.WarehouseID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanBatch)
}

func (r *Repository) GetPolicy(ctx context.Context, productID int64) (Policy, error) {
	return getPolicy(ctx, r.pool, productID, "")
}

func (r *Repository) GetSettings(ctx context.Context, key Key) (StockSettings, error) {
	return getSettings(ctx, r.pool, key)
}

func (r *Repository) GetBatch(ctx context.Context, id int64) (Batch, error) {
	b, err := scanBatch(r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM stock_batches WHERE id=$1`, id))
	return b, notFound(err, tracking.ErrBatchNotFound)
}

func (r *Repository) ListBatches(ctx context.Context, f tracking.BatchFilter) ([]Batch, error) {
	var w db.Where
	if f.ProductID != 0 {
		w.Add("product_id = ?", f.ProductID)
	}
	if f.WarehouseID != 0 {
		w.Add("warehouse_id = ?", f.WarehouseID)
	}
	if f.Status != "" {
		w.Add("status = ?", string(f.Status))
	}
	if f.ExpiringUntil != nil {
		w.Add("expires_at <= ?", *f.ExpiringUntil)
	}
	if f.OnlyRemaining {
		w.AddRaw("remaining > 0")
	}
	where := w.SQL()
	page := w.Page(f.Limit, f.Offset)
	rows, err := r.pool.Query(ctx, `SELECT `+batchColumns+` FROM stock_batches `+where+` ORDER BY received_at, id `+page, w.Args()...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanBatch)
}

func (r *Repository) GetSerial(ctx context.Context, id int64) (Serial, error) {
	s, err := scanSerial(r.pool.QueryRow(ctx, `SELECT `+serialColumns+` FROM stock_serials WHERE id=$1`, id))
	return s, notFound(err, tracking.ErrSerialNotFound)
}

func (r *Repository) ListSerials(ctx context.Context, f tracking.SerialFilter) ([]Serial, error) {
	var w db.Where
	if f.ProductID != 0 {
		w.Add("product_id = ?", f.ProductID)
	}
	if f.WarehouseID != 0 {
		w.Add("warehouse_id = ?", f.WarehouseID)
	}
	if f.Status != "" {
		w.Add("status = ?", string(f.Status))
	}
	if f.Number != "" {
		w.Add("serial_number = ?", f.Number)
	}
	where := w.SQL()
	page := w.Page(f.Limit, f.Offset)
	rows, err := r.pool.Query(ctx, `SELECT `+serialColumns+` FROM stock_serials `+where+` ORDER BY id `+page, w.Args()...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanSerial)
}

func (r *Repository) GetAlert(ctx context.Context, id int64) (LowStockAlert, error) {
	a, err := scanAlert(r.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM low_stock_alerts WHERE id=$1`, id))
	return a, notFound(err, ErrAlertNotFound)
}

func (r *Repository) ListAlerts(ctx context.Context, f AlertFilter) ([]LowStockAlert, error) {
	var w db.Where
	if f.ProductID != 0 {
		w.Add("product_id = ?", f.ProductID)
	}
	if f.WarehouseID != 0 {
		w.Add("warehouse_id = ?", f.WarehouseID)
	}
	if f.ActiveOnly {
		w.AddRaw("status IN ('open','acknowledged')")
	}
	where := w.SQL()
	page := w.Page(f.Limit, f.Offset)
	rows, err := r.pool.Query(ctx, `SELECT `+alertColumns+` FROM low_stock_alerts `+where+` ORDER BY opened_at DESC, id DESC `+page, w.Args()...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAlert)
}
