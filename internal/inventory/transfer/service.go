package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// RepositoryPort abstracts transfer persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetTransfer(ctx context.Context, id int64) (Transfer, error)
	ListTransfers(ctx context.Context, filter Filter) ([]Transfer, error)
	History(ctx context.Context, transferID int64) ([]HistoryEntry, error)
	ListTransit(ctx context.Context, transferID int64) ([]Transit, error)
}

// TxRepository exposes transactional operations. Ledger returns the stock
// ledger view of the same transaction so movements commit with the
// transfer rows.
type TxRepository interface {
	Ledger() inventory.TxRepository

	GetTransferForUpdate(ctx context.Context, id int64) (Transfer, error)
	InsertTransfer(ctx context.Context, t *Transfer) error
	UpdateTransfer(ctx context.Context, t Transfer) error
	InsertItem(ctx context.Context, item *Item) error
	UpdateItem(ctx context.Context, item Item) error
	DeleteItem(ctx context.Context, transferID, itemID int64) error

	OpenTransit(ctx context.Context, transferID int64) ([]Transit, error)
	InsertTransit(ctx context.Context, row *Transit) error
	UpdateTransit(ctx context.Context, row Transit) error

	AppendHistory(ctx context.Context, entry *HistoryEntry) error
}

// Ledger is the part of the inventory service transfers post through.
type Ledger interface {
	WithLocks(ctx context.Context, keys []string, fn func(context.Context) error) error
	ApplyInTx(ctx context.Context, tx inventory.TxRepository, in inventory.MovementIntent) (inventory.Outcome, error)
	Publish(ctx context.Context, outcomes ...inventory.Outcome)
	Now() time.Time
}

// EventSink receives committed transfer transitions.
type EventSink interface {
	TransferStatusChanged(ctx context.Context, evt StatusChangedEvent) error
}

// Config groups optional settings.
type Config struct {
	RequireApproval bool
}

// ServiceParams wires the service dependencies.
type ServiceParams struct {
	Repo    RepositoryPort
	Ledger  Ledger
	Events  EventSink
	Audit   inventory.AuditPort
	Metrics *observability.LedgerMetrics
	Logger  *slog.Logger
	Config  Config
}

// Service runs the transfer state machine.
type Service struct {
	repo    RepositoryPort
	ledger  Ledger
	events  EventSink
	audit   inventory.AuditPort
	metrics *observability.LedgerMetrics
	logger  *slog.Logger
	cfg     Config
}

// NewService builds Service.
func NewService(p ServiceParams) *Service {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    p.Repo,
		ledger:  p.Ledger,
		events:  p.Events,
		audit:   p.Audit,
		metrics: p.Metrics,
		logger:  logger.With(slog.String("component", "transfer")),
		cfg:     p.Config,
	}
}

// Create opens a draft transfer with optional initial items.
func (s *Service) Create(ctx context.Context, in CreateInput) (Transfer, error) {
	if in.SourceWarehouseID == 0 || in.DestinationWarehouseID == 0 {
		return Transfer{}, fmt.Errorf("%w: source and destination required", ErrInvalidInput)
	}
	if in.SourceWarehouseID == in.DestinationWarehouseID {
		return Transfer{}, ErrSameWarehouse
	}
	for _, item := range in.Items {
		if err := validateItem(item); err != nil {
			return Transfer{}, err
		}
	}
	now := s.ledger.Now()
	t := Transfer{
		Code:                   newCode(now),
		SourceWarehouseID:      in.SourceWarehouseID,
		DestinationWarehouseID: in.DestinationWarehouseID,
		Status:                 StatusDraft,
		Note:                   in.Note,
		RequestedBy:            in.ActorID,
		RequestedAt:            now,
		UpdatedAt:              now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertTransfer(ctx, &t); err != nil {
			return err
		}
		for _, input := range in.Items {
			item, err := addItem(ctx, tx, &t, input)
			if err != nil {
				return err
			}
			t.Items = append(t.Items, item)
		}
		return s.history(ctx, tx, t, "", ActionCreate, in.ActorID, in.Note)
	})
	if err != nil {
		return Transfer{}, err
	}
	s.committed(ctx, t, "", ActionCreate, in.ActorID)
	return t, nil
}

// AddItem appends a product line to a draft.
func (s *Service) AddItem(ctx context.Context, transferID int64, in ItemInput, actorID int64) (Item, error) {
	if err := validateItem(in); err != nil {
		return Item{}, err
	}
	var item Item
	_, err := s.transition(ctx, transferID, nil, func(ctx context.Context, tx TxRepository, t *Transfer) (*step, error) {
		if !t.Status.CanEdit() {
			return nil, invalid(*t, "add item", "only drafts can be edited")
		}
		var err error
		item, err = addItem(ctx, tx, t, in)
		return nil, err
	})
	if err != nil {
		return Item{}, err
	}
	s.record(ctx, actorID, "transfer:add_item", transferID, map[string]any{"item_id": item.ID, "product_id": item.ProductID})
	return item, nil
}

// RemoveItem deletes a product line from a draft.
func (s *Service) RemoveItem(ctx context.Context, transferID, itemID, actorID int64) error {
	_, err := s.transition(ctx, transferID, nil, func(ctx context.Context, tx TxRepository, t *Transfer) (*step, error) {
		if !t.Status.CanEdit() {
			return nil, invalid(*t, "remove item", "only drafts can be edited")
		}
		if _, ok := t.Item(itemID); !ok {
			return nil, ErrItemNotFound
		}
		return nil, tx.DeleteItem(ctx, transferID, itemID)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "transfer:remove_item", transferID, map[string]any{"item_id": itemID})
	return nil
}

// Submit moves a draft to pending.
func (s *Service) Submit(ctx context.Context, transferID, actorID int64, note string) (Transfer, error) {
	return s.transition(ctx, transferID, nil, func(ctx context.Context, tx TxRepository, t *Transfer) (*step, error) {
		if t.Status != StatusDraft {
			return nil, invalid(*t, ActionSubmit, "only drafts can be submitted")
		}
		if !t.Totals().Requested.IsPositive() {
			return nil, invalid(*t, ActionSubmit, "no item with a requested quantity")
		}
		return s.move(ctx, tx, t, StatusPending, ActionSubmit, actorID, note)
	})
}

// Approve records approved quantities on a pending transfer.
func (s *Service) Approve(ctx context.Context, transferID int64, in ApproveInput) (Transfer, error) {
	return s.transition(ctx, transferID, nil, func(ctx context.Context, tx TxRepository, t *Transfer) (*step, error) {
		if t.Status != StatusPending {
			return nil, invalid(*t, ActionApprove, "only pending transfers can be approved")
		}
		if t.ApprovedAt != nil {
			return nil, invalid(*t, ActionApprove, "already approved")
		}
		for id := range in.Quantities {
			if _, ok := t.Item(id); !ok {
				return nil, fmt.Errorf("%w: %d", ErrItemNotFound, id)
			}
		}
		for i := range t.Items {
			item := &t.Items[i]
			qty, ok := in.Quantities[item.ID]
			if !ok {
				qty = item.Requested
			}
			if qty.IsNegative() || qty.GreaterThan(item.Requested) {
				return nil, invalid(*t, ActionApprove, "item %d: approved %s outside 0..%s", item.ID, qty, item.Requested)
			}
			item.Approved = decimal.NewNullDecimal(qty)
			if err := tx.UpdateItem(ctx, *item); err != nil {
				return nil, err
			}
		}
		now := s.ledger.Now()
		t.ApprovedBy = in.ActorID
		t.ApprovedAt = &now
		return s.move(ctx, tx, t, StatusPending, ActionApprove, in.ActorID, in.Note)
	})
}

// Ship posts one transfer_out per cost layer at the source and opens the
// matching transit rows. Any stock rejection rolls the whole shipment back.
func (s *Service) Ship(ctx context.Context, transferID int64, in ShipInput) (Transfer, error) {
	var outcomes []inventory.Outcome
	keys := func(t Transfer) []string { return stockKeys(t, t.SourceWarehouseID) }
	t, err := s.transition(ctx, transferID, keys, func(ctx context.Context, tx TxRepository, t *Transfer) (*step, error) {
		outcomes = nil
		if !t.Status.CanShip() {
			return nil, invalid(*t, ActionShip, "transfer is not pending")
		}
		if s.cfg.RequireApproval && t.ApprovedAt == nil {
			return nil, invalid(*t, ActionShip, "approval required")
		}
		lines := make(map[int64]ShipLine, len(in.Lines))
		for _, line := range in.Lines {
			if _, ok := t.Item(line.ItemID); !ok {
				return nil, fmt.Errorf("%w: %d", ErrItemNotFound, line.ItemID)
			}
			lines[line.ItemID] = line
		}
		now := s.ledger.Now()
		total := decimal.Zero
		for i := range t.Items {
			item := &t.Items[i]
			line := lines[item.ID]
			qty := item.ApprovedQuantity()
			if line.Quantity.Valid {
				qty = line.Quantity.Decimal
			}
			if qty.IsNegative() || qty.GreaterThan(item.ApprovedQuantity()) {
				return nil, invalid(*t, ActionShip, "item %d: shipped %s outside 0..%s", item.ID, qty, item.ApprovedQuantity())
			}
			item.Shipped = qty
			item.ShippingCondition = line.Condition
			if qty.IsPositive() {
				out, err := s.shipItem(ctx, tx, *t, *item, line.SerialNumbers, in, now)
				if err != nil {
					return nil, err
				}
				outcomes = append(outcomes, out)
			}
			if err := tx.UpdateItem(ctx, *item); err != nil {
				return nil, err
			}
			total = total.Add(qty)
		}
		if !total.IsPositive() {
			return nil, invalid(*t, ActionShip, "nothing to ship")
		}
		t.ShippedBy = in.ActorID
		t.ShippedAt = &now
		return s.move(ctx, tx, t, StatusInTransit, ActionShip, in.ActorID, in.Note)
	})
	if err != nil {
		return Transfer{}, err
	}
	s.ledger.Publish(ctx, outcomes...)
	return t, nil
}

func (s *Service) shipItem(ctx context.Context, tx TxRepository, t Transfer, item Item, serials []string, in ShipInput, now time.Time) (inventory.Outcome, error) {
	out, err := s.ledger.ApplyInTx(ctx, tx.Ledger(), inventory.MovementIntent{
		ProductID:     item.ProductID,
		WarehouseID:   t.SourceWarehouseID,
		Type:          inventory.MovementTransferOut,
		Quantity:      item.Shipped,
		BatchID:       item.BatchID,
		SerialNumbers: serials,
		Reference:     inventory.Reference{Kind: inventory.DocumentTransfer, ID: t.Code},
		ActorID:       in.ActorID,
		Note:          in.Note,
	})
	if err != nil {
		return inventory.Outcome{}, err
	}
	rows := make([]Transit, 0, len(out.Movements))
	batchIDs := make([]int64, 0, len(out.Movements))
	for _, m := range out.Movements {
		row := Transit{
			TransferID:             t.ID,
			ItemID:                 item.ID,
			ProductID:              item.ProductID,
			SourceWarehouseID:      t.SourceWarehouseID,
			DestinationWarehouseID: t.DestinationWarehouseID,
			MovementID:             m.ID,
			Quantity:               m.Quantity.Abs(),
			Outstanding:            m.Quantity.Abs(),
			UnitCost:               m.UnitCost,
			ShippedAt:              now,
		}
		if m.BatchID != 0 {
			batch, err := tx.Ledger().GetBatch(ctx, m.BatchID)
			if err != nil {
				return inventory.Outcome{}, err
			}
			row.BatchNumber = batch.Number
			row.ManufacturedAt = batch.ManufacturedAt
			row.ExpiresAt = batch.ExpiresAt
		}
		rows = append(rows, row)
		batchIDs = append(batchIDs, m.BatchID)
	}
	if err := s.assignSerials(ctx, tx, item.ProductID, rows, batchIDs, serials); err != nil {
		return inventory.Outcome{}, err
	}
	for i := range rows {
		if err := tx.InsertTransit(ctx, &rows[i]); err != nil {
			return inventory.Outcome{}, err
		}
	}
	return out, nil
}

// assignSerials spreads shipped serials over the transit rows, keeping each
// unit with the layer it came from where the batch is known.
func (s *Service) assignSerials(ctx context.Context, tx TxRepository, productID int64, rows []Transit, batchIDs []int64, serials []string) error {
	if len(serials) == 0 {
		return nil
	}
	capacity := make([]int64, len(rows))
	for i, row := range rows {
		capacity[i] = row.Quantity.IntPart()
	}
	var rest []string
	for _, number := range serials {
		serial, err := tx.Ledger().FindSerial(ctx, productID, number)
		if err != nil {
			return err
		}
		placed := false
		for i := range rows {
			if batchIDs[i] != 0 && batchIDs[i] == serial.BatchID && capacity[i] > 0 {
				rows[i].SerialNumbers = append(rows[i].SerialNumbers, number)
				capacity[i]--
				placed = true
				break
			}
		}
		if !placed {
			rest = append(rest, number)
		}
	}
	for _, number := range rest {
		for i := range rows {
			if capacity[i] > 0 {
				rows[i].SerialNumbers = append(rows[i].SerialNumbers, number)
				capacity[i]--
				break
			}
		}
	}
	return nil
}

// Receive books receipts at the destination. Good and damaged quantity both
// enter through transfer_in at the shipped cost; damaged quantity is then
// written off by an adjustment in the same transaction. The transfer
// completes once nothing is outstanding.
func (s *Service) Receive(ctx context.Context, transferID int64, in ReceiveInput) (Transfer, error) {
	if len(in.Lines) == 0 {
		return Transfer{}, fmt.Errorf("%w: receipt lines required", ErrInvalidInput)
	}
	var outcomes []inventory.Outcome
	keys := func(t Transfer) []string { return stockKeys(t, t.DestinationWarehouseID) }
	t, err := s.transition(ctx, transferID, keys, func(ctx context.Context, tx TxRepository, t *Transfer) (*step, error) {
		outcomes = nil
		if !t.Status.CanReceive() {
			return nil, invalid(*t, ActionReceive, "transfer is not in transit")
		}
		open, err := tx.OpenTransit(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		seen := make(map[int64]bool, len(in.Lines))
		for _, line := range in.Lines {
			if seen[line.ItemID] {
				return nil, fmt.Errorf("%w: item %d listed twice", ErrInvalidInput, line.ItemID)
			}
			seen[line.ItemID] = true
			idx := slices.IndexFunc(t.Items, func(it Item) bool { return it.ID == line.ItemID })
			if idx < 0 {
				return nil, fmt.Errorf("%w: %d", ErrItemNotFound, line.ItemID)
			}
			item := &t.Items[idx]
			if line.Received.IsNegative() || line.Damaged.IsNegative() {
				return nil, fmt.Errorf("%w: quantities must be >= 0", ErrInvalidInput)
			}
			incoming := line.Received.Add(line.Damaged)
			if !incoming.IsPositive() {
				continue
			}
			if incoming.GreaterThan(item.Outstanding()) {
				return nil, invalid(*t, ActionReceive, "item %d: receiving %s exceeds outstanding %s", item.ID, incoming, item.Outstanding())
			}
			rows := make([]*Transit, 0, len(open))
			for i := range open {
				if open[i].ItemID == item.ID {
					rows = append(rows, &open[i])
				}
			}
			parts, err := allocate(*t, rows, line)
			if err != nil {
				return nil, err
			}
			for _, part := range parts {
				outs, err := s.receivePart(ctx, tx, *t, part, in)
				if err != nil {
					return nil, err
				}
				outcomes = append(outcomes, outs...)
			}
			item.Received = item.Received.Add(line.Received)
			item.Damaged = item.Damaged.Add(line.Damaged)
			if line.Condition != "" {
				item.ReceiptCondition = line.Condition
			}
			if err := tx.UpdateItem(ctx, *item); err != nil {
				return nil, err
			}
		}
		if len(outcomes) == 0 {
			return nil, invalid(*t, ActionReceive, "nothing to receive")
		}
		to, note := StatusInTransit, in.Note
		if t.Settled() {
			now := s.ledger.Now()
			t.ReceivedBy = in.ActorID
			t.ReceivedAt = &now
			to = StatusCompleted
		} else if note == "" {
			note = "partial receipt"
		}
		return s.move(ctx, tx, t, to, ActionReceive, in.ActorID, note)
	})
	if err != nil {
		return Transfer{}, err
	}
	s.ledger.Publish(ctx, outcomes...)
	return t, nil
}

// part is the share of one receipt line booked against one transit row.
type part struct {
	row            *Transit
	good, damaged  decimal.Decimal
	goodSerials    []string
	damagedSerials []string
}

// allocate splits a receipt line over the item's open transit rows, oldest
// first. Serialized receipts follow the units named.
func allocate(t Transfer, rows []*Transit, line ReceiptLine) ([]part, error) {
	if len(line.SerialNumbers)+len(line.DamagedSerials) > 0 {
		return allocateSerials(t, rows, line)
	}
	remGood, remDamaged := line.Received, line.Damaged
	var parts []part
	for _, row := range rows {
		free := row.Outstanding
		good := decimal.Min(free, remGood)
		free = free.Sub(good)
		damaged := decimal.Min(free, remDamaged)
		remGood = remGood.Sub(good)
		remDamaged = remDamaged.Sub(damaged)
		if good.Add(damaged).IsPositive() {
			parts = append(parts, part{row: row, good: good, damaged: damaged})
		}
	}
	if remGood.IsPositive() || remDamaged.IsPositive() {
		return nil, invalid(t, ActionReceive, "item %d: receipt exceeds stock in transit", line.ItemID)
	}
	return parts, nil
}

func allocateSerials(t Transfer, rows []*Transit, line ReceiptLine) ([]part, error) {
	if !decimal.NewFromInt(int64(len(line.SerialNumbers))).Equal(line.Received) ||
		!decimal.NewFromInt(int64(len(line.DamagedSerials))).Equal(line.Damaged) {
		return nil, fmt.Errorf("%w: item %d needs one serial per received and damaged unit", inventory.ErrSerialCount, line.ItemID)
	}
	parts := make([]part, len(rows))
	for i, row := range rows {
		parts[i] = part{row: row, good: decimal.Zero, damaged: decimal.Zero}
	}
	place := func(number string, damaged bool) error {
		for i, row := range rows {
			if !slices.Contains(row.SerialNumbers, number) {
				continue
			}
			if damaged {
				parts[i].damagedSerials = append(parts[i].damagedSerials, number)
				parts[i].damaged = parts[i].damaged.Add(decimal.NewFromInt(1))
			} else {
				parts[i].goodSerials = append(parts[i].goodSerials, number)
				parts[i].good = parts[i].good.Add(decimal.NewFromInt(1))
			}
			return nil
		}
		return invalid(t, ActionReceive, "serial %s is not in transit on item %d", number, line.ItemID)
	}
	for _, number := range line.SerialNumbers {
		if err := place(number, false); err != nil {
			return nil, err
		}
	}
	for _, number := range line.DamagedSerials {
		if err := place(number, true); err != nil {
			return nil, err
		}
	}
	out := parts[:0]
	for _, p := range parts {
		if p.good.Add(p.damaged).IsPositive() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Service) receivePart(ctx context.Context, tx TxRepository, t Transfer, p part, in ReceiveInput) ([]inventory.Outcome, error) {
	row := p.row
	ref := inventory.Reference{Kind: inventory.DocumentTransfer, ID: t.Code}
	intent := inventory.MovementIntent{
		ProductID:     row.ProductID,
		WarehouseID:   t.DestinationWarehouseID,
		Type:          inventory.MovementTransferIn,
		Quantity:      p.good.Add(p.damaged),
		UnitCost:      decimal.NewNullDecimal(row.UnitCost),
		SerialNumbers: append(slices.Clone(p.goodSerials), p.damagedSerials...),
		Reference:     ref,
		ActorID:       in.ActorID,
		Note:          in.Note,
	}
	if row.BatchNumber != "" {
		intent.NewBatch = &inventory.NewBatch{Number: row.BatchNumber, ManufacturedAt: row.ManufacturedAt, ExpiresAt: row.ExpiresAt}
	}
	if len(intent.SerialNumbers) == 0 {
		intent.SerialNumbers = nil
	}
	received, err := s.ledger.ApplyInTx(ctx, tx.Ledger(), intent)
	if err != nil {
		return nil, err
	}
	outs := []inventory.Outcome{received}
	if p.damaged.IsPositive() {
		writeOff, err := s.ledger.ApplyInTx(ctx, tx.Ledger(), inventory.MovementIntent{
			ProductID:     row.ProductID,
			WarehouseID:   t.DestinationWarehouseID,
			Type:          inventory.MovementAdjustment,
			Quantity:      p.damaged.Neg(),
			UnitCost:      decimal.NewNullDecimal(row.UnitCost),
			BatchID:       received.Movements[0].BatchID,
			SerialNumbers: p.damagedSerials,
			Reference:     ref,
			ActorID:       in.ActorID,
			Note:          "damaged in transit",
		})
		if err != nil {
			return nil, err
		}
		outs = append(outs, writeOff)
	}
	row.Outstanding = row.Outstanding.Sub(p.good).Sub(p.damaged)
	row.SerialNumbers = slices.DeleteFunc(row.SerialNumbers, func(n string) bool {
		return slices.Contains(p.goodSerials, n) || slices.Contains(p.damagedSerials, n)
	})
	if !row.Outstanding.IsPositive() {
		closed := s.ledger.Now()
		row.ClosedAt = &closed
	}
	if err := tx.UpdateTransit(ctx, *row); err != nil {
		return nil, err
	}
	return outs, nil
}

// Cancel abandons a transfer. Stock in transit returns to the source at the
// shipped cost; once anything was received the transfer can no longer be
// cancelled.
func (s *Service) Cancel(ctx context.Context, transferID, actorID int64, reason string) (Transfer, error) {
	var outcomes []inventory.Outcome
	keys := func(t Transfer) []string {
		if t.Status == StatusInTransit {
			return stockKeys(t, t.SourceWarehouseID)
		}
		return nil
	}
	t, err := s.transition(ctx, transferID, keys, func(ctx context.Context, tx TxRepository, t *Transfer) (*step, error) {
		outcomes = nil
		if !t.Status.CanCancel() {
			return nil, invalid(*t, ActionCancel, "transfer is %s", t.Status)
		}
		if t.Status == StatusInTransit {
			if t.AnyReceived() {
				return nil, invalid(*t, ActionCancel, "items were already received")
			}
			open, err := tx.OpenTransit(ctx, t.ID)
			if err != nil {
				return nil, err
			}
			for i := range open {
				out, err := s.returnTransit(ctx, tx, *t, &open[i], actorID)
				if err != nil {
					return nil, err
				}
				outcomes = append(outcomes, out)
			}
		}
		now := s.ledger.Now()
		t.CancelledBy = actorID
		t.CancelledAt = &now
		t.CancelReason = reason
		return s.move(ctx, tx, t, StatusCancelled, ActionCancel, actorID, reason)
	})
	if err != nil {
		return Transfer{}, err
	}
	s.ledger.Publish(ctx, outcomes...)
	return t, nil
}

func (s *Service) returnTransit(ctx context.Context, tx TxRepository, t Transfer, row *Transit, actorID int64) (inventory.Outcome, error) {
	intent := inventory.MovementIntent{
		ProductID:     row.ProductID,
		WarehouseID:   t.SourceWarehouseID,
		Type:          inventory.MovementTransferIn,
		Quantity:      row.Outstanding,
		UnitCost:      decimal.NewNullDecimal(row.UnitCost),
		SerialNumbers: row.SerialNumbers,
		Reference:     inventory.Reference{Kind: inventory.DocumentTransfer, ID: t.Code},
		ActorID:       actorID,
		Note:          "transfer cancelled",
	}
	if row.BatchNumber != "" {
		intent.NewBatch = &inventory.NewBatch{Number: row.BatchNumber, ManufacturedAt: row.ManufacturedAt, ExpiresAt: row.ExpiresAt}
	}
	out, err := s.ledger.ApplyInTx(ctx, tx.Ledger(), intent)
	if err != nil {
		return inventory.Outcome{}, err
	}
	closed := s.ledger.Now()
	row.Outstanding = decimal.Zero
	row.SerialNumbers = nil
	row.ClosedAt = &closed
	return out, tx.UpdateTransit(ctx, *row)
}

// Get loads a transfer with its items.
func (s *Service) Get(ctx context.Context, id int64) (Transfer, error) {
	return s.repo.GetTransfer(ctx, id)
}

// List lists transfers.
func (s *Service) List(ctx context.Context, filter Filter) ([]Transfer, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.repo.ListTransfers(ctx, filter)
}

// History returns the transition trail of a transfer, oldest first.
func (s *Service) History(ctx context.Context, id int64) ([]HistoryEntry, error) {
	if _, err := s.repo.GetTransfer(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, id)
}

// Transit lists the transit rows of a transfer.
func (s *Service) Transit(ctx context.Context, id int64) ([]Transit, error) {
	return s.repo.ListTransit(ctx, id)
}

// step is a committed state machine transition awaiting publication.
type step struct {
	action  Action
	from    Status
	actorID int64
}

type mutation func(ctx context.Context, tx TxRepository, t *Transfer) (*step, error)

// transition locks the transfer and the stock units keys returns, then runs
// fn on the row re-read inside the transaction. The item set is frozen after
// submit, so keys computed from the snapshot still cover the locked row; a
// mismatch means a concurrent edit and is rejected.
func (s *Service) transition(ctx context.Context, id int64, keys func(Transfer) []string, fn mutation) (Transfer, error) {
	current, err := s.repo.GetTransfer(ctx, id)
	if err != nil {
		return Transfer{}, err
	}
	lockKeys := []string{shared.TransferLockKey(id)}
	if keys != nil {
		lockKeys = append(lockKeys, keys(current)...)
	}
	var (
		after Transfer
		done  *step
	)
	err = s.ledger.WithLocks(ctx, lockKeys, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			t, err := tx.GetTransferForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if keys != nil {
				for _, k := range keys(t) {
					if !slices.Contains(lockKeys, k) {
						return invalid(t, "lock", "transfer changed concurrently, retry")
					}
				}
			}
			done, err = fn(ctx, tx, &t)
			if err != nil {
				return err
			}
			t.UpdatedAt = s.ledger.Now()
			if err := tx.UpdateTransfer(ctx, t); err != nil {
				return err
			}
			after = t
			return nil
		})
	})
	if err != nil {
		var bad *InvalidTransferTransitionError
		if errors.As(err, &bad) {
			s.logger.InfoContext(ctx, "transfer transition rejected", slog.Int64("transfer_id", id), slog.String("reason", bad.Reason))
		}
		return Transfer{}, err
	}
	if done != nil {
		s.committed(ctx, after, done.from, done.action, done.actorID)
	}
	return after, nil
}

// move sets the new status and appends the history row.
func (s *Service) move(ctx context.Context, tx TxRepository, t *Transfer, to Status, action Action, actorID int64, note string) (*step, error) {
	from := t.Status
	t.Status = to
	if err := s.history(ctx, tx, *t, from, action, actorID, note); err != nil {
		return nil, err
	}
	return &step{action: action, from: from, actorID: actorID}, nil
}

func (s *Service) history(ctx context.Context, tx TxRepository, t Transfer, from Status, action Action, actorID int64, note string) error {
	return tx.AppendHistory(ctx, &HistoryEntry{
		TransferID: t.ID,
		Action:     action,
		FromStatus: from,
		ToStatus:   t.Status,
		ActorID:    actorID,
		Note:       note,
		CreatedAt:  s.ledger.Now(),
	})
}

// committed publishes, counts and audits a transition after commit.
func (s *Service) committed(ctx context.Context, t Transfer, from Status, action Action, actorID int64) {
	s.metrics.TransferTransition(string(t.Status))
	if s.events != nil {
		evt := StatusChangedEvent{
			TransferID: t.ID,
			Code:       t.Code,
			Action:     action,
			From:       from,
			To:         t.Status,
			Totals:     t.Totals(),
			ActorID:    actorID,
			ChangedAt:  s.ledger.Now(),
		}
		if err := s.events.TransferStatusChanged(ctx, evt); err != nil {
			s.logger.WarnContext(ctx, "publish transfer event", slog.Int64("transfer_id", t.ID), slog.Any("error", err))
		}
	}
	s.record(ctx, actorID, "transfer:"+string(action), t.ID, map[string]any{
		"code": t.Code,
		"from": string(from),
		"to":   string(t.Status),
	})
}

func (s *Service) record(ctx context.Context, actorID int64, action string, transferID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_transfer",
		EntityID: fmt.Sprintf("%d", transferID),
		Meta:     meta,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "audit record", slog.String("action", action), slog.Any("error", err))
	}
}

// stockKeys returns the lock keys of every item's stock unit at warehouseID,
// plus pinned source batches. Destination batches are only known inside the
// receipt; every writer of a batch also locks its stock unit, so the unit key
// covers them.
func stockKeys(t Transfer, warehouseID int64) []string {
	keys := make([]string, 0, len(t.Items))
	for _, item := range t.Items {
		keys = append(keys, shared.StockLockKey(item.ProductID, warehouseID))
		if item.BatchID != 0 && warehouseID == t.SourceWarehouseID {
			keys = append(keys, shared.BatchLockKey(item.BatchID))
		}
	}
	return keys
}

func addItem(ctx context.Context, tx TxRepository, t *Transfer, in ItemInput) (Item, error) {
	for _, existing := range t.Items {
		if existing.ProductID == in.ProductID && existing.BatchID == in.BatchID {
			return Item{}, fmt.Errorf("%w: product %d already on the transfer", ErrInvalidInput, in.ProductID)
		}
	}
	item := Item{
		TransferID: t.ID,
		ProductID:  in.ProductID,
		BatchID:    in.BatchID,
		Requested:  in.Quantity,
		Shipped:    decimal.Zero,
		Received:   decimal.Zero,
		Damaged:    decimal.Zero,
	}
	if err := tx.InsertItem(ctx, &item); err != nil {
		return Item{}, err
	}
	return item, nil
}

func validateItem(in ItemInput) error {
	if in.ProductID == 0 {
		return fmt.Errorf("%w: product required", ErrInvalidInput)
	}
	if !in.Quantity.IsPositive() {
		return fmt.Errorf("%w: requested quantity must be > 0", ErrInvalidInput)
	}
	return nil
}

func newCode(at time.Time) string {
	return fmt.Sprintf("TRF-%s-%s", at.Format("20060102"), strings.ToUpper(uuid.NewString()[:8]))
}
