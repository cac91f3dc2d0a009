package inventory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stockledger/internal/inventory/valuation"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// ReconcileReport is the outcome of folding one stock unit's log.
type ReconcileReport struct {
	Key       Key             `json:"key"`
	Movements int             `json:"movements"`
	Batches   int             `json:"batches"`
	OnHand    decimal.Decimal `json:"on_hand"`
	Balance   Balance         `json:"balance"`
}

// ReconcileSummary aggregates a full run.
type ReconcileSummary struct {
	Keys      int           `json:"keys"`
	Movements int           `json:"movements"`
	Duration  time.Duration `json:"duration"`
}

// RevaluationSummary aggregates an average-cost sweep.
type RevaluationSummary struct {
	Checked   int `json:"checked"`
	Corrected int `json:"corrected"`
	Skipped   int `json:"skipped"`
}

// Reconciler folds the movement log and compares it with persisted state.
// It reads snapshots without locks and only takes the stock unit's lock to
// confirm drift before reporting it.
type Reconciler struct {
	svc *Service
}

// NewReconciler binds a reconciler to the ledger service.
func NewReconciler(svc *Service) *Reconciler {
	return &Reconciler{svc: svc}
}

// keyLedger reads one stock unit's log and batches.
type keyLedger interface {
	KeyHistory(ctx context.Context, key Key) ([]Movement, error)
	KeyBatches(ctx context.Context, key Key) ([]Batch, error)
}

// Reconcile checks one stock unit. Drift seen in the snapshot is re-read
// under the unit's lock inside one transaction holding its balance row;
// drift that survives is returned as a LedgerConsistencyError and logged
// with the unit's full history. Nothing is corrected.
func (r *Reconciler) Reconcile(ctx context.Context, key Key) (ReconcileReport, error) {
	report, history, err := r.fold(ctx, key, r.svc.repo.GetBalance, r.svc.repo)
	var drift *LedgerConsistencyError
	if !errors.As(err, &drift) {
		return report, err
	}
	err = r.svc.WithLocks(ctx, []string{key.LockKey()}, func(ctx context.Context) error {
		return r.svc.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var foldErr error
			report, history, foldErr = r.fold(ctx, key, tx.GetBalanceForUpdate, tx)
			return foldErr
		})
	})
	if errors.As(err, &drift) {
		r.svc.metrics.Inconsistency()
		r.svc.logger.ErrorContext(ctx, "ledger inconsistency",
			slog.String("key", key.String()),
			slog.String("field", drift.Field),
			slog.Int64("batch_id", drift.BatchID),
			slog.Int64("movement_id", drift.MovementID),
			slog.String("expected", drift.Expected.String()),
			slog.String("actual", drift.Actual.String()),
			slog.Any("history", history),
		)
	}
	return report, err
}

func (r *Reconciler) fold(ctx context.Context, key Key, getBalance func(context.Context, Key) (Balance, error), src keyLedger) (ReconcileReport, []Movement, error) {
	report := ReconcileReport{Key: key}
	balance, err := getBalance(ctx, key)
	if errors.Is(err, ErrBalanceNotFound) {
		balance = Balance{ProductID: key.ProductID, WarehouseID: key.WarehouseID}
	} else if err != nil {
		return report, nil, err
	}
	report.Balance = balance
	history, err := src.KeyHistory(ctx, key)
	if err != nil {
		return report, nil, err
	}
	batches, err := src.KeyBatches(ctx, key)
	if err != nil {
		return report, history, err
	}
	report.Movements = len(history)
	report.Batches = len(batches)

	running := decimal.Zero
	perBatch := make(map[int64]decimal.Decimal, len(batches))
	for _, m := range history {
		if !m.StockBefore.Equal(running) {
			return report, history, &LedgerConsistencyError{Key: key, Field: "stock_before", Expected: running, Actual: m.StockBefore, MovementID: m.ID}
		}
		if after := m.StockBefore.Add(m.Quantity); !m.StockAfter.Equal(after) {
			return report, history, &LedgerConsistencyError{Key: key, Field: "stock_after", Expected: after, Actual: m.StockAfter, MovementID: m.ID}
		}
		running = m.StockAfter
		if m.BatchID != 0 {
			perBatch[m.BatchID] = perBatch[m.BatchID].Add(m.Quantity)
		}
	}
	report.OnHand = running
	if !balance.OnHand.Equal(running) {
		return report, history, &LedgerConsistencyError{Key: key, Field: "on_hand", Expected: running, Actual: balance.OnHand}
	}
	if balance.Reserved.IsNegative() {
		return report, history, &LedgerConsistencyError{Key: key, Field: "reserved", Expected: decimal.Zero, Actual: balance.Reserved}
	}
	for _, b := range batches {
		if folded := perBatch[b.ID]; !folded.Equal(b.Remaining) {
			return report, history, &LedgerConsistencyError{Key: key, BatchID: b.ID, Field: "batch_remaining", Expected: folded, Actual: b.Remaining}
		}
	}
	return report, history, nil
}

// ReconcileAll checks every stock unit with bounded concurrency and stops
// the run at the first consistency error.
func (r *Reconciler) ReconcileAll(ctx context.Context, concurrency int) (ReconcileSummary, error) {
	start := time.Now()
	keys, err := r.svc.repo.ListKeys(ctx)
	if err != nil {
		return ReconcileSummary{}, err
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	reports := make([]ReconcileReport, len(keys))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)
	for i, key := range keys {
		group.Go(func() error {
			report, err := r.Reconcile(gctx, key)
			if err != nil {
				return err
			}
			reports[i] = report
			return nil
		})
	}
	summary := ReconcileSummary{Keys: len(keys)}
	if err := group.Wait(); err != nil {
		summary.Duration = time.Since(start)
		return summary, err
	}
	for _, rep := range reports {
		summary.Movements += rep.Movements
	}
	summary.Duration = time.Since(start)
	r.svc.logger.InfoContext(ctx, "reconciliation complete",
		slog.Int("keys", summary.Keys),
		slog.Int("movements", summary.Movements),
		slog.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// RevalueAverages recomputes the running average cost of every average-cost
// stock unit from its log. A unit whose stored cost drifted is corrected
// under lock, provided no movement landed after the snapshot.
func (r *Reconciler) RevalueAverages(ctx context.Context) (RevaluationSummary, error) {
	keys, err := r.svc.repo.ListKeys(ctx)
	if err != nil {
		return RevaluationSummary{}, err
	}
	var summary RevaluationSummary
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		policy, err := loadPolicy(ctx, r.svc.repo, key.ProductID)
		if err != nil {
			return summary, err
		}
		if policy.Method != valuation.MethodAverage {
			continue
		}
		summary.Checked++
		history, err := r.svc.repo.KeyHistory(ctx, key)
		if err != nil {
			return summary, err
		}
		if len(history) == 0 {
			continue
		}
		expected := foldAverageCost(history)
		lastID := history[len(history)-1].ID
		corrected, err := r.correctCost(ctx, key, expected, lastID)
		if err != nil {
			return summary, err
		}
		switch corrected {
		case costCorrected:
			summary.Corrected++
		case costSkipped:
			summary.Skipped++
		}
	}
	r.svc.logger.InfoContext(ctx, "average revaluation complete",
		slog.Int("checked", summary.Checked),
		slog.Int("corrected", summary.Corrected),
		slog.Int("skipped", summary.Skipped),
	)
	return summary, nil
}

type costResult int

const (
	costUnchanged costResult = iota
	costCorrected
	costSkipped
)

func (r *Reconciler) correctCost(ctx context.Context, key Key, expected decimal.Decimal, lastID int64) (costResult, error) {
	result := costUnchanged
	var before decimal.Decimal
	err := r.svc.WithLocks(ctx, []string{key.LockKey()}, func(ctx context.Context) error {
		result = costUnchanged
		return r.svc.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			balance, err := tx.GetBalanceForUpdate(ctx, key)
			if err != nil {
				return err
			}
			if balance.UnitCost.Equal(expected) {
				return nil
			}
			latest, err := tx.LatestMovementID(ctx, key)
			if err != nil {
				return err
			}
			if latest != lastID {
				result = costSkipped
				return nil
			}
			before = balance.UnitCost
			balance.UnitCost = expected
			balance.UpdatedAt = r.svc.now()
			result = costCorrected
			return tx.UpsertBalance(ctx, balance)
		})
	})
	if err != nil {
		return costUnchanged, err
	}
	if result == costCorrected {
		r.svc.logger.WarnContext(ctx, "average cost corrected",
			slog.String("key", key.String()),
			slog.String("from", before.String()),
			slog.String("to", expected.String()),
		)
		r.svc.record(ctx, shared.AuditLog{
			Action:   "inventory:revalue_average",
			Entity:   "stock_balance",
			EntityID: key.String(),
			Meta:     map[string]any{"from": before.String(), "to": expected.String()},
		})
		if err := r.svc.cache.Invalidate(ctx, key); err != nil {
			r.svc.logger.WarnContext(ctx, "invalidate balance cache", slog.Any("error", err))
		}
	}
	return result, nil
}

// foldAverageCost replays receipts into a running average. Issues leave the
// average untouched unless they carry an explicit cost that differs.
func foldAverageCost(history []Movement) decimal.Decimal {
	onHand := decimal.Zero
	cost := decimal.Zero
	for _, m := range history {
		if m.Quantity.IsPositive() {
			cost = valuation.AverageCost(onHand, cost, m.Quantity, m.UnitCost)
		} else {
			cost = valuation.RemoveValue(onHand, cost, m.Quantity.Abs(), m.UnitCost)
		}
		onHand = onHand.Add(m.Quantity)
	}
	return cost
}
