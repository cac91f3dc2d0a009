package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory/tracking"
	"github.com/odyssey-erp/stockledger/internal/inventory/valuation"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

func balanceLockKeys(balances []Balance) []string {
	keys := make([]string, 0, len(balances))
	for _, b := range balances {
		keys = append(keys, b.Key().LockKey())
	}
	return keys
}

func balanceKeys(balances []Balance) []Key {
	keys := make([]Key, 0, len(balances))
	for _, b := range balances {
		keys = append(keys, b.Key())
	}
	return keys
}

// SetPolicy stores a product's valuation and tracking policy. Switching to
// standard cost revalues every balance at the standard cost. Enabling layer
// tracking is refused while stock exists that no batch covers, and the
// serialized flag cannot change while the product has stock.
func (s *Service) SetPolicy(ctx context.Context, policy Policy, actorID int64) (Policy, error) {
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	balances, err := s.repo.ListBalances(ctx, policy.ProductID, 0)
	if err != nil {
		return Policy{}, err
	}
	var touched []Balance
	err = s.WithLocks(ctx, balanceLockKeys(balances), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			touched = nil
			current, err := loadPolicy(ctx, tx, policy.ProductID)
			if err != nil {
				return err
			}
			if err := tx.UpsertPolicy(ctx, policy); err != nil {
				return err
			}
			locked, err := tx.ProductBalances(ctx, policy.ProductID)
			if err != nil {
				return err
			}
			for _, balance := range locked {
				if balance.OnHand.IsZero() {
					continue
				}
				if current.Serialized != policy.Serialized {
					return fmt.Errorf("%w: product %d has stock in warehouse %d", ErrPolicyChange, policy.ProductID, balance.WarehouseID)
				}
				if policy.LayerTracked() && !current.LayerTracked() {
					if err := coveredByLayers(ctx, tx, balance); err != nil {
						return err
					}
				}
				if policy.Method == valuation.MethodStandard && !balance.UnitCost.Equal(policy.StandardCost) {
					balance.UnitCost = policy.StandardCost
					balance.UpdatedAt = s.now()
					if err := tx.UpsertBalance(ctx, balance); err != nil {
						return err
					}
					touched = append(touched, balance)
				}
			}
			return nil
		})
	})
	if err != nil {
		return Policy{}, err
	}
	if err := s.cache.Invalidate(ctx, balanceKeys(touched)...); err != nil {
		s.logger.WarnContext(ctx, "invalidate balance cache", slog.Any("error", err))
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "inventory:set_policy",
		Entity:   "product_policy",
		EntityID: fmt.Sprintf("%d", policy.ProductID),
		Meta: map[string]any{
			"cost_method":   string(policy.Method),
			"standard_cost": policy.StandardCost.String(),
			"track_batches": policy.TrackBatches,
			"serialized":    policy.Serialized,
			"revalued":      len(touched),
		},
	})
	return policy, nil
}

func coveredByLayers(ctx context.Context, tx TxRepository, balance Balance) error {
	layers, err := tx.StockBatches(ctx, balance.ProductID, balance.WarehouseID)
	if err != nil {
		return err
	}
	covered := decimal.Zero
	for _, l := range layers {
		covered = covered.Add(l.Remaining)
	}
	if covered.LessThan(balance.OnHand) {
		return fmt.Errorf("%w: %s of %s in warehouse %d is not in any batch",
			ErrPolicyChange, balance.OnHand.Sub(covered), balance.OnHand, balance.WarehouseID)
	}
	return nil
}

// Policy returns the product's policy, or the default when none is stored.
func (s *Service) Policy(ctx context.Context, productID int64) (Policy, error) {
	return loadPolicy(ctx, s.repo, productID)
}

// Revalue changes the standard cost of a standard-cost product and moves
// every balance of the product to it. No movement is written.
func (s *Service) Revalue(ctx context.Context, productID int64, standardCost decimal.Decimal, actorID int64) ([]Balance, error) {
	if standardCost.IsNegative() {
		return nil, ErrInvalidUnitCost
	}
	balances, err := s.repo.ListBalances(ctx, productID, 0)
	if err != nil {
		return nil, err
	}
	var previous decimal.Decimal
	var updated []Balance
	err = s.WithLocks(ctx, balanceLockKeys(balances), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			updated = nil
			policy, err := loadPolicy(ctx, tx, productID)
			if err != nil {
				return err
			}
			if policy.Method != valuation.MethodStandard {
				return fmt.Errorf("%w: product %d uses %s", ErrNotStandardCost, productID, policy.Method)
			}
			previous = policy.StandardCost
			policy.StandardCost = standardCost.Round(valuation.CostScale)
			if err := tx.UpsertPolicy(ctx, policy); err != nil {
				return err
			}
			locked, err := tx.ProductBalances(ctx, productID)
			if err != nil {
				return err
			}
			now := s.now()
			for _, balance := range locked {
				balance.UnitCost = policy.StandardCost
				balance.UpdatedAt = now
				if err := tx.UpsertBalance(ctx, balance); err != nil {
					return err
				}
				updated = append(updated, balance)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if err := s.cache.Invalidate(ctx, balanceKeys(updated)...); err != nil {
		s.logger.WarnContext(ctx, "invalidate balance cache", slog.Any("error", err))
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "inventory:revalue",
		Entity:   "product_policy",
		EntityID: fmt.Sprintf("%d", productID),
		Meta: map[string]any{
			"from":     previous.String(),
			"to":       standardCost.String(),
			"balances": len(updated),
		},
	})
	return updated, nil
}

// SetSettings stores the backorder switch and alert threshold of a stock
// unit and re-evaluates the threshold.
func (s *Service) SetSettings(ctx context.Context, settings StockSettings, actorID int64) (StockSettings, *AlertChange, error) {
	if settings.ProductID == 0 || settings.WarehouseID == 0 {
		return StockSettings{}, nil, ErrProductWarehouseRequired
	}
	if settings.AlertThreshold.Valid && settings.AlertThreshold.Decimal.IsNegative() {
		return StockSettings{}, nil, fmt.Errorf("%w: alert threshold must be >= 0", ErrInvalidQuantity)
	}
	key := Key{ProductID: settings.ProductID, WarehouseID: settings.WarehouseID}
	var change *AlertChange
	err := s.WithLocks(ctx, []string{key.LockKey()}, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if err := tx.UpsertSettings(ctx, settings); err != nil {
				return err
			}
			balance, err := tx.GetBalanceForUpdate(ctx, key)
			if errors.Is(err, ErrBalanceNotFound) {
				balance = Balance{ProductID: key.ProductID, WarehouseID: key.WarehouseID}
			} else if err != nil {
				return err
			}
			change, err = s.evaluateThreshold(ctx, tx, balance, settings)
			return err
		})
	})
	if err != nil {
		return StockSettings{}, nil, err
	}
	if change != nil {
		s.publishAlert(ctx, *change)
	}
	threshold := ""
	if settings.AlertThreshold.Valid {
		threshold = settings.AlertThreshold.Decimal.String()
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "inventory:set_settings",
		Entity:   "stock_settings",
		EntityID: key.String(),
		Meta:     map[string]any{"allow_backorder": settings.AllowBackorder, "alert_threshold": threshold},
	})
	return settings, change, nil
}

// Settings returns the stock unit's settings, or defaults.
func (s *Service) Settings(ctx context.Context, productID, warehouseID int64) (StockSettings, error) {
	return loadSettings(ctx, s.repo, Key{ProductID: productID, WarehouseID: warehouseID})
}

// HoldBatch withdraws a batch from issue selection, or returns it.
func (s *Service) HoldBatch(ctx context.Context, batchID int64, hold bool, actorID int64) (Batch, error) {
	current, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return Batch{}, err
	}
	keys := []string{shared.StockLockKey(current.ProductID, current.WarehouseID), shared.BatchLockKey(batchID)}
	var batch Batch
	err = s.WithLocks(ctx, keys, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			batch, err = tracking.NewTracker(tx, s.now).Hold(ctx, batchID, hold)
			return err
		})
	})
	if err != nil {
		return Batch{}, err
	}
	action := "inventory:batch_release"
	if hold {
		action = "inventory:batch_hold"
	}
	s.record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "stock_batch", EntityID: fmt.Sprintf("%d", batchID)})
	return batch, nil
}

// SweepExpired marks every batch past its expiry at asOf as expired and
// returns how many changed.
func (s *Service) SweepExpired(ctx context.Context, asOf time.Time) (int, error) {
	candidates, err := s.repo.ListBatches(ctx, tracking.BatchFilter{ExpiringUntil: &asOf, OnlyRemaining: true})
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, b := range candidates {
		if b.Status == tracking.BatchExpired || b.Status == tracking.BatchConsumed {
			continue
		}
		keys := []string{shared.StockLockKey(b.ProductID, b.WarehouseID), shared.BatchLockKey(b.ID)}
		var changed bool
		err := s.WithLocks(ctx, keys, func(ctx context.Context) error {
			return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
				var err error
				changed, err = tracking.NewTracker(tx, s.now).Expire(ctx, b.ID, asOf)
				return err
			})
		})
		if err != nil {
			return expired, err
		}
		if changed {
			expired++
			s.logger.InfoContext(ctx, "batch expired",
				slog.Int64("batch_id", b.ID),
				slog.String("batch_number", b.Number),
				slog.Int64("product_id", b.ProductID),
				slog.Int64("warehouse_id", b.WarehouseID),
				slog.String("remaining", b.Remaining.String()),
			)
		}
	}
	return expired, nil
}

// TransitionSerial applies an operator status change to a serial. Sales
// and returns change quantities and must go through movements instead.
func (s *Service) TransitionSerial(ctx context.Context, serialID int64, to tracking.SerialStatus, actorID int64) (Serial, error) {
	if to == tracking.SerialSold || to == tracking.SerialReturned {
		return Serial{}, fmt.Errorf("%w: %s needs a stock movement", tracking.ErrIllegalSerialTransition, to)
	}
	current, err := s.repo.GetSerial(ctx, serialID)
	if err != nil {
		return Serial{}, err
	}
	lockKey := shared.SerialLockKey(serialID)
	if current.WarehouseID != 0 {
		lockKey = shared.StockLockKey(current.ProductID, current.WarehouseID)
	}
	var serial Serial
	err = s.WithLocks(ctx, []string{lockKey}, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			serial, err = tracking.NewTracker(tx, s.now).TransitionSerial(ctx, serialID, to)
			return err
		})
	})
	if err != nil {
		return Serial{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "inventory:serial_" + string(to),
		Entity:   "stock_serial",
		EntityID: fmt.Sprintf("%d", serialID),
		Meta:     map[string]any{"from": string(current.Status), "serial_number": current.Number},
	})
	return serial, nil
}
