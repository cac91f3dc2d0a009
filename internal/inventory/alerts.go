package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// evaluateThreshold opens an alert when available drops under the threshold
// and none is active, and auto-resolves the active one once available is
// back at or above it. The caller holds the stock unit's lock.
func (s *Service) evaluateThreshold(ctx context.Context, tx TxRepository, balance Balance, settings StockSettings) (*AlertChange, error) {
	if !settings.AlertThreshold.Valid {
		return nil, nil
	}
	threshold := settings.AlertThreshold.Decimal
	available := balance.Available()
	active, err := tx.GetActiveAlert(ctx, balance.Key())
	hasActive := err == nil
	if err != nil && !errors.Is(err, ErrAlertNotFound) {
		return nil, err
	}
	now := s.now()
	switch {
	case available.LessThan(threshold) && !hasActive:
		alert := LowStockAlert{
			ProductID:   balance.ProductID,
			WarehouseID: balance.WarehouseID,
			Status:      AlertOpen,
			Threshold:   threshold,
			Available:   available,
			OpenedAt:    now,
		}
		if err := tx.InsertAlert(ctx, &alert); err != nil {
			return nil, err
		}
		return &AlertChange{Alert: alert, Opened: true}, nil
	case !available.LessThan(threshold) && hasActive:
		active.Status = AlertResolved
		active.Available = available
		active.ResolvedAt = &now
		if err := tx.UpdateAlert(ctx, active); err != nil {
			return nil, err
		}
		return &AlertChange{Alert: active}, nil
	case hasActive:
		active.Available = available
		return nil, tx.UpdateAlert(ctx, active)
	}
	return nil, nil
}

// CheckThreshold re-evaluates the alert for a stock unit on demand.
func (s *Service) CheckThreshold(ctx context.Context, productID, warehouseID int64) (*AlertChange, error) {
	if productID == 0 || warehouseID == 0 {
		return nil, ErrProductWarehouseRequired
	}
	key := Key{ProductID: productID, WarehouseID: warehouseID}
	var change *AlertChange
	err := s.WithLocks(ctx, []string{key.LockKey()}, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			balance, err := tx.GetBalanceForUpdate(ctx, key)
			if errors.Is(err, ErrBalanceNotFound) {
				balance = Balance{ProductID: productID, WarehouseID: warehouseID}
			} else if err != nil {
				return err
			}
			settings, err := loadSettings(ctx, tx, key)
			if err != nil {
				return err
			}
			change, err = s.evaluateThreshold(ctx, tx, balance, settings)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	if change != nil {
		s.publishAlert(ctx, *change)
	}
	return change, nil
}

// AcknowledgeAlert marks an open alert as seen. It stays active.
func (s *Service) AcknowledgeAlert(ctx context.Context, id, actorID int64) (LowStockAlert, error) {
	return s.closeAlert(ctx, id, actorID, AlertAcknowledged)
}

// ResolveAlert closes an active alert by hand.
func (s *Service) ResolveAlert(ctx context.Context, id, actorID int64) (LowStockAlert, error) {
	return s.closeAlert(ctx, id, actorID, AlertResolved)
}

func (s *Service) closeAlert(ctx context.Context, id, actorID int64, to AlertStatus) (LowStockAlert, error) {
	current, err := s.repo.GetAlert(ctx, id)
	if err != nil {
		return LowStockAlert{}, err
	}
	var alert LowStockAlert
	err = s.WithLocks(ctx, []string{current.Key().LockKey()}, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			alert, err = tx.GetAlertForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if !alert.Status.Active() || (to == AlertAcknowledged && alert.Status == AlertAcknowledged) {
				return fmt.Errorf("%w: alert %d is %s", ErrAlertNotActive, id, alert.Status)
			}
			now := s.now()
			alert.Status = to
			if to == AlertAcknowledged {
				alert.AcknowledgedBy = actorID
				alert.AcknowledgedAt = &now
			} else {
				alert.ResolvedBy = actorID
				alert.ResolvedAt = &now
			}
			return tx.UpdateAlert(ctx, alert)
		})
	})
	if err != nil {
		return LowStockAlert{}, err
	}
	if to == AlertResolved {
		s.publishAlert(ctx, AlertChange{Alert: alert})
	} else {
		s.metrics.Alert(string(to))
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "inventory:alert_" + string(to),
		Entity:   "low_stock_alert",
		EntityID: fmt.Sprintf("%d", id),
		Meta:     map[string]any{"product_id": alert.ProductID, "warehouse_id": alert.WarehouseID},
	})
	return alert, nil
}
