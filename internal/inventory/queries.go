package inventory

import (
	"context"
	"errors"

	"github.com/odyssey-erp/stockledger/internal/inventory/tracking"
	"github.com/odyssey-erp/stockledger/internal/inventory/valuation"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Read-side queries. None of them lock; authoritative checks happen inside
// the write path.

// Balance returns the display balance of a stock unit, served from cache
// when possible. A unit that never moved reads as zero.
func (s *Service) Balance(ctx context.Context, productID, warehouseID int64) (Balance, error) {
	if productID == 0 || warehouseID == 0 {
		return Balance{}, ErrProductWarehouseRequired
	}
	key := Key{ProductID: productID, WarehouseID: warehouseID}
	return s.cache.Fetch(ctx, key, func(ctx context.Context) (Balance, error) {
		balance, err := s.repo.GetBalance(ctx, key)
		if errors.Is(err, ErrBalanceNotFound) {
			return Balance{ProductID: productID, WarehouseID: warehouseID}, nil
		}
		return balance, err
	})
}

// Balances lists balances by product and/or warehouse.
func (s *Service) Balances(ctx context.Context, productID, warehouseID int64) ([]Balance, error) {
	return s.repo.ListBalances(ctx, productID, warehouseID)
}

// Movements lists ledger rows newest first.
func (s *Service) Movements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	page := shared.Page{Limit: filter.Limit, Offset: filter.Offset}.Normalize()
	filter.Limit, filter.Offset = page.Limit, page.Offset
	return s.repo.ListMovements(ctx, filter)
}

// Movement loads one ledger row.
func (s *Service) Movement(ctx context.Context, id int64) (Movement, error) {
	return s.repo.GetMovement(ctx, id)
}

// Batches lists batches.
func (s *Service) Batches(ctx context.Context, filter tracking.BatchFilter) ([]Batch, error) {
	return s.repo.ListBatches(ctx, filter)
}

// Serials lists serials.
func (s *Service) Serials(ctx context.Context, filter tracking.SerialFilter) ([]Serial, error) {
	return s.repo.ListSerials(ctx, filter)
}

// Alerts lists low-stock alerts.
func (s *Service) Alerts(ctx context.Context, filter AlertFilter) ([]LowStockAlert, error) {
	return s.repo.ListAlerts(ctx, filter)
}

// Alert loads one alert.
func (s *Service) Alert(ctx context.Context, id int64) (LowStockAlert, error) {
	return s.repo.GetAlert(ctx, id)
}

// Valuation previews the value of a stock unit and, for layer-tracked
// products, its layers in issue order.
func (s *Service) Valuation(ctx context.Context, productID, warehouseID int64) (valuation.Valuation, error) {
	if productID == 0 || warehouseID == 0 {
		return valuation.Valuation{}, ErrProductWarehouseRequired
	}
	return s.engine.Preview(ctx, readSource{repo: s.repo}, productID, warehouseID)
}

// readSource prices from committed state without locking.
type readSource struct {
	repo RepositoryPort
}

func (r readSource) Policy(ctx context.Context, productID int64) (Policy, error) {
	return loadPolicy(ctx, r.repo, productID)
}

func (r readSource) Position(ctx context.Context, productID, warehouseID int64) (valuation.Position, error) {
	balance, err := r.repo.GetBalance(ctx, Key{ProductID: productID, WarehouseID: warehouseID})
	if errors.Is(err, ErrBalanceNotFound) {
		return valuation.Position{}, nil
	}
	if err != nil {
		return valuation.Position{}, err
	}
	return valuation.Position{OnHand: balance.OnHand, UnitCost: balance.UnitCost}, nil
}

func (r readSource) Layers(ctx context.Context, productID, warehouseID int64) ([]tracking.Batch, error) {
	return r.repo.ListBatches(ctx, tracking.BatchFilter{ProductID: productID, WarehouseID: warehouseID, OnlyRemaining: true})
}

func (r readSource) Layer(ctx context.Context, batchID int64) (tracking.Batch, error) {
	return r.repo.GetBatch(ctx, batchID)
}
