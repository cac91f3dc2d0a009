package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

func (in ReservationInput) validate() error {
	if in.ProductID == 0 || in.WarehouseID == 0 {
		return ErrProductWarehouseRequired
	}
	if !in.Quantity.IsPositive() {
		return fmt.Errorf("%w: reservation quantity must be positive", ErrInvalidQuantity)
	}
	return nil
}

func (in ReservationInput) key() Key {
	return Key{ProductID: in.ProductID, WarehouseID: in.WarehouseID}
}

// Reserve earmarks available stock. It never writes a movement and never
// lets reserved exceed on-hand.
func (s *Service) Reserve(ctx context.Context, in ReservationInput) (Outcome, error) {
	return s.reservation(ctx, in, true)
}

// Release returns earmarked stock to available.
func (s *Service) Release(ctx context.Context, in ReservationInput) (Outcome, error) {
	return s.reservation(ctx, in, false)
}

func (s *Service) reservation(ctx context.Context, in ReservationInput, reserve bool) (Outcome, error) {
	if err := in.validate(); err != nil {
		return Outcome{}, err
	}
	key := in.key()
	var out Outcome
	err := s.WithLocks(ctx, []string{key.LockKey()}, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			balance, err := tx.GetBalanceForUpdate(ctx, key)
			if errors.Is(err, ErrBalanceNotFound) {
				balance = Balance{ProductID: key.ProductID, WarehouseID: key.WarehouseID}
			} else if err != nil {
				return err
			}
			if reserve {
				if in.Quantity.GreaterThan(balance.Available()) {
					return &OverReservedError{Key: key, Requested: in.Quantity, Available: balance.Available()}
				}
				balance.Reserved = balance.Reserved.Add(in.Quantity)
			} else {
				if in.Quantity.GreaterThan(balance.Reserved) {
					return fmt.Errorf("%w: release %s, reserved %s", ErrReleaseExceedsReserved, in.Quantity, balance.Reserved)
				}
				balance.Reserved = balance.Reserved.Sub(in.Quantity)
			}
			balance.UpdatedAt = s.now()
			if err := tx.UpsertBalance(ctx, balance); err != nil {
				return err
			}
			settings, err := loadSettings(ctx, tx, key)
			if err != nil {
				return err
			}
			alert, err := s.evaluateThreshold(ctx, tx, balance, settings)
			if err != nil {
				return err
			}
			out = Outcome{Balance: balance, Alert: alert}
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, ErrOverReserved) {
			s.metrics.Rejected("over_reserved")
		}
		return Outcome{}, err
	}
	s.Publish(ctx, out)
	action := "inventory:release"
	if reserve {
		action = "inventory:reserve"
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   action,
		Entity:   "stock_balance",
		EntityID: key.String(),
		Meta: map[string]any{
			"quantity":       in.Quantity.String(),
			"reserved":       out.Balance.Reserved.String(),
			"reference_kind": string(in.Reference.Kind),
			"reference_id":   in.Reference.ID,
		},
	})
	return out, nil
}
