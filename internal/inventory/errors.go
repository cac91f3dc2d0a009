package inventory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

var (
	// ErrBalanceNotFound indicates missing balance row.
	ErrBalanceNotFound = fmt.Errorf("inventory: balance not found: %w", httpx.ErrNotFound)
	// ErrMovementNotFound indicates a missing movement.
	ErrMovementNotFound = fmt.Errorf("inventory: movement not found: %w", httpx.ErrNotFound)
	// ErrAlertNotFound indicates a missing alert.
	ErrAlertNotFound = fmt.Errorf("inventory: alert not found: %w", httpx.ErrNotFound)
	// ErrSettingsNotFound indicates the stock unit has no explicit settings.
	ErrSettingsNotFound = fmt.Errorf("inventory: stock settings not found: %w", httpx.ErrNotFound)
	// ErrPolicyNotFound indicates the product has no explicit valuation policy.
	ErrPolicyNotFound = fmt.Errorf("inventory: product policy not found: %w", httpx.ErrNotFound)

	// ErrInvalidQuantity indicates invalid qty.
	ErrInvalidQuantity = fmt.Errorf("inventory: quantity must be non zero: %w", httpx.ErrValidation)
	// ErrInvalidUnitCost indicates invalid cost value.
	ErrInvalidUnitCost = fmt.Errorf("inventory: unit cost must be >= 0: %w", httpx.ErrValidation)
	// ErrProductWarehouseRequired indicates a missing stock unit.
	ErrProductWarehouseRequired = fmt.Errorf("inventory: warehouse and product required: %w", httpx.ErrValidation)
	// ErrUnknownMovementType indicates an unsupported movement type.
	ErrUnknownMovementType = fmt.Errorf("inventory: unknown movement type: %w", httpx.ErrValidation)
	// ErrSerialCount indicates a serialized movement without one serial per unit.
	ErrSerialCount = fmt.Errorf("inventory: serialized products need one serial number per unit: %w", httpx.ErrValidation)
	// ErrExplicitCost indicates an outgoing cost override on a non-adjustment.
	ErrExplicitCost = fmt.Errorf("inventory: only adjustments may override the issue cost: %w", httpx.ErrValidation)
	// ErrReleaseExceedsReserved indicates releasing more than is reserved.
	ErrReleaseExceedsReserved = fmt.Errorf("inventory: release exceeds reserved quantity: %w", httpx.ErrConflict)
	// ErrAlreadyVoided indicates reversing a movement twice.
	ErrAlreadyVoided = fmt.Errorf("inventory: movement already voided: %w", httpx.ErrConflict)
	// ErrAlertNotActive indicates acting on a resolved alert.
	ErrAlertNotActive = fmt.Errorf("inventory: alert is not active: %w", httpx.ErrConflict)
	// ErrNotStandardCost indicates revaluing a product that is not standard costed.
	ErrNotStandardCost = fmt.Errorf("inventory: product is not standard costed: %w", httpx.ErrConflict)
	// ErrPolicyChange indicates a policy switch the existing stock cannot follow.
	ErrPolicyChange = fmt.Errorf("inventory: policy change conflicts with stock on hand: %w", httpx.ErrConflict)
	// ErrLockContention marks a storage-level lock failure worth retrying.
	ErrLockContention = errors.New("inventory: lock contention")

	// ErrInsufficientStock matches every InsufficientStockError.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrOverReserved matches every OverReservedError.
	ErrOverReserved = errors.New("inventory: over reserved")
	// ErrLockTimeout matches every LockTimeoutError.
	ErrLockTimeout = errors.New("inventory: lock timeout")
	// ErrLedgerConsistency matches every LedgerConsistencyError.
	ErrLedgerConsistency = errors.New("inventory: ledger inconsistent")
)

// InsufficientStockError rejects an outgoing movement that would take the
// stock unit below zero.
type InsufficientStockError struct {
	Key       Key
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for product %d in warehouse %d: requested %s, available %s",
		e.Key.ProductID, e.Key.WarehouseID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() []error {
	return []error{ErrInsufficientStock, httpx.ErrConflict}
}

// OverReservedError rejects a reservation larger than the available quantity.
type OverReservedError struct {
	Key       Key
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *OverReservedError) Error() string {
	return fmt.Sprintf("inventory: cannot reserve %s of product %d in warehouse %d: available %s",
		e.Requested, e.Key.ProductID, e.Key.WarehouseID, e.Available)
}

func (e *OverReservedError) Unwrap() []error {
	return []error{ErrOverReserved, httpx.ErrConflict}
}

// LockTimeoutError is returned once lock acquisition retries are exhausted.
type LockTimeoutError struct {
	Keys     []string
	Attempts int
	Cause    error
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("inventory: could not lock %s after %d attempts", strings.Join(e.Keys, ","), e.Attempts)
}

func (e *LockTimeoutError) Unwrap() []error {
	errs := []error{ErrLockTimeout, httpx.ErrLocked}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// LedgerConsistencyError reports drift between the balance and the folded log.
type LedgerConsistencyError struct {
	Key        Key
	BatchID    int64
	Field      string
	Expected   decimal.Decimal
	Actual     decimal.Decimal
	MovementID int64
}

func (e *LedgerConsistencyError) Error() string {
	scope := fmt.Sprintf("product %d warehouse %d", e.Key.ProductID, e.Key.WarehouseID)
	if e.BatchID != 0 {
		scope += fmt.Sprintf(" batch %d", e.BatchID)
	}
	if e.MovementID != 0 {
		return fmt.Sprintf("inventory: ledger drift on %s at movement %d: %s expected %s, got %s", scope, e.MovementID, e.Field, e.Expected, e.Actual)
	}
	return fmt.Sprintf("inventory: ledger drift on %s: %s expected %s, got %s", scope, e.Field, e.Expected, e.Actual)
}

func (e *LedgerConsistencyError) Unwrap() []error {
	return []error{ErrLedgerConsistency, httpx.ErrInconsistent}
}
