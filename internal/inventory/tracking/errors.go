package tracking

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

var (
	// ErrBatchNotFound indicates a missing batch.
	ErrBatchNotFound = fmt.Errorf("tracking: batch not found: %w", httpx.ErrNotFound)
	// ErrSerialNotFound indicates a missing serial.
	ErrSerialNotFound = fmt.Errorf("tracking: serial not found: %w", httpx.ErrNotFound)
	// ErrDuplicateBatch indicates a batch number already used for the stock unit.
	ErrDuplicateBatch = fmt.Errorf("tracking: batch number already exists: %w", httpx.ErrDuplicate)
	// ErrDuplicateSerial indicates a serial number already registered for the product.
	ErrDuplicateSerial = fmt.Errorf("tracking: serial number already exists: %w", httpx.ErrDuplicate)
	// ErrBatchMismatch indicates a batch that belongs to a different stock unit.
	ErrBatchMismatch = fmt.Errorf("tracking: batch does not belong to product/warehouse: %w", httpx.ErrValidation)
	// ErrSerialLocation indicates a serial that is not where the movement expects it.
	ErrSerialLocation = fmt.Errorf("tracking: serial not at expected location: %w", httpx.ErrConflict)
	// ErrInvalidQuantity indicates a non-positive batch quantity.
	ErrInvalidQuantity = fmt.Errorf("tracking: quantity must be positive: %w", httpx.ErrValidation)
	// ErrInvalidBatch indicates a malformed batch registration.
	ErrInvalidBatch = fmt.Errorf("tracking: invalid batch: %w", httpx.ErrValidation)
	// ErrInvalidSerial indicates a malformed serial registration.
	ErrInvalidSerial = fmt.Errorf("tracking: invalid serial: %w", httpx.ErrValidation)
	// ErrBatchState indicates a batch status that does not allow the operation.
	ErrBatchState = fmt.Errorf("tracking: batch status does not allow operation: %w", httpx.ErrConflict)

	// ErrOverconsumption matches every OverconsumptionError.
	ErrOverconsumption = errors.New("tracking: batch overconsumption")
	// ErrIllegalSerialTransition matches every IllegalSerialTransitionError.
	ErrIllegalSerialTransition = errors.New("tracking: illegal serial transition")
)

// OverconsumptionError is returned when a batch is asked for more than it holds.
type OverconsumptionError struct {
	BatchID   int64
	Requested decimal.Decimal
	Remaining decimal.Decimal
}

func (e *OverconsumptionError) Error() string {
	return fmt.Sprintf("tracking: batch %d overconsumed: requested %s, remaining %s", e.BatchID, e.Requested, e.Remaining)
}

func (e *OverconsumptionError) Unwrap() []error {
	return []error{ErrOverconsumption, httpx.ErrConflict}
}

// IllegalSerialTransitionError is returned for a disallowed serial status change.
type IllegalSerialTransitionError struct {
	SerialNumber string
	From         SerialStatus
	To           SerialStatus
}

func (e *IllegalSerialTransitionError) Error() string {
	return fmt.Sprintf("tracking: serial %s cannot move from %s to %s", e.SerialNumber, e.From, e.To)
}

func (e *IllegalSerialTransitionError) Unwrap() []error {
	return []error{ErrIllegalSerialTransition, httpx.ErrConflict}
}
