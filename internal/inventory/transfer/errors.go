package transfer

import (
	"errors"
	"fmt"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

var (
	// ErrTransferNotFound indicates a missing transfer.
	ErrTransferNotFound = fmt.Errorf("transfer: not found: %w", httpx.ErrNotFound)
	// ErrItemNotFound indicates a missing transfer item.
	ErrItemNotFound = fmt.Errorf("transfer: item not found: %w", httpx.ErrNotFound)
	// ErrSameWarehouse indicates identical source and destination.
	ErrSameWarehouse = fmt.Errorf("transfer: source and destination must differ: %w", httpx.ErrValidation)
	// ErrInvalidInput indicates malformed request data.
	ErrInvalidInput = fmt.Errorf("transfer: invalid input: %w", httpx.ErrValidation)

	// ErrInvalidTransition matches every InvalidTransferTransitionError.
	ErrInvalidTransition = errors.New("transfer: invalid transition")
)

// InvalidTransferTransitionError rejects a state machine step the transfer
// cannot take, including quantity breaches such as receiving more than shipped.
type InvalidTransferTransitionError struct {
	TransferID int64
	From       Status
	Action     Action
	Reason     string
}

func (e *InvalidTransferTransitionError) Error() string {
	return fmt.Sprintf("transfer %d: cannot %s from %s: %s", e.TransferID, e.Action, e.From, e.Reason)
}

func (e *InvalidTransferTransitionError) Unwrap() []error {
	return []error{ErrInvalidTransition, httpx.ErrConflict}
}

func invalid(t Transfer, action Action, format string, args ...any) error {
	return &InvalidTransferTransitionError{
		TransferID: t.ID,
		From:       t.Status,
		Action:     action,
		Reason:     fmt.Sprintf(format, args...),
	}
}
