package shared

import "fmt"

// StockLockKey builds the lock key guarding one (product, warehouse) stock unit.
func StockLockKey(productID, warehouseID int64) string {
	return fmt.Sprintf("stock:%d:%d", productID, warehouseID)
}

// BatchLockKey builds the lock key guarding a single batch.
func BatchLockKey(batchID int64) string {
	return fmt.Sprintf("batch:%d", batchID)
}

// TransferLockKey builds the lock key guarding a transfer header.
func TransferLockKey(transferID int64) string {
	return fmt.Sprintf("transfer:%d", transferID)
}

// SerialLockKey builds the lock key guarding a serial that is not in stock.
func SerialLockKey(serialID int64) string {
	return fmt.Sprintf("serial:%d", serialID)
}
