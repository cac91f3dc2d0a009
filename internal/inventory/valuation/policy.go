// Package valuation prices stock movements under a per-product cost method.
package valuation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

// Method selects how a product's issues are priced.
type Method string

const (
	MethodAverage  Method = "average"
	MethodFIFO     Method = "fifo"
	MethodLIFO     Method = "lifo"
	MethodStandard Method = "standard"
)

// ErrUnknownMethod indicates an unsupported cost method.
var ErrUnknownMethod = fmt.Errorf("valuation: unknown cost method: %w", httpx.ErrValidation)

// IsValid reports whether m is a supported method.
func (m Method) IsValid() bool {
	switch m {
	case MethodAverage, MethodFIFO, MethodLIFO, MethodStandard:
		return true
	default:
		return false
	}
}

// ParseMethod parses a method name case-insensitively.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	if !m.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
	return m, nil
}

// Policy is the per-product valuation and tracking configuration.
type Policy struct {
	ProductID      int64           `json:"product_id"`
	Method         Method          `json:"cost_method"`
	StandardCost   decimal.Decimal `json:"standard_cost"`
	TrackBatches   bool            `json:"track_batches"`
	Serialized     bool            `json:"serialized"`
	WarrantyMonths int             `json:"warranty_months"`
}

// DefaultPolicy is applied to products without explicit configuration.
func DefaultPolicy(productID int64) Policy {
	return Policy{ProductID: productID, Method: MethodAverage}
}

// LayerTracked reports whether receipts open cost layers (batches). FIFO and
// LIFO always need layers.
func (p Policy) LayerTracked() bool {
	return p.TrackBatches || p.Method == MethodFIFO || p.Method == MethodLIFO
}

// Validate checks the policy for consistency.
func (p Policy) Validate() error {
	if p.ProductID == 0 {
		return fmt.Errorf("valuation: product required: %w", httpx.ErrValidation)
	}
	if !p.Method.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownMethod, p.Method)
	}
	if p.StandardCost.IsNegative() {
		return fmt.Errorf("valuation: standard cost must be >= 0: %w", httpx.ErrValidation)
	}
	if p.WarrantyMonths < 0 {
		return fmt.Errorf("valuation: warranty months must be >= 0: %w", httpx.ErrValidation)
	}
	return nil
}

// ErrNoCostBasis matches every NoCostBasisError.
var ErrNoCostBasis = errors.New("valuation: no cost basis")

// NoCostBasisError is returned when a layered issue finds no layer to price from.
type NoCostBasisError struct {
	ProductID   int64
	WarehouseID int64
	Method      Method
	Shortfall   decimal.Decimal
}

func (e *NoCostBasisError) Error() string {
	if e.Shortfall.IsPositive() {
		return fmt.Sprintf("valuation: no %s cost layer for product %d in warehouse %d (short %s)", e.Method, e.ProductID, e.WarehouseID, e.Shortfall)
	}
	return fmt.Sprintf("valuation: no %s cost layer for product %d in warehouse %d", e.Method, e.ProductID, e.WarehouseID)
}

func (e *NoCostBasisError) Unwrap() []error {
	return []error{ErrNoCostBasis, httpx.ErrConflict}
}
