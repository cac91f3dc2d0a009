package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/odyssey-erp/stockledger/internal/inventory"
)

// ReconcileOptions defines the flags of the reconcile command.
type ReconcileOptions struct {
	ProductID   int64
	WarehouseID int64
	Concurrency int
	JSONOutput  bool
	Stdout      io.Writer
	Stderr      io.Writer
}

// ReconcileSummary is the JSON output of the reconcile command.
type ReconcileSummary struct {
	OK        bool   `json:"ok"`
	Keys      int    `json:"keys"`
	Movements int    `json:"movements"`
	Drift     *Drift `json:"drift,omitempty"`
}

// Drift describes the first mismatch found.
type Drift struct {
	ProductID   int64  `json:"product_id"`
	WarehouseID int64  `json:"warehouse_id"`
	BatchID     int64  `json:"batch_id,omitempty"`
	Field       string `json:"field"`
	Expected    string `json:"expected"`
	Actual      string `json:"actual"`
}

// ReconcileCommand folds the movement log against stored balances without
// going through the job queue. It exits 10 when drift is found.
func ReconcileCommand(ctx context.Context, reconciler *inventory.Reconciler, opts ReconcileOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if (opts.ProductID == 0) != (opts.WarehouseID == 0) {
		_, _ = fmt.Fprintln(opts.Stderr, "reconcile: --product and --warehouse must be given together")
		return 1
	}

	var (
		summary ReconcileSummary
		err     error
	)
	if opts.ProductID != 0 {
		var report inventory.ReconcileReport
		report, err = reconciler.Reconcile(ctx, inventory.Key{ProductID: opts.ProductID, WarehouseID: opts.WarehouseID})
		summary = ReconcileSummary{Keys: 1, Movements: report.Movements}
	} else {
		var all inventory.ReconcileSummary
		all, err = reconciler.ReconcileAll(ctx, opts.Concurrency)
		summary = ReconcileSummary{Keys: all.Keys, Movements: all.Movements}
	}

	var drift *inventory.LedgerConsistencyError
	switch {
	case errors.As(err, &drift):
		summary.Drift = &Drift{
			ProductID:   drift.Key.ProductID,
			WarehouseID: drift.Key.WarehouseID,
			BatchID:     drift.BatchID,
			Field:       drift.Field,
			Expected:    drift.Expected.String(),
			Actual:      drift.Actual.String(),
		}
	case err != nil:
		_, _ = fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
		return 1
	default:
		summary.OK = true
	}

	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "reconcile: encode json: %v\n", err)
			return 1
		}
	} else {
		renderReconcileHuman(opts.Stdout, summary)
	}
	if summary.Drift != nil {
		return 10
	}
	return 0
}

func renderReconcileHuman(w io.Writer, s ReconcileSummary) {
	if s.Drift == nil {
		_, _ = fmt.Fprintf(w, "ledger consistent: %d stock units, %d movements\n", s.Keys, s.Movements)
		return
	}
	d := s.Drift
	_, _ = fmt.Fprintf(w, "DRIFT product=%d warehouse=%d", d.ProductID, d.WarehouseID)
	if d.BatchID != 0 {
		_, _ = fmt.Fprintf(w, " batch=%d", d.BatchID)
	}
	_, _ = fmt.Fprintf(w, " %s expected=%s actual=%s\n", d.Field, d.Expected, d.Actual)
}
