package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerReconcile folds the movement log and compares it with balances.
	TaskLedgerReconcile = "ledger:reconcile"
	// TaskBatchExpirySweep marks batches past their expiry date.
	TaskBatchExpirySweep = "ledger:expiry_sweep"
)

// ReconcilePayload scopes a reconciliation run. A zero key checks every
// stock unit.
type ReconcilePayload struct {
	ProductID   int64 `json:"product_id,omitempty"`
	WarehouseID int64 `json:"warehouse_id,omitempty"`
	Concurrency int   `json:"concurrency,omitempty"`
}

// NewReconcileTask constructs an Asynq task for reconciliation.
func NewReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcile, body, asynq.Queue(QueueDefault)), nil
}

// ExpirySweepPayload carries the cut-off date. A nil AsOf means the time the
// job runs.
type ExpirySweepPayload struct {
	AsOf *time.Time `json:"as_of,omitempty"`
}

// NewExpirySweepTask constructs an Asynq task for the expiry sweep.
func NewExpirySweepTask(asOf *time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ExpirySweepPayload{AsOf: asOf})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBatchExpirySweep, body, asynq.Queue(QueueDefault)), nil
}
