package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
)

// ReconcileJob checks the balances against the movement log.
type ReconcileJob struct {
	Reconciler  *inventory.Reconciler
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	Concurrency int
}

// NewReconcileJob initialises the reconciliation handler.
func NewReconcileJob(reconciler *inventory.Reconciler, concurrency int, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{Reconciler: reconciler, Logger: logger, Metrics: metrics, Concurrency: concurrency}
}

// Handle processes TaskLedgerReconcile tasks. Drift is not retried: the
// log is the source of truth and an operator has to look at it.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Reconciler == nil {
		return errors.New("reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
		}
	}
	tracker := j.Metrics.Track(TaskLedgerReconcile)
	defer func() { err = tracker.End(err) }()

	log := logger(j.Logger)
	if payload.ProductID != 0 && payload.WarehouseID != 0 {
		key := inventory.Key{ProductID: payload.ProductID, WarehouseID: payload.WarehouseID}
		report, err := j.Reconciler.Reconcile(ctx, key)
		if err != nil {
			return j.failed(err)
		}
		j.Metrics.AddItems(TaskLedgerReconcile, "checked", 1)
		log.Info("stock unit reconciled", slog.String("key", key.String()), slog.Int("movements", report.Movements))
		return nil
	}

	concurrency := payload.Concurrency
	if concurrency <= 0 {
		concurrency = j.Concurrency
	}
	summary, err := j.Reconciler.ReconcileAll(ctx, concurrency)
	if err != nil {
		return j.failed(err)
	}
	j.Metrics.AddItems(TaskLedgerReconcile, "checked", summary.Keys)
	return nil
}

func (j *ReconcileJob) failed(err error) error {
	if errors.Is(err, inventory.ErrLedgerConsistency) {
		j.Metrics.AddItems(TaskLedgerReconcile, "drift", 1)
		return errors.Join(err, asynq.SkipRetry)
	}
	return err
}

// ExpirySweepJob marks batches whose expiry date has passed.
type ExpirySweepJob struct {
	Ledger  *inventory.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewExpirySweepJob initialises the expiry sweep handler.
func NewExpirySweepJob(ledger *inventory.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExpirySweepJob {
	return &ExpirySweepJob{
		Ledger:  ledger,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskBatchExpirySweep tasks.
func (j *ExpirySweepJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Ledger == nil {
		return errors.New("expiry sweep: handler not configured")
	}
	var payload ExpirySweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
		}
	}
	asOf := j.clock()
	if payload.AsOf != nil {
		asOf = *payload.AsOf
	}
	tracker := j.Metrics.Track(TaskBatchExpirySweep)
	defer func() { err = tracker.End(err) }()

	expired, err := j.Ledger.SweepExpired(ctx, asOf)
	if err != nil {
		logger(j.Logger).Error("expiry sweep failed", slog.Any("error", err))
		return err
	}
	j.Metrics.AddItems(TaskBatchExpirySweep, "expired", expired)
	logger(j.Logger).Info("expiry sweep done", slog.Time("as_of", asOf), slog.Int("expired", expired))
	return nil
}
