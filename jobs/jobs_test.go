package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/inventory/memstore"
	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
)

type ledgerFixture struct {
	store   *memstore.Store
	svc     *inventory.Service
	metrics *jobmetrics.Metrics
}

func newLedger(t *testing.T) ledgerFixture {
	t.Helper()
	store := memstore.New()
	return ledgerFixture{
		store:   store,
		svc:     inventory.NewService(inventory.ServiceParams{Repo: store}),
		metrics: jobmetrics.NewMetrics(prometheus.NewRegistry()),
	}
}

func (f ledgerFixture) receive(t *testing.T, warehouse int64, qty, unitCost int64, batch *inventory.NewBatch) {
	t.Helper()
	_, err := f.svc.Apply(context.Background(), inventory.MovementIntent{
		ProductID:   1,
		WarehouseID: warehouse,
		Type:        inventory.MovementPurchase,
		Quantity:    decimal.NewFromInt(qty),
		UnitCost:    decimal.NewNullDecimal(decimal.NewFromInt(unitCost)),
		NewBatch:    batch,
	})
	require.NoError(t, err)
}

func task(t *testing.T, typ string, payload any) *asynq.Task {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return asynq.NewTask(typ, body)
}

func TestReconcileJobChecksEveryUnit(t *testing.T) {
	f := newLedger(t)
	f.receive(t, 1, 5, 2, nil)
	f.receive(t, 2, 3, 2, nil)

	job := NewReconcileJob(inventory.NewReconciler(f.svc), 2, nil, f.metrics)
	reconcileTask, err := NewReconcileTask(ReconcilePayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), reconcileTask))

	require.Equal(t, float64(2), testutil.ToFloat64(f.metrics.ItemsCounter(TaskLedgerReconcile, "checked")))
	require.Equal(t, float64(1), testutil.ToFloat64(f.metrics.RunsCounter(TaskLedgerReconcile, "success")))
}

func TestReconcileJobDoesNotRetryDrift(t *testing.T) {
	f := newLedger(t)
	f.receive(t, 1, 5, 2, nil)
	key := inventory.Key{ProductID: 1, WarehouseID: 1}
	balance, err := f.store.GetBalance(context.Background(), key)
	require.NoError(t, err)
	balance.OnHand = decimal.NewFromInt(9)
	f.store.PutBalance(balance)

	job := NewReconcileJob(inventory.NewReconciler(f.svc), 1, nil, f.metrics)
	err = job.Handle(context.Background(), task(t, TaskLedgerReconcile, ReconcilePayload{ProductID: 1, WarehouseID: 1}))
	require.ErrorIs(t, err, inventory.ErrLedgerConsistency)
	require.True(t, errors.Is(err, asynq.SkipRetry))

	require.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ItemsCounter(TaskLedgerReconcile, "drift")))
	require.Equal(t, float64(1), testutil.ToFloat64(f.metrics.RunsCounter(TaskLedgerReconcile, "failure")))
}

func TestReconcileJobRejectsMalformedPayload(t *testing.T) {
	f := newLedger(t)
	job := NewReconcileJob(inventory.NewReconciler(f.svc), 1, nil, f.metrics)
	err := job.Handle(context.Background(), asynq.NewTask(TaskLedgerReconcile, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.ErrorContains(t, err, "decode ledger:reconcile payload")

	sweep := NewExpirySweepJob(f.svc, nil, f.metrics)
	err = sweep.Handle(context.Background(), asynq.NewTask(TaskBatchExpirySweep, []byte("[")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.ErrorContains(t, err, "decode")

	reval := NewRevaluationJob(inventory.NewReconciler(f.svc), nil, f.metrics)
	err = reval.Handle(context.Background(), asynq.NewTask(TaskInventoryRevaluation, []byte("nope")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.ErrorContains(t, err, "decode")
}

func TestExpirySweepJobUsesPayloadCutoff(t *testing.T) {
	f := newLedger(t)
	expires := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	f.receive(t, 1, 4, 1, &inventory.NewBatch{Number: "LOT-1", ExpiresAt: &expires})

	job := NewExpirySweepJob(f.svc, nil, f.metrics)
	before := expires.AddDate(0, 0, -1)
	sweep, err := NewExpirySweepTask(&before)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), sweep))
	require.Equal(t, float64(0), testutil.ToFloat64(f.metrics.ItemsCounter(TaskBatchExpirySweep, "expired")))

	job.clock = func() time.Time { return expires.AddDate(0, 0, 2) }
	sweep, err = NewExpirySweepTask(nil)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), sweep))
	require.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ItemsCounter(TaskBatchExpirySweep, "expired")))
}

func TestRevaluationJobCorrectsAverageCost(t *testing.T) {
	f := newLedger(t)
	f.receive(t, 1, 10, 10, nil)
	f.receive(t, 1, 10, 20, nil)
	key := inventory.Key{ProductID: 1, WarehouseID: 1}
	balance, err := f.store.GetBalance(context.Background(), key)
	require.NoError(t, err)
	balance.UnitCost = decimal.NewFromInt(40)
	f.store.PutBalance(balance)

	job := NewRevaluationJob(inventory.NewReconciler(f.svc), nil, f.metrics)
	reval, err := NewInventoryRevaluationTask(time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), reval))

	after, err := f.store.GetBalance(context.Background(), key)
	require.NoError(t, err)
	require.True(t, after.UnitCost.Equal(decimal.NewFromInt(15)), after.UnitCost.String())
	require.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ItemsCounter(TaskInventoryRevaluation, "corrected")))
}

func TestUnconfiguredHandlersFail(t *testing.T) {
	var reconcile *ReconcileJob
	require.Error(t, reconcile.Handle(context.Background(), asynq.NewTask(TaskLedgerReconcile, nil)))
	require.Error(t, (&ExpirySweepJob{}).Handle(context.Background(), asynq.NewTask(TaskBatchExpirySweep, nil)))
	require.Error(t, (&RevaluationJob{}).Handle(context.Background(), asynq.NewTask(TaskInventoryRevaluation, nil)))
}
