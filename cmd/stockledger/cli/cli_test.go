package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/inventory/memstore"
	"github.com/odyssey-erp/stockledger/jobs"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "t-1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

func TestTriggerCommandEnqueuesReconcile(t *testing.T) {
	fake := &fakeEnqueuer{}
	c := NewJobsCLIWithClient(fake)
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)

	code := c.TriggerCommand(context.Background(), TriggerOptions{
		Name: jobs.TaskLedgerReconcile, ProductID: 3, WarehouseID: 4, Stdout: stdout, Stderr: stderr,
	})
	require.Zero(t, code, stderr.String())
	require.Contains(t, stdout.String(), "t-1")
	require.Len(t, fake.tasks, 1)

	var payload jobs.ReconcilePayload
	require.NoError(t, json.Unmarshal(fake.tasks[0].Payload(), &payload))
	require.Equal(t, int64(3), payload.ProductID)
	require.Equal(t, int64(4), payload.WarehouseID)
}

func TestTriggerCommandRejectsBadInput(t *testing.T) {
	c := NewJobsCLIWithClient(&fakeEnqueuer{})
	cases := []TriggerOptions{
		{Name: "ledger:unknown"},
		{Name: jobs.TaskLedgerReconcile, ProductID: 1},
		{Name: jobs.TaskBatchExpirySweep, AsOf: "01/02/2025"},
	}
	for _, opts := range cases {
		stderr := new(bytes.Buffer)
		opts.Stdout, opts.Stderr = new(bytes.Buffer), stderr
		require.Equal(t, 1, c.TriggerCommand(context.Background(), opts))
		require.Contains(t, stderr.String(), "jobs trigger:")
	}
}

func TestTriggerExpirySweepCarriesDate(t *testing.T) {
	fake := &fakeEnqueuer{}
	_, err := NewJobsCLIWithClient(fake).Trigger(context.Background(), TriggerOptions{Name: jobs.TaskBatchExpirySweep, AsOf: "2025-06-01"})
	require.NoError(t, err)
	var payload jobs.ExpirySweepPayload
	require.NoError(t, json.Unmarshal(fake.tasks[0].Payload(), &payload))
	require.NotNil(t, payload.AsOf)
	require.Equal(t, 2025, payload.AsOf.Year())
}

func seededLedger(t *testing.T) (*memstore.Store, *inventory.Reconciler) {
	t.Helper()
	store := memstore.New()
	svc := inventory.NewService(inventory.ServiceParams{Repo: store})
	_, err := svc.Apply(context.Background(), inventory.MovementIntent{
		ProductID: 1, WarehouseID: 2, Type: inventory.MovementPurchase,
		Quantity: decimal.NewFromInt(6), UnitCost: decimal.NewNullDecimal(decimal.NewFromInt(1)),
	})
	require.NoError(t, err)
	return store, inventory.NewReconciler(svc)
}

func TestReconcileCommandConsistent(t *testing.T) {
	_, rec := seededLedger(t)
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	code := ReconcileCommand(context.Background(), rec, ReconcileOptions{JSONOutput: true, Stdout: stdout, Stderr: stderr})
	require.Zero(t, code, stderr.String())

	var summary ReconcileSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.True(t, summary.OK)
	require.Equal(t, 1, summary.Keys)
	require.Nil(t, summary.Drift)
}

func TestReconcileCommandReportsDrift(t *testing.T) {
	store, rec := seededLedger(t)
	key := inventory.Key{ProductID: 1, WarehouseID: 2}
	balance, err := store.GetBalance(context.Background(), key)
	require.NoError(t, err)
	balance.OnHand = decimal.NewFromInt(4)
	store.PutBalance(balance)

	stdout := new(bytes.Buffer)
	code := ReconcileCommand(context.Background(), rec, ReconcileOptions{ProductID: 1, WarehouseID: 2, Stdout: stdout, Stderr: new(bytes.Buffer)})
	require.Equal(t, 10, code)
	require.Contains(t, stdout.String(), "DRIFT product=1 warehouse=2")
	require.Contains(t, stdout.String(), "expected=6 actual=4")
}
