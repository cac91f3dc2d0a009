package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/jobs"
)

// Enqueuer submits tasks to the job queue. *jobs.Client implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// JobsCLI wraps manual management helpers for ledger jobs.
type JobsCLI struct {
	client    Enqueuer
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) *JobsCLI {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	return &JobsCLI{client: jobs.NewClient(opts), inspector: asynq.NewInspector(opts)}
}

// NewJobsCLIWithClient builds a CLI around an existing enqueuer, without
// queue inspection.
func NewJobsCLIWithClient(client Enqueuer) *JobsCLI {
	return &JobsCLI{client: client}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		err = errors.Join(err, c.inspector.Close())
	}
	if c.client != nil {
		err = errors.Join(err, c.client.Close())
	}
	return err
}

// TriggerOptions selects the job and scopes its payload.
type TriggerOptions struct {
	Name        string
	ProductID   int64
	WarehouseID int64
	AsOf        string
	Stdout      io.Writer
	Stderr      io.Writer
}

// Trigger enqueues a supported job by name.
func (c *JobsCLI) Trigger(ctx context.Context, opts TriggerOptions) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	var (
		task *asynq.Task
		err  error
	)
	switch opts.Name {
	case jobs.TaskLedgerReconcile:
		if (opts.ProductID == 0) != (opts.WarehouseID == 0) {
			return nil, errors.New("jobs cli: product and warehouse must be given together")
		}
		task, err = jobs.NewReconcileTask(jobs.ReconcilePayload{ProductID: opts.ProductID, WarehouseID: opts.WarehouseID})
	case jobs.TaskBatchExpirySweep:
		var asOf *time.Time
		if opts.AsOf != "" {
			parsed, perr := time.Parse(time.DateOnly, opts.AsOf)
			if perr != nil {
				return nil, fmt.Errorf("jobs cli: invalid date %q (expected YYYY-MM-DD)", opts.AsOf)
			}
			asOf = &parsed
		}
		task, err = jobs.NewExpirySweepTask(asOf)
	case jobs.TaskInventoryRevaluation:
		task, err = jobs.NewInventoryRevaluationTask(time.Now().UTC())
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", opts.Name)
	}
	if err != nil {
		return nil, err
	}
	return c.client.Enqueue(ctx, task)
}

// TriggerCommand enqueues a job and prints the task id.
func (c *JobsCLI) TriggerCommand(ctx context.Context, opts TriggerOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	info, err := c.Trigger(ctx, opts)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "jobs trigger: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(opts.Stdout, "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
	return 0
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue() (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}
