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

const (
	// TaskInventoryRevaluation triggers the nightly average cost revaluation.
	TaskInventoryRevaluation = "inventory:revaluation"
)

// InventoryRevaluationPayload carries scheduling metadata.
type InventoryRevaluationPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewInventoryRevaluationTask constructs an Asynq task for inventory revaluation.
func NewInventoryRevaluationTask(at time.Time) (*asynq.Task, error) {
	payload := InventoryRevaluationPayload{ScheduledFor: at}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInventoryRevaluation, body, asynq.Queue(QueueDefault)), nil
}

// RevaluationJob recomputes running average costs from the movement log.
type RevaluationJob struct {
	Reconciler *inventory.Reconciler
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewRevaluationJob initialises the revaluation handler.
func NewRevaluationJob(reconciler *inventory.Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *RevaluationJob {
	return &RevaluationJob{Reconciler: reconciler, Logger: logger, Metrics: metrics}
}

// Handle processes TaskInventoryRevaluation tasks.
func (j *RevaluationJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Reconciler == nil {
		return errors.New("revaluation: handler not configured")
	}
	var payload InventoryRevaluationPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
		}
	}
	tracker := j.Metrics.Track(TaskInventoryRevaluation)
	defer func() { err = tracker.End(err) }()

	summary, err := j.Reconciler.RevalueAverages(ctx)
	if err != nil {
		logger(j.Logger).Error("average revaluation failed", slog.Any("error", err))
		return err
	}
	j.Metrics.AddItems(TaskInventoryRevaluation, "checked", summary.Checked)
	j.Metrics.AddItems(TaskInventoryRevaluation, "corrected", summary.Corrected)
	j.Metrics.AddItems(TaskInventoryRevaluation, "skipped", summary.Skipped)
	if !payload.ScheduledFor.IsZero() {
		logger(j.Logger).Info("average revaluation done",
			slog.Time("scheduled_for", payload.ScheduledFor),
			slog.Int("corrected", summary.Corrected))
	}
	return nil
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l.With(slog.String("component", "jobs"))
}
