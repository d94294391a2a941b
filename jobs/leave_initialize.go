package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/payroll-ledger/internal/jobs"
	"github.com/odyssey-erp/payroll-ledger/internal/leavebalance"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// LeaveInitializer is the subset of the leave balance service used by the job.
type LeaveInitializer interface {
	BulkInitialize(ctx context.Context, in leavebalance.BulkInitializeInput) (leavebalance.BulkInitializeResult, error)
}

// LeaveBulkInitializeJob applies an asynchronous leave top-up.
type LeaveBulkInitializeJob struct {
	Service LeaveInitializer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLeaveBulkInitializeJob wires dependencies for the top-up handler.
func NewLeaveBulkInitializeJob(service LeaveInitializer, logger *slog.Logger, metrics *jobmetrics.Metrics) *LeaveBulkInitializeJob {
	return &LeaveBulkInitializeJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle processes leave top-up tasks. Failures are never retried: a partial
// rerun would add the allocation a second time.
func (j *LeaveBulkInitializeJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("leave bulk initialize: handler not configured")
	}
	var payload LeaveBulkInitializePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskLeaveBulkInitialize)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int("year", payload.Year), slog.String("requested_by", payload.RequestedBy))
	logger.Info("starting leave bulk initialize", slog.Int("allocations", len(payload.Allocations)))

	res, err := j.Service.BulkInitialize(ctx, payload.Input())
	if err != nil {
		logger.Error("leave bulk initialize", slog.Any("error", err))
		resultErr = fmt.Errorf("leave bulk initialize: %w: %w", err, asynq.SkipRetry)
		return resultErr
	}
	j.metrics().AddItems(TaskLeaveBulkInitialize, "created", res.Created)
	j.metrics().AddItems(TaskLeaveBulkInitialize, "updated", res.Updated)
	logger.Info("leave bulk initialize completed",
		slog.Int("employees", res.Employees),
		slog.Int("created", res.Created),
		slog.Int("updated", res.Updated))
	return resultErr
}

func (j *LeaveBulkInitializeJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *LeaveBulkInitializeJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
