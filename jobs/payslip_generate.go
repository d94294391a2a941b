package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/payroll-ledger/internal/jobs"
	"github.com/odyssey-erp/payroll-ledger/internal/payslip"
	"github.com/odyssey-erp/payroll-ledger/internal/shared"
)

// SchedulerActor is recorded as generated_by for cron-triggered runs.
const SchedulerActor = "system:scheduler"

// PayslipGenerator is the subset of the payslip service used by the job.
type PayslipGenerator interface {
	GenerateAll(ctx context.Context, period payslip.Period, actor string) (payslip.GenerateResult, error)
}

// PayslipGenerateAllJob generates draft payslips for the whole active roster.
type PayslipGenerateAllJob struct {
	Service PayslipGenerator
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewPayslipGenerateAllJob wires dependencies for the generation handler.
func NewPayslipGenerateAllJob(service PayslipGenerator, logger *slog.Logger, metrics *jobmetrics.Metrics) *PayslipGenerateAllJob {
	return &PayslipGenerateAllJob{
		Service: service,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes roster-wide generation tasks.
func (j *PayslipGenerateAllJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("payslip generate all: handler not configured")
	}
	var payload PayslipGenerateAllPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	period := payload.Period(payslip.PreviousPeriod(j.now()))
	actor := payload.RequestedBy
	if actor == "" {
		actor = SchedulerActor
	}

	tracker := j.metrics().Track(TaskPayslipGenerateAll)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("period", period.String()), slog.String("requested_by", actor))
	logger.Info("starting payslip generation")

	res, err := j.Service.GenerateAll(ctx, period, actor)
	if err != nil {
		logger.Error("payslip generation", slog.Any("error", err))
		if errors.Is(err, shared.ErrValidation) {
			resultErr = fmt.Errorf("payslip generate all: %w: %w", err, asynq.SkipRetry)
			return resultErr
		}
		resultErr = err
		return resultErr
	}
	j.metrics().AddItems(TaskPayslipGenerateAll, "created", res.Created)
	j.metrics().AddItems(TaskPayslipGenerateAll, "skipped", res.Skipped)
	j.metrics().AddItems(TaskPayslipGenerateAll, "failed", res.Failed)
	logger.Info("payslip generation completed",
		slog.Int("created", res.Created),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed))
	return resultErr
}

func (j *PayslipGenerateAllJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *PayslipGenerateAllJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *PayslipGenerateAllJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
