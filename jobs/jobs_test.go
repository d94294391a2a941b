package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/payroll-ledger/internal/jobs"
	"github.com/odyssey-erp/payroll-ledger/internal/leavebalance"
	"github.com/odyssey-erp/payroll-ledger/internal/payslip"
	"github.com/odyssey-erp/payroll-ledger/internal/shared"
)

type fakeEnqueuer struct {
	task *asynq.Task
	opts []asynq.Option
	err  error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.task = task
	f.opts = opts
	return &asynq.TaskInfo{ID: "task-1", Queue: QueueDefault, Type: task.Type()}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

func maxRetry(opts []asynq.Option) (int, bool) {
	for _, opt := range opts {
		if opt.Type() == asynq.MaxRetryOpt {
			n, ok := opt.Value().(int)
			return n, ok
		}
	}
	return 0, false
}

func itemCount(t *testing.T, reg *prometheus.Registry, job, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "payroll_job_items_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["job"] == job && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestClientEnqueueLeaveBulkInitializeDisablesRetry(t *testing.T) {
	fake := &fakeEnqueuer{}
	client := &Client{client: fake}

	in := leavebalance.BulkInitializeInput{
		Year:        2026,
		Allocations: []leavebalance.Allocation{{LeaveTypeID: 1, Days: decimal.RequireFromString("12.5")}},
		EmployeeIDs: []int64{7, 9},
	}
	id, err := client.EnqueueLeaveBulkInitialize(context.Background(), in, "hr-admin")
	require.NoError(t, err)
	require.Equal(t, "task-1", id)
	require.Equal(t, TaskLeaveBulkInitialize, fake.task.Type())

	n, ok := maxRetry(fake.opts)
	require.True(t, ok)
	require.Zero(t, n)

	var payload LeaveBulkInitializePayload
	require.NoError(t, json.Unmarshal(fake.task.Payload(), &payload))
	require.Equal(t, "hr-admin", payload.RequestedBy)
	require.Equal(t, in.Year, payload.Input().Year)
	require.Equal(t, in.EmployeeIDs, payload.Input().EmployeeIDs)
	require.True(t, payload.Input().Allocations[0].Days.Equal(decimal.RequireFromString("12.5")))
}

func TestClientEnqueueGenerateAll(t *testing.T) {
	fake := &fakeEnqueuer{}
	client := &Client{client: fake}

	id, err := client.EnqueueGenerateAll(context.Background(), payslip.Period{Month: 3, Year: 2026}, "hr-admin")
	require.NoError(t, err)
	require.Equal(t, "task-1", id)
	require.Equal(t, TaskPayslipGenerateAll, fake.task.Type())
	n, _ := maxRetry(fake.opts)
	require.Equal(t, 3, n)

	fake.err = errors.New("redis down")
	_, err = client.EnqueueGenerateAll(context.Background(), payslip.Period{Month: 3, Year: 2026}, "hr-admin")
	require.Error(t, err)
}

type stubLeaveService struct {
	got    leavebalance.BulkInitializeInput
	result leavebalance.BulkInitializeResult
	err    error
}

func (s *stubLeaveService) BulkInitialize(_ context.Context, in leavebalance.BulkInitializeInput) (leavebalance.BulkInitializeResult, error) {
	s.got = in
	return s.result, s.err
}

func leaveTask(t *testing.T) *asynq.Task {
	t.Helper()
	task, err := NewLeaveBulkInitializeTask(LeaveBulkInitializePayload{
		Year:        2026,
		Allocations: []LeaveAllocationPayload{{LeaveTypeID: 2, Days: decimal.NewFromInt(6)}},
	})
	require.NoError(t, err)
	return task
}

func TestLeaveBulkInitializeJobRecordsItems(t *testing.T) {
	reg := prometheus.NewRegistry()
	svc := &stubLeaveService{result: leavebalance.BulkInitializeResult{Created: 3, Updated: 2, Employees: 5, LeaveTypes: 1}}
	job := NewLeaveBulkInitializeJob(svc, nil, jobmetrics.NewMetrics(reg))

	require.NoError(t, job.Handle(context.Background(), leaveTask(t)))
	require.Equal(t, 2026, svc.got.Year)
	require.Equal(t, int64(2), svc.got.Allocations[0].LeaveTypeID)
	require.Equal(t, 3.0, itemCount(t, reg, TaskLeaveBulkInitialize, "created"))
	require.Equal(t, 2.0, itemCount(t, reg, TaskLeaveBulkInitialize, "updated"))
}

func TestLeaveBulkInitializeJobNeverRetries(t *testing.T) {
	svc := &stubLeaveService{err: errors.New("connection reset")}
	job := NewLeaveBulkInitializeJob(svc, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	err := job.Handle(context.Background(), leaveTask(t))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(TaskLeaveBulkInitialize, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type stubGenerator struct {
	period payslip.Period
	actor  string
	result payslip.GenerateResult
	err    error
}

func (s *stubGenerator) GenerateAll(_ context.Context, period payslip.Period, actor string) (payslip.GenerateResult, error) {
	s.period = period
	s.actor = actor
	return s.result, s.err
}

func TestPayslipGenerateAllJobDefaultsToPreviousMonth(t *testing.T) {
	reg := prometheus.NewRegistry()
	svc := &stubGenerator{result: payslip.GenerateResult{Created: 4, Skipped: 1, Failed: 2}}
	job := NewPayslipGenerateAllJob(svc, nil, jobmetrics.NewMetrics(reg))
	job.clock = func() time.Time { return time.Date(2026, time.January, 3, 1, 0, 0, 0, time.UTC) }

	task, err := NewPayslipGenerateAllTask(PayslipGenerateAllPayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Equal(t, payslip.Period{Month: 12, Year: 2025}, svc.period)
	require.Equal(t, SchedulerActor, svc.actor)
	require.Equal(t, 4.0, itemCount(t, reg, TaskPayslipGenerateAll, "created"))
	require.Equal(t, 1.0, itemCount(t, reg, TaskPayslipGenerateAll, "skipped"))
	require.Equal(t, 2.0, itemCount(t, reg, TaskPayslipGenerateAll, "failed"))
}

func TestPayslipGenerateAllJobExplicitPeriod(t *testing.T) {
	svc := &stubGenerator{}
	job := NewPayslipGenerateAllJob(svc, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewPayslipGenerateAllTask(PayslipGenerateAllPayload{Month: 6, Year: 2026, RequestedBy: "hr-admin"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, payslip.Period{Month: 6, Year: 2026}, svc.period)
	require.Equal(t, "hr-admin", svc.actor)
}

func TestPayslipGenerateAllJobRetryPolicy(t *testing.T) {
	task, err := NewPayslipGenerateAllTask(PayslipGenerateAllPayload{Month: 6, Year: 2026})
	require.NoError(t, err)

	transient := errors.New("connection reset")
	job := NewPayslipGenerateAllJob(&stubGenerator{err: transient}, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	err = job.Handle(context.Background(), task)
	require.ErrorIs(t, err, transient)
	require.NotErrorIs(t, err, asynq.SkipRetry)

	job.Service = &stubGenerator{err: shared.Invalidf("month 13 out of range")}
	err = job.Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body queueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, QueueDefault, body.Queue)
	require.Zero(t, body.Pending)
}

func TestNewWorkerRejectsBadCron(t *testing.T) {
	task, err := NewPayslipGenerateAllTask(PayslipGenerateAllPayload{RequestedBy: SchedulerActor})
	require.NoError(t, err)

	_, err = NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Cron:      []CronRegistration{{Spec: "every tuesday", Task: task}},
	})
	require.ErrorContains(t, err, "register cron")

	w, err := NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Handlers:  []TaskHandler{{Type: TaskPayslipGenerateAll, Handler: NewPayslipGenerateAllJob(&stubGenerator{}, nil, nil).Handle}},
		Cron:      []CronRegistration{{Spec: "0 2 1 * *", Task: task}},
	})
	require.NoError(t, err)
	require.NotNil(t, w.scheduler)
}
