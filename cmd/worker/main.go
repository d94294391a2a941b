package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/odyssey-erp/payroll-ledger/internal/app"
	jobmetrics "github.com/odyssey-erp/payroll-ledger/internal/jobs"
	"github.com/odyssey-erp/payroll-ledger/internal/platform/cache"
	"github.com/odyssey-erp/payroll-ledger/internal/platform/db"
	"github.com/odyssey-erp/payroll-ledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PoolOptions("payroll-worker"))
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.CacheOptions())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	services := app.NewServices(app.ServiceDeps{
		Pool:     pool,
		Redis:    redisClient,
		CacheTTL: cfg.SummaryCacheTTL,
		Logger:   logger,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	jobMetrics := jobmetrics.NewMetrics(registry)

	leaveJob := jobs.NewLeaveBulkInitializeJob(services.Leave, logger, jobMetrics)
	generateJob := jobs.NewPayslipGenerateAllJob(services.Payslips, logger, jobMetrics)

	if cfg.WorkerMetricsAddr != "" {
		opsServer := &http.Server{
			Addr:              cfg.WorkerMetricsAddr,
			Handler:           app.NewWorkerOpsRouter(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("worker metrics listening", slog.String("addr", cfg.WorkerMetricsAddr))
			if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = opsServer.Shutdown(shutdownCtx)
		}()
	}

	var cron []jobs.CronRegistration
	if cfg.PayslipGenerateCron != "" {
		// An empty payload resolves to the previous month when the task runs.
		generateTask, err := jobs.NewPayslipGenerateAllTask(jobs.PayslipGenerateAllPayload{RequestedBy: jobs.SchedulerActor})
		if err != nil {
			logger.Error("build payslip generate task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{
			Spec:    cfg.PayslipGenerateCron,
			Task:    generateTask,
			Options: []asynq.Option{asynq.MaxRetry(3)},
		})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:       cfg.QueueOptions(),
		Logger:          logger,
		Concurrency:     cfg.WorkerConcurrency,
		ShutdownTimeout: cfg.WorkerShutdownTimeout,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLeaveBulkInitialize, Handler: leaveJob.Handle},
			{Type: jobs.TaskPayslipGenerateAll, Handler: generateJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
