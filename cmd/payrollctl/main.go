package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/payroll-ledger/cmd/payrollctl/cli"
	"github.com/odyssey-erp/payroll-ledger/internal/app"
	"github.com/odyssey-erp/payroll-ledger/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := cfg.QueueOptions()
	client, err := jobs.NewClient(redisOpts)
	if err != nil {
		slog.Default().Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	inspector := asynq.NewInspector(redisOpts)

	runner := &cli.Runner{Jobs: client, Inspector: inspector}
	code := runner.Run(ctx, os.Args[1:])

	_ = inspector.Close()
	_ = client.Close()
	os.Exit(code)
}
