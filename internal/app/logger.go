package app

import (
	"log/slog"
	"os"

	"github.com/go-chi/httplog/v3"
)

// NewLogger returns a configured slog.Logger based on configuration. JSON
// output uses the ECS field names so request logs and application logs share
// one schema.
func NewLogger(cfg *Config) *slog.Logger {
	if cfg != nil && cfg.LogFormat == "json" {
		schema := httplog.SchemaECS.Concise(!cfg.IsProduction())
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			AddSource:   true,
			ReplaceAttr: schema.ReplaceAttr,
		})).With(slog.String("app", "payroll-ledger"), slog.String("env", cfg.AppEnv))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))
}
