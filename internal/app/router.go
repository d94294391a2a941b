package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	leavebalancehttp "github.com/odyssey-erp/payroll-ledger/internal/leavebalance/http"
	"github.com/odyssey-erp/payroll-ledger/internal/observability"
	paysliphttp "github.com/odyssey-erp/payroll-ledger/internal/payslip/http"
	"github.com/odyssey-erp/payroll-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/payroll-ledger/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	LeaveHandler   *leavebalancehttp.Handler
	PayslipHandler *paysliphttp.Handler
	JobHandler     *jobs.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with payroll defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		if params.LeaveHandler != nil {
			params.LeaveHandler.MountRoutes(r)
		}
		if params.PayslipHandler != nil {
			params.PayslipHandler.MountRoutes(r)
		}
	})
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}

// NewWorkerOpsRouter serves the worker's liveness probe and the job metrics
// gathered from registry.
func NewWorkerOpsRouter(registry prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return r
}
