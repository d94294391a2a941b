package app

import (
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/payroll-ledger/internal/eligibility"
	"github.com/odyssey-erp/payroll-ledger/internal/leavebalance"
	"github.com/odyssey-erp/payroll-ledger/internal/payslip"
	"github.com/odyssey-erp/payroll-ledger/internal/platform/cache"
	"github.com/odyssey-erp/payroll-ledger/internal/shared"
	"github.com/odyssey-erp/payroll-ledger/internal/workforce"
)

// Services bundles the payroll domain services shared by the API and worker.
type Services struct {
	Leave       *leavebalance.Service
	Payslips    *payslip.Service
	Eligibility *eligibility.Validator
}

// ServiceDeps carries the infrastructure the services are built on. A nil
// Redis client disables summary caching; a nil Observer skips transition
// metrics.
type ServiceDeps struct {
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	CacheTTL time.Duration
	Logger   *slog.Logger
	Observer payslip.TransitionObserver
}

// NewServices wires repositories, caches and the eligibility validator.
func NewServices(deps ServiceDeps) *Services {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	var leaveCache, payslipCache *cache.Versioned
	if deps.Redis != nil {
		leaveCache = cache.NewVersioned(deps.Redis, "leave-summary", ttl)
		payslipCache = cache.NewVersioned(deps.Redis, "payslip-summary", ttl)
	}

	staff := workforce.NewRepository(deps.Pool)
	leaveService := leavebalance.NewService(leavebalance.NewRepository(deps.Pool), staff, staff, leaveCache, logger.With(slog.String("component", "leavebalance")))

	payslipService := payslip.NewService(payslip.NewRepository(deps.Pool), staff, shared.NewAuditLogger(deps.Pool), payslipCache, logger.With(slog.String("component", "payslip")))
	validator := eligibility.NewValidator(staff, payslipService, logger.With(slog.String("component", "eligibility")))
	payslipService.SetValidator(validator)
	if deps.Observer != nil {
		payslipService.SetObserver(deps.Observer)
	}
	return &Services{Leave: leaveService, Payslips: payslipService, Eligibility: validator}
}
