package paysliphttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/payroll-ledger/internal/eligibility"
	"github.com/odyssey-erp/payroll-ledger/internal/payslip"
	"github.com/odyssey-erp/payroll-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/payroll-ledger/internal/shared"
)

type payslipService interface {
	Generate(ctx context.Context, in payslip.GenerateInput) (payslip.GenerateResult, error)
	Edit(ctx context.Context, in payslip.EditInput) (payslip.Payslip, error)
	Finalize(ctx context.Context, id uuid.UUID, actor string) (payslip.Payslip, error)
	MarkPaid(ctx context.Context, in payslip.MarkPaidInput) (payslip.Payslip, error)
	Delete(ctx context.Context, id uuid.UUID, actor string) error
	BulkFinalize(ctx context.Context, ids []uuid.UUID, actor string) (payslip.BulkResult, error)
	BulkMarkPaid(ctx context.Context, ids []uuid.UUID, actor, method, reference string) (payslip.BulkResult, error)
	BulkDelete(ctx context.Context, ids []uuid.UUID, actor string) (payslip.BulkResult, error)
	Get(ctx context.Context, id uuid.UUID) (payslip.Payslip, error)
	List(ctx context.Context, filter payslip.ListFilter) (payslip.ListPage, error)
	PeriodSummary(ctx context.Context, period payslip.Period) (payslip.PeriodSummary, error)
}

type eligibilityService interface {
	Validate(ctx context.Context, employeeIDs []int64, month, year int) (eligibility.Result, error)
}

// GenerateEnqueuer schedules a roster-wide generation run.
type GenerateEnqueuer interface {
	EnqueueGenerateAll(ctx context.Context, period payslip.Period, requestedBy string) (string, error)
}

// Handler exposes payslip endpoints.
type Handler struct {
	logger      *slog.Logger
	service     payslipService
	eligibility eligibilityService
	jobs        GenerateEnqueuer
	validate    *validator.Validate
}

// NewHandler constructs the handler. jobs may be nil.
func NewHandler(logger *slog.Logger, service payslipService, eligibility eligibilityService, jobs GenerateEnqueuer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, eligibility: eligibility, jobs: jobs, validate: validator.New()}
}

// MountRoutes registers payslip routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/payslips", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/validate", h.validateEmployees)
		r.Post("/generate", h.generate)
		r.Post("/generate-all", h.generateAll)
		r.Get("/reports/summary", h.summary)
		r.Post("/bulk/finalize", h.bulkFinalize)
		r.Post("/bulk/mark-paid", h.bulkMarkPaid)
		r.Post("/bulk/delete", h.bulkDelete)
		r.Get("/{id}", h.get)
		r.Put("/{id}", h.edit)
		r.Delete("/{id}", h.delete)
		r.Post("/{id}/finalize", h.finalize)
		r.Post("/{id}/mark-paid", h.markPaid)
	})
}

type payslipResponse struct {
	ID               uuid.UUID                  `json:"id"`
	Number           string                     `json:"payslip_number"`
	EmployeeID       int64                      `json:"employee_id"`
	Month            int                        `json:"month"`
	Year             int                        `json:"year"`
	TemplateID       *int64                     `json:"template_id,omitempty"`
	Employee         payslip.EmployeeSnapshot   `json:"employee"`
	Attendance       payslip.AttendanceSnapshot `json:"attendance"`
	Earnings         payslip.Components         `json:"earnings"`
	Deductions       payslip.Components         `json:"deductions"`
	GrossEarnings    decimal.Decimal            `json:"gross_earnings"`
	TotalDeductions  decimal.Decimal            `json:"total_deductions"`
	NetPay           decimal.Decimal            `json:"net_pay"`
	Status           payslip.Status             `json:"status"`
	ManuallyEdited   bool                       `json:"manually_edited"`
	GeneratedBy      string                     `json:"generated_by,omitempty"`
	GeneratedAt      time.Time                  `json:"generated_at"`
	LastEditedBy     string                     `json:"last_edited_by,omitempty"`
	LastEditedAt     *time.Time                 `json:"last_edited_at,omitempty"`
	FinalizedBy      string                     `json:"finalized_by,omitempty"`
	FinalizedAt      *time.Time                 `json:"finalized_at,omitempty"`
	SnapshotDigest   string                     `json:"snapshot_digest,omitempty"`
	PaidBy           string                     `json:"paid_by,omitempty"`
	PaidAt           *time.Time                 `json:"paid_at,omitempty"`
	PaymentMethod    string                     `json:"payment_method,omitempty"`
	PaymentReference string                     `json:"payment_reference,omitempty"`
	CancelledBy      string                     `json:"cancelled_by,omitempty"`
	CancelledAt      *time.Time                 `json:"cancelled_at,omitempty"`
}

func toResponse(p payslip.Payslip) payslipResponse {
	return payslipResponse{
		ID:               p.ID,
		Number:           p.Number,
		EmployeeID:       p.EmployeeID,
		Month:            p.Period.Month,
		Year:             p.Period.Year,
		TemplateID:       p.TemplateID,
		Employee:         p.Employee,
		Attendance:       p.Attendance,
		Earnings:         p.Earnings,
		Deductions:       p.Deductions,
		GrossEarnings:    p.GrossEarnings.Round(2),
		TotalDeductions:  p.TotalDeductions.Round(2),
		NetPay:           p.NetPay.Round(2),
		Status:           p.Status,
		ManuallyEdited:   p.ManuallyEdited,
		GeneratedBy:      p.GeneratedBy,
		GeneratedAt:      p.GeneratedAt,
		LastEditedBy:     p.LastEditedBy,
		LastEditedAt:     p.LastEditedAt,
		FinalizedBy:      p.FinalizedBy,
		FinalizedAt:      p.FinalizedAt,
		SnapshotDigest:   p.SnapshotDigest,
		PaidBy:           p.PaidBy,
		PaidAt:           p.PaidAt,
		PaymentMethod:    p.PaymentMethod,
		PaymentReference: p.PaymentReference,
		CancelledBy:      p.CancelledBy,
		CancelledAt:      p.CancelledAt,
	}
}

type periodRequest struct {
	Month int `json:"month" validate:"required,min=1,max=12"`
	Year  int `json:"year" validate:"required,gte=2000,lte=2100"`
}

type validateRequest struct {
	EmployeeIDs []int64 `json:"employee_ids" validate:"required,min=1,dive,gt=0"`
	Month       int     `json:"month" validate:"required,min=1,max=12"`
	Year        int     `json:"year" validate:"required,gte=2000,lte=2100"`
}

type generateRequest struct {
	EmployeeIDs  []int64 `json:"employee_ids" validate:"required,min=1,dive,gt=0"`
	Month        int     `json:"month" validate:"required,min=1,max=12"`
	Year         int     `json:"year" validate:"required,gte=2000,lte=2100"`
	TemplateID   *int64  `json:"template_id" validate:"omitempty,gt=0"`
	OnlyEligible bool    `json:"only_eligible"`
}

type editRequest struct {
	Earnings   payslip.Components `json:"earnings" validate:"required"`
	Deductions payslip.Components `json:"deductions"`
	Reason     string             `json:"reason" validate:"required"`
}

type markPaidRequest struct {
	PaymentMethod    string `json:"payment_method" validate:"max=64"`
	PaymentReference string `json:"payment_reference" validate:"max=128"`
}

type bulkRequest struct {
	IDs              []uuid.UUID `json:"ids" validate:"required,min=1"`
	PaymentMethod    string      `json:"payment_method" validate:"max=64"`
	PaymentReference string      `json:"payment_reference" validate:"max=128"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	var filter payslip.ListFilter
	var err error
	if filter.EmployeeID, _, err = httpx.QueryInt64(r, "employee_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	for name, dst := range map[string]*int{"month": &filter.Month, "year": &filter.Year, "page": &filter.Page, "per_page": &filter.PerPage} {
		if *dst, _, err = httpx.QueryInt(r, name); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	filter.Status = payslip.Status(r.URL.Query().Get("status"))

	page, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list payslips", err)
		return
	}
	data := make([]payslipResponse, 0, len(page.Payslips))
	for _, p := range page.Payslips {
		data = append(data, toResponse(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": data, "pagination": page.Pagination})
}

func (h *Handler) validateEmployees(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !httpx.DecodeAndValidate(w, r, h.validate, &req) {
		return
	}
	result, err := h.eligibility.Validate(r.Context(), req.EmployeeIDs, req.Month, req.Year)
	if err != nil {
		h.fail(w, "validate payslip eligibility", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !httpx.DecodeAndValidate(w, r, h.validate, &req) {
		return
	}
	result, err := h.service.Generate(r.Context(), payslip.GenerateInput{
		EmployeeIDs:  req.EmployeeIDs,
		Period:       payslip.Period{Month: req.Month, Year: req.Year},
		TemplateID:   req.TemplateID,
		Actor:        shared.ActorFromContext(r.Context()),
		OnlyEligible: req.OnlyEligible,
	})
	if err != nil {
		h.fail(w, "generate payslips", err)
		return
	}
	status := http.StatusOK
	if result.Created > 0 {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) generateAll(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Jobs Unavailable", "background queue is not configured")
		return
	}
	var req periodRequest
	if !httpx.DecodeAndValidate(w, r, h.validate, &req) {
		return
	}
	taskID, err := h.jobs.EnqueueGenerateAll(r.Context(), payslip.Period{Month: req.Month, Year: req.Year}, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "enqueue payslip generation", err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	month, _, err := httpx.QueryInt(r, "month")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	year, _, err := httpx.QueryInt(r, "year")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	summary, err := h.service.PeriodSummary(r.Context(), payslip.Period{Month: month, Year: year})
	if err != nil {
		h.fail(w, "payslip summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get payslip", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(p))
}

func (h *Handler) edit(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req editRequest
	if !httpx.DecodeAndValidate(w, r, h.validate, &req) {
		return
	}
	p, err := h.service.Edit(r.Context(), payslip.EditInput{
		ID:         id,
		Earnings:   req.Earnings,
		Deductions: req.Deductions,
		Reason:     req.Reason,
		Actor:      shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "edit payslip", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(p))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.fail(w, "delete payslip", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) finalize(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	p, err := h.service.Finalize(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "finalize payslip", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(p))
}

func (h *Handler) markPaid(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req markPaidRequest
	if r.ContentLength != 0 && !httpx.DecodeAndValidate(w, r, h.validate, &req) {
		return
	}
	p, err := h.service.MarkPaid(r.Context(), payslip.MarkPaidInput{
		ID:               id,
		Actor:            shared.ActorFromContext(r.Context()),
		PaymentMethod:    req.PaymentMethod,
		PaymentReference: req.PaymentReference,
	})
	if err != nil {
		h.fail(w, "mark payslip paid", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(p))
}

func (h *Handler) bulkFinalize(w http.ResponseWriter, r *http.Request) {
	h.bulk(w, r, "bulk finalize payslips", func(ctx context.Context, req bulkRequest, actor string) (payslip.BulkResult, error) {
		return h.service.BulkFinalize(ctx, req.IDs, actor)
	})
}

func (h *Handler) bulkMarkPaid(w http.ResponseWriter, r *http.Request) {
	h.bulk(w, r, "bulk mark payslips paid", func(ctx context.Context, req bulkRequest, actor string) (payslip.BulkResult, error) {
		return h.service.BulkMarkPaid(ctx, req.IDs, actor, req.PaymentMethod, req.PaymentReference)
	})
}

func (h *Handler) bulkDelete(w http.ResponseWriter, r *http.Request) {
	h.bulk(w, r, "bulk delete payslips", func(ctx context.Context, req bulkRequest, actor string) (payslip.BulkResult, error) {
		return h.service.BulkDelete(ctx, req.IDs, actor)
	})
}

func (h *Handler) bulk(w http.ResponseWriter, r *http.Request, op string, run func(context.Context, bulkRequest, string) (payslip.BulkResult, error)) {
	var req bulkRequest
	if !httpx.DecodeAndValidate(w, r, h.validate, &req) {
		return
	}
	result, err := run(r.Context(), req, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, op, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid payslip id")
		return uuid.Nil, false
	}
	return id, true
}
