package leavebalancehttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/payroll-ledger/internal/leavebalance"
	"github.com/odyssey-erp/payroll-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/payroll-ledger/internal/shared"
)

type leaveService interface {
	Create(ctx context.Context, in leavebalance.CreateInput) (leavebalance.Record, error)
	Get(ctx context.Context, id int64) (leavebalance.Record, error)
	Update(ctx context.Context, id int64, in leavebalance.UpdateInput) (leavebalance.Record, error)
	Delete(ctx context.Context, id int64) error
	BulkInitialize(ctx context.Context, in leavebalance.BulkInitializeInput) (leavebalance.BulkInitializeResult, error)
	List(ctx context.Context, filter leavebalance.Filter, page, perPage int) (leavebalance.Page, error)
	Summary(ctx context.Context, year int) ([]leavebalance.TypeSummary, error)
}

// BulkEnqueuer schedules bulk initialization in the background.
type BulkEnqueuer interface {
	EnqueueLeaveBulkInitialize(ctx context.Context, in leavebalance.BulkInitializeInput, requestedBy string) (string, error)
}

// Handler exposes leave balance endpoints.
type Handler struct {
	logger   *slog.Logger
	service  leaveService
	jobs     BulkEnqueuer
	validate *validator.Validate
}

// NewHandler constructs the handler. jobs may be nil, in which case the async
// endpoint answers 503.
func NewHandler(logger *slog.Logger, service leaveService, jobs BulkEnqueuer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, jobs: jobs, validate: validator.New()}
}

// MountRoutes registers routes under the caller's prefix.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/leave-balances", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/summary", h.summary)
		r.Post("/bulk-initialize", h.bulkInitialize)
		r.Post("/bulk-initialize/async", h.bulkInitializeAsync)
		r.Get("/{id}", h.get)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
	})
}

type balanceResponse struct {
	ID           int64           `json:"id"`
	EmployeeID   int64           `json:"employee_id"`
	LeaveTypeID  int64           `json:"leave_type_id"`
	Year         int             `json:"year"`
	TotalAccrued decimal.Decimal `json:"total_accrued"`
	CarryForward decimal.Decimal `json:"carry_forward"`
	TotalTaken   decimal.Decimal `json:"total_taken"`
	TotalPending decimal.Decimal `json:"total_pending"`
	Balance      decimal.Decimal `json:"balance"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Warnings     []string        `json:"warnings,omitempty"`
}

func toResponse(rec leavebalance.Record) balanceResponse {
	return balanceResponse{
		ID:           rec.ID,
		EmployeeID:   rec.EmployeeID,
		LeaveTypeID:  rec.LeaveTypeID,
		Year:         rec.Year,
		TotalAccrued: rec.TotalAccrued,
		CarryForward: rec.CarryForward,
		TotalTaken:   rec.TotalTaken,
		TotalPending: rec.TotalPending,
		Balance:      rec.Balance(),
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}

type createRequest struct {
	EmployeeID   int64           `json:"employee_id" validate:"required,gt=0"`
	LeaveTypeID  int64           `json:"leave_type_id" validate:"required,gt=0"`
	Year         int             `json:"year" validate:"required,gte=2000,lte=2100"`
	TotalAccrued decimal.Decimal `json:"total_accrued"`
	CarryForward decimal.Decimal `json:"carry_forward"`
}

type updateRequest struct {
	TotalAccrued *decimal.Decimal `json:"total_accrued"`
	CarryForward *decimal.Decimal `json:"carry_forward"`
	TotalTaken   *decimal.Decimal `json:"total_taken"`
	TotalPending *decimal.Decimal `json:"total_pending"`
}

type allocationRequest struct {
	LeaveTypeID int64           `json:"leave_type_id" validate:"required,gt=0"`
	Days        decimal.Decimal `json:"days"`
}

type bulkInitializeRequest struct {
	Year        int                 `json:"year" validate:"required,gte=2000,lte=2100"`
	Allocations []allocationRequest `json:"allocations" validate:"required,min=1,dive"`
	EmployeeIDs []int64             `json:"employee_ids" validate:"omitempty,dive,gt=0"`
}

func (req bulkInitializeRequest) input() leavebalance.BulkInitializeInput {
	allocs := make([]leavebalance.Allocation, 0, len(req.Allocations))
	for _, a := range req.Allocations {
		allocs = append(allocs, leavebalance.Allocation{LeaveTypeID: a.LeaveTypeID, Days: a.Days})
	}
	return leavebalance.BulkInitializeInput{Year: req.Year, Allocations: allocs, EmployeeIDs: req.EmployeeIDs}
}

type bulkInitializeResponse struct {
	Created    int    `json:"created"`
	Updated    int    `json:"updated"`
	Employees  int    `json:"employees"`
	LeaveTypes int    `json:"leave_types"`
	Warning    string `json:"warning"`
}

// Repeating a bulk initialization grants the days again.
const topUpWarning = "bulk initialization is additive; submitting the same allocation again adds the days again"

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	var filter leavebalance.Filter
	if v, ok, err := httpx.QueryInt64(r, "employee_id"); err != nil {
		httpx.RespondError(w, err)
		return
	} else if ok {
		filter.EmployeeID = &v
	}
	if v, ok, err := httpx.QueryInt64(r, "leave_type_id"); err != nil {
		httpx.RespondError(w, err)
		return
	} else if ok {
		filter.LeaveTypeID = &v
	}
	if v, ok, err := httpx.QueryInt(r, "year"); err != nil {
		httpx.RespondError(w, err)
		return
	} else if ok {
		filter.Year = &v
	}
	page, _, err := httpx.QueryInt(r, "page")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	perPage, _, err := httpx.QueryInt(r, "per_page")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	result, err := h.service.List(r.Context(), filter, page, perPage)
	if err != nil {
		h.fail(w, "list leave balances", err)
		return
	}
	data := make([]balanceResponse, 0, len(result.Records))
	for _, rec := range result.Records {
		data = append(data, toResponse(rec))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": data, "pagination": result.Pagination})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !httpx.DecodeAndValidate(w, r, h.validate, &req) {
		return
	}
	rec, err := h.service.Create(r.Context(), leavebalance.CreateInput{
		EmployeeID:   req.EmployeeID,
		LeaveTypeID:  req.LeaveTypeID,
		Year:         req.Year,
		TotalAccrued: req.TotalAccrued,
		CarryForward: req.CarryForward,
	})
	if err != nil {
		h.fail(w, "create leave balance", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(rec))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get leave balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(rec))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if !httpx.DecodeAndValidate(w, r, h.validate, &req) {
		return
	}
	rec, err := h.service.Update(r.Context(), id, leavebalance.UpdateInput{
		TotalAccrued: req.TotalAccrued,
		CarryForward: req.CarryForward,
		TotalTaken:   req.TotalTaken,
		TotalPending: req.TotalPending,
	})
	if err != nil {
		h.fail(w, "update leave balance", err)
		return
	}
	resp := toResponse(rec)
	if resp.Balance.IsNegative() {
		resp.Warnings = append(resp.Warnings, "balance is negative: "+resp.Balance.String())
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.fail(w, "delete leave balance", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) bulkInitialize(w http.ResponseWriter, r *http.Request) {
	var req bulkInitializeRequest
	if !httpx.DecodeAndValidate(w, r, h.validate, &req) {
		return
	}
	res, err := h.service.BulkInitialize(r.Context(), req.input())
	if err != nil {
		h.fail(w, "bulk initialize leave balances", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bulkInitializeResponse{
		Created:    res.Created,
		Updated:    res.Updated,
		Employees:  res.Employees,
		LeaveTypes: res.LeaveTypes,
		Warning:    topUpWarning,
	})
}

func (h *Handler) bulkInitializeAsync(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Jobs Unavailable", "background queue is not configured")
		return
	}
	var req bulkInitializeRequest
	if !httpx.DecodeAndValidate(w, r, h.validate, &req) {
		return
	}
	in := req.input()
	if err := in.Validate(); err != nil {
		httpx.RespondError(w, err)
		return
	}
	taskID, err := h.jobs.EnqueueLeaveBulkInitialize(r.Context(), in, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "enqueue leave bulk initialize", err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": taskID, "warning": topUpWarning})
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	year, ok, err := httpx.QueryInt(r, "year")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if !ok {
		year = time.Now().Year()
	}
	rows, err := h.service.Summary(r.Context(), year)
	if err != nil {
		h.fail(w, "leave balance summary", err)
		return
	}
	if rows == nil {
		rows = []leavebalance.TypeSummary{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"year": year, "leave_types": rows})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return 0, false
	}
	return id, true
}
