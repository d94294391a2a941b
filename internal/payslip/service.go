package payslip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/payroll-ledger/internal/eligibility"
	"github.com/odyssey-erp/payroll-ledger/internal/platform/cache"
	"github.com/odyssey-erp/payroll-ledger/internal/shared"
	"github.com/odyssey-erp/payroll-ledger/internal/workforce"
)

// Workforce is the HR data generation reads.
type Workforce interface {
	ActiveEmployeeIDs(ctx context.Context) ([]int64, error)
	Employees(ctx context.Context, ids []int64) (map[int64]workforce.Employee, error)
	SalaryStructures(ctx context.Context, ids []int64, asOf time.Time) (map[int64]workforce.SalaryStructure, error)
	AttendanceSummaries(ctx context.Context, ids []int64, month, year int) (map[int64]workforce.AttendanceSummary, error)
}

// AuditSink records manual edits.
type AuditSink interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// EligibilityChecker pre-screens employees for generation.
type EligibilityChecker interface {
	Validate(ctx context.Context, employeeIDs []int64, month, year int) (eligibility.Result, error)
}

// TransitionObserver is notified of every lifecycle transition attempt.
type TransitionObserver interface {
	ObserveTransition(to string, err error)
}

// Service implements the payslip lifecycle.
type Service struct {
	repo      Repository
	workforce Workforce
	audit     AuditSink
	cache     *cache.Versioned
	logger    *slog.Logger
	checker   EligibilityChecker
	observer  TransitionObserver
	now       func() time.Time
}

// NewService constructs the payslip service.
func NewService(repo Repository, staff Workforce, audit AuditSink, summaryCache *cache.Versioned, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		workforce: staff,
		audit:     audit,
		cache:     summaryCache,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetValidator wires the eligibility validator used by OnlyEligible runs.
func (s *Service) SetValidator(checker EligibilityChecker) {
	s.checker = checker
}

// SetObserver wires transition metrics.
func (s *Service) SetObserver(observer TransitionObserver) {
	s.observer = observer
}

// Generate creates draft payslips for the employees. Each employee is handled
// independently; the call only fails on malformed input or when the
// supporting lookups cannot be loaded.
func (s *Service) Generate(ctx context.Context, in GenerateInput) (GenerateResult, error) {
	if err := in.Period.Validate(); err != nil {
		return GenerateResult{}, err
	}
	ids := uniqueIDs(in.EmployeeIDs)
	if len(ids) == 0 {
		return GenerateResult{}, shared.Invalidf("employee ids are required")
	}

	blocked := map[int64]string{}
	if in.OnlyEligible {
		if s.checker == nil {
			return GenerateResult{}, errors.New("payslip: eligibility validator not configured")
		}
		report, err := s.checker.Validate(ctx, ids, in.Period.Month, in.Period.Year)
		if err != nil {
			return GenerateResult{}, fmt.Errorf("payslip: eligibility: %w", err)
		}
		for _, inv := range report.Invalid {
			blocked[inv.EmployeeID] = inv.Reasons()
		}
	}

	employees, err := s.workforce.Employees(ctx, ids)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("payslip: load employees: %w", err)
	}
	structures, err := s.workforce.SalaryStructures(ctx, ids, in.Period.End())
	if err != nil {
		return GenerateResult{}, fmt.Errorf("payslip: load salary structures: %w", err)
	}
	attendance, err := s.workforce.AttendanceSummaries(ctx, ids, in.Period.Month, in.Period.Year)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("payslip: load attendance: %w", err)
	}
	existing, err := s.repo.ActiveEmployees(ctx, ids, in.Period)
	if err != nil {
		return GenerateResult{}, err
	}

	result := GenerateResult{Period: in.Period, Outcomes: make([]Outcome, 0, len(ids))}
	for _, id := range ids {
		// An existing payslip is a conflict, never a failure, even when the
		// eligibility report lists it.
		if existing[id] {
			result.add(Outcome{EmployeeID: id, Result: OutcomeSkipped, Reason: "payslip already exists for this period"})
			continue
		}
		if reason, ok := blocked[id]; ok {
			result.add(Outcome{EmployeeID: id, Result: OutcomeFailed, Reason: reason})
			continue
		}
		emp, ok := employees[id]
		if !ok {
			result.add(Outcome{EmployeeID: id, Result: OutcomeFailed, Reason: "employee not found"})
			continue
		}
		structure, ok := structures[id]
		if !ok || !structure.Active {
			result.add(Outcome{EmployeeID: id, Result: OutcomeFailed, Reason: "no active salary structure found"})
			continue
		}
		var summary *workforce.AttendanceSummary
		if a, ok := attendance[id]; ok {
			summary = &a
		}
		result.add(s.generateOne(ctx, in, emp, structure, summary))
	}

	if result.Created > 0 {
		s.invalidate(ctx)
	}
	s.logger.Info("payslips generated",
		slog.String("period", in.Period.String()),
		slog.Int("created", result.Created),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed))
	return result, nil
}

func (s *Service) generateOne(ctx context.Context, in GenerateInput, emp workforce.Employee, structure workforce.SalaryStructure, attendance *workforce.AttendanceSummary) Outcome {
	if err := CheckStructure(structure); err != nil {
		return Outcome{EmployeeID: emp.ID, Result: OutcomeFailed, Reason: err.Error()}
	}
	calc := Calculate(structure, attendance)
	now := s.now()
	p := Payslip{
		ID:         uuid.New(),
		Number:     PayslipNumber(in.Period, emp.Code),
		EmployeeID: emp.ID,
		Period:     in.Period,
		TemplateID: in.TemplateID,
		Employee: EmployeeSnapshot{
			Code:       emp.Code,
			Name:       emp.FullName(),
			Department: emp.Department,
			Position:   emp.Position,
		},
		Attendance:  calc.Attendance,
		Status:      StatusDraft,
		GeneratedBy: in.Actor,
		GeneratedAt: now,
		UpdatedAt:   now,
	}
	if err := p.SetComponents(calc.Earnings, calc.Deductions); err != nil {
		return Outcome{EmployeeID: emp.ID, Result: OutcomeFailed, Reason: err.Error()}
	}
	saved, err := s.repo.Insert(ctx, p)
	switch {
	case errors.Is(err, ErrDuplicatePayslip):
		return Outcome{EmployeeID: emp.ID, Result: OutcomeSkipped, Reason: "payslip already exists for this period"}
	case err != nil:
		s.logger.Error("insert payslip", slog.Int64("employee_id", emp.ID), slog.Any("error", err))
		return Outcome{EmployeeID: emp.ID, Result: OutcomeFailed, Reason: "could not save payslip"}
	}
	id := saved.ID
	return Outcome{EmployeeID: emp.ID, Result: OutcomeCreated, PayslipID: &id}
}

// GenerateAll runs Generate over the active roster.
func (s *Service) GenerateAll(ctx context.Context, period Period, actor string) (GenerateResult, error) {
	if err := period.Validate(); err != nil {
		return GenerateResult{}, err
	}
	ids, err := s.workforce.ActiveEmployeeIDs(ctx)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("payslip: load roster: %w", err)
	}
	if len(ids) == 0 {
		return GenerateResult{Period: period, Outcomes: []Outcome{}}, nil
	}
	return s.Generate(ctx, GenerateInput{EmployeeIDs: ids, Period: period, Actor: actor})
}

// Edit replaces the components of a draft payslip and records the reason.
func (s *Service) Edit(ctx context.Context, in EditInput) (Payslip, error) {
	if err := in.Validate(); err != nil {
		return Payslip{}, err
	}
	var before Payslip
	now := s.now()
	updated, err := s.repo.Mutate(ctx, in.ID, func(p *Payslip) error {
		if p.Status != StatusDraft {
			return fmt.Errorf("%w: cannot edit a %s payslip", ErrInvalidTransition, p.Status)
		}
		before = *p
		if err := p.SetComponents(in.Earnings, in.Deductions); err != nil {
			return err
		}
		p.ManuallyEdited = true
		p.LastEditedBy = in.Actor
		p.LastEditedAt = &now
		p.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Payslip{}, err
	}
	s.invalidate(ctx)
	s.recordAudit(ctx, shared.AuditLog{
		Actor:    in.Actor,
		Action:   "payslip.edit",
		Entity:   "payslip",
		EntityID: updated.ID.String(),
		Reason:   strings.TrimSpace(in.Reason),
		Meta: map[string]any{
			"before": totalsMeta(before),
			"after":  totalsMeta(updated),
		},
		At: now,
	})
	return updated, nil
}

// Finalize freezes a draft payslip.
func (s *Service) Finalize(ctx context.Context, id uuid.UUID, actor string) (Payslip, error) {
	return s.transition(ctx, id, StatusFinalized, func(p *Payslip, now time.Time) {
		p.FinalizedBy = actor
		p.FinalizedAt = &now
		p.SnapshotDigest = p.Digest()
	})
}

// MarkPaid records the payment of a finalized payslip.
func (s *Service) MarkPaid(ctx context.Context, in MarkPaidInput) (Payslip, error) {
	method := NormalizePaymentMethod(in.PaymentMethod)
	reference := strings.TrimSpace(in.PaymentReference)
	return s.transition(ctx, in.ID, StatusPaid, func(p *Payslip, now time.Time) {
		p.PaidBy = in.Actor
		p.PaidAt = &now
		p.PaymentMethod = method
		p.PaymentReference = reference
	})
}

// Delete cancels a draft payslip. The row is kept so the employee can be
// regenerated for the period.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, actor string) error {
	_, err := s.transition(ctx, id, StatusCancelled, func(p *Payslip, now time.Time) {
		p.CancelledBy = actor
		p.CancelledAt = &now
	})
	return err
}

// NormalizePaymentMethod title-cases the method, keeping acronyms, and falls
// back to DefaultPaymentMethod.
func NormalizePaymentMethod(method string) string {
	method = strings.Join(strings.Fields(method), " ")
	if method == "" {
		return DefaultPaymentMethod
	}
	return cases.Title(language.English, cases.NoLower).String(method)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to Status, apply func(*Payslip, time.Time)) (Payslip, error) {
	now := s.now()
	updated, err := s.repo.Mutate(ctx, id, func(p *Payslip) error {
		if !p.Status.CanTransitionTo(to) {
			return fmt.Errorf("%w: %s payslip cannot become %s", ErrInvalidTransition, p.Status, to)
		}
		apply(p, now)
		p.Status = to
		p.UpdatedAt = now
		return nil
	})
	if s.observer != nil {
		s.observer.ObserveTransition(string(to), err)
	}
	if err != nil {
		return Payslip{}, err
	}
	s.invalidate(ctx)
	return updated, nil
}

// BulkFinalize finalizes each payslip independently.
func (s *Service) BulkFinalize(ctx context.Context, ids []uuid.UUID, actor string) (BulkResult, error) {
	return s.bulk(ctx, ids, func(ctx context.Context, id uuid.UUID) error {
		_, err := s.Finalize(ctx, id, actor)
		return err
	})
}

// BulkMarkPaid marks each payslip paid independently.
func (s *Service) BulkMarkPaid(ctx context.Context, ids []uuid.UUID, actor, method, reference string) (BulkResult, error) {
	return s.bulk(ctx, ids, func(ctx context.Context, id uuid.UUID) error {
		_, err := s.MarkPaid(ctx, MarkPaidInput{ID: id, Actor: actor, PaymentMethod: method, PaymentReference: reference})
		return err
	})
}

// BulkDelete cancels each payslip independently.
func (s *Service) BulkDelete(ctx context.Context, ids []uuid.UUID, actor string) (BulkResult, error) {
	return s.bulk(ctx, ids, func(ctx context.Context, id uuid.UUID) error {
		return s.Delete(ctx, id, actor)
	})
}

func (s *Service) bulk(ctx context.Context, ids []uuid.UUID, op func(context.Context, uuid.UUID) error) (BulkResult, error) {
	if len(ids) == 0 {
		return BulkResult{}, shared.Invalidf("payslip ids are required")
	}
	result := BulkResult{Failures: []BulkFailure{}}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if err := op(ctx, id); err != nil {
			result.FailedCount++
			result.Failures = append(result.Failures, BulkFailure{ID: id, Reason: err.Error()})
			continue
		}
		result.SuccessCount++
	}
	return result, nil
}

// Get loads one payslip.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Payslip, error) {
	return s.repo.Get(ctx, id)
}

// List returns a filtered page of payslips.
func (s *Service) List(ctx context.Context, filter ListFilter) (ListPage, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return ListPage{}, shared.Invalidf("unknown status %q", filter.Status)
	}
	page, perPage := shared.NormalizePage(filter.Page, filter.PerPage)
	rows, total, err := s.repo.List(ctx, filter, perPage, (page-1)*perPage)
	if err != nil {
		return ListPage{}, err
	}
	if rows == nil {
		rows = []Payslip{}
	}
	return ListPage{Payslips: rows, Pagination: shared.NewPagination(page, perPage, total)}, nil
}

// PeriodSummary aggregates the non-cancelled payslips of a period.
func (s *Service) PeriodSummary(ctx context.Context, period Period) (PeriodSummary, error) {
	if err := period.Validate(); err != nil {
		return PeriodSummary{}, err
	}
	key, err := s.cache.BuildKey(ctx, strconv.Itoa(period.Year), fmt.Sprintf("%02d", period.Month))
	if err != nil {
		return PeriodSummary{}, err
	}
	var out PeriodSummary
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		return s.repo.Summary(ctx, period)
	})
	return out, err
}

// ActivePayslipEmployees reports which employees already hold a non-cancelled
// payslip for the period.
func (s *Service) ActivePayslipEmployees(ctx context.Context, employeeIDs []int64, month, year int) (map[int64]bool, error) {
	return s.repo.ActiveEmployees(ctx, employeeIDs, Period{Month: month, Year: year})
}

func (s *Service) recordAudit(ctx context.Context, entry shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("payslip audit", slog.String("payslip_id", entry.EntityID), slog.Any("error", err))
	}
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("payslip summary cache bump", slog.Any("error", err))
	}
}

func totalsMeta(p Payslip) map[string]string {
	return map[string]string{
		"gross_earnings":   p.GrossEarnings.StringFixed(2),
		"total_deductions": p.TotalDeductions.StringFixed(2),
		"net_pay":          p.NetPay.StringFixed(2),
	}
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
