package leavebalance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/odyssey-erp/payroll-ledger/internal/platform/cache"
	"github.com/odyssey-erp/payroll-ledger/internal/shared"
)

// Roster supplies the active employee population.
type Roster interface {
	ActiveEmployeeIDs(ctx context.Context) ([]int64, error)
}

// LeaveTypeCatalog resolves which leave type ids are usable.
type LeaveTypeCatalog interface {
	ActiveLeaveTypes(ctx context.Context, ids []int64) (map[int64]bool, error)
}

// Service owns leave balance mutation rules.
type Service struct {
	repo       Repository
	roster     Roster
	leaveTypes LeaveTypeCatalog
	cache      *cache.Versioned
	logger     *slog.Logger
}

// NewService wires the engine. roster and leaveTypes may be nil in which case
// BulkInitialize requires explicit employee ids and skips leave type checks.
func NewService(repo Repository, roster Roster, leaveTypes LeaveTypeCatalog, summaryCache *cache.Versioned, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, roster: roster, leaveTypes: leaveTypes, cache: summaryCache, logger: logger}
}

// Create inserts a new record with nothing taken or pending.
func (s *Service) Create(ctx context.Context, in CreateInput) (Record, error) {
	if err := in.Validate(); err != nil {
		return Record{}, err
	}
	rec, err := s.repo.Insert(ctx, in)
	if err != nil {
		return Record{}, err
	}
	s.invalidate(ctx)
	return rec, nil
}

// Get loads one record.
func (s *Service) Get(ctx context.Context, id int64) (Record, error) {
	return s.repo.Get(ctx, id)
}

// Update overwrites the provided fields. A negative resulting balance is
// accepted; callers surface it as a warning.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (Record, error) {
	if err := in.Validate(); err != nil {
		return Record{}, err
	}
	if in.Empty() {
		return s.repo.Get(ctx, id)
	}
	rec, err := s.repo.Update(ctx, id, in)
	if err != nil {
		return Record{}, err
	}
	s.invalidate(ctx)
	if rec.Balance().IsNegative() {
		s.logger.Warn("leave balance below zero",
			slog.Int64("id", rec.ID),
			slog.Int64("employee_id", rec.EmployeeID),
			slog.String("balance", rec.Balance().String()))
	}
	return rec, nil
}

// Delete removes a record permanently.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// BulkInitialize adds each allocation to every selected employee's accrued
// total for the year, creating missing records.
//
// The operation is additive and NOT idempotent: running it twice with the same
// allocations grants the days twice. This is the top-up behaviour HR relies on
// for mid-year increases; callers must not retry it blindly.
func (s *Service) BulkInitialize(ctx context.Context, in BulkInitializeInput) (BulkInitializeResult, error) {
	if err := in.Validate(); err != nil {
		return BulkInitializeResult{}, err
	}
	if err := s.checkLeaveTypes(ctx, in.Allocations); err != nil {
		return BulkInitializeResult{}, err
	}

	employees, err := s.resolveEmployees(ctx, in.EmployeeIDs)
	if err != nil {
		return BulkInitializeResult{}, err
	}
	result := BulkInitializeResult{Employees: len(employees), LeaveTypes: len(in.Allocations)}
	if len(employees) == 0 {
		return result, nil
	}

	grants := make([]Grant, 0, len(employees)*len(in.Allocations))
	for _, employeeID := range employees {
		for _, alloc := range in.Allocations {
			grants = append(grants, Grant{
				Key:  Key{EmployeeID: employeeID, LeaveTypeID: alloc.LeaveTypeID, Year: in.Year},
				Days: alloc.Days,
			})
		}
	}
	accrued, err := s.repo.Accrue(ctx, grants)
	if err != nil {
		return BulkInitializeResult{}, fmt.Errorf("leavebalance: bulk initialize: %w", err)
	}
	result.Created = accrued.Created
	result.Updated = accrued.Updated
	s.invalidate(ctx)
	s.logger.Info("leave balances initialized",
		slog.Int("year", in.Year),
		slog.Int("employees", result.Employees),
		slog.Int("leave_types", result.LeaveTypes),
		slog.Int("created", result.Created),
		slog.Int("updated", result.Updated))
	return result, nil
}

// List returns a page ordered by employee, leave type and year.
func (s *Service) List(ctx context.Context, filter Filter, page, perPage int) (Page, error) {
	page, perPage = shared.NormalizePage(page, perPage)
	offset := (page - 1) * perPage
	records, total, err := s.repo.List(ctx, filter, perPage, offset)
	if err != nil {
		return Page{}, err
	}
	if records == nil {
		records = []Record{}
	}
	return Page{Records: records, Pagination: shared.NewPagination(page, perPage, total)}, nil
}

// Summary aggregates balances per leave type for a year.
func (s *Service) Summary(ctx context.Context, year int) ([]TypeSummary, error) {
	if err := validateYear(year); err != nil {
		return nil, err
	}
	loader := func(ctx context.Context) (any, error) {
		return s.repo.Summary(ctx, year)
	}
	key, err := s.cache.BuildKey(ctx, "summary", strconv.Itoa(year))
	if err != nil {
		return nil, err
	}
	var out []TypeSummary
	if err := s.cache.FetchJSON(ctx, key, &out, loader); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) resolveEmployees(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) > 0 {
		return dedupe(ids), nil
	}
	if s.roster == nil {
		return nil, errors.New("leavebalance: roster not configured")
	}
	roster, err := s.roster.ActiveEmployeeIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("leavebalance: load roster: %w", err)
	}
	return dedupe(roster), nil
}

func (s *Service) checkLeaveTypes(ctx context.Context, allocations []Allocation) error {
	if s.leaveTypes == nil {
		return nil
	}
	ids := make([]int64, 0, len(allocations))
	for _, a := range allocations {
		ids = append(ids, a.LeaveTypeID)
	}
	known, err := s.leaveTypes.ActiveLeaveTypes(ctx, ids)
	if err != nil {
		return fmt.Errorf("leavebalance: load leave types: %w", err)
	}
	var invalid []int64
	for _, id := range ids {
		if !known[id] {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) > 0 {
		sort.Slice(invalid, func(i, j int) bool { return invalid[i] < invalid[j] })
		return shared.Invalidf("invalid leave type ids: %v", invalid)
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("leave summary cache bump", slog.Any("error", err))
	}
}

func dedupe(ids []int64) []int64 {
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
