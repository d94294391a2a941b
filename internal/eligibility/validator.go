// Package eligibility checks, before generation, which employees can receive
// a payslip for a period. It never writes.
package eligibility

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/payroll-ledger/internal/shared"
	"github.com/odyssey-erp/payroll-ledger/internal/workforce"
)

// IssueCode identifies why an employee is not eligible.
type IssueCode string

const (
	IssueEmployeeNotFound        IssueCode = "employee_not_found"
	IssueEmployeeInactive        IssueCode = "employee_inactive"
	IssueSalaryStructureMissing  IssueCode = "salary_structure_missing"
	IssueSalaryStructureInactive IssueCode = "salary_structure_inactive"
	IssueBankDetailsMissing      IssueCode = "bank_details_missing"
	IssueTaxIDMissing            IssueCode = "tax_id_missing"
	IssueAttendanceMissing       IssueCode = "attendance_missing"
	IssueAttendanceNotApproved   IssueCode = "attendance_not_approved"
	IssuePayslipExists           IssueCode = "payslip_exists"
)

// Issue is one failed check.
type Issue struct {
	Code    IssueCode `json:"code"`
	Message string    `json:"message"`
}

// ValidEmployee passed every check.
type ValidEmployee struct {
	EmployeeID int64  `json:"employee_id"`
	Name       string `json:"name"`
}

// InvalidEmployee failed at least one check.
type InvalidEmployee struct {
	EmployeeID int64   `json:"employee_id"`
	Name       string  `json:"name"`
	Issues     []Issue `json:"issues"`
}

// Reasons joins the issue messages.
func (e InvalidEmployee) Reasons() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		msgs = append(msgs, issue.Message)
	}
	return strings.Join(msgs, "; ")
}

// Result is the outcome of a validation run.
type Result struct {
	Valid       []ValidEmployee   `json:"valid"`
	Invalid     []InvalidEmployee `json:"invalid"`
	Total       int               `json:"total"`
	SuccessRate int               `json:"success_rate"`
	CanProceed  bool              `json:"can_proceed"`
	Message     string            `json:"message"`
}

// Directory is the workforce data consulted by the checks.
type Directory interface {
	Employees(ctx context.Context, ids []int64) (map[int64]workforce.Employee, error)
	SalaryStructures(ctx context.Context, ids []int64, asOf time.Time) (map[int64]workforce.SalaryStructure, error)
	AttendanceSummaries(ctx context.Context, ids []int64, month, year int) (map[int64]workforce.AttendanceSummary, error)
}

// PayslipLookup reports employees already holding a non-cancelled payslip.
type PayslipLookup interface {
	ActivePayslipEmployees(ctx context.Context, employeeIDs []int64, month, year int) (map[int64]bool, error)
}

// Validator runs the eligibility checks.
type Validator struct {
	directory Directory
	payslips  PayslipLookup
	logger    *slog.Logger
}

// NewValidator constructs a Validator.
func NewValidator(directory Directory, payslips PayslipLookup, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{directory: directory, payslips: payslips, logger: logger}
}

type lookups struct {
	employees  map[int64]workforce.Employee
	structures map[int64]workforce.SalaryStructure
	attendance map[int64]workforce.AttendanceSummary
	payslips   map[int64]bool
}

// Validate checks every employee for the period. Repeated ids are collapsed
// keeping the first occurrence. All checks run for each employee except when
// the employee does not exist.
func (v *Validator) Validate(ctx context.Context, employeeIDs []int64, month, year int) (Result, error) {
	if len(employeeIDs) == 0 {
		return Result{}, shared.Invalidf("employee ids are required")
	}
	if month < 1 || month > 12 {
		return Result{}, shared.Invalidf("month must be between 1 and 12")
	}
	if year < 2000 || year > 2100 {
		return Result{}, shared.Invalidf("year %d out of range", year)
	}
	ids := uniqueIDs(employeeIDs)

	data, err := v.load(ctx, ids, month, year)
	if err != nil {
		return Result{}, err
	}

	result := Result{Valid: []ValidEmployee{}, Invalid: []InvalidEmployee{}, Total: len(ids)}
	for _, id := range ids {
		emp, found := data.employees[id]
		if !found {
			result.Invalid = append(result.Invalid, InvalidEmployee{
				EmployeeID: id,
				Issues:     []Issue{{Code: IssueEmployeeNotFound, Message: "employee not found"}},
			})
			continue
		}
		issues := check(emp, data)
		if len(issues) > 0 {
			result.Invalid = append(result.Invalid, InvalidEmployee{EmployeeID: id, Name: emp.FullName(), Issues: issues})
			continue
		}
		result.Valid = append(result.Valid, ValidEmployee{EmployeeID: id, Name: emp.FullName()})
	}

	result.SuccessRate = int(math.Round(float64(len(result.Valid)) * 100 / float64(result.Total)))
	result.CanProceed = len(result.Valid) > 0
	switch {
	case len(result.Valid) == result.Total:
		result.Message = "All employees are valid for payslip generation"
	case len(result.Valid) == 0:
		result.Message = "No employees are valid for payslip generation"
	default:
		result.Message = fmt.Sprintf("%d out of %d employees are valid", len(result.Valid), result.Total)
	}
	v.logger.Debug("eligibility validated",
		slog.Int("month", month),
		slog.Int("year", year),
		slog.Int("valid", len(result.Valid)),
		slog.Int("invalid", len(result.Invalid)))
	return result, nil
}

func check(emp workforce.Employee, data lookups) []Issue {
	var issues []Issue
	if !emp.Active() {
		issues = append(issues, Issue{Code: IssueEmployeeInactive, Message: fmt.Sprintf("employee status is %s", emp.Status)})
	}
	if structure, ok := data.structures[emp.ID]; !ok {
		issues = append(issues, Issue{Code: IssueSalaryStructureMissing, Message: "no salary structure configured"})
	} else if !structure.Active {
		issues = append(issues, Issue{Code: IssueSalaryStructureInactive, Message: "salary structure is inactive"})
	}
	if !emp.HasBankDetails() {
		issues = append(issues, Issue{Code: IssueBankDetailsMissing, Message: "bank details are missing"})
	}
	if emp.TaxID == "" {
		issues = append(issues, Issue{Code: IssueTaxIDMissing, Message: "tax identifier is missing"})
	}
	if summary, ok := data.attendance[emp.ID]; !ok {
		issues = append(issues, Issue{Code: IssueAttendanceMissing, Message: "no attendance summary for this period"})
	} else if !summary.Approved {
		issues = append(issues, Issue{Code: IssueAttendanceNotApproved, Message: "attendance summary is not approved"})
	}
	if data.payslips[emp.ID] {
		issues = append(issues, Issue{Code: IssuePayslipExists, Message: "payslip already exists for this period"})
	}
	return issues
}

func (v *Validator) load(ctx context.Context, ids []int64, month, year int) (lookups, error) {
	var data lookups
	asOf := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, -1)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		data.employees, err = v.directory.Employees(gctx, ids)
		return err
	})
	g.Go(func() error {
		var err error
		data.structures, err = v.directory.SalaryStructures(gctx, ids, asOf)
		return err
	})
	g.Go(func() error {
		var err error
		data.attendance, err = v.directory.AttendanceSummaries(gctx, ids, month, year)
		return err
	})
	g.Go(func() error {
		if v.payslips == nil {
			data.payslips = map[int64]bool{}
			return nil
		}
		var err error
		data.payslips, err = v.payslips.ActivePayslipEmployees(gctx, ids, month, year)
		return err
	})
	if err := g.Wait(); err != nil {
		return lookups{}, fmt.Errorf("eligibility: load: %w", err)
	}
	return data, nil
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
