package workforce

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads workforce records from Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository using the provided pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Employees returns the employees matching ids keyed by id. Unknown ids are absent.
func (r *Repository) Employees(ctx context.Context, ids []int64) (map[int64]Employee, error) {
	out := make(map[int64]Employee, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id, employee_code, first_name, last_name, COALESCE(department, ''),
       COALESCE(position, ''), status, COALESCE(bank_name, ''), COALESCE(bank_account_number, ''), COALESCE(tax_id, '')
FROM employees WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("workforce: query employees: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e Employee
		var status string
		if err := rows.Scan(&e.ID, &e.Code, &e.FirstName, &e.LastName, &e.Department, &e.Position, &status,
			&e.BankName, &e.BankAccountNumber, &e.TaxID); err != nil {
			return nil, err
		}
		e.Status = EmployeeStatus(status)
		out[e.ID] = e
	}
	return out, rows.Err()
}

// ActiveEmployeeIDs returns the active roster ordered by id.
func (r *Repository) ActiveEmployeeIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM employees WHERE status = $1 ORDER BY id`, string(EmployeeStatusActive))
	if err != nil {
		return nil, fmt.Errorf("workforce: query roster: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// ActiveLeaveTypes returns the subset of ids that reference active leave types.
func (r *Repository) ActiveLeaveTypes(ctx context.Context, ids []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id FROM leave_types WHERE id = ANY($1) AND is_active`, ids)
	if err != nil {
		return nil, fmt.Errorf("workforce: query leave types: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	for _, id := range found {
		out[id] = true
	}
	return out, nil
}

// SalaryStructures returns the latest structure effective on asOf for each employee,
// including inactive structures so callers can distinguish missing from inactive.
func (r *Repository) SalaryStructures(ctx context.Context, ids []int64, asOf time.Time) (map[int64]SalaryStructure, error) {
	out := make(map[int64]SalaryStructure, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT ON (employee_id) id, employee_id, is_active, effective_from, basic
FROM salary_structures
WHERE employee_id = ANY($1) AND effective_from <= $2
ORDER BY employee_id, is_active DESC, effective_from DESC`, ids, asOf)
	if err != nil {
		return nil, fmt.Errorf("workforce: query salary structures: %w", err)
	}
	structureIDs := make([]int64, 0, len(ids))
	byStructure := make(map[int64]int64, len(ids))
	for rows.Next() {
		var s SalaryStructure
		if err := rows.Scan(&s.ID, &s.EmployeeID, &s.Active, &s.EffectiveFrom, &s.Basic); err != nil {
			rows.Close()
			return nil, err
		}
		out[s.EmployeeID] = s
		structureIDs = append(structureIDs, s.ID)
		byStructure[s.ID] = s.EmployeeID
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(structureIDs) == 0 {
		return out, nil
	}

	lineRows, err := r.pool.Query(ctx, `SELECT salary_structure_id, kind, name, amount, prorate
FROM salary_structure_lines WHERE salary_structure_id = ANY($1)
ORDER BY salary_structure_id, position`, structureIDs)
	if err != nil {
		return nil, fmt.Errorf("workforce: query salary lines: %w", err)
	}
	defer lineRows.Close()
	for lineRows.Next() {
		var (
			structureID int64
			kind        string
			line        SalaryLine
		)
		if err := lineRows.Scan(&structureID, &kind, &line.Name, &line.Amount, &line.Prorate); err != nil {
			return nil, err
		}
		employeeID := byStructure[structureID]
		s := out[employeeID]
		switch kind {
		case "earning":
			s.Earnings = append(s.Earnings, line)
		case "deduction":
			s.Deductions = append(s.Deductions, line)
		}
		out[employeeID] = s
	}
	return out, lineRows.Err()
}

// AttendanceSummaries returns monthly attendance keyed by employee id.
func (r *Repository) AttendanceSummaries(ctx context.Context, ids []int64, month, year int) (map[int64]AttendanceSummary, error) {
	out := make(map[int64]AttendanceSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT employee_id, working_days, present_days, lop_days, overtime_hours, status = 'Approved'
FROM attendance_summaries WHERE employee_id = ANY($1) AND month = $2 AND year = $3`, ids, month, year)
	if err != nil {
		return nil, fmt.Errorf("workforce: query attendance: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		a := AttendanceSummary{Month: month, Year: year}
		if err := rows.Scan(&a.EmployeeID, &a.WorkingDays, &a.PresentDays, &a.LOPDays, &a.OvertimeHours, &a.Approved); err != nil {
			return nil, err
		}
		out[a.EmployeeID] = a
	}
	return out, rows.Err()
}
