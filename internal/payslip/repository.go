package payslip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/payroll-ledger/internal/platform/db"
	"github.com/odyssey-erp/payroll-ledger/internal/shared"
)

// Repository persists payslips.
type Repository interface {
	Insert(ctx context.Context, p Payslip) (Payslip, error)
	Get(ctx context.Context, id uuid.UUID) (Payslip, error)
	// Mutate locks the payslip, hands a copy to fn and persists the copy only
	// when fn succeeds and the status is still the one fn observed.
	Mutate(ctx context.Context, id uuid.UUID, fn func(*Payslip) error) (Payslip, error)
	// ActiveEmployees reports which employees hold a non-cancelled payslip for the period.
	ActiveEmployees(ctx context.Context, employeeIDs []int64, period Period) (map[int64]bool, error)
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]Payslip, int, error)
	Summary(ctx context.Context, period Period) (PeriodSummary, error)
}

var _ Repository = (*pgRepository)(nil)

const activePeriodIndex = "uq_payslips_active_period"

const payslipColumns = `id, payslip_number, employee_id, period_month, period_year, template_id,
employee_snapshot, attendance_snapshot, earnings, deductions, gross_earnings, total_deductions, net_pay,
status, manually_edited, generated_by, generated_at, last_edited_by, last_edited_at,
finalized_by, finalized_at, snapshot_digest, paid_by, paid_at, payment_method, payment_reference,
cancelled_by, cancelled_at, updated_at`

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the Postgres repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func scanPayslip(row pgx.Row) (Payslip, error) {
	var (
		p          Payslip
		status     string
		earnings   []Component
		deductions []Component
	)
	err := row.Scan(&p.ID, &p.Number, &p.EmployeeID, &p.Period.Month, &p.Period.Year, &p.TemplateID,
		&p.Employee, &p.Attendance, &earnings, &deductions, &p.GrossEarnings, &p.TotalDeductions, &p.NetPay,
		&status, &p.ManuallyEdited, &p.GeneratedBy, &p.GeneratedAt, &p.LastEditedBy, &p.LastEditedAt,
		&p.FinalizedBy, &p.FinalizedAt, &p.SnapshotDigest, &p.PaidBy, &p.PaidAt, &p.PaymentMethod, &p.PaymentReference,
		&p.CancelledBy, &p.CancelledAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payslip{}, ErrPayslipNotFound
	}
	if err != nil {
		return Payslip{}, err
	}
	p.Status = Status(status)
	p.Earnings = Components(earnings)
	p.Deductions = Components(deductions)
	return p, nil
}

// Components are stored as a JSON array since jsonb does not keep object key order.
func storedLines(c Components) []Component {
	if c == nil {
		return []Component{}
	}
	return []Component(c)
}

func (r *pgRepository) Insert(ctx context.Context, p Payslip) (Payslip, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO payslips (id, payslip_number, employee_id, period_month, period_year, template_id,
    employee_snapshot, attendance_snapshot, earnings, deductions, gross_earnings, total_deductions, net_pay,
    status, manually_edited, generated_by, generated_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $17)
RETURNING `+payslipColumns,
		p.ID, p.Number, p.EmployeeID, p.Period.Month, p.Period.Year, p.TemplateID,
		p.Employee, p.Attendance, storedLines(p.Earnings), storedLines(p.Deductions),
		p.GrossEarnings, p.TotalDeductions, p.NetPay, string(p.Status), p.ManuallyEdited, p.GeneratedBy, p.GeneratedAt)
	saved, err := scanPayslip(row)
	if shared.IsUniqueViolation(err, activePeriodIndex) {
		return Payslip{}, ErrDuplicatePayslip
	}
	return saved, err
}

func (r *pgRepository) Get(ctx context.Context, id uuid.UUID) (Payslip, error) {
	return scanPayslip(r.pool.QueryRow(ctx, `SELECT `+payslipColumns+` FROM payslips WHERE id = $1`, id))
}

// Mutate runs at read committed: a second writer waits on the row lock and
// then observes the committed status rather than failing serialization.
func (r *pgRepository) Mutate(ctx context.Context, id uuid.UUID, fn func(*Payslip) error) (Payslip, error) {
	var out Payslip
	err := db.WithTxIsolation(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		current, err := scanPayslip(tx.QueryRow(ctx, `SELECT `+payslipColumns+` FROM payslips WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		next := current
		next.Earnings = current.Earnings.Clone()
		next.Deductions = current.Deductions.Clone()
		if err := fn(&next); err != nil {
			return err
		}
		if next.UpdatedAt.Equal(current.UpdatedAt) {
			next.UpdatedAt = time.Now()
		}
		tag, err := tx.Exec(ctx, `UPDATE payslips SET
    earnings = $3, deductions = $4, gross_earnings = $5, total_deductions = $6, net_pay = $7,
    status = $8, manually_edited = $9, last_edited_by = $10, last_edited_at = $11,
    finalized_by = $12, finalized_at = $13, snapshot_digest = $14,
    paid_by = $15, paid_at = $16, payment_method = $17, payment_reference = $18,
    cancelled_by = $19, cancelled_at = $20, updated_at = $21
WHERE id = $1 AND status = $2`,
			id, string(current.Status),
			storedLines(next.Earnings), storedLines(next.Deductions), next.GrossEarnings, next.TotalDeductions, next.NetPay,
			string(next.Status), next.ManuallyEdited, next.LastEditedBy, next.LastEditedAt,
			next.FinalizedBy, next.FinalizedAt, next.SnapshotDigest,
			next.PaidBy, next.PaidAt, next.PaymentMethod, next.PaymentReference,
			next.CancelledBy, next.CancelledAt, next.UpdatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: payslip %s changed concurrently", ErrInvalidTransition, id)
		}
		out = next
		return nil
	})
	if err != nil {
		return Payslip{}, err
	}
	return out, nil
}

func (r *pgRepository) ActiveEmployees(ctx context.Context, employeeIDs []int64, period Period) (map[int64]bool, error) {
	out := make(map[int64]bool, len(employeeIDs))
	if len(employeeIDs) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT employee_id FROM payslips
WHERE employee_id = ANY($1) AND period_month = $2 AND period_year = $3 AND status <> $4`,
		employeeIDs, period.Month, period.Year, string(StatusCancelled))
	if err != nil {
		return nil, fmt.Errorf("payslip: query active payslips: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (r *pgRepository) List(ctx context.Context, filter ListFilter, limit, offset int) ([]Payslip, int, error) {
	const where = `WHERE ($1 = 0 OR employee_id = $1)
  AND ($2 = 0 OR period_month = $2)
  AND ($3 = 0 OR period_year = $3)
  AND ($4 = '' OR status = $4)`
	args := []any{filter.EmployeeID, filter.Month, filter.Year, string(filter.Status)}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM payslips `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+payslipColumns+` FROM payslips `+where+`
ORDER BY period_year DESC, period_month DESC, employee_id, generated_at
LIMIT $5 OFFSET $6`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := make([]Payslip, 0, limit)
	for rows.Next() {
		p, err := scanPayslip(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (r *pgRepository) Summary(ctx context.Context, period Period) (PeriodSummary, error) {
	summary := PeriodSummary{Period: period, ByStatus: map[Status]int{}}
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*), COALESCE(SUM(gross_earnings), 0),
       COALESCE(SUM(total_deductions), 0), COALESCE(SUM(net_pay), 0)
FROM payslips
WHERE period_month = $1 AND period_year = $2 AND status <> $3
GROUP BY status`, period.Month, period.Year, string(StatusCancelled))
	if err != nil {
		return PeriodSummary{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status               string
			count                int
			gross, deducted, net decimal.Decimal
		)
		if err := rows.Scan(&status, &count, &gross, &deducted, &net); err != nil {
			return PeriodSummary{}, err
		}
		summary.ByStatus[Status(status)] = count
		summary.Count += count
		summary.GrossEarnings = summary.GrossEarnings.Add(gross)
		summary.TotalDeductions = summary.TotalDeductions.Add(deducted)
		summary.NetPay = summary.NetPay.Add(net)
	}
	return summary, rows.Err()
}
