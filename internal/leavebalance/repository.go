package leavebalance

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/payroll-ledger/internal/platform/db"
	"github.com/odyssey-erp/payroll-ledger/internal/shared"
)

// Repository defines leave balance persistence. Every method is a single
// atomic unit against the store.
type Repository interface {
	Insert(ctx context.Context, in CreateInput) (Record, error)
	Get(ctx context.Context, id int64) (Record, error)
	Update(ctx context.Context, id int64, in UpdateInput) (Record, error)
	Delete(ctx context.Context, id int64) error
	// Accrue adds each grant to the accrued total of its key, inserting missing keys.
	Accrue(ctx context.Context, grants []Grant) (AccrueResult, error)
	List(ctx context.Context, filter Filter, limit, offset int) ([]Record, int, error)
	Summary(ctx context.Context, year int) ([]TypeSummary, error)
}

var _ Repository = (*pgRepository)(nil)

const (
	balanceColumns  = `id, employee_id, leave_type_id, year, total_accrued, carry_forward, total_taken, total_pending, created_at, updated_at`
	uniqueKeyName   = "uq_leave_balances_key"
	accrueBatchSize = 500
)

// accrueSQL pushes the read-modify-write into Postgres so concurrent top-ups
// on the same key serialize on the row lock instead of losing an addition.
const accrueSQL = `INSERT INTO leave_balances (employee_id, leave_type_id, year, total_accrued, carry_forward, total_taken, total_pending)
VALUES ($1, $2, $3, $4, 0, 0, 0)
ON CONFLICT (employee_id, leave_type_id, year) DO UPDATE
SET total_accrued = leave_balances.total_accrued + EXCLUDED.total_accrued,
    updated_at = NOW()
RETURNING (xmax = 0) AS inserted`

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the Postgres repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func scanRecord(row pgx.Row) (Record, error) {
	var r Record
	err := row.Scan(&r.ID, &r.EmployeeID, &r.LeaveTypeID, &r.Year, &r.TotalAccrued, &r.CarryForward,
		&r.TotalTaken, &r.TotalPending, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	return r, err
}

func (r *pgRepository) Insert(ctx context.Context, in CreateInput) (Record, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO leave_balances (employee_id, leave_type_id, year, total_accrued, carry_forward, total_taken, total_pending)
VALUES ($1, $2, $3, $4, $5, 0, 0)
RETURNING `+balanceColumns, in.EmployeeID, in.LeaveTypeID, in.Year, in.TotalAccrued, in.CarryForward)
	rec, err := scanRecord(row)
	if shared.IsUniqueViolation(err, uniqueKeyName) {
		return Record{}, ErrDuplicateBalance
	}
	return rec, err
}

func (r *pgRepository) Get(ctx context.Context, id int64) (Record, error) {
	return scanRecord(r.pool.QueryRow(ctx, `SELECT `+balanceColumns+` FROM leave_balances WHERE id = $1`, id))
}

func (r *pgRepository) Update(ctx context.Context, id int64, in UpdateInput) (Record, error) {
	return scanRecord(r.pool.QueryRow(ctx, `UPDATE leave_balances SET
    total_accrued = COALESCE($2, total_accrued),
    total_taken = COALESCE($3, total_taken),
    total_pending = COALESCE($4, total_pending),
    carry_forward = COALESCE($5, carry_forward),
    updated_at = NOW()
WHERE id = $1
RETURNING `+balanceColumns, id, in.TotalAccrued, in.TotalTaken, in.TotalPending, in.CarryForward))
}

func (r *pgRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM leave_balances WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Accrue runs every grant inside one read-committed transaction so a failed
// batch leaves no partial top-up behind.
func (r *pgRepository) Accrue(ctx context.Context, grants []Grant) (AccrueResult, error) {
	var result AccrueResult
	err := db.WithTxIsolation(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		for start := 0; start < len(grants); start += accrueBatchSize {
			end := min(start+accrueBatchSize, len(grants))
			chunk := grants[start:end]
			batch := &pgx.Batch{}
			for _, g := range chunk {
				batch.Queue(accrueSQL, g.EmployeeID, g.LeaveTypeID, g.Year, g.Days)
			}
			br := tx.SendBatch(ctx, batch)
			for _, g := range chunk {
				var inserted bool
				if err := br.QueryRow().Scan(&inserted); err != nil {
					_ = br.Close()
					return fmt.Errorf("accrue employee %d leave type %d: %w", g.EmployeeID, g.LeaveTypeID, err)
				}
				if inserted {
					result.Created++
				} else {
					result.Updated++
				}
			}
			if err := br.Close(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return AccrueResult{}, err
	}
	return result, nil
}

func (r *pgRepository) List(ctx context.Context, filter Filter, limit, offset int) ([]Record, int, error) {
	const where = `WHERE ($1::bigint IS NULL OR employee_id = $1)
  AND ($2::bigint IS NULL OR leave_type_id = $2)
  AND ($3::int IS NULL OR year = $3)`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM leave_balances `+where,
		filter.EmployeeID, filter.LeaveTypeID, filter.Year).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+balanceColumns+` FROM leave_balances `+where+`
ORDER BY employee_id, leave_type_id, year, id
LIMIT $4 OFFSET $5`, filter.EmployeeID, filter.LeaveTypeID, filter.Year, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	records := make([]Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

func (r *pgRepository) Summary(ctx context.Context, year int) ([]TypeSummary, error) {
	rows, err := r.pool.Query(ctx, `SELECT leave_type_id, COUNT(*),
       COALESCE(SUM(total_accrued), 0), COALESCE(SUM(carry_forward), 0),
       COALESCE(SUM(total_taken), 0), COALESCE(SUM(total_pending), 0),
       COALESCE(SUM(total_accrued + carry_forward - total_taken - total_pending), 0)
FROM leave_balances WHERE year = $1
GROUP BY leave_type_id ORDER BY leave_type_id`, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []TypeSummary{}
	for rows.Next() {
		var s TypeSummary
		if err := rows.Scan(&s.LeaveTypeID, &s.Records, &s.TotalAccrued, &s.TotalCarryForward,
			&s.TotalTaken, &s.TotalPending, &s.TotalBalance); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
