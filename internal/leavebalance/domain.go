// Package leavebalance tracks per-employee, per-leave-type, per-year leave
// entitlements across accrual, carry-forward, consumption and pending states.
package leavebalance

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/payroll-ledger/internal/shared"
)

var (
	// ErrRecordNotFound is returned when a balance id does not exist.
	ErrRecordNotFound = fmt.Errorf("leavebalance: record %w", shared.ErrNotFound)
	// ErrDuplicateBalance is returned when (employee, leave type, year) already has a record.
	ErrDuplicateBalance = fmt.Errorf("leavebalance: %w for employee, leave type and year", shared.ErrDuplicateRecord)
)

// Key identifies a balance record.
type Key struct {
	EmployeeID  int64
	LeaveTypeID int64
	Year        int
}

// Record is a stored leave balance. The available balance is never stored; it
// is derived from the four ledger fields on every read.
type Record struct {
	ID           int64
	EmployeeID   int64
	LeaveTypeID  int64
	Year         int
	TotalAccrued decimal.Decimal
	CarryForward decimal.Decimal
	TotalTaken   decimal.Decimal
	TotalPending decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Key returns the natural key of the record.
func (r Record) Key() Key {
	return Key{EmployeeID: r.EmployeeID, LeaveTypeID: r.LeaveTypeID, Year: r.Year}
}

// Balance returns accrued + carry-forward - taken - pending.
func (r Record) Balance() decimal.Decimal {
	return r.TotalAccrued.Add(r.CarryForward).Sub(r.TotalTaken).Sub(r.TotalPending)
}

// CreateInput captures a new balance record.
type CreateInput struct {
	EmployeeID   int64
	LeaveTypeID  int64
	Year         int
	TotalAccrued decimal.Decimal
	CarryForward decimal.Decimal
}

// Validate ensures the create input is coherent.
func (in CreateInput) Validate() error {
	if in.EmployeeID <= 0 || in.LeaveTypeID <= 0 {
		return shared.Invalidf("employee and leave type are required")
	}
	if err := validateYear(in.Year); err != nil {
		return err
	}
	if in.TotalAccrued.IsNegative() || in.CarryForward.IsNegative() {
		return shared.Invalidf("accrued and carry-forward days cannot be negative")
	}
	return nil
}

// UpdateInput overwrites the provided fields; nil fields are left untouched.
type UpdateInput struct {
	TotalAccrued *decimal.Decimal
	TotalTaken   *decimal.Decimal
	TotalPending *decimal.Decimal
	CarryForward *decimal.Decimal
}

// Empty reports whether no field is set.
func (in UpdateInput) Empty() bool {
	return in.TotalAccrued == nil && in.TotalTaken == nil && in.TotalPending == nil && in.CarryForward == nil
}

// Validate rejects negative field values. The resulting balance may still be negative.
func (in UpdateInput) Validate() error {
	fields := []struct {
		name  string
		value *decimal.Decimal
	}{
		{"total_accrued", in.TotalAccrued},
		{"total_taken", in.TotalTaken},
		{"total_pending", in.TotalPending},
		{"carry_forward", in.CarryForward},
	}
	for _, f := range fields {
		if f.value != nil && f.value.IsNegative() {
			return shared.Invalidf("%s cannot be negative", f.name)
		}
	}
	return nil
}

// Apply returns r with the provided fields overwritten.
func (in UpdateInput) Apply(r Record) Record {
	if in.TotalAccrued != nil {
		r.TotalAccrued = *in.TotalAccrued
	}
	if in.TotalTaken != nil {
		r.TotalTaken = *in.TotalTaken
	}
	if in.TotalPending != nil {
		r.TotalPending = *in.TotalPending
	}
	if in.CarryForward != nil {
		r.CarryForward = *in.CarryForward
	}
	return r
}

// Allocation grants days of one leave type.
type Allocation struct {
	LeaveTypeID int64
	Days        decimal.Decimal
}

// BulkInitializeInput describes a top-up across the roster.
type BulkInitializeInput struct {
	Year        int
	Allocations []Allocation
	// EmployeeIDs restricts the run; empty means the full active roster.
	EmployeeIDs []int64
}

// Validate ensures the batch is well formed.
func (in BulkInitializeInput) Validate() error {
	if err := validateYear(in.Year); err != nil {
		return err
	}
	if len(in.Allocations) == 0 {
		return shared.Invalidf("leave allocations are required")
	}
	seen := make(map[int64]struct{}, len(in.Allocations))
	for _, a := range in.Allocations {
		if a.LeaveTypeID <= 0 {
			return shared.Invalidf("leave type id must be positive")
		}
		if a.Days.IsNegative() {
			return shared.Invalidf("allocation for leave type %d cannot be negative", a.LeaveTypeID)
		}
		if _, dup := seen[a.LeaveTypeID]; dup {
			return shared.Invalidf("leave type %d allocated more than once", a.LeaveTypeID)
		}
		seen[a.LeaveTypeID] = struct{}{}
	}
	return nil
}

// Grant is a single additive accrual against one key.
type Grant struct {
	Key
	Days decimal.Decimal
}

// AccrueResult counts inserted and merged keys.
type AccrueResult struct {
	Created int
	Updated int
}

// BulkInitializeResult reports the outcome of a bulk initialization.
type BulkInitializeResult struct {
	Created    int
	Updated    int
	Employees  int
	LeaveTypes int
}

// Filter narrows listings. Nil fields are ignored.
type Filter struct {
	EmployeeID  *int64
	LeaveTypeID *int64
	Year        *int
}

// Page is a paginated listing.
type Page struct {
	Records    []Record
	Pagination shared.Pagination
}

// TypeSummary aggregates balances of one leave type for a year.
type TypeSummary struct {
	LeaveTypeID       int64           `json:"leave_type_id"`
	Records           int             `json:"records"`
	TotalAccrued      decimal.Decimal `json:"total_accrued"`
	TotalCarryForward decimal.Decimal `json:"total_carry_forward"`
	TotalTaken        decimal.Decimal `json:"total_taken"`
	TotalPending      decimal.Decimal `json:"total_pending"`
	TotalBalance      decimal.Decimal `json:"total_balance"`
}

func validateYear(year int) error {
	if year < 2000 || year > 2100 {
		return shared.Invalidf("year %d out of range", year)
	}
	return nil
}
