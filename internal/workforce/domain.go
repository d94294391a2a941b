// Package workforce exposes the HR records the payroll ledger reads but does not
// own: the employee roster, salary structures, attendance summaries and the
// leave-type catalogue.
package workforce

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EmployeeStatus enumerates employment states.
type EmployeeStatus string

const (
	EmployeeStatusActive     EmployeeStatus = "Active"
	EmployeeStatusInactive   EmployeeStatus = "Inactive"
	EmployeeStatusTerminated EmployeeStatus = "Terminated"
)

// Employee is the roster projection needed by payroll.
type Employee struct {
	ID                int64
	Code              string
	FirstName         string
	LastName          string
	Department        string
	Position          string
	Status            EmployeeStatus
	BankName          string
	BankAccountNumber string
	TaxID             string
}

// FullName joins the name parts.
func (e Employee) FullName() string {
	return strings.TrimSpace(e.FirstName + " " + e.LastName)
}

// Active reports whether the employee is currently employed.
func (e Employee) Active() bool {
	return e.Status == EmployeeStatusActive
}

// HasBankDetails reports whether salary can be disbursed to the employee.
func (e Employee) HasBankDetails() bool {
	return strings.TrimSpace(e.BankName) != "" && strings.TrimSpace(e.BankAccountNumber) != ""
}

// SalaryLine is one earnings or deductions component of a salary structure.
type SalaryLine struct {
	Name    string
	Amount  decimal.Decimal
	Prorate bool
}

// SalaryStructure holds the monthly pay components of an employee.
type SalaryStructure struct {
	ID            int64
	EmployeeID    int64
	Active        bool
	EffectiveFrom time.Time
	Basic         decimal.Decimal
	Earnings      []SalaryLine
	Deductions    []SalaryLine
}

// AttendanceSummary aggregates a month of attendance for one employee.
type AttendanceSummary struct {
	EmployeeID    int64
	Month         int
	Year          int
	WorkingDays   decimal.Decimal
	PresentDays   decimal.Decimal
	LOPDays       decimal.Decimal
	OvertimeHours decimal.Decimal
	Approved      bool
}

// PaidDays returns the present days clamped to [0, WorkingDays]. LOP days are
// informational and do not reduce pay on their own.
func (a AttendanceSummary) PaidDays() decimal.Decimal {
	return decimal.Min(decimal.Max(a.PresentDays, decimal.Zero), a.WorkingDays)
}
