// Package payslip implements the payslip lifecycle: generation from salary
// structures, manual edits while in draft, finalization and payment.
package payslip

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"

	"github.com/odyssey-erp/payroll-ledger/internal/shared"
)

var (
	// ErrPayslipNotFound is returned when a payslip id does not exist.
	ErrPayslipNotFound = fmt.Errorf("payslip: %w", shared.ErrNotFound)
	// ErrDuplicatePayslip is returned when the employee already holds a
	// non-cancelled payslip for the period.
	ErrDuplicatePayslip = fmt.Errorf("payslip: %w for employee and period", shared.ErrDuplicateRecord)
	// ErrInvalidTransition is returned when the lifecycle forbids the change.
	ErrInvalidTransition = fmt.Errorf("payslip: %w", shared.ErrInvalidState)
)

// Status enumerates the payslip lifecycle.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusFinalized Status = "finalized"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// CanTransitionTo reports whether the lifecycle allows moving to next.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusDraft:
		return next == StatusFinalized || next == StatusCancelled
	case StatusFinalized:
		return next == StatusPaid
	case StatusPaid, StatusCancelled:
		return false
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusFinalized, StatusPaid, StatusCancelled:
		return true
	default:
		return false
	}
}

// Period identifies a payroll month.
type Period struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

// Validate checks month and year bounds.
func (p Period) Validate() error {
	if p.Month < 1 || p.Month > 12 {
		return shared.Invalidf("month must be between 1 and 12")
	}
	if p.Year < 2000 || p.Year > 2100 {
		return shared.Invalidf("year %d out of range", p.Year)
	}
	return nil
}

// Start returns the first day of the period in UTC.
func (p Period) Start() time.Time {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
}

// End returns the last day of the period in UTC.
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, -1)
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// PreviousPeriod returns the month before the one containing now.
func PreviousPeriod(now time.Time) Period {
	prev := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	return Period{Month: int(prev.Month()), Year: prev.Year()}
}

// EmployeeSnapshot freezes the employee details printed on the payslip.
type EmployeeSnapshot struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	Department string `json:"department,omitempty"`
	Position   string `json:"position,omitempty"`
}

// AttendanceSnapshot freezes the attendance figures used in the calculation.
type AttendanceSnapshot struct {
	WorkingDays   decimal.Decimal `json:"working_days"`
	PresentDays   decimal.Decimal `json:"present_days"`
	LOPDays       decimal.Decimal `json:"lop_days"`
	PaidDays      decimal.Decimal `json:"paid_days"`
	OvertimeHours decimal.Decimal `json:"overtime_hours"`
}

// Payslip is one employee's pay statement for a period.
type Payslip struct {
	ID               uuid.UUID
	Number           string
	EmployeeID       int64
	Period           Period
	TemplateID       *int64
	Employee         EmployeeSnapshot
	Attendance       AttendanceSnapshot
	Earnings         Components
	Deductions       Components
	GrossEarnings    decimal.Decimal
	TotalDeductions  decimal.Decimal
	NetPay           decimal.Decimal
	Status           Status
	ManuallyEdited   bool
	GeneratedBy      string
	GeneratedAt      time.Time
	LastEditedBy     string
	LastEditedAt     *time.Time
	FinalizedBy      string
	FinalizedAt      *time.Time
	SnapshotDigest   string
	PaidBy           string
	PaidAt           *time.Time
	PaymentMethod    string
	PaymentReference string
	CancelledBy      string
	CancelledAt      *time.Time
	UpdatedAt        time.Time
}

// SetComponents replaces the pay lines and recomputes the totals. The payslip
// is left untouched when the lines are invalid or net pay would be negative.
func (p *Payslip) SetComponents(earnings, deductions Components) error {
	if len(earnings) == 0 {
		return shared.Invalidf("at least one earnings component is required")
	}
	if err := earnings.Validate("earnings"); err != nil {
		return err
	}
	if err := deductions.Validate("deductions"); err != nil {
		return err
	}
	gross := earnings.Total()
	deducted := deductions.Total()
	net := gross.Sub(deducted)
	if net.IsNegative() {
		return shared.Invalidf("net pay cannot be negative (gross %s, deductions %s)", gross.StringFixed(2), deducted.StringFixed(2))
	}
	p.Earnings = earnings.Clone()
	p.Deductions = deductions.Clone()
	p.GrossEarnings = gross
	p.TotalDeductions = deducted
	p.NetPay = net
	return nil
}

// Digest hashes the frozen figures of the payslip.
func (p Payslip) Digest() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%d|%s|", p.ID, p.EmployeeID, p.Period)
	for _, line := range p.Earnings {
		fmt.Fprintf(&b, "e:%s=%s|", line.Name, line.Amount.StringFixed(2))
	}
	for _, line := range p.Deductions {
		fmt.Fprintf(&b, "d:%s=%s|", line.Name, line.Amount.StringFixed(2))
	}
	fmt.Fprintf(&b, "%s|%s|%s", p.GrossEarnings.StringFixed(2), p.TotalDeductions.StringFixed(2), p.NetPay.StringFixed(2))
	sum := blake2b.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// PayslipNumber formats the human facing number PS{year}{MM}{code}.
func PayslipNumber(period Period, employeeCode string) string {
	return fmt.Sprintf("PS%04d%02d%s", period.Year, period.Month, employeeCode)
}

// GenerateInput drives payslip generation.
type GenerateInput struct {
	EmployeeIDs  []int64
	Period       Period
	TemplateID   *int64
	Actor        string
	OnlyEligible bool
}

// OutcomeResult classifies a per-employee generation result.
type OutcomeResult string

const (
	OutcomeCreated OutcomeResult = "created"
	OutcomeSkipped OutcomeResult = "skipped"
	OutcomeFailed  OutcomeResult = "failed"
)

// Outcome reports what happened to one employee during generation.
type Outcome struct {
	EmployeeID int64         `json:"employee_id"`
	Result     OutcomeResult `json:"result"`
	PayslipID  *uuid.UUID    `json:"payslip_id,omitempty"`
	Reason     string        `json:"reason,omitempty"`
}

// GenerateResult aggregates the outcomes of a generation run.
type GenerateResult struct {
	Period   Period    `json:"period"`
	Outcomes []Outcome `json:"outcomes"`
	Created  int       `json:"created"`
	Skipped  int       `json:"skipped"`
	Failed   int       `json:"failed"`
}

func (r *GenerateResult) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Result {
	case OutcomeCreated:
		r.Created++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
}

// MinEditReasonLength is the minimum length of a manual edit reason.
const MinEditReasonLength = 10

// EditInput replaces the components of a draft payslip.
type EditInput struct {
	ID         uuid.UUID
	Earnings   Components
	Deductions Components
	Reason     string
	Actor      string
}

// Validate checks the reason; component checks happen in SetComponents.
func (in EditInput) Validate() error {
	if utf8.RuneCountInString(strings.TrimSpace(in.Reason)) < MinEditReasonLength {
		return shared.Invalidf("edit reason must be at least %d characters", MinEditReasonLength)
	}
	return nil
}

// DefaultPaymentMethod is recorded when MarkPaid omits a method.
const DefaultPaymentMethod = "Bank Transfer"

// MarkPaidInput records a disbursement.
type MarkPaidInput struct {
	ID               uuid.UUID
	Actor            string
	PaymentMethod    string
	PaymentReference string
}

// BulkFailure describes one item a bulk call could not process.
type BulkFailure struct {
	ID     uuid.UUID `json:"id"`
	Reason string    `json:"reason"`
}

// BulkResult aggregates a bulk transition.
type BulkResult struct {
	SuccessCount int           `json:"success_count"`
	FailedCount  int           `json:"failed_count"`
	Failures     []BulkFailure `json:"failures"`
}

// ListFilter narrows payslip listings. Zero values are ignored.
type ListFilter struct {
	EmployeeID int64
	Month      int
	Year       int
	Status     Status
	Page       int
	PerPage    int
}

// ListPage is a page of payslips.
type ListPage struct {
	Payslips   []Payslip
	Pagination shared.Pagination
}

// PeriodSummary aggregates the non-cancelled payslips of a period.
type PeriodSummary struct {
	Period          Period          `json:"period"`
	Count           int             `json:"count"`
	GrossEarnings   decimal.Decimal `json:"gross_earnings"`
	TotalDeductions decimal.Decimal `json:"total_deductions"`
	NetPay          decimal.Decimal `json:"net_pay"`
	ByStatus        map[Status]int  `json:"by_status"`
}
