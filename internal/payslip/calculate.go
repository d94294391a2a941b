package payslip

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/payroll-ledger/internal/workforce"
)

// DefaultWorkingDays is assumed when no attendance summary is available.
const DefaultWorkingDays = 26

const (
	basicComponent    = "Basic Salary"
	overtimeComponent = "Overtime"
	hoursPerDay       = 8
)

var overtimeMultiplier = decimal.RequireFromString("1.5")

// Calculation is the computed pay for one employee and period.
type Calculation struct {
	Earnings   Components
	Deductions Components
	Attendance AttendanceSnapshot
}

// CheckStructure rejects earning lines that would collide with the computed
// basic or overtime lines.
func CheckStructure(structure workforce.SalaryStructure) error {
	for _, line := range structure.Earnings {
		name := strings.TrimSpace(line.Name)
		if strings.EqualFold(name, basicComponent) || strings.EqualFold(name, overtimeComponent) {
			return fmt.Errorf("salary structure earning %q uses a reserved name", line.Name)
		}
	}
	return nil
}

// Calculate derives earnings and deductions from a salary structure and the
// period's attendance. attendance may be nil, in which case the full month is
// paid.
func Calculate(structure workforce.SalaryStructure, attendance *workforce.AttendanceSummary) Calculation {
	snap := attendanceSnapshot(attendance)
	prorate := func(monthly decimal.Decimal) decimal.Decimal {
		return monthly.Mul(snap.PaidDays).Div(snap.WorkingDays).Round(2)
	}

	var calc Calculation
	calc.Attendance = snap
	calc.Earnings.Set(basicComponent, prorate(structure.Basic))
	for _, line := range structure.Earnings {
		amount := line.Amount.Round(2)
		if line.Prorate {
			amount = prorate(line.Amount)
		}
		calc.Earnings.Set(line.Name, amount)
	}
	if snap.OvertimeHours.IsPositive() {
		// basic / working days / 8 hours * 1.5 * hours
		overtime := structure.Basic.Mul(overtimeMultiplier).Mul(snap.OvertimeHours).
			Div(snap.WorkingDays.Mul(decimal.NewFromInt(hoursPerDay))).Round(2)
		calc.Earnings.Set(overtimeComponent, overtime)
	}
	calc.Deductions = Components{}
	for _, line := range structure.Deductions {
		amount := line.Amount.Round(2)
		if line.Prorate {
			amount = prorate(line.Amount)
		}
		calc.Deductions.Set(line.Name, amount)
	}
	return calc
}

func attendanceSnapshot(a *workforce.AttendanceSummary) AttendanceSnapshot {
	full := decimal.NewFromInt(DefaultWorkingDays)
	if a == nil {
		return AttendanceSnapshot{
			WorkingDays:   full,
			PresentDays:   full,
			LOPDays:       decimal.Zero,
			PaidDays:      full,
			OvertimeHours: decimal.Zero,
		}
	}
	summary := *a
	if !summary.WorkingDays.IsPositive() {
		summary.WorkingDays = full
	}
	return AttendanceSnapshot{
		WorkingDays:   summary.WorkingDays,
		PresentDays:   summary.PresentDays,
		LOPDays:       summary.LOPDays,
		PaidDays:      summary.PaidDays(),
		OvertimeHours: summary.OvertimeHours,
	}
}
