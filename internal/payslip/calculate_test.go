package payslip

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/payroll-ledger/internal/workforce"
)

func TestCalculateProratesAndAddsOvertime(t *testing.T) {
	structure := workforce.SalaryStructure{
		Active: true,
		Basic:  dec("26000"),
		Earnings: []workforce.SalaryLine{
			{Name: "HRA", Amount: dec("10400"), Prorate: true},
			{Name: "Internet", Amount: dec("500")},
		},
		Deductions: []workforce.SalaryLine{
			{Name: "Provident Fund", Amount: dec("1800")},
			{Name: "Canteen", Amount: dec("260"), Prorate: true},
		},
	}
	attendance := &workforce.AttendanceSummary{
		WorkingDays:   decimal.NewFromInt(26),
		PresentDays:   decimal.NewFromInt(24),
		LOPDays:       decimal.NewFromInt(2),
		OvertimeHours: decimal.NewFromInt(4),
		Approved:      true,
	}

	calc := Calculate(structure, attendance)

	require.Equal(t, []string{"Basic Salary", "HRA", "Internet", "Overtime"}, calc.Earnings.Names())
	basic, _ := calc.Earnings.Get("Basic Salary")
	require.Equal(t, "24000.00", basic.StringFixed(2))
	hra, _ := calc.Earnings.Get("HRA")
	require.Equal(t, "9600.00", hra.StringFixed(2))
	internet, _ := calc.Earnings.Get("Internet")
	require.Equal(t, "500.00", internet.StringFixed(2))
	overtime, _ := calc.Earnings.Get("Overtime")
	require.Equal(t, "750.00", overtime.StringFixed(2))

	require.Equal(t, []string{"Provident Fund", "Canteen"}, calc.Deductions.Names())
	canteen, _ := calc.Deductions.Get("Canteen")
	require.Equal(t, "240.00", canteen.StringFixed(2))
	require.True(t, calc.Attendance.PaidDays.Equal(decimal.NewFromInt(24)))
}

func TestCalculateRoundsToCents(t *testing.T) {
	structure := workforce.SalaryStructure{Active: true, Basic: dec("1000")}
	attendance := &workforce.AttendanceSummary{WorkingDays: decimal.NewFromInt(22), PresentDays: decimal.NewFromInt(21), LOPDays: decimal.NewFromInt(1)}

	calc := Calculate(structure, attendance)
	basic, _ := calc.Earnings.Get("Basic Salary")
	require.Equal(t, "954.55", basic.String())
	_, hasOvertime := calc.Earnings.Get("Overtime")
	require.False(t, hasOvertime)
	require.NotNil(t, calc.Deductions)
}

func TestCalculateProratesOnPresentDays(t *testing.T) {
	structure := workforce.SalaryStructure{Active: true, Basic: dec("2600")}

	calc := Calculate(structure, &workforce.AttendanceSummary{WorkingDays: decimal.NewFromInt(26), PresentDays: decimal.NewFromInt(20)})
	basic, _ := calc.Earnings.Get("Basic Salary")
	require.Equal(t, "2000.00", basic.StringFixed(2))
	require.True(t, calc.Attendance.PaidDays.Equal(decimal.NewFromInt(20)))

	calc = Calculate(structure, &workforce.AttendanceSummary{WorkingDays: decimal.NewFromInt(26), PresentDays: decimal.NewFromInt(28)})
	basic, _ = calc.Earnings.Get("Basic Salary")
	require.Equal(t, "2600.00", basic.StringFixed(2))

	calc = Calculate(structure, &workforce.AttendanceSummary{PresentDays: decimal.NewFromInt(13)})
	basic, _ = calc.Earnings.Get("Basic Salary")
	require.Equal(t, "1300.00", basic.StringFixed(2), "missing working days fall back to the default month")
}

func TestCalculateWithoutAttendancePaysFullMonth(t *testing.T) {
	calc := Calculate(workforce.SalaryStructure{Active: true, Basic: dec("5000")}, nil)
	basic, _ := calc.Earnings.Get("Basic Salary")
	require.True(t, basic.Equal(dec("5000")))
	require.True(t, calc.Attendance.WorkingDays.Equal(decimal.NewFromInt(DefaultWorkingDays)))
}

func TestCheckStructureRejectsReservedEarnings(t *testing.T) {
	ok := workforce.SalaryStructure{
		Basic:      dec("1000"),
		Earnings:   []workforce.SalaryLine{{Name: "HRA", Amount: dec("100")}},
		Deductions: []workforce.SalaryLine{{Name: "Overtime", Amount: dec("10")}},
	}
	require.NoError(t, CheckStructure(ok))

	for _, name := range []string{"Basic Salary", "overtime", " Basic salary "} {
		bad := ok
		bad.Earnings = []workforce.SalaryLine{{Name: name, Amount: dec("5000")}}
		err := CheckStructure(bad)
		require.Error(t, err, name)
		require.Contains(t, err.Error(), "reserved name")
	}
}
