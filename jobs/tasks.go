package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/payroll-ledger/internal/leavebalance"
	"github.com/odyssey-erp/payroll-ledger/internal/payslip"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLeaveBulkInitialize tops up leave balances across the roster.
	TaskLeaveBulkInitialize = "leave:bulk_initialize"
	// TaskPayslipGenerateAll generates draft payslips for the active roster.
	TaskPayslipGenerateAll = "payslip:generate_all"
)

// LeaveAllocationPayload is one leave type grant.
type LeaveAllocationPayload struct {
	LeaveTypeID int64           `json:"leave_type_id"`
	Days        decimal.Decimal `json:"days"`
}

// LeaveBulkInitializePayload describes a bulk leave top-up.
type LeaveBulkInitializePayload struct {
	Year        int                      `json:"year"`
	Allocations []LeaveAllocationPayload `json:"allocations"`
	EmployeeIDs []int64                  `json:"employee_ids,omitempty"`
	RequestedBy string                   `json:"requested_by,omitempty"`
}

// NewLeaveBulkInitializePayload converts a service input into a payload.
func NewLeaveBulkInitializePayload(in leavebalance.BulkInitializeInput, requestedBy string) LeaveBulkInitializePayload {
	allocs := make([]LeaveAllocationPayload, 0, len(in.Allocations))
	for _, a := range in.Allocations {
		allocs = append(allocs, LeaveAllocationPayload{LeaveTypeID: a.LeaveTypeID, Days: a.Days})
	}
	return LeaveBulkInitializePayload{Year: in.Year, Allocations: allocs, EmployeeIDs: in.EmployeeIDs, RequestedBy: requestedBy}
}

// Input converts the payload back into a service input.
func (p LeaveBulkInitializePayload) Input() leavebalance.BulkInitializeInput {
	allocs := make([]leavebalance.Allocation, 0, len(p.Allocations))
	for _, a := range p.Allocations {
		allocs = append(allocs, leavebalance.Allocation{LeaveTypeID: a.LeaveTypeID, Days: a.Days})
	}
	return leavebalance.BulkInitializeInput{Year: p.Year, Allocations: allocs, EmployeeIDs: p.EmployeeIDs}
}

// NewLeaveBulkInitializeTask constructs the top-up task. It must never be
// retried since every run adds the days again.
func NewLeaveBulkInitializeTask(payload LeaveBulkInitializePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLeaveBulkInitialize, data, asynq.MaxRetry(0)), nil
}

// PayslipGenerateAllPayload selects the period to generate. A zero month or
// year means the month before the run.
type PayslipGenerateAllPayload struct {
	Month       int    `json:"month,omitempty"`
	Year        int    `json:"year,omitempty"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// Period resolves the target period relative to the previous month fallback.
func (p PayslipGenerateAllPayload) Period(fallback payslip.Period) payslip.Period {
	if p.Month == 0 || p.Year == 0 {
		return fallback
	}
	return payslip.Period{Month: p.Month, Year: p.Year}
}

// NewPayslipGenerateAllTask constructs the roster-wide generation task.
// Retrying is safe because existing payslips are skipped.
func NewPayslipGenerateAllTask(payload PayslipGenerateAllPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPayslipGenerateAll, data, asynq.MaxRetry(3)), nil
}
