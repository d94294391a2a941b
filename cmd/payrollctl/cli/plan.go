package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/payroll-ledger/internal/leavebalance"
)

// AllocationPlan is the YAML document accepted by initialize-leave.
//
//	year: 2026
//	employee_ids: [12, 14]
//	allocations:
//	  - leave_type_id: 1
//	    days: "12"
type AllocationPlan struct {
	Year        int              `yaml:"year"`
	EmployeeIDs []int64          `yaml:"employee_ids"`
	Allocations []PlanAllocation `yaml:"allocations"`
}

// PlanAllocation grants days of one leave type.
type PlanAllocation struct {
	LeaveTypeID int64  `yaml:"leave_type_id"`
	Days        string `yaml:"days"`
}

// LoadPlan reads a plan file from disk.
func LoadPlan(path string) (AllocationPlan, error) {
	f, err := os.Open(path)
	if err != nil {
		return AllocationPlan{}, err
	}
	defer f.Close()
	return ParsePlan(f)
}

// ParsePlan decodes a plan from YAML.
func ParsePlan(r io.Reader) (AllocationPlan, error) {
	var plan AllocationPlan
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&plan); err != nil {
		return AllocationPlan{}, fmt.Errorf("plan: %w", err)
	}
	return plan, nil
}

// Input converts the plan into a validated service input.
func (p AllocationPlan) Input() (leavebalance.BulkInitializeInput, error) {
	in := leavebalance.BulkInitializeInput{Year: p.Year, EmployeeIDs: p.EmployeeIDs}
	for i, a := range p.Allocations {
		days, err := decimal.NewFromString(a.Days)
		if err != nil {
			return leavebalance.BulkInitializeInput{}, fmt.Errorf("plan: allocation %d: invalid days %q", i+1, a.Days)
		}
		in.Allocations = append(in.Allocations, leavebalance.Allocation{LeaveTypeID: a.LeaveTypeID, Days: days})
	}
	if err := in.Validate(); err != nil {
		return leavebalance.BulkInitializeInput{}, fmt.Errorf("plan: %w", err)
	}
	return in, nil
}
