/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  domain types in leave/ and generic/.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

ENVELOPE:
  Every response is wrapped in Response:
    {"success": true,  "message": "...", "data": {...}}
    {"success": false, "message": "...", "code": "INSUFFICIENT_BALANCE"}

DATES:
  Leave dates are calendar dates "YYYY-MM-DD". Timestamps are RFC 3339.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/policy.go: Document schema for bulk policy seeding
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// Response is the envelope of every endpoint.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Code    string `json:"code,omitempty"`
}

// =============================================================================
// LEAVE APPLICATIONS
// =============================================================================

// SubmitLeaveRequest creates an application. EmployeeID defaults to the caller.
type SubmitLeaveRequest struct {
	EmployeeID string `json:"employeeId,omitempty"`
	LeaveType  string `json:"leaveType"`
	StartDate  string `json:"startDate"`
	EndDate    string `json:"endDate"`
	Reason     string `json:"reason"`
	Priority   string `json:"priority,omitempty"`
}

// UpdateLeaveRequest changes a pending application. Omitted fields keep their value.
type UpdateLeaveRequest struct {
	LeaveType string `json:"leaveType,omitempty"`
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Priority  string `json:"priority,omitempty"`
}

// DecisionRequest decides a workflow step. StepOrder names the step and is required.
type DecisionRequest struct {
	Decision  string `json:"decision"`
	Comments  string `json:"comments,omitempty"`
	StepOrder int    `json:"stepOrder"`
}

type StepDTO struct {
	Order        int     `json:"order"`
	ApproverID   string  `json:"approverId,omitempty"`
	ApproverRole string  `json:"approverRole"`
	Status       string  `json:"status"`
	Comments     string  `json:"comments,omitempty"`
	ActionDate   *string `json:"actionDate,omitempty"`
	ActedBy      string  `json:"actedBy,omitempty"`
}

type ApplicationDTO struct {
	ID               string    `json:"id"`
	EmployeeID       string    `json:"employeeId"`
	DepartmentID     string    `json:"departmentId,omitempty"`
	LeaveType        string    `json:"leaveType"`
	StartDate        string    `json:"startDate"`
	EndDate          string    `json:"endDate"`
	TotalDays        int       `json:"totalDays"`
	Reason           string    `json:"reason"`
	Priority         string    `json:"priority"`
	Status           string    `json:"status"`
	SubmissionDate   string    `json:"submissionDate"`
	SubmittedBy      string    `json:"submittedBy"`
	PolicyVersion    int64     `json:"policyVersion"`
	CurrentStep      *int      `json:"currentStep,omitempty"`
	ApprovalWorkflow []StepDTO `json:"approvalWorkflow"`
	Version          int64     `json:"version"`
}

// =============================================================================
// BALANCES
// =============================================================================

type TransactionDTO struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Date        string          `json:"date"`
	Description string          `json:"description,omitempty"`
	ReferenceID string          `json:"referenceId,omitempty"`
}

type BalanceDTO struct {
	EmployeeID     string           `json:"employeeId"`
	LeaveType      string           `json:"leaveType"`
	Year           int              `json:"year"`
	TotalAllocated decimal.Decimal  `json:"totalAllocated"`
	Used           decimal.Decimal  `json:"used"`
	Pending        decimal.Decimal  `json:"pending"`
	CarriedForward decimal.Decimal  `json:"carriedForward"`
	Remaining      decimal.Decimal  `json:"remaining"`
	Version        int64            `json:"version"`
	Transactions   []TransactionDTO `json:"transactions,omitempty"`
}

// =============================================================================
// POLICIES, DIRECTORY, ADMIN
// =============================================================================

// PolicyRequest replaces a policy. The leave type comes from the URL.
type PolicyRequest struct {
	Description          string          `json:"description"`
	DefaultAllocation    decimal.Decimal `json:"defaultAllocation"`
	MaxConsecutiveDays   int             `json:"maxConsecutiveDays"`
	MinAdvanceNoticeDays int             `json:"minAdvanceNoticeDays"`
	AllowCarryForward    bool            `json:"allowCarryForward"`
}

type CreateEmployeeRequest struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
	Role         string `json:"role"`
	DepartmentID string `json:"departmentId,omitempty"`
}

type CreateDepartmentRequest struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	HeadID        string   `json:"headId,omitempty"`
	ApprovalChain []string `json:"approvalChain,omitempty"`
}

// InitializeYearRequest triggers the year-start batch.
type InitializeYearRequest struct {
	Year  int  `json:"year"`
	Force bool `json:"force,omitempty"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toApplicationDTO(a leave.Application) ApplicationDTO {
	dto := ApplicationDTO{
		ID:               a.ID,
		EmployeeID:       a.EmployeeID,
		DepartmentID:     a.DepartmentID,
		LeaveType:        a.LeaveType,
		StartDate:        a.StartDate.Format(generic.DateLayout),
		EndDate:          a.EndDate.Format(generic.DateLayout),
		TotalDays:        a.TotalDays,
		Reason:           a.Reason,
		Priority:         string(a.Priority),
		Status:           string(a.Status),
		SubmissionDate:   a.SubmissionDate.UTC().Format(time.RFC3339),
		SubmittedBy:      a.SubmittedBy,
		PolicyVersion:    a.PolicyVersion,
		ApprovalWorkflow: make([]StepDTO, len(a.Workflow)),
		Version:          a.Version,
	}
	if a.Status == leave.StatusPending {
		if i := a.CurrentStep(); i >= 0 {
			order := a.Workflow[i].Order
			dto.CurrentStep = &order
		}
	}
	for i, s := range a.Workflow {
		step := StepDTO{
			Order:        s.Order,
			ApproverID:   s.ApproverID,
			ApproverRole: string(s.ApproverRole),
			Status:       string(s.Status),
			Comments:     s.Comments,
			ActedBy:      s.ActedBy,
		}
		if s.ActionDate != nil {
			at := s.ActionDate.UTC().Format(time.RFC3339)
			step.ActionDate = &at
		}
		dto.ApprovalWorkflow[i] = step
	}
	return dto
}

func toApplicationDTOs(apps []leave.Application) []ApplicationDTO {
	dtos := make([]ApplicationDTO, len(apps))
	for i, a := range apps {
		dtos[i] = toApplicationDTO(a)
	}
	return dtos
}

func toBalanceDTO(b generic.Balance, withTransactions bool) BalanceDTO {
	dto := BalanceDTO{
		EmployeeID:     string(b.Key.EntityID),
		LeaveType:      b.Key.Resource,
		Year:           b.Key.Year,
		TotalAllocated: b.TotalAllocated,
		Used:           b.Used,
		Pending:        b.Pending,
		CarriedForward: b.CarriedForward,
		Remaining:      b.Remaining,
		Version:        b.Version,
	}
	if withTransactions {
		dto.Transactions = make([]TransactionDTO, len(b.Transactions))
		for i, tx := range b.Transactions {
			dto.Transactions[i] = TransactionDTO{
				ID:          string(tx.ID),
				Type:        string(tx.Type),
				Amount:      tx.Amount,
				Date:        tx.Date.UTC().Format(time.RFC3339),
				Description: tx.Description,
				ReferenceID: tx.ReferenceID,
			}
		}
	}
	return dto
}

func toBalanceDTOs(bs []generic.Balance) []BalanceDTO {
	dtos := make([]BalanceDTO, len(bs))
	for i, b := range bs {
		dtos[i] = toBalanceDTO(b, false)
	}
	return dtos
}
