// Package leave implements leave policies, applications and their approval
// workflow on top of the generic balance ledger.
package leave

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/authz"
	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// POLICY
// =============================================================================

// Policy holds the rules of one leave type.
// Applications snapshot PolicyVersion; edits only affect later applications.
type Policy struct {
	LeaveType            string          `json:"leaveType" yaml:"leaveType"`
	Description          string          `json:"description" yaml:"description"`
	DefaultAllocation    decimal.Decimal `json:"defaultAllocation" yaml:"defaultAllocation"`
	MaxConsecutiveDays   int             `json:"maxConsecutiveDays" yaml:"maxConsecutiveDays"`
	MinAdvanceNoticeDays int             `json:"minAdvanceNoticeDays" yaml:"minAdvanceNoticeDays"`
	AllowCarryForward    bool            `json:"allowCarryForward" yaml:"allowCarryForward"`
	Version              int64           `json:"version" yaml:"-"`
	UpdatedAt            time.Time       `json:"updatedAt" yaml:"-"`
}

// Validate checks the field rules of a policy.
func (p Policy) Validate() error {
	if strings.TrimSpace(p.LeaveType) == "" {
		return generic.Invalid("leaveType", "is required")
	}
	if p.DefaultAllocation.IsNegative() {
		return generic.Invalid("defaultAllocation", "must be >= 0, got %s", p.DefaultAllocation)
	}
	if p.MaxConsecutiveDays < 1 {
		return generic.Invalid("maxConsecutiveDays", "must be >= 1, got %d", p.MaxConsecutiveDays)
	}
	if p.MinAdvanceNoticeDays < 0 {
		return generic.Invalid("minAdvanceNoticeDays", "must be >= 0, got %d", p.MinAdvanceNoticeDays)
	}
	return nil
}

// =============================================================================
// APPLICATION
// =============================================================================

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Terminal states never change again.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

func (s Status) Valid() bool {
	return s == StatusPending || s.Terminal()
}

type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepApproved StepStatus = "approved"
	StepRejected StepStatus = "rejected"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Decision is what an approver does to a step.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Step is one ordered decision point of an approval workflow.
type Step struct {
	Order        int        `json:"order"`
	ApproverID   string     `json:"approverId,omitempty"`
	ApproverRole authz.Role `json:"approverRole"`
	Status       StepStatus `json:"status"`
	Comments     string     `json:"comments,omitempty"`
	ActionDate   *time.Time `json:"actionDate,omitempty"`
	ActedBy      string     `json:"actedBy,omitempty"`
}

// Application is a leave request and its approval workflow.
type Application struct {
	ID             string    `json:"id"`
	EmployeeID     string    `json:"employeeId"`
	DepartmentID   string    `json:"departmentId"`
	LeaveType      string    `json:"leaveType"`
	StartDate      time.Time `json:"startDate"`
	EndDate        time.Time `json:"endDate"`
	TotalDays      int       `json:"totalDays"`
	Reason         string    `json:"reason"`
	Priority       Priority  `json:"priority"`
	Status         Status    `json:"status"`
	SubmissionDate time.Time `json:"submissionDate"`
	SubmittedBy    string    `json:"submittedBy"`
	Year           int       `json:"year"`
	PolicyVersion  int64     `json:"policyVersion"`
	Workflow       []Step    `json:"approvalWorkflow"`
	Version        int64     `json:"version"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// BalanceKey is the ledger record the application is charged against:
// the year of its start date.
func (a Application) BalanceKey() generic.BalanceKey {
	return generic.BalanceKey{
		EntityID: generic.EntityID(a.EmployeeID),
		Resource: a.LeaveType,
		Year:     a.Year,
	}
}

// Days returns TotalDays as a ledger amount.
func (a Application) Days() decimal.Decimal { return generic.Days(a.TotalDays) }

// CurrentStep returns the index of the lowest-order pending step, or -1.
func (a Application) CurrentStep() int {
	for i, s := range a.Workflow {
		if s.Status == StepPending {
			return i
		}
	}
	return -1
}

// AnyDecided reports whether some step has been approved or rejected.
func (a Application) AnyDecided() bool {
	for _, s := range a.Workflow {
		if s.Status != StepPending {
			return true
		}
	}
	return false
}

// Clone copies the workflow so the copy can be mutated safely.
func (a Application) Clone() Application {
	out := a
	out.Workflow = make([]Step, len(a.Workflow))
	for i, s := range a.Workflow {
		out.Workflow[i] = s
		if s.ActionDate != nil {
			d := *s.ActionDate
			out.Workflow[i].ActionDate = &d
		}
	}
	return out
}

// Period is the day range the application occupies.
func (a Application) Period() generic.Period {
	return generic.NewPeriod(a.StartDate, a.EndDate)
}

// Overlaps reports whether the application occupies any day of p.
func (a Application) Overlaps(p generic.Period) bool {
	return a.Period().Overlaps(p)
}

// ApplicationFilter selects applications. Zero fields match everything.
type ApplicationFilter struct {
	EmployeeID string
	// DepartmentID together with EmployeeID matches either of them.
	DepartmentID string
	Statuses     []Status
	LeaveType    string
	Year         int
}

// Match applies the filter in memory.
func (f ApplicationFilter) Match(a Application) bool {
	switch {
	case f.EmployeeID != "" && f.DepartmentID != "":
		if a.EmployeeID != f.EmployeeID && a.DepartmentID != f.DepartmentID {
			return false
		}
	case f.EmployeeID != "" && a.EmployeeID != f.EmployeeID:
		return false
	case f.DepartmentID != "" && a.DepartmentID != f.DepartmentID:
		return false
	}
	if f.LeaveType != "" && a.LeaveType != f.LeaveType {
		return false
	}
	if f.Year != 0 && a.Year != f.Year {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if a.Status == s {
			return true
		}
	}
	return false
}

// =============================================================================
// DIRECTORY
// =============================================================================

type Employee struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Role         authz.Role `json:"role"`
	DepartmentID string     `json:"departmentId"`
}

// Actor returns the authorization identity of the employee.
func (e Employee) Actor() authz.Actor {
	return authz.Actor{ID: e.ID, Role: e.Role, DepartmentID: e.DepartmentID}
}

func (e Employee) Validate() error {
	if e.ID == "" {
		return generic.Invalid("id", "is required")
	}
	if !e.Role.Valid() {
		return generic.Invalid("role", "unknown role %q", e.Role)
	}
	return nil
}

// Department carries the approval chain its staff go through.
// An empty chain means the default chain for the applicant's role.
type Department struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	HeadID        string       `json:"headId,omitempty"`
	ApprovalChain []authz.Role `json:"approvalChain,omitempty"`
}

func (d Department) Validate() error {
	if d.ID == "" {
		return generic.Invalid("id", "is required")
	}
	for _, r := range d.ApprovalChain {
		if !r.Valid() || r == authz.RoleStaff {
			return generic.Invalid("approvalChain", "role %q cannot approve", r)
		}
	}
	return nil
}
