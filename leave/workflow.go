/*
workflow.go - Approval chain construction and step ordering

PURPOSE:
  Turns a department's approval chain into the ordered steps of one
  application, and decides which step an approver is allowed to act on.

DEFAULT CHAINS (department without an explicit chain):
  staff            -> department_head, admin
  department_head  -> admin
  manager, admin   -> admin

  The department_head step is dropped when the department has no head,
  when the applicant is that head, or when the applicant is not staff.
  A department_head step is bound to the head's employee id.

ORDERING:
  Steps are decided strictly in order. The current step is the lowest-order
  pending step; nothing after it may be decided first.
*/
package leave

import (
	"github.com/warp/leave-engine/authz"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/notify"
)

// DefaultChain returns the approval roles for an applicant without a
// department-specific chain.
func DefaultChain(applicantRole authz.Role) []authz.Role {
	if applicantRole == authz.RoleStaff {
		return []authz.Role{authz.RoleDepartmentHead, authz.RoleAdmin}
	}
	return []authz.Role{authz.RoleAdmin}
}

// BuildWorkflow creates the pending steps for an application by applicant.
func BuildWorkflow(applicant Employee, dept Department) []Step {
	chain := dept.ApprovalChain
	if len(chain) == 0 {
		chain = DefaultChain(applicant.Role)
	}

	steps := make([]Step, 0, len(chain))
	for _, role := range chain {
		step := Step{ApproverRole: role, Status: StepPending}
		if role == authz.RoleDepartmentHead {
			if dept.HeadID == "" || dept.HeadID == applicant.ID || applicant.Role != authz.RoleStaff {
				continue
			}
			step.ApproverID = dept.HeadID
		}
		steps = append(steps, step)
	}
	if len(steps) == 0 {
		steps = append(steps, Step{ApproverRole: authz.RoleAdmin, Status: StepPending})
	}
	for i := range steps {
		steps[i].Order = i + 1
	}
	return steps
}

// resolveStep checks that requested (a step order) is the current step.
func resolveStep(a Application, requested int) (int, error) {
	current := a.CurrentStep()
	if current < 0 {
		return -1, generic.InvalidTransition("application %s has no pending step", a.ID)
	}
	// A decided step after a pending one means the workflow was advanced out of order.
	for _, s := range a.Workflow[current+1:] {
		if s.Status != StepPending {
			return -1, generic.OutOfOrder("step %d is decided while step %d is pending",
				s.Order, a.Workflow[current].Order)
		}
	}
	idx := -1
	for i, s := range a.Workflow {
		if s.Order == requested {
			idx = i
			break
		}
	}
	switch {
	case idx < 0:
		return -1, generic.Invalid("stepOrder", "application %s has no step %d", a.ID, requested)
	case a.Workflow[idx].Status != StepPending:
		return -1, generic.InvalidTransition("step %d is already %s", requested, a.Workflow[idx].Status)
	case idx != current:
		return -1, generic.OutOfOrder("step %d cannot be decided before step %d",
			requested, a.Workflow[current].Order)
	}
	return idx, nil
}

// nextRecipient is who gets told a step is waiting.
func nextRecipient(s Step) string {
	if s.ApproverID != "" {
		return s.ApproverID
	}
	return notify.RoleRecipient(string(s.ApproverRole))
}
