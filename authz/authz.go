/*
Package authz is the workflow authorization gate.

PURPOSE:
  Pure predicates deciding whether an actor may perform an action on a
  record. No storage, no side effects: callers pass in everything the
  decision depends on (actor, record owner, record department, step).

MODEL:
  A decision is a lookup in a table keyed by {role, action} whose value is
  the set of relationships the role may act across:

    self             the record belongs to the actor
    same_department  the record belongs to someone in the actor's department
    other            anything else

  A few rules do not fit the table and are checked in code:
    - nobody decides a step of their own application
    - a department head decides only department_head steps, and only the
      one bound to them when the step names an approver
    - submitting on behalf of someone else can be switched off globally

ROLES:
  admin           full authority, overrides any step
  manager         same as admin for leave
  department_head own department, own workflow level
  staff           own records only

SEE ALSO:
  - leave/service.go: consumes these predicates
  - generic/errors.go: PermissionError
*/
package authz

import (
	"fmt"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// ROLES & ACTORS
// =============================================================================

type Role string

const (
	RoleAdmin          Role = "admin"
	RoleManager        Role = "manager"
	RoleDepartmentHead Role = "department_head"
	RoleStaff          Role = "staff"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleDepartmentHead, RoleStaff:
		return true
	}
	return false
}

// Elevated is true for roles with organization-wide leave authority.
func (r Role) Elevated() bool {
	return r == RoleAdmin || r == RoleManager
}

// Actor is the identity performing an operation.
type Actor struct {
	ID           string
	Role         Role
	DepartmentID string
}

// =============================================================================
// RELATIONSHIPS
// =============================================================================

type Relationship string

const (
	RelSelf           Relationship = "self"
	RelSameDepartment Relationship = "same_department"
	RelOther          Relationship = "other"
)

// Relate classifies a record by how it relates to the actor.
func Relate(actor Actor, ownerID, departmentID string) Relationship {
	switch {
	case ownerID != "" && ownerID == actor.ID:
		return RelSelf
	case departmentID != "" && departmentID == actor.DepartmentID:
		return RelSameDepartment
	default:
		return RelOther
	}
}

// =============================================================================
// PERMISSION TABLE
// =============================================================================

type Action string

const (
	ActionSubmit           Action = "submit leave"
	ActionDecide           Action = "decide step"
	ActionCancel           Action = "cancel leave"
	ActionUpdate           Action = "update leave"
	ActionView             Action = "view leave"
	ActionViewBalance      Action = "view balance"
	ActionViewRecord       Action = "view record"
	ActionManagePolicies   Action = "manage policies"
	ActionInitializeLedger Action = "initialize ledger"
	ActionManageDirectory  Action = "manage directory"
)

var (
	anyone   = []Relationship{RelSelf, RelSameDepartment, RelOther}
	ownDept  = []Relationship{RelSelf, RelSameDepartment}
	selfOnly = []Relationship{RelSelf}
	// Global actions have no record; Relate yields RelOther.
	global = []Relationship{RelOther}
)

var table = map[Role]map[Action][]Relationship{
	RoleAdmin: {
		ActionSubmit:           anyone,
		ActionDecide:           anyone,
		ActionCancel:           anyone,
		ActionUpdate:           anyone,
		ActionView:             anyone,
		ActionViewBalance:      anyone,
		ActionViewRecord:       anyone,
		ActionManagePolicies:   global,
		ActionInitializeLedger: global,
		ActionManageDirectory:  global,
	},
	RoleManager: {
		ActionSubmit:      anyone,
		ActionDecide:      anyone,
		ActionCancel:      anyone,
		ActionUpdate:      anyone,
		ActionView:        anyone,
		ActionViewBalance: anyone,
		ActionViewRecord:  anyone,
	},
	RoleDepartmentHead: {
		ActionSubmit:      selfOnly,
		ActionDecide:      ownDept,
		ActionCancel:      selfOnly,
		ActionUpdate:      selfOnly,
		ActionView:        ownDept,
		ActionViewBalance: ownDept,
		ActionViewRecord:  ownDept,
	},
	RoleStaff: {
		ActionSubmit:      selfOnly,
		ActionCancel:      selfOnly,
		ActionUpdate:      selfOnly,
		ActionView:        selfOnly,
		ActionViewBalance: selfOnly,
		ActionViewRecord:  selfOnly,
	},
}

// Allowed is the raw table lookup.
func Allowed(role Role, action Action, rel Relationship) bool {
	for _, r := range table[role][action] {
		if r == rel {
			return true
		}
	}
	return false
}

func check(actor Actor, action Action, ownerID, departmentID string) error {
	rel := Relate(actor, ownerID, departmentID)
	if Allowed(actor.Role, action, rel) {
		return nil
	}
	return deny(actor, action, fmt.Sprintf("not permitted on %s records", rel))
}

func deny(actor Actor, action Action, reason string) error {
	return &generic.PermissionError{Role: string(actor.Role), Action: string(action), Reason: reason}
}

// =============================================================================
// PREDICATES
// =============================================================================

// CanSubmit decides whether actor may file an application for owner.
// onBehalfAllowed gates filing for anyone other than oneself.
func CanSubmit(actor Actor, ownerID, ownerDepartmentID string, onBehalfAllowed bool) error {
	if ownerID != actor.ID && !onBehalfAllowed {
		return deny(actor, ActionSubmit, "submitting on behalf of another employee is disabled")
	}
	return check(actor, ActionSubmit, ownerID, ownerDepartmentID)
}

// StepTarget describes the workflow step an actor wants to decide.
type StepTarget struct {
	OwnerID      string
	DepartmentID string
	StepRole     Role
	ApproverID   string // empty when the step is bound to a role only
}

// CanActOnStep decides whether actor may approve or reject the step.
func CanActOnStep(actor Actor, step StepTarget) error {
	if actor.ID == step.OwnerID {
		return deny(actor, ActionDecide, "cannot decide a step of one's own application")
	}
	if err := check(actor, ActionDecide, step.OwnerID, step.DepartmentID); err != nil {
		return err
	}
	if actor.Role.Elevated() {
		return nil
	}
	if step.StepRole != actor.Role {
		return deny(actor, ActionDecide, fmt.Sprintf("step belongs to %s", step.StepRole))
	}
	if step.ApproverID != "" && step.ApproverID != actor.ID {
		return deny(actor, ActionDecide, "step is assigned to another approver")
	}
	return nil
}

func CanCancel(actor Actor, ownerID, departmentID string) error {
	return check(actor, ActionCancel, ownerID, departmentID)
}

func CanUpdate(actor Actor, ownerID, departmentID string) error {
	return check(actor, ActionUpdate, ownerID, departmentID)
}

func CanView(actor Actor, ownerID, departmentID string) error {
	return check(actor, ActionView, ownerID, departmentID)
}

func CanViewBalance(actor Actor, ownerID, departmentID string) error {
	return check(actor, ActionViewBalance, ownerID, departmentID)
}

// CanViewRecord applies leave view scoping to surrounding records
// (reports, attendance, memos).
func CanViewRecord(actor Actor, ownerID, departmentID string) error {
	return check(actor, ActionViewRecord, ownerID, departmentID)
}

func CanManagePolicies(actor Actor) error {
	return check(actor, ActionManagePolicies, "", "")
}

func CanInitializeLedger(actor Actor) error {
	return check(actor, ActionInitializeLedger, "", "")
}

func CanManageDirectory(actor Actor) error {
	return check(actor, ActionManageDirectory, "", "")
}

// =============================================================================
// LIST SCOPING
// =============================================================================

// Scope narrows list queries to what a role may see.
type Scope struct {
	All          bool
	EmployeeID   string
	DepartmentID string
}

// ListScope returns the records actor may list.
func ListScope(actor Actor) Scope {
	switch {
	case Allowed(actor.Role, ActionView, RelOther):
		return Scope{All: true}
	case Allowed(actor.Role, ActionView, RelSameDepartment):
		return Scope{DepartmentID: actor.DepartmentID, EmployeeID: actor.ID}
	default:
		return Scope{EmployeeID: actor.ID}
	}
}
