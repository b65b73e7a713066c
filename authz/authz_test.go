package authz_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/authz"
	"github.com/warp/leave-engine/generic"
)

var (
	admin   = authz.Actor{ID: "admin-1", Role: authz.RoleAdmin, DepartmentID: "hq"}
	manager = authz.Actor{ID: "mgr-1", Role: authz.RoleManager, DepartmentID: "ops"}
	head    = authz.Actor{ID: "head-1", Role: authz.RoleDepartmentHead, DepartmentID: "eng"}
	staff   = authz.Actor{ID: "staff-1", Role: authz.RoleStaff, DepartmentID: "eng"}
)

func TestRelate(t *testing.T) {
	assert.Equal(t, authz.RelSelf, authz.Relate(staff, "staff-1", "eng"))
	assert.Equal(t, authz.RelSameDepartment, authz.Relate(staff, "staff-2", "eng"))
	assert.Equal(t, authz.RelOther, authz.Relate(staff, "staff-3", "sales"))
	assert.Equal(t, authz.RelOther, authz.Relate(authz.Actor{ID: "x"}, "y", ""))
}

func TestCanActOnStep(t *testing.T) {
	tests := []struct {
		name    string
		actor   authz.Actor
		step    authz.StepTarget
		allowed bool
	}{
		{"admin overrides head step", admin,
			authz.StepTarget{OwnerID: "staff-1", DepartmentID: "eng", StepRole: authz.RoleDepartmentHead, ApproverID: "head-1"}, true},
		{"manager decides admin step", manager,
			authz.StepTarget{OwnerID: "staff-1", DepartmentID: "eng", StepRole: authz.RoleAdmin}, true},
		{"head decides own level in own department", head,
			authz.StepTarget{OwnerID: "staff-1", DepartmentID: "eng", StepRole: authz.RoleDepartmentHead, ApproverID: "head-1"}, true},
		{"head decides unbound head step", head,
			authz.StepTarget{OwnerID: "staff-1", DepartmentID: "eng", StepRole: authz.RoleDepartmentHead}, true},
		{"head cannot decide admin step", head,
			authz.StepTarget{OwnerID: "staff-1", DepartmentID: "eng", StepRole: authz.RoleAdmin}, false},
		{"head cannot decide other department", head,
			authz.StepTarget{OwnerID: "staff-9", DepartmentID: "sales", StepRole: authz.RoleDepartmentHead}, false},
		{"head cannot take another head's step", head,
			authz.StepTarget{OwnerID: "staff-1", DepartmentID: "eng", StepRole: authz.RoleDepartmentHead, ApproverID: "head-2"}, false},
		{"staff never decides", staff,
			authz.StepTarget{OwnerID: "staff-2", DepartmentID: "eng", StepRole: authz.RoleDepartmentHead}, false},
		{"admin cannot decide own application", admin,
			authz.StepTarget{OwnerID: "admin-1", DepartmentID: "hq", StepRole: authz.RoleAdmin}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := authz.CanActOnStep(tt.actor, tt.step)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, generic.ErrPermissionDenied)
		})
	}
}

func TestCanSubmit(t *testing.T) {
	assert.NoError(t, authz.CanSubmit(staff, "staff-1", "eng", false))
	assert.ErrorIs(t, authz.CanSubmit(staff, "staff-2", "eng", true), generic.ErrPermissionDenied)

	// On behalf is a switch, not only a role check.
	assert.ErrorIs(t, authz.CanSubmit(admin, "staff-1", "eng", false), generic.ErrPermissionDenied)
	assert.NoError(t, authz.CanSubmit(admin, "staff-1", "eng", true))
	assert.ErrorIs(t, authz.CanSubmit(head, "staff-1", "eng", true), generic.ErrPermissionDenied)
}

func TestCancelViewUpdate(t *testing.T) {
	assert.NoError(t, authz.CanCancel(staff, "staff-1", "eng"))
	assert.ErrorIs(t, authz.CanCancel(staff, "staff-2", "eng"), generic.ErrPermissionDenied)
	assert.NoError(t, authz.CanCancel(manager, "staff-2", "eng"))
	assert.ErrorIs(t, authz.CanCancel(head, "staff-1", "eng"), generic.ErrPermissionDenied)

	assert.NoError(t, authz.CanView(head, "staff-1", "eng"))
	assert.ErrorIs(t, authz.CanView(head, "staff-9", "sales"), generic.ErrPermissionDenied)
	assert.ErrorIs(t, authz.CanView(staff, "staff-2", "eng"), generic.ErrPermissionDenied)

	assert.NoError(t, authz.CanUpdate(staff, "staff-1", "eng"))
	assert.NoError(t, authz.CanUpdate(admin, "staff-1", "eng"))
	assert.ErrorIs(t, authz.CanUpdate(head, "staff-1", "eng"), generic.ErrPermissionDenied)

	assert.NoError(t, authz.CanViewBalance(head, "staff-1", "eng"))
	assert.NoError(t, authz.CanViewRecord(staff, "staff-1", "eng"))
	assert.ErrorIs(t, authz.CanViewRecord(staff, "staff-2", "eng"), generic.ErrPermissionDenied)
}

func TestAdministrativeActions(t *testing.T) {
	assert.NoError(t, authz.CanManagePolicies(admin))
	assert.NoError(t, authz.CanInitializeLedger(admin))
	assert.NoError(t, authz.CanManageDirectory(admin))

	for _, a := range []authz.Actor{manager, head, staff} {
		assert.ErrorIs(t, authz.CanManagePolicies(a), generic.ErrPermissionDenied, a.Role)
		assert.ErrorIs(t, authz.CanInitializeLedger(a), generic.ErrPermissionDenied, a.Role)
	}
}

func TestPermissionError_NamesRule(t *testing.T) {
	err := authz.CanCancel(staff, "staff-2", "eng")
	var pe *generic.PermissionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "staff", pe.Role)
	assert.Equal(t, string(authz.ActionCancel), pe.Action)
	assert.Contains(t, err.Error(), "same_department")
}

func TestListScope(t *testing.T) {
	assert.True(t, authz.ListScope(admin).All)
	assert.True(t, authz.ListScope(manager).All)
	assert.Equal(t, authz.Scope{DepartmentID: "eng", EmployeeID: "head-1"}, authz.ListScope(head))
	assert.Equal(t, authz.Scope{EmployeeID: "staff-1"}, authz.ListScope(staff))
}
