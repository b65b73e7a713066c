package leave

import (
	"context"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// STORE INTERFACES - Implemented by store/memory and store/sqlite
// =============================================================================

// PolicyStore persists leave policies keyed by leave type.
type PolicyStore interface {
	// GetPolicy returns generic.ErrPolicyNotFound when the type is unknown.
	GetPolicy(ctx context.Context, leaveType string) (Policy, error)
	ListPolicies(ctx context.Context) ([]Policy, error)
	// SavePolicy inserts or replaces a policy, bumping its version.
	SavePolicy(ctx context.Context, p Policy) (Policy, error)
}

// ApplicationStore persists applications with versioned writes.
type ApplicationStore interface {
	// InsertApplication stores a new application at version 1.
	InsertApplication(ctx context.Context, a Application) error
	// UpdateApplication is a compare-and-swap: it fails with
	// generic.ErrConcurrentModification when the stored version differs.
	UpdateApplication(ctx context.Context, a Application, expectedVersion int64) error
	GetApplication(ctx context.Context, id string) (Application, error)
	// ListApplications returns matches ordered by submission date.
	ListApplications(ctx context.Context, f ApplicationFilter) ([]Application, error)
}

// Directory resolves employees and departments.
type Directory interface {
	GetEmployee(ctx context.Context, id string) (Employee, error)
	GetDepartment(ctx context.Context, id string) (Department, error)
	ListEmployees(ctx context.Context) ([]Employee, error)
}

// DirectoryWriter registers directory entries (demo and admin surfaces).
type DirectoryWriter interface {
	SaveEmployee(ctx context.Context, e Employee) error
	SaveDepartment(ctx context.Context, d Department) error
}

// Store is everything the leave engine persists.
type Store interface {
	generic.BalanceStore
	PolicyStore
	ApplicationStore
	Directory
	DirectoryWriter
}
