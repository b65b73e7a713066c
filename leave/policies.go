/*
policies.go - Leave policy store and built-in presets

PURPOSE:
  Policies are the per-leave-type rules an application is validated
  against: default allocation, maximum consecutive days, advance notice
  and whether unused days carry into the next year.

  Policies are read by every other component and written only by admins.
  Editing a policy never touches in-flight applications: each application
  records the PolicyVersion it was validated against.

PRESETS:
  Annual:    15 days, 30 consecutive, 7 days notice, carries forward
  Sick:      10 days, 14 consecutive, no notice
  Casual:     5 days,  3 consecutive, 1 day notice
  Maternity: 90 days, 90 consecutive, 30 days notice
  Unpaid:    30 days, 30 consecutive, 7 days notice

SEE ALSO:
  - factory/policy.go: JSON/YAML policy documents
  - service.go: validation against policies at submit time
*/
package leave

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/authz"
	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// POLICY SERVICE
// =============================================================================

type PolicyService struct {
	Store PolicyStore
}

func NewPolicyService(store PolicyStore) *PolicyService {
	return &PolicyService{Store: store}
}

// Get returns the policy for leaveType or generic.ErrPolicyNotFound.
func (s *PolicyService) Get(ctx context.Context, leaveType string) (Policy, error) {
	if leaveType == "" {
		return Policy{}, generic.Invalid("leaveType", "is required")
	}
	return s.Store.GetPolicy(ctx, leaveType)
}

func (s *PolicyService) List(ctx context.Context) ([]Policy, error) {
	return s.Store.ListPolicies(ctx)
}

// Upsert validates and saves a policy. Admin only.
func (s *PolicyService) Upsert(ctx context.Context, actor authz.Actor, p Policy) (Policy, error) {
	if err := authz.CanManagePolicies(actor); err != nil {
		return Policy{}, err
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return s.Store.SavePolicy(ctx, p)
}

// Seed saves policies without an actor. Used by the CLI and demo setup.
func (s *PolicyService) Seed(ctx context.Context, policies ...Policy) error {
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("policy %q: %w", p.LeaveType, err)
		}
		if _, err := s.Store.SavePolicy(ctx, p); err != nil {
			return fmt.Errorf("save policy %q: %w", p.LeaveType, err)
		}
	}
	return nil
}

// Allocation is the ledger's allocation source: a lazily created balance
// starts at the policy's default allocation.
func (s *PolicyService) Allocation(ctx context.Context, key generic.BalanceKey) (decimal.Decimal, error) {
	p, err := s.Store.GetPolicy(ctx, key.Resource)
	if err != nil {
		return decimal.Zero, fmt.Errorf("allocation for %s: %w", key, err)
	}
	return p.DefaultAllocation, nil
}

// =============================================================================
// PRESETS
// =============================================================================

const (
	TypeAnnual    = "Annual"
	TypeSick      = "Sick"
	TypeCasual    = "Casual"
	TypeMaternity = "Maternity"
	TypeUnpaid    = "Unpaid"
)

func AnnualPolicy() Policy {
	return Policy{
		LeaveType:            TypeAnnual,
		Description:          "Paid annual vacation",
		DefaultAllocation:    generic.Days(15),
		MaxConsecutiveDays:   30,
		MinAdvanceNoticeDays: 7,
		AllowCarryForward:    true,
	}
}

func SickPolicy() Policy {
	return Policy{
		LeaveType:          TypeSick,
		Description:        "Sick leave",
		DefaultAllocation:  generic.Days(10),
		MaxConsecutiveDays: 14,
	}
}

func CasualPolicy() Policy {
	return Policy{
		LeaveType:            TypeCasual,
		Description:          "Short personal leave",
		DefaultAllocation:    generic.Days(5),
		MaxConsecutiveDays:   3,
		MinAdvanceNoticeDays: 1,
	}
}

func MaternityPolicy() Policy {
	return Policy{
		LeaveType:            TypeMaternity,
		Description:          "Maternity leave",
		DefaultAllocation:    generic.Days(90),
		MaxConsecutiveDays:   90,
		MinAdvanceNoticeDays: 30,
	}
}

func UnpaidPolicy() Policy {
	return Policy{
		LeaveType:            TypeUnpaid,
		Description:          "Unpaid leave",
		DefaultAllocation:    generic.Days(30),
		MaxConsecutiveDays:   30,
		MinAdvanceNoticeDays: 7,
	}
}

// DefaultPolicies returns all presets.
func DefaultPolicies() []Policy {
	return []Policy{AnnualPolicy(), SickPolicy(), CasualPolicy(), MaternityPolicy(), UnpaidPolicy()}
}
