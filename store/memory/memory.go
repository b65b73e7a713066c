// Package memory provides an in-memory leave.Store for tests and demos.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/leave-engine/generic"
	balancestore "github.com/warp/leave-engine/generic/store"
	"github.com/warp/leave-engine/leave"
)

// Store keeps policies, applications and the directory in maps, and
// balances in the generic memory store.
type Store struct {
	*balancestore.Memory

	mu           sync.RWMutex
	policies     map[string]leave.Policy
	applications map[string]leave.Application
	employees    map[string]leave.Employee
	departments  map[string]leave.Department
	now          func() time.Time
}

func New() *Store {
	return &Store{
		Memory:       balancestore.NewMemory(),
		policies:     make(map[string]leave.Policy),
		applications: make(map[string]leave.Application),
		employees:    make(map[string]leave.Employee),
		departments:  make(map[string]leave.Department),
		now:          time.Now,
	}
}

// =============================================================================
// POLICIES
// =============================================================================

func (s *Store) GetPolicy(_ context.Context, leaveType string) (leave.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[leaveType]
	if !ok {
		return leave.Policy{}, &generic.PolicyNotFoundError{LeaveType: leaveType}
	}
	return p, nil
}

func (s *Store) ListPolicies(_ context.Context) ([]leave.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]leave.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LeaveType < out[j].LeaveType })
	return out, nil
}

func (s *Store) SavePolicy(_ context.Context, p leave.Policy) (leave.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Version = s.policies[p.LeaveType].Version + 1
	p.UpdatedAt = s.now().UTC()
	s.policies[p.LeaveType] = p
	return p, nil
}

// =============================================================================
// APPLICATIONS
// =============================================================================

func (s *Store) InsertApplication(_ context.Context, a leave.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.applications[a.ID]; ok {
		return generic.Invalid("id", "application %s already exists", a.ID)
	}
	a = a.Clone()
	a.Version = 1
	s.applications[a.ID] = a
	return nil
}

func (s *Store) UpdateApplication(_ context.Context, a leave.Application, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.applications[a.ID]
	if !ok {
		return &generic.NotFoundError{Kind: "application", ID: a.ID}
	}
	if stored.Version != expectedVersion {
		return generic.ErrConcurrentModification
	}
	a = a.Clone()
	a.Version = expectedVersion + 1
	s.applications[a.ID] = a
	return nil
}

func (s *Store) GetApplication(_ context.Context, id string) (leave.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.applications[id]
	if !ok {
		return leave.Application{}, &generic.NotFoundError{Kind: "application", ID: id}
	}
	return a.Clone(), nil
}

func (s *Store) ListApplications(_ context.Context, f leave.ApplicationFilter) ([]leave.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []leave.Application
	for _, a := range s.applications {
		if f.Match(a) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmissionDate.Equal(out[j].SubmissionDate) {
			return out[i].SubmissionDate.Before(out[j].SubmissionDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (s *Store) GetEmployee(_ context.Context, id string) (leave.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.employees[id]
	if !ok {
		return leave.Employee{}, &generic.NotFoundError{Kind: "employee", ID: id}
	}
	return e, nil
}

func (s *Store) ListEmployees(_ context.Context) ([]leave.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]leave.Employee, 0, len(s.employees))
	for _, e := range s.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SaveEmployee(_ context.Context, e leave.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.employees[e.ID] = e
	return nil
}

func (s *Store) GetDepartment(_ context.Context, id string) (leave.Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.departments[id]
	if !ok {
		return leave.Department{}, &generic.NotFoundError{Kind: "department", ID: id}
	}
	d.ApprovalChain = append(d.ApprovalChain[:0:0], d.ApprovalChain...)
	return d, nil
}

func (s *Store) SaveDepartment(_ context.Context, d leave.Department) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ApprovalChain = append(d.ApprovalChain[:0:0], d.ApprovalChain...)
	s.departments[d.ID] = d
	return nil
}

// Reset drops everything. Demo use only.
func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Memory.Reset()
	s.policies = make(map[string]leave.Policy)
	s.applications = make(map[string]leave.Application)
	s.employees = make(map[string]leave.Employee)
	s.departments = make(map[string]leave.Department)
	return nil
}

var _ leave.Store = (*Store)(nil)
