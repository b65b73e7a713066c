package sqlite_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/authz"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var annualKey = generic.BalanceKey{EntityID: "emp-1", Resource: "Annual", Year: 2025}

func TestBalance_InsertGetUpdate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.GetBalance(ctx, annualKey)
	assert.ErrorIs(t, err, generic.ErrNotFound)

	b := generic.NewBalance(annualKey)
	b.TotalAllocated = generic.Days(15)
	b.Remaining = generic.Days(15)
	b.Transactions = []generic.Transaction{
		{ID: "tx-1", Type: generic.TxAllocated, Amount: generic.Days(15), Date: time.Now(), Description: "allocation"},
	}
	require.NoError(t, s.InsertBalance(ctx, b))
	assert.ErrorIs(t, s.InsertBalance(ctx, b), generic.ErrAlreadyInitialized)

	got, err := s.GetBalance(ctx, annualKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	require.Len(t, got.Transactions, 1)
	assert.Empty(t, got.Transactions[0].ReferenceID)

	// WHEN: reserving 5 days at the current version
	got.Pending = generic.Days(5)
	got.Remaining = generic.Days(10)
	got.Transactions = append(got.Transactions, generic.Transaction{
		ID: "tx-2", Type: generic.TxReserved, Amount: generic.Days(5), Date: time.Now(), ReferenceID: "app-1",
	})
	require.NoError(t, s.UpdateBalance(ctx, got, 1))

	// THEN: a stale version is rejected
	assert.ErrorIs(t, s.UpdateBalance(ctx, got, 1), generic.ErrConcurrentModification)

	after, err := s.GetBalance(ctx, annualKey)
	require.NoError(t, err)
	assert.Equal(t, int64(2), after.Version)
	assert.True(t, generic.Days(10).Equal(after.Remaining))
	require.Len(t, after.Transactions, 2)
	assert.Equal(t, "app-1", after.Transactions[1].ReferenceID)
	require.NoError(t, after.CheckInvariant())
}

func TestBalance_UpdateMissing(t *testing.T) {
	s := newStore(t)
	err := s.UpdateBalance(context.Background(), generic.NewBalance(annualKey), 1)
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestBalance_ListByYear(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for _, k := range []generic.BalanceKey{
		{EntityID: "emp-1", Resource: "Sick", Year: 2025},
		{EntityID: "emp-1", Resource: "Annual", Year: 2025},
		{EntityID: "emp-1", Resource: "Annual", Year: 2026},
		{EntityID: "emp-2", Resource: "Annual", Year: 2025},
	} {
		require.NoError(t, s.InsertBalance(ctx, generic.NewBalance(k)))
	}

	list, err := s.ListBalances(ctx, "emp-1", 2025)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Annual", list[0].Key.Resource)
	assert.Equal(t, "Sick", list[1].Key.Resource)

	all, err := s.ListBalances(ctx, "emp-1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestLedgerOverSQLite_ConcurrentReserves(t *testing.T) {
	// GIVEN: 7 days remaining, 2 concurrent reservations of 4
	// THEN: exactly one succeeds and the stored balance is consistent
	s := newStore(t)
	ctx := context.Background()
	ledger := generic.NewLedger(s, func(context.Context, generic.BalanceKey) (decimal.Decimal, error) {
		return generic.Days(7), nil
	})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = ledger.Reserve(ctx, annualKey, generic.Days(4), "leave", "app")
		}()
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, generic.ErrInsufficientBalance)
			failures++
		}
	}
	assert.Equal(t, 1, failures)

	b, err := s.GetBalance(ctx, annualKey)
	require.NoError(t, err)
	assert.True(t, generic.Days(4).Equal(b.Pending))
	require.NoError(t, b.CheckInvariant())
}

func TestPolicies(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.GetPolicy(ctx, "Annual")
	assert.ErrorIs(t, err, generic.ErrPolicyNotFound)

	p := leave.AnnualPolicy()
	saved, err := s.SavePolicy(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)

	p.DefaultAllocation = generic.Days(20)
	saved, err = s.SavePolicy(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)

	got, err := s.GetPolicy(ctx, "Annual")
	require.NoError(t, err)
	assert.True(t, generic.Days(20).Equal(got.DefaultAllocation))
	assert.True(t, got.AllowCarryForward)
	assert.Equal(t, int64(2), got.Version)

	_, err = s.SavePolicy(ctx, leave.SickPolicy())
	require.NoError(t, err)
	list, err := s.ListPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Annual", list[0].LeaveType)
}

func sampleApplication(id, employee string, submitted time.Time) leave.Application {
	now := time.Now()
	return leave.Application{
		ID:             id,
		EmployeeID:     employee,
		DepartmentID:   "eng",
		LeaveType:      "Annual",
		StartDate:      generic.Date(2025, time.March, 10),
		EndDate:        generic.Date(2025, time.March, 12),
		TotalDays:      3,
		Reason:         "trip",
		Priority:       leave.PriorityNormal,
		Status:         leave.StatusPending,
		SubmissionDate: submitted,
		SubmittedBy:    employee,
		Year:           2025,
		PolicyVersion:  1,
		Workflow: []leave.Step{
			{Order: 1, ApproverID: "head-1", ApproverRole: authz.RoleDepartmentHead, Status: leave.StepPending},
			{Order: 2, ApproverRole: authz.RoleAdmin, Status: leave.StepPending},
		},
		UpdatedAt: now,
	}
}

func TestApplications_InsertUpdateGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	app := sampleApplication("app-1", "emp-1", time.Now())

	require.NoError(t, s.InsertApplication(ctx, app))
	assert.ErrorIs(t, s.InsertApplication(ctx, app), generic.ErrValidation)

	got, err := s.GetApplication(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, app.StartDate.Equal(got.StartDate))
	require.Len(t, got.Workflow, 2)
	assert.Equal(t, "head-1", got.Workflow[0].ApproverID)

	acted := time.Now().UTC().Truncate(time.Second)
	got.Workflow[0].Status = leave.StepApproved
	got.Workflow[0].ActionDate = &acted
	got.Workflow[0].ActedBy = "head-1"
	require.NoError(t, s.UpdateApplication(ctx, got, 1))
	assert.ErrorIs(t, s.UpdateApplication(ctx, got, 1), generic.ErrConcurrentModification)

	again, err := s.GetApplication(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), again.Version)
	assert.Equal(t, leave.StepApproved, again.Workflow[0].Status)
	require.NotNil(t, again.Workflow[0].ActionDate)
	assert.True(t, acted.Equal(*again.Workflow[0].ActionDate))

	_, err = s.GetApplication(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)
	assert.ErrorIs(t, s.UpdateApplication(ctx, sampleApplication("missing", "x", time.Now()), 1), generic.ErrNotFound)
}

func TestApplications_ListFilter(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	a1 := sampleApplication("app-1", "emp-1", base)
	a2 := sampleApplication("app-2", "emp-2", base.Add(time.Hour))
	a2.Status = leave.StatusApproved
	a3 := sampleApplication("app-3", "emp-3", base.Add(2*time.Hour))
	a3.DepartmentID = "sales"
	a3.LeaveType = "Sick"
	for _, a := range []leave.Application{a3, a1, a2} {
		require.NoError(t, s.InsertApplication(ctx, a))
	}

	ids := func(apps []leave.Application) []string {
		out := make([]string, len(apps))
		for i, a := range apps {
			out[i] = a.ID
		}
		return out
	}

	tests := []struct {
		name   string
		filter leave.ApplicationFilter
		want   []string
	}{
		{"all ordered by submission", leave.ApplicationFilter{}, []string{"app-1", "app-2", "app-3"}},
		{"employee", leave.ApplicationFilter{EmployeeID: "emp-2"}, []string{"app-2"}},
		{"department", leave.ApplicationFilter{DepartmentID: "eng"}, []string{"app-1", "app-2"}},
		{"employee or department", leave.ApplicationFilter{EmployeeID: "emp-3", DepartmentID: "eng"}, []string{"app-1", "app-2", "app-3"}},
		{"status", leave.ApplicationFilter{Statuses: []leave.Status{leave.StatusApproved}}, []string{"app-2"}},
		{"leave type", leave.ApplicationFilter{LeaveType: "Sick"}, []string{"app-3"}},
		{"year", leave.ApplicationFilter{Year: 2024}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListApplications(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestDirectory(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveEmployee(ctx, leave.Employee{ID: "head-1", Name: "Hana", Role: authz.RoleDepartmentHead, DepartmentID: "eng"}))
	require.NoError(t, s.SaveEmployee(ctx, leave.Employee{ID: "emp-1", Name: "Sam", Email: "sam@example.com", Role: authz.RoleStaff, DepartmentID: "eng"}))
	require.NoError(t, s.SaveDepartment(ctx, leave.Department{ID: "eng", Name: "Engineering", HeadID: "head-1",
		ApprovalChain: []authz.Role{authz.RoleDepartmentHead, authz.RoleManager}}))
	require.NoError(t, s.SaveDepartment(ctx, leave.Department{ID: "sales", Name: "Sales"}))

	e, err := s.GetEmployee(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, authz.RoleStaff, e.Role)
	assert.Equal(t, "sam@example.com", e.Email)

	list, err := s.ListEmployees(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	d, err := s.GetDepartment(ctx, "eng")
	require.NoError(t, err)
	assert.Equal(t, []authz.Role{authz.RoleDepartmentHead, authz.RoleManager}, d.ApprovalChain)

	d, err = s.GetDepartment(ctx, "sales")
	require.NoError(t, err)
	assert.Empty(t, d.HeadID)
	assert.Empty(t, d.ApprovalChain)

	_, err = s.GetEmployee(ctx, "nobody")
	assert.ErrorIs(t, err, generic.ErrNotFound)
	_, err = s.GetDepartment(ctx, "nowhere")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestServiceOverSQLite_ApproveFlow(t *testing.T) {
	// GIVEN: the full service wired over SQLite
	// WHEN: staff submits and both steps approve
	// THEN: the balance reflects consumption and the application is approved
	s := newStore(t)
	ctx := context.Background()

	policies := &leave.PolicyService{Store: s}
	require.NoError(t, policies.Seed(ctx, leave.DefaultPolicies()...))
	require.NoError(t, s.SaveDepartment(ctx, leave.Department{ID: "eng", Name: "Engineering", HeadID: "head-1"}))
	staff := leave.Employee{ID: "emp-1", Name: "Sam", Role: authz.RoleStaff, DepartmentID: "eng"}
	head := leave.Employee{ID: "head-1", Name: "Hana", Role: authz.RoleDepartmentHead, DepartmentID: "eng"}
	admin := leave.Employee{ID: "admin-1", Name: "Ada", Role: authz.RoleAdmin}
	for _, e := range []leave.Employee{staff, head, admin} {
		require.NoError(t, s.SaveEmployee(ctx, e))
	}

	ledger := generic.NewLedger(s, policies.Allocation)
	svc := leave.NewService(s, ledger, nil, leave.Options{})
	svc.Now = func() time.Time { return time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC) }

	app, err := svc.Submit(ctx, staff.Actor(), leave.SubmitInput{
		LeaveType: leave.TypeAnnual,
		StartDate: generic.Date(2025, time.March, 17),
		EndDate:   generic.Date(2025, time.March, 19),
		Reason:    "family",
	})
	require.NoError(t, err)

	_, err = svc.ActOnStep(ctx, head.Actor(), app.ID, leave.StepDecision{Decision: leave.DecisionApproved, StepOrder: 1})
	require.NoError(t, err)
	final, err := svc.ActOnStep(ctx, admin.Actor(), app.ID, leave.StepDecision{Decision: leave.DecisionApproved, StepOrder: 2})
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, final.Status)

	b, err := s.GetBalance(ctx, app.BalanceKey())
	require.NoError(t, err)
	assert.True(t, generic.Days(3).Equal(b.Used))
	assert.True(t, b.Pending.IsZero())
	assert.True(t, generic.Days(12).Equal(b.Remaining))
	require.NoError(t, b.CheckInvariant())
}

func TestReset(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertBalance(ctx, generic.NewBalance(annualKey)))
	require.NoError(t, s.Reset(ctx))
	_, err := s.GetBalance(ctx, annualKey)
	assert.ErrorIs(t, err, generic.ErrNotFound)
}
