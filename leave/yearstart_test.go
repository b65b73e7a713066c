package leave_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestYearInitializer_CarryForwardAndSkip(t *testing.T) {
	// GIVEN: staff-1 used 4 Annual days in 2025 (11 remaining)
	// WHEN: Initializing 2026
	// THEN: Annual 2026 = 15 allocated + 11 carried; Sick does not carry;
	//       the five untouched employees carry their full 15
	f := newFixture(t, leave.Options{})
	ctx := context.Background()

	app, err := f.svc.Submit(ctx, staff.Actor(), annualRequest(10, 4))
	require.NoError(t, err)
	_, err = f.svc.ActOnStep(ctx, head.Actor(), app.ID, approve(1))
	require.NoError(t, err)
	_, err = f.svc.ActOnStep(ctx, admin.Actor(), app.ID, approve(2))
	require.NoError(t, err)

	yi := leave.NewYearInitializer(f.store, f.ledger)
	report, err := yi.Initialize(ctx, admin.Actor(), 2026, false)
	require.NoError(t, err)

	employees, policies := 6, len(leave.DefaultPolicies())
	assert.Equal(t, employees*policies, report.Initialized)
	assert.Zero(t, report.Skipped)
	assert.Empty(t, report.Failures)
	assert.Equal(t, "86", report.CarriedDays)

	annual, err := f.ledger.GetBalance(ctx, generic.BalanceKey{EntityID: "staff-1", Resource: leave.TypeAnnual, Year: 2026})
	require.NoError(t, err)
	assert.True(t, generic.Days(15).Equal(annual.TotalAllocated))
	assert.True(t, generic.Days(11).Equal(annual.CarriedForward))
	assert.True(t, generic.Days(26).Equal(annual.Remaining))

	sick, err := f.ledger.GetBalance(ctx, generic.BalanceKey{EntityID: "staff-1", Resource: leave.TypeSick, Year: 2026})
	require.NoError(t, err)
	assert.True(t, sick.CarriedForward.IsZero())

	// Running again is harmless.
	report, err = yi.Run(ctx, 2026, false)
	require.NoError(t, err)
	assert.Zero(t, report.Initialized)
	assert.Equal(t, employees*policies, report.Skipped)
}

func TestYearInitializer_UntouchedPreviousYearCarriesAllocation(t *testing.T) {
	// GIVEN: staff-2 took 1 approved Annual day in 2025; staff-1 never
	//        touched Annual 2025 (no stored record)
	// WHEN: Initializing 2026
	// THEN: staff-1 carries the 15 it could still see as remaining in 2025;
	//       staff-2 carries 14
	f := newFixture(t, leave.Options{})
	ctx := context.Background()

	app, err := f.svc.Submit(ctx, staff2.Actor(), annualRequest(10, 1))
	require.NoError(t, err)
	_, err = f.svc.ActOnStep(ctx, head.Actor(), app.ID, approve(1))
	require.NoError(t, err)
	_, err = f.svc.ActOnStep(ctx, admin.Actor(), app.ID, approve(2))
	require.NoError(t, err)

	_, err = f.ledger.GetBalance(ctx, generic.BalanceKey{EntityID: "staff-1", Resource: leave.TypeAnnual, Year: 2025})
	require.ErrorIs(t, err, generic.ErrNotFound)
	projected, err := f.svc.GetBalance(ctx, staff.Actor(), staff.ID, leave.TypeAnnual, 2025)
	require.NoError(t, err)
	assert.True(t, generic.Days(15).Equal(projected.Remaining))

	yi := leave.NewYearInitializer(f.store, f.ledger)
	_, err = yi.Run(ctx, 2026, false)
	require.NoError(t, err)

	untouched, err := f.ledger.GetBalance(ctx, generic.BalanceKey{EntityID: "staff-1", Resource: leave.TypeAnnual, Year: 2026})
	require.NoError(t, err)
	assert.True(t, generic.Days(15).Equal(untouched.CarriedForward), "carried %s", untouched.CarriedForward)
	assert.True(t, generic.Days(30).Equal(untouched.Remaining))
	require.NoError(t, untouched.CheckInvariant())

	used, err := f.ledger.GetBalance(ctx, generic.BalanceKey{EntityID: "staff-2", Resource: leave.TypeAnnual, Year: 2026})
	require.NoError(t, err)
	assert.True(t, generic.Days(14).Equal(used.CarriedForward), "carried %s", used.CarriedForward)

	// Policies without carry-forward stay at zero even when untouched.
	sick, err := f.ledger.GetBalance(ctx, generic.BalanceKey{EntityID: "staff-1", Resource: leave.TypeSick, Year: 2026})
	require.NoError(t, err)
	assert.True(t, sick.CarriedForward.IsZero())
}

func TestYearInitializer_PendingDaysAreNotCarried(t *testing.T) {
	// GIVEN: staff-1 has 3 Annual days still pending in 2025
	// WHEN: Initializing 2026
	// THEN: Only the 12 remaining days carry, and a warning names the key
	f := newFixture(t, leave.Options{})
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, staff.Actor(), annualRequest(10, 3))
	require.NoError(t, err)

	core, logs := observer.New(zap.WarnLevel)
	yi := leave.NewYearInitializer(f.store, f.ledger)
	yi.Log = zap.New(core)
	_, err = yi.Run(ctx, 2026, false)
	require.NoError(t, err)

	b, err := f.ledger.GetBalance(ctx, generic.BalanceKey{EntityID: "staff-1", Resource: leave.TypeAnnual, Year: 2026})
	require.NoError(t, err)
	assert.True(t, generic.Days(12).Equal(b.CarriedForward), "carried %s", b.CarriedForward)

	warnings := logs.FilterMessage("carrying forward with pending days").All()
	require.Len(t, warnings, 1)
	fields := warnings[0].ContextMap()
	assert.Equal(t, "staff-1/Annual/2025", fields["key"])
	assert.Equal(t, "3", fields["pending"])
}

func TestYearInitializer_Force(t *testing.T) {
	f := newFixture(t, leave.Options{})
	ctx := context.Background()
	yi := leave.NewYearInitializer(f.store, f.ledger)

	_, err := yi.Run(ctx, 2026, false)
	require.NoError(t, err)

	p := leave.AnnualPolicy()
	p.DefaultAllocation = generic.Days(20)
	_, err = f.svc.Policies.Upsert(ctx, admin.Actor(), p)
	require.NoError(t, err)

	report, err := yi.Run(ctx, 2026, true)
	require.NoError(t, err)
	assert.Zero(t, report.Skipped)

	b, err := f.ledger.GetBalance(ctx, generic.BalanceKey{EntityID: "staff-1", Resource: leave.TypeAnnual, Year: 2026})
	require.NoError(t, err)
	assert.True(t, generic.Days(20).Equal(b.TotalAllocated))
	require.NoError(t, b.CheckInvariant())
}

func TestYearInitializer_AdminOnly(t *testing.T) {
	f := newFixture(t, leave.Options{})
	yi := leave.NewYearInitializer(f.store, f.ledger)

	_, err := yi.Initialize(context.Background(), manager.Actor(), 2026, false)
	assert.ErrorIs(t, err, generic.ErrPermissionDenied)

	_, err = yi.Run(context.Background(), 0, false)
	assert.ErrorIs(t, err, generic.ErrValidation)
}
