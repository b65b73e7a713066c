/*
yearstart.go - Year-start balance initialization

PURPOSE:
  Opens the balances of a new year for every employee and every policy:

    allocation     = policy.DefaultAllocation
    carriedForward = previous year's remaining, when the policy allows
                     carry-forward and a previous balance exists

  The run is triggered externally (CLI or admin endpoint); nothing in the
  engine schedules it. Balances that already exist are skipped unless
  force is set, so the run can safely be repeated.

CONCURRENCY:
  Keys are independent, so the run fans out over a bounded errgroup.
  One failing key never aborts the others; failures are collected in the
  report.
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/authz"
	"github.com/warp/leave-engine/generic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultInitConcurrency = 4

// YearObserver receives the outcome counts of a run (metrics).
type YearObserver interface {
	YearInitialized(initialized, skipped, failed int)
}

type nopYearObserver struct{}

func (nopYearObserver) YearInitialized(int, int, int) {}

// YearInitializer runs the year-start batch.
type YearInitializer struct {
	Directory   Directory
	Policies    PolicyStore
	Ledger      *generic.Ledger
	Concurrency int
	Observer    YearObserver
	Log         *zap.Logger
}

func NewYearInitializer(store Store, ledger *generic.Ledger) *YearInitializer {
	return &YearInitializer{
		Directory:   store,
		Policies:    store,
		Ledger:      ledger,
		Concurrency: DefaultInitConcurrency,
		Observer:    nopYearObserver{},
		Log:         zap.NewNop(),
	}
}

// YearFailure is one key that could not be initialized.
type YearFailure struct {
	EmployeeID string `json:"employeeId"`
	LeaveType  string `json:"leaveType"`
	Code       string `json:"code"`
	Error      string `json:"error"`
}

// YearReport summarizes a run.
type YearReport struct {
	Year        int           `json:"year"`
	Force       bool          `json:"force"`
	Initialized int           `json:"initialized"`
	Skipped     int           `json:"skipped"`
	CarriedDays string        `json:"carriedDays"`
	Failures    []YearFailure `json:"failures,omitempty"`
}

// Initialize is the admin-gated entry point.
func (y *YearInitializer) Initialize(ctx context.Context, actor authz.Actor, year int, force bool) (YearReport, error) {
	if err := authz.CanInitializeLedger(actor); err != nil {
		return YearReport{}, err
	}
	return y.Run(ctx, year, force)
}

// Run initializes year for every employee x policy.
func (y *YearInitializer) Run(ctx context.Context, year int, force bool) (YearReport, error) {
	if year < 1 {
		return YearReport{}, generic.Invalid("year", "must be positive, got %d", year)
	}
	employees, err := y.Directory.ListEmployees(ctx)
	if err != nil {
		return YearReport{}, fmt.Errorf("list employees: %w", err)
	}
	policies, err := y.Policies.ListPolicies(ctx)
	if err != nil {
		return YearReport{}, fmt.Errorf("list policies: %w", err)
	}

	var (
		mu      sync.Mutex
		report  = YearReport{Year: year, Force: force}
		carried = decimal.Zero
	)

	g, gctx := errgroup.WithContext(ctx)
	limit := y.Concurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for _, emp := range employees {
		emp := emp
		for _, p := range policies {
			p := p
			g.Go(func() error {
				c, err := y.initializeOne(gctx, emp.ID, p, year, force)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					report.Initialized++
					carried = carried.Add(c)
				case errors.Is(err, generic.ErrAlreadyInitialized):
					report.Skipped++
				case gctx.Err() != nil:
					return gctx.Err()
				default:
					report.Failures = append(report.Failures, YearFailure{
						EmployeeID: emp.ID,
						LeaveType:  p.LeaveType,
						Code:       generic.Code(err),
						Error:      err.Error(),
					})
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	sort.Slice(report.Failures, func(i, j int) bool {
		a, b := report.Failures[i], report.Failures[j]
		if a.EmployeeID != b.EmployeeID {
			return a.EmployeeID < b.EmployeeID
		}
		return a.LeaveType < b.LeaveType
	})
	report.CarriedDays = carried.String()
	y.Observer.YearInitialized(report.Initialized, report.Skipped, len(report.Failures))

	y.Log.Info("year initialized",
		zap.Int("year", year),
		zap.Bool("force", force),
		zap.Int("initialized", report.Initialized),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", len(report.Failures)))
	return report, nil
}

func (y *YearInitializer) initializeOne(ctx context.Context, employeeID string, p Policy, year int, force bool) (decimal.Decimal, error) {
	key := generic.BalanceKey{EntityID: generic.EntityID(employeeID), Resource: p.LeaveType, Year: year}

	carried := decimal.Zero
	if p.AllowCarryForward {
		prev, err := y.Ledger.GetBalance(ctx, generic.BalanceKey{EntityID: key.EntityID, Resource: key.Resource, Year: year - 1})
		switch {
		case err == nil:
			carried = prev.Remaining
			if prev.Pending.IsPositive() {
				// Pending days stay reserved against the old year and are
				// not carried.
				y.Log.Warn("carrying forward with pending days",
					zap.String("key", prev.Key.String()),
					zap.String("pending", prev.Pending.String()),
					zap.String("carried", carried.String()))
			}
		case errors.Is(err, generic.ErrNotFound):
			// An untouched year still had its opening allocation.
			carried = p.DefaultAllocation
		default:
			return decimal.Zero, fmt.Errorf("previous balance: %w", err)
		}
	}

	if _, err := y.Ledger.InitializeYear(ctx, key, p.DefaultAllocation, carried, force); err != nil {
		return decimal.Zero, err
	}
	return carried, nil
}
