/*
service.go - Leave application state machine

PURPOSE:
  Drives an application through its life and keeps the ledger in step:

    submit ──> pending ──(last step approved)──> approved   Consume(totalDays)
                  │
                  ├──(any step rejected)──────> rejected    Release(totalDays)
                  └──(owner/elevated cancels)─> cancelled   Release(totalDays)

  Terminal states are immutable. Submission reserves the days; no
  application exists without its reservation.

CONCURRENCY:
  - Submissions and updates are serialized per employee so two
    overlapping requests cannot both pass the overlap check.
  - Decisions, cancellations and updates are serialized per application
    and written with a compare-and-swap on Application.Version.
  - Ledger changes are linearized per balance key by generic.Ledger.

  A decision is persisted on the application first and settled on the
  ledger second. If the ledger refuses at that point the invariant was
  already broken elsewhere; the failure is logged and surfaces as
  ErrInvalidLedgerState.

NOTIFICATIONS:
  Sent after the transition is durable. A failed notification is logged
  and never rolls anything back.

SEE ALSO:
  - workflow.go: chain construction and step ordering
  - authz/authz.go: permission predicates
  - generic/ledger.go: Reserve/Consume/Release
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/authz"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/notify"
	"go.uber.org/zap"
)

// Options are the workflow policy switches.
type Options struct {
	// ElevatedMayWaiveNotice lets admins and managers skip minAdvanceNoticeDays.
	ElevatedMayWaiveNotice bool
	// AllowOnBehalf lets admins and managers submit for other employees.
	AllowOnBehalf bool
}

// Observer receives application transitions (metrics).
type Observer interface {
	ApplicationTransition(from, to string)
}

type nopObserver struct{}

func (nopObserver) ApplicationTransition(string, string) {}

// Service implements the application state machine.
type Service struct {
	Applications ApplicationStore
	Directory    Directory
	Policies     *PolicyService
	Ledger       *generic.Ledger
	Notifier     notify.Notifier
	Options      Options
	Observer     Observer
	Now          func() time.Time
	Log          *zap.Logger

	employeeLocks    *generic.KeyedMutex
	applicationLocks *generic.KeyedMutex
}

// NewService wires a service over store. The ledger must already use store
// (or a store sharing its balances).
func NewService(store Store, ledger *generic.Ledger, notifier notify.Notifier, opts Options) *Service {
	if notifier == nil {
		notifier = notify.NewLogNotifier(nil)
	}
	return &Service{
		Applications:     store,
		Directory:        store,
		Policies:         NewPolicyService(store),
		Ledger:           ledger,
		Notifier:         notifier,
		Options:          opts,
		Observer:         nopObserver{},
		Now:              time.Now,
		Log:              zap.NewNop(),
		employeeLocks:    generic.NewKeyedMutex(),
		applicationLocks: generic.NewKeyedMutex(),
	}
}

// =============================================================================
// INPUTS
// =============================================================================

// SubmitInput is a new leave request. EmployeeID defaults to the actor.
type SubmitInput struct {
	EmployeeID string
	LeaveType  string
	StartDate  time.Time
	EndDate    time.Time
	Reason     string
	Priority   Priority
}

// StepDecision decides one workflow step. StepOrder (1-based) is required.
type StepDecision struct {
	Decision  Decision
	Comments  string
	StepOrder int
}

// UpdateInput changes a pending application. Zero fields keep their value.
type UpdateInput struct {
	LeaveType string
	StartDate time.Time
	EndDate   time.Time
	Reason    string
	Priority  Priority
}

// ListFilter narrows List. Zero fields match everything within the actor's scope.
type ListFilter struct {
	EmployeeID string
	Status     Status
	LeaveType  string
	Year       int
}

// =============================================================================
// SUBMIT
// =============================================================================

// Submit validates a request, reserves its days and creates a pending application.
func (s *Service) Submit(ctx context.Context, actor authz.Actor, in SubmitInput) (Application, error) {
	if in.EmployeeID == "" {
		in.EmployeeID = actor.ID
	}
	applicant, err := s.Directory.GetEmployee(ctx, in.EmployeeID)
	if err != nil {
		return Application{}, fmt.Errorf("resolve applicant: %w", err)
	}
	if err := authz.CanSubmit(actor, applicant.ID, applicant.DepartmentID, s.Options.AllowOnBehalf); err != nil {
		return Application{}, err
	}

	req := request{
		LeaveType: in.LeaveType, StartDate: in.StartDate, EndDate: in.EndDate,
		Reason: in.Reason, Priority: in.Priority,
	}
	policy, err := s.validate(ctx, actor, &req)
	if err != nil {
		return Application{}, err
	}

	unlock := s.employeeLocks.Lock(applicant.ID)
	defer unlock()

	if err := s.checkOverlap(ctx, applicant.ID, "", req.StartDate, req.EndDate); err != nil {
		return Application{}, err
	}
	dept, err := s.department(ctx, applicant.DepartmentID)
	if err != nil {
		return Application{}, err
	}

	now := s.Now().UTC()
	app := Application{
		ID:             uuid.NewString(),
		EmployeeID:     applicant.ID,
		DepartmentID:   applicant.DepartmentID,
		LeaveType:      policy.LeaveType,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		TotalDays:      req.totalDays,
		Reason:         req.Reason,
		Priority:       req.Priority,
		Status:         StatusPending,
		SubmissionDate: now,
		SubmittedBy:    actor.ID,
		Year:           req.StartDate.Year(),
		PolicyVersion:  policy.Version,
		Workflow:       BuildWorkflow(applicant, dept),
		UpdatedAt:      now,
	}

	if _, err := s.Ledger.Reserve(ctx, app.BalanceKey(), app.Days(), describe("reserved", app), app.ID); err != nil {
		return Application{}, err
	}
	if err := s.Applications.InsertApplication(ctx, app); err != nil {
		s.compensate(ctx, app.BalanceKey(), app.Days(), app.ID, err)
		return Application{}, fmt.Errorf("save application: %w", err)
	}
	app.Version = 1

	s.Observer.ApplicationTransition("", string(StatusPending))
	s.Log.Info("leave submitted",
		zap.String("application_id", app.ID),
		zap.String("employee_id", app.EmployeeID),
		zap.String("leave_type", app.LeaveType),
		zap.Int("total_days", app.TotalDays))
	s.notify(ctx, notify.EventSubmitted, nextRecipient(app.Workflow[0]), app)
	return app, nil
}

// =============================================================================
// ACT ON STEP
// =============================================================================

// ActOnStep approves or rejects the current step of an application.
func (s *Service) ActOnStep(ctx context.Context, actor authz.Actor, id string, d StepDecision) (Application, error) {
	if d.Decision != DecisionApproved && d.Decision != DecisionRejected {
		return Application{}, generic.Invalid("decision", "must be approved or rejected, got %q", d.Decision)
	}
	// Every decision names its step, so a retried request cannot move on
	// to the next one.
	if d.StepOrder < 1 {
		return Application{}, generic.Invalid("stepOrder", "is required and must be >= 1, got %d", d.StepOrder)
	}

	unlock := s.applicationLocks.Lock(id)
	defer unlock()

	app, err := s.Applications.GetApplication(ctx, id)
	if err != nil {
		return Application{}, err
	}
	if app.Status.Terminal() {
		return Application{}, generic.InvalidTransition("application %s is %s", id, app.Status)
	}
	idx, err := resolveStep(app, d.StepOrder)
	if err != nil {
		return Application{}, err
	}
	step := app.Workflow[idx]
	if err := authz.CanActOnStep(actor, authz.StepTarget{
		OwnerID:      app.EmployeeID,
		DepartmentID: app.DepartmentID,
		StepRole:     step.ApproverRole,
		ApproverID:   step.ApproverID,
	}); err != nil {
		return Application{}, err
	}

	now := s.Now().UTC()
	next := app.Clone()
	next.Workflow[idx].Comments = d.Comments
	next.Workflow[idx].ActionDate = &now
	next.Workflow[idx].ActedBy = actor.ID
	next.UpdatedAt = now

	last := idx == len(next.Workflow)-1
	switch {
	case d.Decision == DecisionRejected:
		next.Workflow[idx].Status = StepRejected
		next.Status = StatusRejected
	case last:
		next.Workflow[idx].Status = StepApproved
		next.Status = StatusApproved
	default:
		next.Workflow[idx].Status = StepApproved
	}

	if err := s.save(ctx, &next, app.Version); err != nil {
		return Application{}, err
	}

	switch next.Status {
	case StatusRejected:
		if err := s.settle(ctx, generic.OpRelease, next); err != nil {
			return next, err
		}
		s.notify(ctx, notify.EventRejected, next.EmployeeID, next)
	case StatusApproved:
		if err := s.settle(ctx, generic.OpConsume, next); err != nil {
			return next, err
		}
		s.notify(ctx, notify.EventApproved, next.EmployeeID, next)
	default:
		s.notify(ctx, notify.EventStepApproved, nextRecipient(next.Workflow[idx+1]), next)
	}

	s.Log.Info("leave step decided",
		zap.String("application_id", id),
		zap.Int("step", step.Order),
		zap.String("decision", string(d.Decision)),
		zap.String("actor", actor.ID),
		zap.String("status", string(next.Status)))
	return next, nil
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel withdraws a pending application and releases its days.
func (s *Service) Cancel(ctx context.Context, actor authz.Actor, id string) (Application, error) {
	unlock := s.applicationLocks.Lock(id)
	defer unlock()

	app, err := s.Applications.GetApplication(ctx, id)
	if err != nil {
		return Application{}, err
	}
	if app.Status != StatusPending {
		return Application{}, generic.InvalidTransition("only pending applications can be cancelled; %s is %s", id, app.Status)
	}
	if err := authz.CanCancel(actor, app.EmployeeID, app.DepartmentID); err != nil {
		return Application{}, err
	}

	next := app.Clone()
	next.Status = StatusCancelled
	next.UpdatedAt = s.Now().UTC()
	if err := s.save(ctx, &next, app.Version); err != nil {
		return Application{}, err
	}
	if err := s.settle(ctx, generic.OpRelease, next); err != nil {
		return next, err
	}

	s.Log.Info("leave cancelled", zap.String("application_id", id), zap.String("actor", actor.ID))
	s.notify(ctx, notify.EventCancelled, next.EmployeeID, next)
	if cur := app.CurrentStep(); cur >= 0 {
		s.notify(ctx, notify.EventCancelled, nextRecipient(app.Workflow[cur]), next)
	}
	return next, nil
}

// =============================================================================
// UPDATE
// =============================================================================

// Update edits a pending application nobody has decided on yet and moves
// its reservation accordingly.
func (s *Service) Update(ctx context.Context, actor authz.Actor, id string, in UpdateInput) (Application, error) {
	peek, err := s.Applications.GetApplication(ctx, id)
	if err != nil {
		return Application{}, err
	}
	unlockEmployee := s.employeeLocks.Lock(peek.EmployeeID)
	defer unlockEmployee()
	unlock := s.applicationLocks.Lock(id)
	defer unlock()

	app, err := s.Applications.GetApplication(ctx, id)
	if err != nil {
		return Application{}, err
	}
	if app.Status != StatusPending {
		return Application{}, generic.InvalidTransition("application %s is %s", id, app.Status)
	}
	if app.AnyDecided() {
		return Application{}, generic.InvalidTransition("application %s already has a decided step", id)
	}
	if err := authz.CanUpdate(actor, app.EmployeeID, app.DepartmentID); err != nil {
		return Application{}, err
	}

	req := request{
		LeaveType: firstNonEmpty(in.LeaveType, app.LeaveType),
		StartDate: app.StartDate, EndDate: app.EndDate,
		Reason:   firstNonEmpty(in.Reason, app.Reason),
		Priority: Priority(firstNonEmpty(string(in.Priority), string(app.Priority))),
	}
	if !in.StartDate.IsZero() {
		req.StartDate = in.StartDate
	}
	if !in.EndDate.IsZero() {
		req.EndDate = in.EndDate
	}
	policy, err := s.validate(ctx, actor, &req)
	if err != nil {
		return Application{}, err
	}
	if err := s.checkOverlap(ctx, app.EmployeeID, app.ID, req.StartDate, req.EndDate); err != nil {
		return Application{}, err
	}

	next := app.Clone()
	next.LeaveType = policy.LeaveType
	next.PolicyVersion = policy.Version
	next.StartDate = req.StartDate
	next.EndDate = req.EndDate
	next.TotalDays = req.totalDays
	next.Year = req.StartDate.Year()
	next.Reason = req.Reason
	next.Priority = req.Priority
	next.UpdatedAt = s.Now().UTC()

	oldKey, newKey := app.BalanceKey(), next.BalanceKey()
	oldDays, newDays := app.Days(), next.Days()

	// Grow the reservation before saving so an insufficient balance leaves
	// nothing behind; shrink it only after the save is durable.
	var reserve, release decimal.Decimal
	sameKey := oldKey == newKey
	switch {
	case sameKey && newDays.GreaterThan(oldDays):
		reserve = newDays.Sub(oldDays)
	case sameKey:
		release = oldDays.Sub(newDays)
	default:
		reserve, release = newDays, oldDays
	}

	if reserve.IsPositive() {
		if _, err := s.Ledger.Reserve(ctx, newKey, reserve, describe("reservation adjusted", next), next.ID); err != nil {
			return Application{}, err
		}
	}
	if err := s.save(ctx, &next, app.Version); err != nil {
		if reserve.IsPositive() {
			s.compensate(ctx, newKey, reserve, next.ID, err)
		}
		return Application{}, err
	}
	if release.IsPositive() {
		if _, err := s.Ledger.Release(ctx, oldKey, release, describe("reservation adjusted", next), next.ID); err != nil {
			return next, s.ledgerFailure(generic.OpRelease, next, err)
		}
	}

	s.Log.Info("leave updated",
		zap.String("application_id", id),
		zap.Int("total_days", next.TotalDays),
		zap.String("actor", actor.ID))
	if cur := next.CurrentStep(); cur >= 0 {
		s.notify(ctx, notify.EventUpdated, nextRecipient(next.Workflow[cur]), next)
	}
	return next, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Get returns an application the actor may view.
func (s *Service) Get(ctx context.Context, actor authz.Actor, id string) (Application, error) {
	app, err := s.Applications.GetApplication(ctx, id)
	if err != nil {
		return Application{}, err
	}
	if err := authz.CanView(actor, app.EmployeeID, app.DepartmentID); err != nil {
		return Application{}, err
	}
	return app, nil
}

// List returns the applications within the actor's scope. Asking for a
// specific employee outside that scope is refused, not silently narrowed.
func (s *Service) List(ctx context.Context, actor authz.Actor, lf ListFilter) ([]Application, error) {
	f := ApplicationFilter{EmployeeID: lf.EmployeeID, LeaveType: lf.LeaveType, Year: lf.Year}
	if lf.Status != "" {
		if !lf.Status.Valid() {
			return nil, generic.Invalid("status", "unknown status %q", lf.Status)
		}
		f.Statuses = []Status{lf.Status}
	}

	scope := authz.ListScope(actor)
	switch {
	case scope.All:
	case lf.EmployeeID != "":
		emp, err := s.Directory.GetEmployee(ctx, lf.EmployeeID)
		if err != nil {
			return nil, err
		}
		if err := authz.CanView(actor, emp.ID, emp.DepartmentID); err != nil {
			return nil, err
		}
	default:
		f.EmployeeID, f.DepartmentID = scope.EmployeeID, scope.DepartmentID
	}
	return s.Applications.ListApplications(ctx, f)
}

// GetBalance returns one balance of an employee the actor may see. A
// balance never written yet reads as its opening allocation at Version 0.
func (s *Service) GetBalance(ctx context.Context, actor authz.Actor, employeeID, leaveType string, year int) (generic.Balance, error) {
	if err := s.canViewBalance(ctx, actor, employeeID); err != nil {
		return generic.Balance{}, err
	}
	policy, err := s.Policies.Get(ctx, leaveType)
	if err != nil {
		return generic.Balance{}, err
	}
	key := generic.BalanceKey{EntityID: generic.EntityID(employeeID), Resource: leaveType, Year: year}
	b, err := s.Ledger.GetBalance(ctx, key)
	if errors.Is(err, generic.ErrNotFound) {
		b = generic.NewBalance(key)
		b.TotalAllocated = policy.DefaultAllocation
		b.Remaining = policy.DefaultAllocation
		return b, nil
	}
	return b, err
}

// ListBalances returns every balance of an employee for year.
func (s *Service) ListBalances(ctx context.Context, actor authz.Actor, employeeID string, year int) ([]generic.Balance, error) {
	if err := s.canViewBalance(ctx, actor, employeeID); err != nil {
		return nil, err
	}
	return s.Ledger.ListBalances(ctx, generic.EntityID(employeeID), year)
}

func (s *Service) canViewBalance(ctx context.Context, actor authz.Actor, employeeID string) error {
	emp, err := s.Directory.GetEmployee(ctx, employeeID)
	if err != nil {
		return err
	}
	return authz.CanViewBalance(actor, emp.ID, emp.DepartmentID)
}

// =============================================================================
// VALIDATION
// =============================================================================

type request struct {
	LeaveType string
	StartDate time.Time
	EndDate   time.Time
	Reason    string
	Priority  Priority

	totalDays int
}

// validate normalizes req and checks it against its policy.
func (s *Service) validate(ctx context.Context, actor authz.Actor, req *request) (Policy, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	switch {
	case req.LeaveType == "":
		return Policy{}, generic.Invalid("leaveType", "is required")
	case req.StartDate.IsZero():
		return Policy{}, generic.Invalid("startDate", "is required")
	case req.EndDate.IsZero():
		return Policy{}, generic.Invalid("endDate", "is required")
	case req.Reason == "":
		return Policy{}, generic.Invalid("reason", "is required")
	}
	if req.Priority == "" {
		req.Priority = PriorityNormal
	}
	if !req.Priority.Valid() {
		return Policy{}, generic.Invalid("priority", "unknown priority %q", req.Priority)
	}

	policy, err := s.Policies.Get(ctx, req.LeaveType)
	if err != nil {
		return Policy{}, err
	}

	period := generic.NewPeriod(req.StartDate, req.EndDate)
	req.StartDate, req.EndDate = period.Start, period.End
	if !period.Valid() {
		return Policy{}, generic.Invalid("endDate", "must not be before startDate")
	}

	waive := s.Options.ElevatedMayWaiveNotice && actor.Role.Elevated()
	if notice := generic.DaysBetween(generic.TruncateDay(s.Now()), req.StartDate); !waive && notice < policy.MinAdvanceNoticeDays {
		return Policy{}, generic.Invalid("startDate", "%s requires %d days notice, got %d",
			policy.LeaveType, policy.MinAdvanceNoticeDays, notice)
	}

	req.totalDays = period.Days()
	if req.totalDays > policy.MaxConsecutiveDays {
		return Policy{}, generic.Invalid("endDate", "%s allows at most %d consecutive days, requested %d",
			policy.LeaveType, policy.MaxConsecutiveDays, req.totalDays)
	}
	return policy, nil
}

func (s *Service) checkOverlap(ctx context.Context, employeeID, exclude string, start, end time.Time) error {
	active, err := s.Applications.ListApplications(ctx, ApplicationFilter{
		EmployeeID: employeeID,
		Statuses:   []Status{StatusPending, StatusApproved},
	})
	if err != nil {
		return fmt.Errorf("load active applications: %w", err)
	}
	for _, a := range active {
		if a.ID != exclude && a.Overlaps(generic.NewPeriod(start, end)) {
			return &OverlappingLeaveError{EmployeeID: employeeID, ConflictingID: a.ID, Start: a.StartDate, End: a.EndDate}
		}
	}
	return nil
}

// department resolves the applicant's department. Unknown departments get
// the default chain with no head.
func (s *Service) department(ctx context.Context, id string) (Department, error) {
	if id == "" {
		return Department{}, nil
	}
	dept, err := s.Directory.GetDepartment(ctx, id)
	if errors.Is(err, generic.ErrNotFound) {
		s.Log.Warn("department not found, using default approval chain", zap.String("department_id", id))
		return Department{ID: id}, nil
	}
	return dept, err
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) save(ctx context.Context, next *Application, expected int64) error {
	if err := s.Applications.UpdateApplication(ctx, *next, expected); err != nil {
		return fmt.Errorf("save application %s: %w", next.ID, err)
	}
	next.Version = expected + 1
	return nil
}

// settle applies the terminal ledger effect of a saved transition.
func (s *Service) settle(ctx context.Context, op string, app Application) error {
	s.Observer.ApplicationTransition(string(StatusPending), string(app.Status))
	var err error
	switch op {
	case generic.OpConsume:
		_, err = s.Ledger.Consume(ctx, app.BalanceKey(), app.Days(), describe("approved", app), app.ID)
	default:
		_, err = s.Ledger.Release(ctx, app.BalanceKey(), app.Days(), describe(string(app.Status), app), app.ID)
	}
	if err != nil {
		return s.ledgerFailure(op, app, err)
	}
	return nil
}

func (s *Service) ledgerFailure(op string, app Application, err error) error {
	s.Log.Error("ledger settlement failed after application transition",
		zap.String("op", op),
		zap.String("application_id", app.ID),
		zap.String("status", string(app.Status)),
		zap.Error(err))
	if errors.Is(err, generic.ErrInvalidLedgerState) {
		return err
	}
	return &generic.LedgerStateError{Key: app.BalanceKey(), Detail: fmt.Sprintf("%s for %s failed: %v", op, app.ID, err)}
}

// compensate releases a reservation whose application could not be saved.
func (s *Service) compensate(ctx context.Context, key generic.BalanceKey, days decimal.Decimal, ref string, cause error) {
	if _, err := s.Ledger.Release(ctx, key, days, "reservation rolled back", ref); err != nil {
		s.Log.Error("failed to roll back reservation",
			zap.String("key", key.String()),
			zap.String("application_id", ref),
			zap.NamedError("cause", cause),
			zap.Error(err))
	}
}

func (s *Service) notify(ctx context.Context, event notify.Event, recipient string, app Application) {
	err := s.Notifier.Notify(ctx, notify.Notification{
		Event:     event,
		Recipient: recipient,
		Payload: map[string]any{
			"applicationId": app.ID,
			"employeeId":    app.EmployeeID,
			"leaveType":     app.LeaveType,
			"startDate":     app.StartDate.Format(generic.DateLayout),
			"endDate":       app.EndDate.Format(generic.DateLayout),
			"totalDays":     app.TotalDays,
			"status":        string(app.Status),
		},
	})
	if err != nil {
		s.Log.Warn("notification failed",
			zap.String("event", string(event)),
			zap.String("recipient", recipient),
			zap.String("application_id", app.ID),
			zap.Error(err))
	}
}

func describe(what string, app Application) string {
	return fmt.Sprintf("%s: %s %s to %s", what, app.LeaveType,
		app.StartDate.Format(generic.DateLayout), app.EndDate.Format(generic.DateLayout))
}

func firstNonEmpty(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
