/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
	Populates the store with a small organization and replays the four
	reference flows through the real service, so a demo UI (or curl) can
	inspect balances and workflows in a known state.

AVAILABLE SCENARIOS:
	org:         Default policies and the demo directory, nothing submitted
	approved:    5 Annual days submitted and approved by head then admin
	insufficient: a 20-day Annual request refused, balance untouched
	rejected:    head approves, admin rejects, reservation released
	cancelled:   employee cancels before any decision

DEMO DIRECTORY:
	admin-1    admin
	manager-1  manager
	head-eng   department_head of eng
	emp-1      staff, eng (head-eng then admin)
	emp-2      staff, eng
	seller-1   staff, sales (no head: admin only)

USAGE VIA API:
	POST /api/scenarios/load
	{"scenarioId": "rejected"}

NOTE:
	Scenarios reset the store. Only mounted when server.demo is enabled.

SEE ALSO:
  - server.go: RouterOptions.Demo
  - leave/policies.go: DefaultPolicies
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/warp/leave-engine/authz"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"go.uber.org/zap"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{ID: "org", Name: "Organization", Description: "Default policies and demo directory"},
	{ID: "approved", Name: "Approved leave", Description: "5 Annual days approved through the two-step workflow"},
	{ID: "insufficient", Name: "Insufficient balance", Description: "20-day request refused, balance unchanged"},
	{ID: "rejected", Name: "Rejected at final step", Description: "Head approves, admin rejects, days released"},
	{ID: "cancelled", Name: "Cancelled", Description: "Employee cancels a pending application"},
}

var (
	demoAdmin   = leave.Employee{ID: "admin-1", Name: "Ada Admin", Role: authz.RoleAdmin}
	demoManager = leave.Employee{ID: "manager-1", Name: "Max Manager", Role: authz.RoleManager}
	demoHead    = leave.Employee{ID: "head-eng", Name: "Hana Head", Role: authz.RoleDepartmentHead, DepartmentID: "eng"}
	demoStaff   = leave.Employee{ID: "emp-1", Name: "Sam Staff", Email: "sam@example.com", Role: authz.RoleStaff, DepartmentID: "eng"}
	demoStaff2  = leave.Employee{ID: "emp-2", Name: "Lee Staff", Role: authz.RoleStaff, DepartmentID: "eng"}
	demoSeller  = leave.Employee{ID: "seller-1", Name: "Sol Seller", Role: authz.RoleStaff, DepartmentID: "sales"}
)

type resetter interface {
	Reset(ctx context.Context) error
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "scenarios", scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeSuccess(w, http.StatusOK, "current scenario", s)
			return
		}
	}
	writeSuccess(w, http.StatusOK, "no scenario loaded", nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.LoadScenarioByID(r.Context(), req.ScenarioID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "scenario loaded", map[string]string{"scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "store reset", nil)
}

func (h *Handler) reset(ctx context.Context) error {
	rs, ok := h.Store.(resetter)
	if !ok {
		return fmt.Errorf("store %T cannot be reset", h.Store)
	}
	if err := rs.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	return nil
}

// LoadScenarioByID resets the store and loads scenario id.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	var load func(context.Context) error
	switch id {
	case "org":
		load = h.loadOrg
	case "approved":
		load = h.loadApprovedScenario
	case "insufficient":
		load = h.loadInsufficientScenario
	case "rejected":
		load = h.loadRejectedScenario
	case "cancelled":
		load = h.loadCancelledScenario
	default:
		return generic.Invalid("scenarioId", "unknown scenario %q", id)
	}

	if err := h.reset(ctx); err != nil {
		return err
	}
	if err := load(ctx); err != nil {
		return fmt.Errorf("load scenario %s: %w", id, err)
	}

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
	h.Log.Info("scenario loaded", zap.String("scenario", id))
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadOrg(ctx context.Context) error {
	if err := h.Service.Policies.Seed(ctx, leave.DefaultPolicies()...); err != nil {
		return err
	}
	for _, d := range []leave.Department{
		{ID: "eng", Name: "Engineering", HeadID: demoHead.ID},
		{ID: "sales", Name: "Sales"},
	} {
		if err := h.Store.SaveDepartment(ctx, d); err != nil {
			return err
		}
	}
	for _, e := range []leave.Employee{demoAdmin, demoManager, demoHead, demoStaff, demoStaff2, demoSeller} {
		if err := h.Store.SaveEmployee(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// demoRequest is an Annual request starting two weeks from today.
func (h *Handler) demoRequest(days int, reason string) leave.SubmitInput {
	start := generic.TruncateDay(h.Service.Now()).AddDate(0, 0, 14)
	return leave.SubmitInput{
		LeaveType: leave.TypeAnnual,
		StartDate: start,
		EndDate:   start.AddDate(0, 0, days-1),
		Reason:    reason,
	}
}

func (h *Handler) loadApprovedScenario(ctx context.Context) error {
	if err := h.loadOrg(ctx); err != nil {
		return err
	}
	app, err := h.Service.Submit(ctx, demoStaff.Actor(), h.demoRequest(5, "Family trip"))
	if err != nil {
		return err
	}
	approve := func(order int) leave.StepDecision {
		return leave.StepDecision{Decision: leave.DecisionApproved, Comments: "Enjoy", StepOrder: order}
	}
	if _, err := h.Service.ActOnStep(ctx, demoHead.Actor(), app.ID, approve(1)); err != nil {
		return err
	}
	_, err = h.Service.ActOnStep(ctx, demoAdmin.Actor(), app.ID, approve(2))
	return err
}

func (h *Handler) loadInsufficientScenario(ctx context.Context) error {
	if err := h.loadOrg(ctx); err != nil {
		return err
	}
	_, err := h.Service.Submit(ctx, demoStaff.Actor(), h.demoRequest(20, "Long trip"))
	if !errors.Is(err, generic.ErrInsufficientBalance) {
		return fmt.Errorf("expected insufficient balance, got %v", err)
	}
	return nil
}

func (h *Handler) loadRejectedScenario(ctx context.Context) error {
	if err := h.loadOrg(ctx); err != nil {
		return err
	}
	app, err := h.Service.Submit(ctx, demoStaff.Actor(), h.demoRequest(5, "Conference"))
	if err != nil {
		return err
	}
	if _, err := h.Service.ActOnStep(ctx, demoHead.Actor(), app.ID,
		leave.StepDecision{Decision: leave.DecisionApproved, StepOrder: 1}); err != nil {
		return err
	}
	_, err = h.Service.ActOnStep(ctx, demoAdmin.Actor(), app.ID,
		leave.StepDecision{Decision: leave.DecisionRejected, Comments: "Release freeze", StepOrder: 2})
	return err
}

func (h *Handler) loadCancelledScenario(ctx context.Context) error {
	if err := h.loadOrg(ctx); err != nil {
		return err
	}
	app, err := h.Service.Submit(ctx, demoStaff.Actor(), h.demoRequest(3, "Moving"))
	if err != nil {
		return err
	}
	_, err = h.Service.Cancel(ctx, demoStaff.Actor(), app.ID)
	return err
}
