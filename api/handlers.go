/*
handlers.go - HTTP API handlers for the leave engine

PURPOSE:
  Exposes the leave service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the leave package. Handlers never
  decide permissions themselves: the service consults the authz gate with
  the actor resolved by the withActor middleware.

ENDPOINTS:
  Leaves:
    POST   /api/leaves                     Submit an application
    GET    /api/leaves                     List (employeeId, status, leaveType, year)
    GET    /api/leaves/{id}                Get one application
    PUT    /api/leaves/{id}                Update a pending application
    POST   /api/leaves/{id}/cancel         Cancel
    POST   /api/leaves/{id}/decision       Approve or reject a workflow step

  Balances:
    GET    /api/employees/{id}/balances               All balances (?year=)
    GET    /api/employees/{id}/balances/{leaveType}   One balance with its log (?year=)

  Policies:
    GET    /api/policies
    GET    /api/policies/{leaveType}
    PUT    /api/policies/{leaveType}       Admin only
    POST   /api/policies/import            Apply a JSON/YAML document, admin only
    GET    /api/policies/export            Current policies as a document

  Directory:
    POST   /api/employees                  Admin only
    GET    /api/employees/{id}
    POST   /api/departments                Admin only

  Admin:
    POST   /api/admin/ledger/initialize    Year-start batch

ERROR HANDLING:
  Errors map to HTTP status by sentinel, and carry a stable code:
  - 400: Validation
  - 401: Missing or unknown X-Employee-ID
  - 403: PermissionDenied
  - 404: NotFound, PolicyNotFound
  - 409: InsufficientBalance, OverlappingLeave, WorkflowOrderViolation,
         InvalidStateTransition, AlreadyInitialized, ConcurrentModification
  - 500: InvalidLedgerState and anything unexpected

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/warp/leave-engine/authz"
	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"go.uber.org/zap"
)

const codeUnauthenticated = "UNAUTHENTICATED"

const maxDocumentBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   leave.Store
	Service *leave.Service
	Year    *leave.YearInitializer
	Factory *factory.PolicyFactory
	Log     *zap.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over a wired service. The service, the
// year initializer and the handler must share store.
func NewHandler(store leave.Store, svc *leave.Service, year *leave.YearInitializer) *Handler {
	return &Handler{
		Store:   store,
		Service: svc,
		Year:    year,
		Factory: factory.NewPolicyFactory(),
		Log:     zap.NewNop(),
	}
}

// =============================================================================
// LEAVE HANDLERS
// =============================================================================

// SubmitLeave creates a pending application and reserves its days.
func (h *Handler) SubmitLeave(w http.ResponseWriter, r *http.Request) {
	var req SubmitLeaveRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	start, err := parseDate("startDate", req.StartDate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	end, err := parseDate("endDate", req.EndDate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	app, err := h.Service.Submit(r.Context(), actorFrom(r.Context()), leave.SubmitInput{
		EmployeeID: req.EmployeeID,
		LeaveType:  req.LeaveType,
		StartDate:  start,
		EndDate:    end,
		Reason:     req.Reason,
		Priority:   leave.Priority(req.Priority),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "leave application submitted", toApplicationDTO(app))
}

// UpdateLeave edits a pending application that no step has decided yet.
func (h *Handler) UpdateLeave(w http.ResponseWriter, r *http.Request) {
	var req UpdateLeaveRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	in := leave.UpdateInput{LeaveType: req.LeaveType, Reason: req.Reason, Priority: leave.Priority(req.Priority)}
	var err error
	if req.StartDate != "" {
		if in.StartDate, err = parseDate("startDate", req.StartDate); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	if req.EndDate != "" {
		if in.EndDate, err = parseDate("endDate", req.EndDate); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	app, err := h.Service.Update(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "leave application updated", toApplicationDTO(app))
}

// CancelLeave cancels a pending application. Approved or rejected
// applications answer 409 INVALID_STATE_TRANSITION.
func (h *Handler) CancelLeave(w http.ResponseWriter, r *http.Request) {
	app, err := h.Service.Cancel(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "leave application cancelled", toApplicationDTO(app))
}

// DecideLeave approves or rejects the current (or named) workflow step.
func (h *Handler) DecideLeave(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	app, err := h.Service.ActOnStep(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), leave.StepDecision{
		Decision:  leave.Decision(req.Decision),
		Comments:  req.Comments,
		StepOrder: req.StepOrder,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "step "+req.Decision, toApplicationDTO(app))
}

func (h *Handler) GetLeave(w http.ResponseWriter, r *http.Request) {
	app, err := h.Service.Get(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "leave application", toApplicationDTO(app))
}

// ListLeaves returns the applications the caller may see.
func (h *Handler) ListLeaves(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	year, err := parseYear(q.Get("year"), 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	apps, err := h.Service.List(r.Context(), actorFrom(r.Context()), leave.ListFilter{
		EmployeeID: q.Get("employeeId"),
		Status:     leave.Status(q.Get("status")),
		LeaveType:  q.Get("leaveType"),
		Year:       year,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, strconv.Itoa(len(apps))+" leave applications", toApplicationDTOs(apps))
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

func (h *Handler) ListBalances(w http.ResponseWriter, r *http.Request) {
	year, err := parseYear(r.URL.Query().Get("year"), h.currentYear())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	balances, err := h.Service.ListBalances(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), year)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "balances", toBalanceDTOs(balances))
}

// GetBalance returns one balance including its transaction log.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	year, err := parseYear(r.URL.Query().Get("year"), h.currentYear())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := h.Service.GetBalance(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "id"), chi.URLParam(r, "leaveType"), year)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "balance", toBalanceDTO(b, true))
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.Service.Policies.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if policies == nil {
		policies = []leave.Policy{}
	}
	writeSuccess(w, http.StatusOK, "policies", policies)
}

func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.Policies.Get(r.Context(), chi.URLParam(r, "leaveType"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "policy", p)
}

// PutPolicy creates or replaces a policy. Existing applications keep the
// policy version they were submitted under.
func (h *Handler) PutPolicy(w http.ResponseWriter, r *http.Request) {
	var req PolicyRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.Service.Policies.Upsert(r.Context(), actorFrom(r.Context()), leave.Policy{
		LeaveType:            chi.URLParam(r, "leaveType"),
		Description:          req.Description,
		DefaultAllocation:    req.DefaultAllocation,
		MaxConsecutiveDays:   req.MaxConsecutiveDays,
		MinAdvanceNoticeDays: req.MinAdvanceNoticeDays,
		AllowCarryForward:    req.AllowCarryForward,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "policy saved", p)
}

// ImportPolicies applies a policy document (JSON, or YAML when the content
// type says so). Directory entries in the document are applied too.
func (h *Handler) ImportPolicies(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if err := authz.CanManagePolicies(actor); err != nil {
		h.writeError(w, r, err)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDocumentBytes))
	if err != nil {
		h.writeError(w, r, generic.Invalid("body", "read document: %v", err))
		return
	}
	format := factory.FormatJSON
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		format = factory.FormatYAML
	}

	doc, err := h.Factory.Parse(data, format)
	if err != nil {
		if !errors.Is(err, generic.ErrValidation) {
			err = generic.Invalid("document", "%v", err)
		}
		h.writeError(w, r, err)
		return
	}
	if len(doc.Departments)+len(doc.Employees) > 0 {
		if err := authz.CanManageDirectory(actor); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	if err := doc.Apply(r.Context(), h.Service.Policies, h.Store); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.Log.Info("policy document imported",
		zap.String("actor", actor.ID),
		zap.Int("policies", len(doc.Policies)),
		zap.Int("departments", len(doc.Departments)),
		zap.Int("employees", len(doc.Employees)))
	writeSuccess(w, http.StatusOK, "policy document applied", map[string]int{
		"policies":    len(doc.Policies),
		"departments": len(doc.Departments),
		"employees":   len(doc.Employees),
	})
}

// ExportPolicies returns the current policies in document form, ready to
// be edited and imported again.
func (h *Handler) ExportPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.Service.Policies.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	doc := factory.DocumentJSON{Policies: make([]factory.PolicyJSON, 0, len(policies))}
	for _, p := range policies {
		doc.Policies = append(doc.Policies, h.Factory.ToJSON(p))
	}
	writeSuccess(w, http.StatusOK, "policy document", doc)
}

// =============================================================================
// DIRECTORY HANDLERS
// =============================================================================

func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	if err := authz.CanManageDirectory(actorFrom(r.Context())); err != nil {
		h.writeError(w, r, err)
		return
	}
	var req CreateEmployeeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	emp := leave.Employee{
		ID:           req.ID,
		Name:         req.Name,
		Email:        req.Email,
		Role:         authz.Role(req.Role),
		DepartmentID: req.DepartmentID,
	}
	if err := emp.Validate(); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "employee saved", emp)
}

// GetEmployee returns a directory entry the caller may see.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Store.GetEmployee(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := authz.CanViewRecord(actorFrom(r.Context()), emp.ID, emp.DepartmentID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "employee", emp)
}

func (h *Handler) CreateDepartment(w http.ResponseWriter, r *http.Request) {
	if err := authz.CanManageDirectory(actorFrom(r.Context())); err != nil {
		h.writeError(w, r, err)
		return
	}
	var req CreateDepartmentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	dept := leave.Department{ID: req.ID, Name: req.Name, HeadID: req.HeadID}
	for _, role := range req.ApprovalChain {
		dept.ApprovalChain = append(dept.ApprovalChain, authz.Role(role))
	}
	if err := dept.Validate(); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Store.SaveDepartment(r.Context(), dept); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "department saved", dept)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// InitializeYear runs the year-start batch. Failures of individual keys are
// reported in the result, not as an HTTP error.
func (h *Handler) InitializeYear(w http.ResponseWriter, r *http.Request) {
	var req InitializeYearRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Year == 0 {
		req.Year = h.currentYear()
	}
	report, err := h.Year.Initialize(r.Context(), actorFrom(r.Context()), req.Year, req.Force)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "year "+strconv.Itoa(report.Year)+" initialized", report)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports liveness, and store reachability when the store supports it.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			writeFailure(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", err.Error())
			return
		}
	}
	writeSuccess(w, http.StatusOK, "ok", nil)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) currentYear() int {
	now := time.Now
	if h.Service != nil && h.Service.Now != nil {
		now = h.Service.Now
	}
	return now().Year()
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return generic.Invalid("body", "invalid JSON: %v", err)
	}
	return nil
}

func parseDate(field, s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, generic.Invalid(field, "is required")
	}
	t, err := generic.ParseDate(s)
	if err != nil {
		return time.Time{}, generic.Invalid(field, "must be YYYY-MM-DD, got %q", s)
	}
	return t, nil
}

func parseYear(s string, fallback int) (int, error) {
	if s == "" {
		return fallback, nil
	}
	y, err := strconv.Atoi(s)
	if err != nil || y < 1 {
		return 0, generic.Invalid("year", "must be a positive integer, got %q", s)
	}
	return y, nil
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, generic.ErrPolicyNotFound), errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, generic.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, generic.ErrInsufficientBalance),
		errors.Is(err, generic.ErrOverlappingLeave),
		errors.Is(err, generic.ErrWorkflowOrderViolation),
		errors.Is(err, generic.ErrInvalidStateTransition),
		errors.Is(err, generic.ErrAlreadyInitialized),
		errors.Is(err, generic.ErrConcurrentModification):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	code := generic.Code(err)
	message := err.Error()

	fields := []zap.Field{
		zap.Error(err),
		zap.String("code", code),
		zap.String("request_id", middleware.GetReqID(r.Context())),
	}
	if status >= http.StatusInternalServerError {
		h.Log.Error("request failed", fields...)
		if code == generic.CodeInternal {
			message = "internal error"
		}
	} else {
		h.Log.Debug("request rejected", fields...)
	}
	writeFailure(w, status, code, message)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, Response{Success: true, Message: message, Data: data})
}

func writeFailure(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Response{Success: false, Message: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
