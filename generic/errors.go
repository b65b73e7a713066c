/*
errors.go - Centralized error types for the ledger and workflow

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every failure crossing the ledger/workflow boundary is one of the
  sentinels below (possibly wrapped in a structured error that carries
  the violated rule), so callers can render an actionable message.

ERROR CATEGORIES:
  1. Client errors - validation, permission, balance, overlap, ordering
  2. State errors - invalid transitions, already initialized
  3. Internal errors - ledger invariant violations (bug signals)
  4. Retryable errors - optimistic concurrency conflicts

USAGE:
  if errors.Is(err, generic.ErrInsufficientBalance) {
      var ib *generic.InsufficientBalanceError
      errors.As(err, &ib)
  }

SEE ALSO:
  - ledger.go: Uses these errors
  - api/handlers.go: statusFor and writeError map Code(err) to HTTP status
*/
package generic

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation = errors.New("validation failed")

	ErrPermissionDenied = errors.New("permission denied")

	// ErrInsufficientBalance is returned when a reservation exceeds remaining days.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrOverlappingLeave is returned when requested dates collide with another
	// pending or approved application of the same employee.
	ErrOverlappingLeave = errors.New("overlapping leave")

	// ErrWorkflowOrderViolation is returned when a step is decided out of sequence.
	ErrWorkflowOrderViolation = errors.New("workflow order violation")

	// ErrInvalidStateTransition is returned when acting on a terminal application
	// or on an already-decided step.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrInvalidLedgerState signals a broken ledger invariant. Unreachable when
	// callers are correct; treat as a bug.
	ErrInvalidLedgerState = errors.New("invalid ledger state")

	ErrNotFound = errors.New("not found")

	// ErrPolicyNotFound is returned when a referenced leave type has no policy.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrAlreadyInitialized is returned when a balance already exists for a year.
	ErrAlreadyInitialized = errors.New("balance already initialized")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	Key       BalanceKey
	Requested decimal.Decimal
	Remaining decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: %s days requested, %s remaining",
		e.Key.Resource, e.Requested, e.Remaining)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// LedgerStateError describes which invariant broke.
type LedgerStateError struct {
	Key    BalanceKey
	Detail string
}

func (e *LedgerStateError) Error() string {
	return fmt.Sprintf("invalid ledger state for %s: %s", e.Key, e.Detail)
}

func (e *LedgerStateError) Unwrap() error { return ErrInvalidLedgerState }

// ValidationError names the offending field and the rule it broke.
type ValidationError struct {
	Field string
	Rule  string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Rule
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Rule)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid is shorthand for a *ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Rule: fmt.Sprintf(format, args...)}
}

// PermissionError names the role and action that were refused.
type PermissionError struct {
	Role   string
	Action string
	Reason string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s may not %s (%s)", e.Role, e.Action, e.Reason)
}

func (e *PermissionError) Unwrap() error { return ErrPermissionDenied }

// StateError describes a refused transition.
type StateError struct {
	Sentinel error
	Detail   string
}

func (e *StateError) Error() string { return e.Sentinel.Error() + ": " + e.Detail }
func (e *StateError) Unwrap() error { return e.Sentinel }

// InvalidTransition builds an ErrInvalidStateTransition with detail.
func InvalidTransition(format string, args ...any) error {
	return &StateError{Sentinel: ErrInvalidStateTransition, Detail: fmt.Sprintf(format, args...)}
}

// OutOfOrder builds an ErrWorkflowOrderViolation with detail.
func OutOfOrder(format string, args ...any) error {
	return &StateError{Sentinel: ErrWorkflowOrderViolation, Detail: fmt.Sprintf(format, args...)}
}

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.ID) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// PolicyNotFoundError names the unknown leave type.
// It matches both ErrPolicyNotFound and ErrNotFound.
type PolicyNotFoundError struct {
	LeaveType string
}

func (e *PolicyNotFoundError) Error() string {
	return fmt.Sprintf("policy not found: no policy for leave type %q", e.LeaveType)
}

func (e *PolicyNotFoundError) Is(target error) bool {
	return target == ErrPolicyNotFound || target == ErrNotFound
}

// =============================================================================
// ERROR CODES - Stable identifiers for the request boundary
// =============================================================================

const (
	CodeValidation             = "VALIDATION_ERROR"
	CodePermissionDenied       = "PERMISSION_DENIED"
	CodeInsufficientBalance    = "INSUFFICIENT_BALANCE"
	CodeOverlappingLeave       = "OVERLAPPING_LEAVE"
	CodeWorkflowOrderViolation = "WORKFLOW_ORDER_VIOLATION"
	CodeInvalidStateTransition = "INVALID_STATE_TRANSITION"
	CodeInvalidLedgerState     = "INVALID_LEDGER_STATE"
	CodeNotFound               = "NOT_FOUND"
	CodePolicyNotFound         = "POLICY_NOT_FOUND"
	CodeAlreadyInitialized     = "ALREADY_INITIALIZED"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeInternal               = "INTERNAL_ERROR"
)

var codes = []struct {
	err  error
	code string
}{
	// PolicyNotFound before NotFound: it is the more specific answer.
	{ErrPolicyNotFound, CodePolicyNotFound},
	{ErrValidation, CodeValidation},
	{ErrPermissionDenied, CodePermissionDenied},
	{ErrInsufficientBalance, CodeInsufficientBalance},
	{ErrOverlappingLeave, CodeOverlappingLeave},
	{ErrWorkflowOrderViolation, CodeWorkflowOrderViolation},
	{ErrInvalidStateTransition, CodeInvalidStateTransition},
	{ErrInvalidLedgerState, CodeInvalidLedgerState},
	{ErrNotFound, CodeNotFound},
	{ErrAlreadyInitialized, CodeAlreadyInitialized},
	{ErrConcurrentModification, CodeConcurrentModification},
}

// Code returns the stable error code for err, or CodeInternal.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	switch Code(err) {
	case CodeInternal, CodeInvalidLedgerState, CodeConcurrentModification:
		return false
	}
	return true
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPolicyNotFound) || errors.Is(err, ErrNotFound)
}
