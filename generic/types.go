/*
Package generic provides the core entitlement ledger engine.

PURPOSE:
  This package contains the domain-agnostic types and algorithms for keeping
  a per-entity, per-resource, per-year balance of days. The leave package
  layers policies, applications and approval workflows on top of it; this
  package only knows about keys, amounts and the transaction log.

KEY CONCEPTS IN THIS FILE (types.go):
  - Days: decimal day amounts (half days and carry-forward remainders are exact)
  - BalanceKey: (entity, resource, year) - the unit of serialization
  - Balance: versioned record of allocated/used/pending/carried/remaining
  - Transaction: an append-only log entry explaining a balance change

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified, only appended
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Versioning: Every write is a compare-and-swap on Balance.Version
  4. Auditability: Totals are always explained by the transaction log

USAGE:
  key := generic.BalanceKey{EntityID: "emp-1", Resource: "Annual", Year: 2025}
  bal, err := ledger.Reserve(ctx, key, generic.Days(5), "leave request", "app-1")

SEE ALSO:
  - ledger.go: Reserve/Consume/Release/InitializeYear
  - store.go: Persistence interface
  - errors.go: Error taxonomy
*/
package generic

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNTS
// =============================================================================

// Days returns a whole number of days as a decimal amount.
func Days(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n))
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntityID string
type TransactionID string

// BalanceKey identifies exactly one balance record.
// All ledger mutations are linearized per key.
type BalanceKey struct {
	EntityID EntityID
	Resource string
	Year     int
}

func (k BalanceKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.EntityID, k.Resource, k.Year)
}

// =============================================================================
// TRANSACTION - Append-only explanation of a balance change
// =============================================================================

type TransactionType string

const (
	TxAllocated TransactionType = "allocated" // Yearly allocation (lazy or batch)
	TxReserved  TransactionType = "reserved"  // Held for a pending application
	TxConsumed  TransactionType = "consumed"  // Pending moved to used on final approval
	TxReleased  TransactionType = "released"  // Pending returned on rejection/cancellation
	TxCarried   TransactionType = "carried"   // Carried forward from the previous year
)

type Transaction struct {
	ID          TransactionID
	Type        TransactionType
	Amount      decimal.Decimal
	Date        time.Time
	Description string
	ReferenceID string // application id, when the change belongs to one
}

// =============================================================================
// BALANCE - Versioned record per (entity, resource, year)
// =============================================================================

// Balance is the single source of truth for one entitlement.
//
// INVARIANT (at rest):
//
//	Remaining == TotalAllocated + CarriedForward - Used - Pending
//	every component >= 0
type Balance struct {
	Key            BalanceKey
	TotalAllocated decimal.Decimal
	Used           decimal.Decimal
	Pending        decimal.Decimal
	CarriedForward decimal.Decimal
	Remaining      decimal.Decimal

	// Version is incremented on every successful write. Zero means "never stored".
	Version      int64
	Transactions []Transaction
	UpdatedAt    time.Time
}

// NewBalance returns an empty balance for key.
func NewBalance(key BalanceKey) Balance {
	return Balance{
		Key:            key,
		TotalAllocated: decimal.Zero,
		Used:           decimal.Zero,
		Pending:        decimal.Zero,
		CarriedForward: decimal.Zero,
		Remaining:      decimal.Zero,
	}
}

// Expected recomputes Remaining from its components.
func (b Balance) Expected() decimal.Decimal {
	return b.TotalAllocated.Add(b.CarriedForward).Sub(b.Used).Sub(b.Pending)
}

// CheckInvariant reports the first violated ledger invariant, if any.
func (b Balance) CheckInvariant() error {
	if !b.Remaining.Equal(b.Expected()) {
		return &LedgerStateError{Key: b.Key, Detail: fmt.Sprintf(
			"remaining %s != allocated %s + carried %s - used %s - pending %s",
			b.Remaining, b.TotalAllocated, b.CarriedForward, b.Used, b.Pending)}
	}
	for name, v := range map[string]decimal.Decimal{
		"allocated": b.TotalAllocated,
		"used":      b.Used,
		"pending":   b.Pending,
		"carried":   b.CarriedForward,
		"remaining": b.Remaining,
	} {
		if v.IsNegative() {
			return &LedgerStateError{Key: b.Key, Detail: fmt.Sprintf("%s is negative (%s)", name, v)}
		}
	}
	return nil
}

// Clone returns a deep copy (the transaction slice is not shared).
func (b Balance) Clone() Balance {
	out := b
	out.Transactions = append([]Transaction(nil), b.Transactions...)
	return out
}

// SumByType totals the transaction log for one transaction type.
func (b Balance) SumByType(t TransactionType) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range b.Transactions {
		if tx.Type == t {
			total = total.Add(tx.Amount)
		}
	}
	return total
}
