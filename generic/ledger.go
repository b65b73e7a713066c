/*
ledger.go - Balance ledger with per-key linearization

PURPOSE:
  The Ledger is the only way a Balance changes. Every operation is a single
  read-modify-write of one versioned record:

    1. lock the key (in-process)
    2. read the balance and its version
    3. apply the change, append a transaction, check the invariant
    4. compare-and-swap the record (fails if another writer got there first)
    5. on conflict, go back to 2 (bounded by MaxAttempts)

  The key lock makes concurrent callers in one process queue instead of
  spinning; the version check protects against writers in other processes.

OPERATIONS:
  Reserve:        remaining -> pending   (fails with InsufficientBalance)
  Consume:        pending   -> used      (final approval)
  Release:        pending   -> remaining (rejection / cancellation)
  InitializeYear: allocation + carry-forward for a new year

CRITICAL INVARIANTS:
  remaining == allocated + carried - used - pending, all components >= 0.
  A change that would break the invariant is never written; it surfaces as
  ErrInvalidLedgerState (a bug signal, logged at error level).

EXAMPLE FLOW (Annual, 15 days allocated):
  Reserve 5   -> pending 5,  remaining 10
  Consume 5   -> used 5,     pending 0, remaining 10
  (or) Release 5 -> pending 0, remaining 15

SEE ALSO:
  - store.go: BalanceStore CAS contract
  - leave/service.go: The state machine driving these operations
*/
package generic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AllocationFunc returns the default allocation for a lazily created balance.
type AllocationFunc func(ctx context.Context, key BalanceKey) (decimal.Decimal, error)

// Observer receives ledger outcomes (metrics). All methods must be cheap.
type Observer interface {
	LedgerOp(op string, err error)
	LedgerConflict(op string)
}

type nopObserver struct{}

func (nopObserver) LedgerOp(string, error) {}
func (nopObserver) LedgerConflict(string)  {}

const DefaultMaxAttempts = 5

// Ledger operation names, used for logs and metrics.
const (
	OpReserve    = "reserve"
	OpConsume    = "consume"
	OpRelease    = "release"
	OpInitialize = "initialize_year"
)

// Ledger applies linearized changes to balances.
type Ledger struct {
	Store       BalanceStore
	Allocate    AllocationFunc
	MaxAttempts int
	Now         func() time.Time
	Observer    Observer
	Log         *zap.Logger

	locks *KeyedMutex
}

// NewLedger creates a ledger. allocate may be nil, in which case lazily
// created balances start at zero.
func NewLedger(store BalanceStore, allocate AllocationFunc) *Ledger {
	return &Ledger{
		Store:       store,
		Allocate:    allocate,
		MaxAttempts: DefaultMaxAttempts,
		Now:         time.Now,
		Observer:    nopObserver{},
		Log:         zap.NewNop(),
		locks:       NewKeyedMutex(),
	}
}

// =============================================================================
// PUBLIC OPERATIONS
// =============================================================================

// Reserve holds days against remaining for a pending application.
// Creates the balance from the allocation source if it does not exist yet.
func (l *Ledger) Reserve(ctx context.Context, key BalanceKey, days decimal.Decimal, description, ref string) (Balance, error) {
	if err := requirePositive(days); err != nil {
		return Balance{}, err
	}
	return l.mutate(ctx, OpReserve, key, func(b *Balance, exists bool) error {
		if !exists {
			if err := l.seed(ctx, b); err != nil {
				return err
			}
		}
		if days.GreaterThan(b.Remaining) {
			return &InsufficientBalanceError{Key: key, Requested: days, Remaining: b.Remaining}
		}
		b.Pending = b.Pending.Add(days)
		b.Remaining = b.Remaining.Sub(days)
		l.record(b, TxReserved, days, description, ref)
		return nil
	})
}

// Consume moves days from pending to used.
func (l *Ledger) Consume(ctx context.Context, key BalanceKey, days decimal.Decimal, description, ref string) (Balance, error) {
	if err := requirePositive(days); err != nil {
		return Balance{}, err
	}
	return l.mutate(ctx, OpConsume, key, func(b *Balance, exists bool) error {
		if err := requirePending(b, exists, days); err != nil {
			return err
		}
		b.Pending = b.Pending.Sub(days)
		b.Used = b.Used.Add(days)
		l.record(b, TxConsumed, days, description, ref)
		return nil
	})
}

// Release moves days from pending back to remaining.
func (l *Ledger) Release(ctx context.Context, key BalanceKey, days decimal.Decimal, description, ref string) (Balance, error) {
	if err := requirePositive(days); err != nil {
		return Balance{}, err
	}
	return l.mutate(ctx, OpRelease, key, func(b *Balance, exists bool) error {
		if err := requirePending(b, exists, days); err != nil {
			return err
		}
		b.Pending = b.Pending.Sub(days)
		b.Remaining = b.Remaining.Add(days)
		l.record(b, TxReleased, days, description, ref)
		return nil
	})
}

// GetBalance returns the stored balance for key.
func (l *Ledger) GetBalance(ctx context.Context, key BalanceKey) (Balance, error) {
	return l.Store.GetBalance(ctx, key)
}

// ListBalances returns the balances of an entity for a year.
func (l *Ledger) ListBalances(ctx context.Context, entityID EntityID, year int) ([]Balance, error) {
	return l.Store.ListBalances(ctx, entityID, year)
}

// InitializeYear sets the allocation and carry-forward of a year.
// Fails with ErrAlreadyInitialized when the balance exists, unless force is
// set; a forced re-initialization keeps used/pending and the transaction log.
func (l *Ledger) InitializeYear(ctx context.Context, key BalanceKey, allocation, carried decimal.Decimal, force bool) (Balance, error) {
	if allocation.IsNegative() {
		return Balance{}, Invalid("allocation", "must be >= 0, got %s", allocation)
	}
	if carried.IsNegative() {
		return Balance{}, Invalid("carriedForward", "must be >= 0, got %s", carried)
	}
	return l.mutate(ctx, OpInitialize, key, func(b *Balance, exists bool) error {
		if exists && !force {
			return fmt.Errorf("%s: %w", key, ErrAlreadyInitialized)
		}
		allocDelta := allocation.Sub(b.TotalAllocated)
		carryDelta := carried.Sub(b.CarriedForward)

		b.TotalAllocated = allocation
		b.CarriedForward = carried
		b.Remaining = b.Expected()

		desc := fmt.Sprintf("allocation for %d", key.Year)
		if exists {
			desc = fmt.Sprintf("allocation for %d re-initialized", key.Year)
		}
		if !exists || !allocDelta.IsZero() {
			l.record(b, TxAllocated, allocDelta, desc, "")
		}
		if !carryDelta.IsZero() {
			l.record(b, TxCarried, carryDelta, fmt.Sprintf("carried forward from %d", key.Year-1), "")
		}
		return nil
	})
}

// =============================================================================
// READ-MODIFY-WRITE
// =============================================================================

func (l *Ledger) mutate(ctx context.Context, op string, key BalanceKey, apply func(b *Balance, exists bool) error) (Balance, error) {
	unlock := l.locks.Lock(key.String())
	defer unlock()

	maxAttempts := l.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Balance{}, err
		}

		current, err := l.Store.GetBalance(ctx, key)
		exists := true
		if errors.Is(err, ErrNotFound) {
			exists = false
			current = NewBalance(key)
		} else if err != nil {
			l.Observer.LedgerOp(op, err)
			return Balance{}, fmt.Errorf("load balance %s: %w", key, err)
		}

		next := current.Clone()
		if err := apply(&next, exists); err != nil {
			l.Observer.LedgerOp(op, err)
			return Balance{}, err
		}
		if err := next.CheckInvariant(); err != nil {
			l.Log.Error("ledger invariant violated",
				zap.String("op", op), zap.String("key", key.String()), zap.Error(err))
			l.Observer.LedgerOp(op, err)
			return Balance{}, err
		}
		next.UpdatedAt = l.Now().UTC()

		if exists {
			err = l.Store.UpdateBalance(ctx, next, current.Version)
		} else {
			err = l.Store.InsertBalance(ctx, next)
			if errors.Is(err, ErrAlreadyInitialized) {
				// Someone created it between our read and write.
				err = ErrConcurrentModification
			}
		}
		if err == nil {
			next.Version = current.Version + 1
			l.Observer.LedgerOp(op, nil)
			return next, nil
		}
		if !errors.Is(err, ErrConcurrentModification) {
			l.Observer.LedgerOp(op, err)
			return Balance{}, fmt.Errorf("store balance %s: %w", key, err)
		}

		l.Observer.LedgerConflict(op)
		l.Log.Debug("ledger version conflict, retrying",
			zap.String("op", op), zap.String("key", key.String()), zap.Int("attempt", attempt))
		if attempt >= maxAttempts {
			err = fmt.Errorf("%s %s after %d attempts: %w", op, key, attempt, ErrConcurrentModification)
			l.Observer.LedgerOp(op, err)
			return Balance{}, err
		}
	}
}

func (l *Ledger) seed(ctx context.Context, b *Balance) error {
	allocation := decimal.Zero
	if l.Allocate != nil {
		a, err := l.Allocate(ctx, b.Key)
		if err != nil {
			return err
		}
		allocation = a
	}
	b.TotalAllocated = allocation
	b.Remaining = b.Expected()
	l.record(b, TxAllocated, allocation, fmt.Sprintf("default allocation for %d", b.Key.Year), "")
	return nil
}

func (l *Ledger) record(b *Balance, t TransactionType, amount decimal.Decimal, description, ref string) {
	b.Transactions = append(b.Transactions, Transaction{
		ID:          TransactionID(uuid.NewString()),
		Type:        t,
		Amount:      amount,
		Date:        l.Now().UTC(),
		Description: description,
		ReferenceID: ref,
	})
}

func requirePositive(days decimal.Decimal) error {
	if !days.IsPositive() {
		return Invalid("days", "must be > 0, got %s", days)
	}
	return nil
}

func requirePending(b *Balance, exists bool, days decimal.Decimal) error {
	if !exists {
		return &LedgerStateError{Key: b.Key, Detail: "no balance record to settle against"}
	}
	if b.Pending.LessThan(days) {
		return &LedgerStateError{Key: b.Key, Detail: fmt.Sprintf("pending %s < %s", b.Pending, days)}
	}
	return nil
}
