/*
store.go - Persistence interface for balance records

PURPOSE:
  Defines the interface between the ledger and the database. A balance is
  stored as one versioned document (totals + version) plus its append-only
  transaction log. Every write is a compare-and-swap on the version so two
  processes sharing a database cannot both apply a stale read.

KEY INTERFACES:
  BalanceStore: Get / Insert / Update (CAS) / ListByEntity

COMPARE-AND-SWAP CONTRACT:
  - Insert fails with ErrAlreadyInitialized if the key exists
  - Update(b, expected) writes only if the stored version == expected,
    otherwise ErrConcurrentModification; on success the stored version
    becomes expected+1
  - Transactions appended since the last read are written in the same
    atomic step as the totals (all or nothing)

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - generic/store/memory.go: In-memory for tests and demos

SEE ALSO:
  - ledger.go: Read-modify-write loop built on this interface
*/
package generic

import "context"

// BalanceStore persists versioned balances.
type BalanceStore interface {
	// GetBalance returns the balance for key or an error wrapping ErrNotFound.
	GetBalance(ctx context.Context, key BalanceKey) (Balance, error)

	// InsertBalance stores a new balance with Version 1.
	InsertBalance(ctx context.Context, b Balance) error

	// UpdateBalance stores b if the stored version equals expectedVersion.
	// Transactions already persisted are identified by ID and not rewritten.
	UpdateBalance(ctx context.Context, b Balance, expectedVersion int64) error

	// ListBalances returns every balance of an entity for a year (year 0 = all years).
	ListBalances(ctx context.Context, entityID EntityID, year int) ([]Balance, error)
}
