// Package store provides in-memory BalanceStore implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	balances map[generic.BalanceKey]generic.Balance
}

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[generic.BalanceKey]generic.Balance),
	}
}

// GetBalance returns a copy of the stored balance.
func (m *Memory) GetBalance(_ context.Context, key generic.BalanceKey) (generic.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.balances[key]
	if !ok {
		return generic.Balance{}, &generic.NotFoundError{Kind: "balance", ID: key.String()}
	}
	return b.Clone(), nil
}

// InsertBalance stores a new balance at version 1.
func (m *Memory) InsertBalance(_ context.Context, b generic.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.balances[b.Key]; ok {
		return generic.ErrAlreadyInitialized
	}
	b = b.Clone()
	b.Version = 1
	m.balances[b.Key] = b
	return nil
}

// UpdateBalance is a compare-and-swap on the version.
func (m *Memory) UpdateBalance(_ context.Context, b generic.Balance, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.balances[b.Key]
	if !ok {
		return &generic.NotFoundError{Kind: "balance", ID: b.Key.String()}
	}
	if stored.Version != expectedVersion {
		return generic.ErrConcurrentModification
	}
	b = b.Clone()
	b.Version = expectedVersion + 1
	m.balances[b.Key] = b
	return nil
}

// ListBalances returns balances sorted by year then resource.
func (m *Memory) ListBalances(_ context.Context, entityID generic.EntityID, year int) ([]generic.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []generic.Balance
	for k, b := range m.balances {
		if k.EntityID != entityID || (year != 0 && k.Year != year) {
			continue
		}
		result = append(result, b.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Key.Year != result[j].Key.Year {
			return result[i].Key.Year < result[j].Key.Year
		}
		return result[i].Key.Resource < result[j].Key.Resource
	})
	return result, nil
}

// Reset drops all balances.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances = make(map[generic.BalanceKey]generic.Balance)
}

var _ generic.BalanceStore = (*Memory)(nil)
