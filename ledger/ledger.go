// Package ledger provides the daily-spend counter behind the spend
// policy. Keys are produced by policy.DailySpendKey; values are decimal
// USD amounts.
package ledger

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// Store is the daily-spend capability injected into the client
// orchestrator. IncrBy must be atomic per key.
type Store interface {
	// Get returns the current amount for key, zero when absent.
	Get(ctx context.Context, key string) (decimal.Decimal, error)

	// Set overwrites the amount for key.
	Set(ctx context.Context, key string, amount decimal.Decimal) error

	// IncrBy adds delta to the amount for key and returns the new total,
	// creating the entry when absent.
	IncrBy(ctx context.Context, key string, delta decimal.Decimal) (decimal.Decimal, error)
}

// MemoryStore is an in-process Store for tests and client-local use.
type MemoryStore struct {
	mu      sync.Mutex
	amounts map[string]decimal.Decimal
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{amounts: make(map[string]decimal.Decimal)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.amounts[key], nil
}

func (m *MemoryStore) Set(_ context.Context, key string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.amounts[key] = amount
	return nil
}

func (m *MemoryStore) IncrBy(_ context.Context, key string, delta decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := m.amounts[key].Add(delta)
	m.amounts[key] = total
	return total, nil
}
