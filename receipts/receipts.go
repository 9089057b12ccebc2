// Package receipts persists the append-only payment audit trail and
// exposes it to an external audit surface.
package receipts

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prompthash/paygate/types"
)

// Query limit bounds.
const (
	DefaultLimit = 25
	MaxLimit     = 200
)

// Filter narrows a receipt query. Zero values match everything.
type Filter struct {
	WalletAddress string
	Status        types.ReceiptStatus
	Endpoint      string
	Limit         int
}

// ClampLimit enforces the [1, MaxLimit] bound, defaulting when unset.
func (f *Filter) ClampLimit() int {
	if f.Limit <= 0 {
		return DefaultLimit
	}
	if f.Limit > MaxLimit {
		return MaxLimit
	}
	return f.Limit
}

// Store is the audit-log capability. Writes append; rows are never
// updated in place.
type Store interface {
	Write(ctx context.Context, r *types.Receipt) error
	Query(ctx context.Context, f Filter) ([]types.Receipt, error)
}

// MemoryStore keeps receipts in process, newest first on query. Used in
// tests and as a fallback when no database is configured.
type MemoryStore struct {
	mu   sync.Mutex
	rows []types.Receipt
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Write(_ context.Context, r *types.Receipt) error {
	row := *r
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	row.WalletAddress = strings.ToLower(row.WalletAddress)
	row.Asset = strings.ToLower(row.Asset)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, row)
	return nil
}

func (m *MemoryStore) Query(_ context.Context, f Filter) ([]types.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.Receipt, 0, len(m.rows))
	for _, row := range m.rows {
		if f.WalletAddress != "" && row.WalletAddress != strings.ToLower(f.WalletAddress) {
			continue
		}
		if f.Status != "" && row.Status != f.Status {
			continue
		}
		if f.Endpoint != "" && row.Endpoint != f.Endpoint {
			continue
		}
		out = append(out, row)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	limit := f.ClampLimit()
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
