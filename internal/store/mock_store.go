// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite or Postgres

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	records       map[ScopeKey][]*GrantRecord
	seq           int64
	retainHistory bool
}

// NewMockStore creates a new MockStore. When retainHistory is false,
// Append replaces the current record for the scope instead of appending.
func NewMockStore(retainHistory bool) *MockStore {
	return &MockStore{
		records:       make(map[ScopeKey][]*GrantRecord),
		retainHistory: retainHistory,
	}
}

// Append stores a record under its scope and assigns the next sequence.
func (m *MockStore) Append(ctx context.Context, rec *GrantRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.seq++
	rec.Sequence = m.seq

	// Store a copy to avoid external modification
	r := *rec
	if m.retainHistory {
		m.records[r.Scope] = append(m.records[r.Scope], &r)
	} else {
		m.records[r.Scope] = []*GrantRecord{&r}
	}
	return rec.Sequence, nil
}

// FindLatest returns the highest-sequence record for the exact scope.
func (m *MockStore) FindLatest(ctx context.Context, scope ScopeKey) (*GrantRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.records[scope]
	if len(recs) == 0 {
		return nil, ErrNotFound
	}

	latest := recs[0]
	for _, r := range recs[1:] {
		if r.Sequence > latest.Sequence {
			latest = r
		}
	}

	// Return a copy
	result := *latest
	return &result, nil
}

// DeleteAll removes every record for the exact scope.
func (m *MockStore) DeleteAll(ctx context.Context, scope ScopeKey) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := int64(len(m.records[scope]))
	delete(m.records, scope)
	return n, nil
}

// List returns all records ordered by ascending sequence.
func (m *MockStore) List(ctx context.Context) ([]*GrantRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []*GrantRecord
	for _, recs := range m.records {
		for _, r := range recs {
			result := *r
			all = append(all, &result)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Sequence < all[j].Sequence })
	return all, nil
}

// Close is a no-op for the in-memory store.
func (m *MockStore) Close() error {
	return nil
}
