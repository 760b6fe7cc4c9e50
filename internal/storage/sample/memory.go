package sample

import (
	"context"
	"slices"
	"sync"

	"github.com/newthinker/keywatch/internal/core"
)

type rowKey struct {
	unixNano int64
	id       string
}

// MemoryStore is an in-memory sample store.
type MemoryStore struct {
	rows     map[core.SeriesKey]map[rowKey]core.SampleRow
	coverage map[core.CoverageKey][]core.TimeInterval
	mu       sync.RWMutex

	// counters used by tests to observe store traffic
	appends int
	deletes int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:     make(map[core.SeriesKey]map[rowKey]core.SampleRow),
		coverage: make(map[core.CoverageKey][]core.TimeInterval),
	}
}

// Load returns rows within iv.
func (m *MemoryStore) Load(ctx context.Context, key core.SeriesKey, iv core.TimeInterval) ([]core.SampleRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []core.SampleRow
	for _, row := range m.rows[key] {
		if iv.Contains(row.Time) {
			result = append(result, row)
		}
	}
	sortRows(result)
	return result, nil
}

// Delete removes rows within iv.
func (m *MemoryStore) Delete(ctx context.Context, key core.SeriesKey, iv core.TimeInterval) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deletes++
	for k, row := range m.rows[key] {
		if iv.Contains(row.Time) {
			delete(m.rows[key], k)
		}
	}
	return nil
}

// Append upserts rows.
func (m *MemoryStore) Append(ctx context.Context, key core.SeriesKey, rows []core.SampleRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]core.SampleRow, len(rows))
	for i, row := range rows {
		b, err := encodeFields(row.Fields)
		if err != nil {
			return storeErr("encode fields", err)
		}
		if row.Fields, err = decodeFields(b); err != nil {
			return storeErr("decode fields", err)
		}
		stored[i] = row
	}

	m.appends++
	bucket, ok := m.rows[key]
	if !ok {
		bucket = make(map[rowKey]core.SampleRow)
		m.rows[key] = bucket
	}
	for _, row := range stored {
		bucket[rowKey{unixNano: row.Time.UnixNano(), id: row.ID}] = row
	}
	return nil
}

// LoadCoverage returns a copy of the stored intervals.
func (m *MemoryStore) LoadCoverage(ctx context.Context, key core.CoverageKey) ([]core.TimeInterval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.coverage[key]), nil
}

// ReplaceCoverage swaps the stored intervals.
func (m *MemoryStore) ReplaceCoverage(ctx context.Context, key core.CoverageKey, intervals []core.TimeInterval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coverage[key] = slices.Clone(intervals)
	return nil
}

// Count returns the number of rows stored under key.
func (m *MemoryStore) Count(key core.SeriesKey) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows[key])
}

// Writes returns how many Append and Delete calls the store has served.
func (m *MemoryStore) Writes() (appends, deletes int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.appends, m.deletes
}
