package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory implementation of MetricsStore. It keeps a
// bounded ring of records and evicts the oldest when capacity is reached.
type MemoryStore struct {
	mu      sync.RWMutex
	records []MetricRecord

	maxRecords int
	enabled    bool
	closed     bool
}

// NewMemoryStore creates a new in-memory performance store.
func NewMemoryStore(cfg MemoryConfig, enabled bool) *MemoryStore {
	maxRecords := cfg.MaxRecords
	if maxRecords <= 0 {
		maxRecords = DefaultConfig().Memory.MaxRecords
	}

	return &MemoryStore{
		records:    make([]MetricRecord, 0, maxRecords),
		maxRecords: maxRecords,
		enabled:    enabled,
	}
}

// IsEnabled returns whether the store is enabled.
func (m *MemoryStore) IsEnabled() bool {
	return m.enabled
}

// CheckConnection verifies the store is usable.
func (m *MemoryStore) CheckConnection(_ context.Context) error {
	if !m.enabled {
		return ErrStoreDisabled
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close releases resources held by the store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.records = nil
	return nil
}

// Append stores one record, evicting the oldest at capacity.
func (m *MemoryStore) Append(_ context.Context, rec MetricRecord) error {
	if !m.enabled {
		return ErrStoreDisabled
	}
	if rec.ID == "" || rec.Kind == "" {
		return ErrInvalidInput
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	if len(m.records) >= m.maxRecords {
		m.records = m.records[1:]
	}
	m.records = append(m.records, rec)

	return nil
}

// Query returns records matching the filter, newest first.
func (m *MemoryStore) Query(_ context.Context, filter QueryFilter) ([]MetricRecord, error) {
	if !m.enabled {
		return nil, ErrStoreDisabled
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	var matched []MetricRecord
	for _, rec := range m.records {
		if matchesFilter(rec, filter) {
			matched = append(matched, rec)
		}
	}

	// Records arrive roughly chronologically but the async writer may
	// interleave workers, so order by timestamp explicitly.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}

	return matched, nil
}

// RecordCount returns the current number of records (for testing).
func (m *MemoryStore) RecordCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func matchesFilter(rec MetricRecord, filter QueryFilter) bool {
	if filter.Source != "" && rec.Source != filter.Source {
		return false
	}
	if filter.Kind != "" && rec.Kind != filter.Kind {
		return false
	}
	return true
}

// MemoryTrainingStore is an in-memory implementation of TrainingStore
// with a bounded buffer.
type MemoryTrainingStore struct {
	mu       sync.RWMutex
	examples []TrainingExample

	maxExamples int
	enabled     bool
	closed      bool
}

// NewMemoryTrainingStore creates a new in-memory training store.
func NewMemoryTrainingStore(cfg MemoryConfig, enabled bool) *MemoryTrainingStore {
	maxExamples := cfg.MaxExamples
	if maxExamples <= 0 {
		maxExamples = DefaultConfig().Memory.MaxExamples
	}

	return &MemoryTrainingStore{
		examples:    make([]TrainingExample, 0, maxExamples),
		maxExamples: maxExamples,
		enabled:     enabled,
	}
}

// Append stores one training example, evicting the oldest at capacity.
func (m *MemoryTrainingStore) Append(_ context.Context, ex TrainingExample) error {
	if !m.enabled {
		return ErrStoreDisabled
	}
	if ex.ID == "" {
		return ErrInvalidInput
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	if len(m.examples) >= m.maxExamples {
		m.examples = m.examples[1:]
	}
	m.examples = append(m.examples, ex)

	return nil
}

// Examples returns a copy of the stored examples (for testing).
func (m *MemoryTrainingStore) Examples() []TrainingExample {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]TrainingExample, len(m.examples))
	copy(out, m.examples)
	return out
}

// Close releases resources held by the store.
func (m *MemoryTrainingStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.examples = nil
	return nil
}
