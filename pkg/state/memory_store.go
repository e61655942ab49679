package state

import (
	"context"
	"sync"

	"github.com/goliatone/go-onboarding/layering"
)

// MemoryStore keeps snapshots in a map keyed by Ref.Identifier(). It backs
// the memory storage driver and tests. Snapshots are deep-copied in both
// directions.
type MemoryStore[T any] struct {
	mu   sync.RWMutex
	rows map[string]memoryRow[T]
}

type memoryRow[T any] struct {
	snapshot T
	meta     Meta
}

// NewMemoryStore returns an empty store.
func NewMemoryStore[T any]() *MemoryStore[T] {
	return &MemoryStore[T]{rows: make(map[string]memoryRow[T])}
}

func (s *MemoryStore[T]) Load(_ context.Context, ref Ref) (T, Meta, bool, error) {
	var snapshot T
	id, err := ref.Identifier()
	if err != nil {
		return snapshot, Meta{}, false, err
	}
	s.mu.RLock()
	row, found := s.rows[id]
	s.mu.RUnlock()
	if found {
		snapshot = layering.Clone(row.snapshot)
	}
	return snapshot, row.meta, found, nil
}

func (s *MemoryStore[T]) Save(_ context.Context, ref Ref, snapshot T, meta Meta) (Meta, error) {
	id, err := ref.Identifier()
	if err != nil {
		return Meta{}, err
	}
	row := memoryRow[T]{snapshot: layering.Clone(snapshot), meta: meta}
	s.mu.Lock()
	s.rows[id] = row
	s.mu.Unlock()
	return meta, nil
}

func (s *MemoryStore[T]) Delete(_ context.Context, ref Ref) error {
	id, err := ref.Identifier()
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.rows, id)
	s.mu.Unlock()
	return nil
}

// Len reports the number of stored snapshots.
func (s *MemoryStore[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}
