package state

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStorage keeps snapshots in process memory. It is used when Redis is disabled.
type MemoryStorage struct {
	mu        sync.Mutex
	snapshots map[string]*Snapshot
	now       func() time.Time
}

// NewMemoryStorage returns an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		snapshots: make(map[string]*Snapshot),
		now:       time.Now,
	}
}

func (s *MemoryStorage) Get(_ context.Context, runID string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, ok := s.snapshots[runID]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return snapshot.Clone(), nil
}

func (s *MemoryStorage) Save(_ context.Context, snapshot *Snapshot) error {
	snapshot.UpdatedAt = s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.RunID] = snapshot.Clone()
	return nil
}

func (s *MemoryStorage) Delete(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.snapshots, runID)
	return nil
}

// List returns snapshots ordered by start time.
func (s *MemoryStorage) List(_ context.Context) ([]*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Snapshot, 0, len(s.snapshots))
	for _, snapshot := range s.snapshots {
		out = append(out, snapshot.Clone())
	}
	slices.SortFunc(out, func(a, b *Snapshot) int {
		return cmp.Compare(a.StartedAt.UnixNano(), b.StartedAt.UnixNano())
	})
	return out, nil
}
