package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is the in-process Store implementation: a mutex-guarded map
// with an opportunistic TTL sweep. It is the default backend for task groups
// that do not configure a persistent store.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*Record

	// seq disambiguates list ordering for records created within the
	// same clock tick.
	seq     map[string]uint64
	nextSeq uint64

	// ttl is how long completed/failed records are kept. Zero disables
	// the sweep.
	ttl time.Duration
}

// NewMemoryStore creates a MemoryStore. Completed records older than ttl are
// swept opportunistically on subsequent operations; ttl <= 0 keeps records
// until explicitly deleted.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]*Record),
		seq:   make(map[string]uint64),
		ttl:   ttl,
	}
}

// CreateTask implements Store.
func (s *MemoryStore) CreateTask(_ context.Context, taskID, groupName string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	if _, ok := s.tasks[taskID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskExists, taskID)
	}

	rec := &Record{
		TaskID:    taskID,
		GroupName: groupName,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	s.tasks[taskID] = rec
	s.nextSeq++
	s.seq[taskID] = s.nextSeq
	return rec.Clone(), nil
}

// GetTask implements Store.
func (s *MemoryStore) GetTask(_ context.Context, taskID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	rec, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return rec.Clone(), nil
}

// UpdateTask implements Store.
func (s *MemoryStore) UpdateTask(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	if _, ok := s.tasks[rec.TaskID]; !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, rec.TaskID)
	}
	s.tasks[rec.TaskID] = rec.Clone()
	return nil
}

// DeleteTask implements Store.
func (s *MemoryStore) DeleteTask(_ context.Context, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	if _, ok := s.tasks[taskID]; !ok {
		return false, nil
	}
	delete(s.tasks, taskID)
	delete(s.seq, taskID)
	return true, nil
}

// ListTasks implements Store.
func (s *MemoryStore) ListTasks(_ context.Context, limit int) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	out := make([]*Record, 0, len(s.tasks))
	for _, rec := range s.tasks {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return s.seq[out[i].TaskID] > s.seq[out[j].TaskID]
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// sweepLocked drops terminal records past their TTL. Callers hold s.mu.
func (s *MemoryStore) sweepLocked() {
	if s.ttl <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-s.ttl)
	for id, rec := range s.tasks {
		if rec.CompletedAt != nil && rec.CompletedAt.Before(cutoff) {
			delete(s.tasks, id)
			delete(s.seq, id)
		}
	}
}
