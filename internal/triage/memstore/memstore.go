// Package memstore provides an in-memory implementation of triage.JobStore.
package memstore

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/linnemanlabs/courier/internal/triage"
)

// Store holds jobs in process memory. Jobs are lost on restart.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*triage.Job // job ID -> job
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{jobs: make(map[string]*triage.Job)}
}

// Get retrieves a job by its ID.
func (s *Store) Get(_ context.Context, id string) (*triage.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	return j, ok, nil
}

// Put inserts or replaces a job.
func (s *Store) Put(_ context.Context, j *triage.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
	return nil
}

// Delete removes a job. Missing ids are not an error.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

// List returns all jobs, newest first. Ties fall back to descending id,
// which for ULIDs is creation order.
func (s *Store) List(_ context.Context) ([]*triage.Job, error) {
	s.mu.RLock()
	out := make([]*triage.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *triage.Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return out, nil
}

// Len returns the number of stored jobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
