// Package memstore provides an in-memory mailstore.Store.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/linnemanlabs/courier/internal/email"
	"github.com/linnemanlabs/courier/internal/mailstore"
)

// Store keeps records in insertion order behind a RWMutex.
type Store struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]email.Record
}

var _ mailstore.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{byID: make(map[string]email.Record)}
}

func (s *Store) Insert(_ context.Context, r email.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[r.ID]; ok {
		return fmt.Errorf("%w: %q", mailstore.ErrExists, r.ID)
	}
	s.byID[r.ID] = r.Clone()
	s.order = append(s.order, r.ID)
	return nil
}

func (s *Store) Get(_ context.Context, id string) (email.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	if !ok {
		return email.Record{}, fmt.Errorf("%w: %q", mailstore.ErrNotFound, id)
	}
	return r.Clone(), nil
}

func (s *Store) List(_ context.Context, f mailstore.Filter) ([]email.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]email.Record, 0, len(s.order))
	for _, id := range s.order {
		if r := s.byID[id]; f.Match(r) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (s *Store) SetRead(_ context.Context, id string, read bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %q", mailstore.ErrNotFound, id)
	}
	r.IsRead = read
	s.byID[id] = r
	return nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return fmt.Errorf("%w: %q", mailstore.ErrNotFound, id)
	}
	delete(s.byID, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID), nil
}
