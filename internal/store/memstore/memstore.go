// Package memstore is a process-local Store, mostly for tests.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"skyward/internal/model"
	"skyward/internal/store"
)

type Store struct {
	mu     sync.Mutex
	snaps  map[string]*store.Snapshot
	locked map[string]bool
	writes int
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		snaps:  make(map[string]*store.Snapshot),
		locked: make(map[string]bool),
	}
}

func (s *Store) Load(ctx context.Context, account string) (*store.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap, ok := s.snaps[account]; ok {
		return snap.Clone(), nil
	}
	return store.NewSnapshot(account), nil
}

func (s *Store) Record(ctx context.Context, account, did string, kind model.ActionKind, at time.Time) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown action kind %q", kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[account]
	if !ok {
		snap = store.NewSnapshot(account)
		s.snaps[account] = snap
	}
	snap.Put(did, kind, at.UTC())
	s.writes++
	return nil
}

func (s *Store) Lock(ctx context.Context, account string) (store.Unlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked[account] {
		return nil, fmt.Errorf("%w (%s)", store.ErrLocked, account)
	}
	s.locked[account] = true
	return func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.locked, account)
		return nil
	}, nil
}

func (s *Store) Close() error { return nil }

// Writes returns how many records have been persisted in total.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
