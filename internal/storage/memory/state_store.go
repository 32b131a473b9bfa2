// Package memory keeps watcher state in-process. Nothing survives a restart;
// it backs dry runs and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/release-watcher/internal/store"
)

// StateStore implements store.Persister and store.SubscriberPersister.
type StateStore struct {
	mu    sync.RWMutex
	known store.Snapshot
	subs  store.Subscribers
	saves int
}

// NewStateStore creates an empty store.
func NewStateStore() *StateStore {
	return &StateStore{
		known: store.Snapshot{},
		subs:  store.Subscribers{},
	}
}

// Load returns a copy of the saved snapshot.
func (s *StateStore) Load(_ context.Context) (store.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.known.Clone(), nil
}

// Save replaces the saved snapshot with a copy of snap.
func (s *StateStore) Save(_ context.Context, snap store.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.known = snap.Clone()
	s.saves++
	return nil
}

// LoadSubscribers returns a copy of the saved registry.
func (s *StateStore) LoadSubscribers(_ context.Context) (store.Subscribers, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subs.Clone(), nil
}

// SaveSubscribers replaces the saved registry with a copy of subs.
func (s *StateStore) SaveSubscribers(_ context.Context, subs store.Subscribers) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = subs.Clone()
	s.saves++
	return nil
}

// Saves reports how many writes the store has accepted.
func (s *StateStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
