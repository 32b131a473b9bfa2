package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Registry tracks the chats that receive announcements. Chats are never
// removed automatically.
type Registry struct {
	mu        sync.RWMutex
	subs      Subscribers
	persister SubscriberPersister
}

// NewRegistry returns an empty registry backed by persister.
func NewRegistry(persister SubscriberPersister) *Registry {
	return &Registry{subs: Subscribers{}, persister: persister}
}

// Load replaces the in-memory registry with the persisted one.
func (r *Registry) Load(ctx context.Context) error {
	subs, err := r.persister.LoadSubscribers(ctx)
	if err != nil {
		return fmt.Errorf("load subscribers: %w", err)
	}
	if subs == nil {
		subs = Subscribers{}
	}
	r.mu.Lock()
	r.subs = subs
	r.mu.Unlock()
	return nil
}

// Add registers chatID and persists the registry. It reports false when the
// chat was already known. A failed write leaves the registry unchanged.
func (r *Registry) Add(ctx context.Context, chatID string, name *string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[chatID]; ok {
		return false, nil
	}
	r.subs[chatID] = name
	if err := r.persister.SaveSubscribers(ctx, r.subs.Clone()); err != nil {
		delete(r.subs, chatID)
		return false, fmt.Errorf("persist subscriber %s: %w", chatID, err)
	}
	return true, nil
}

// Has reports whether chatID is registered.
func (r *Registry) Has(chatID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subs[chatID]
	return ok
}

// ChatIDs returns the registered chats in sorted order.
func (r *Registry) ChatIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of registered chats.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
