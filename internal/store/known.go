package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/JakeFAU/release-watcher/internal/release"
)

// KnownItems records every identifier ever seen per source. Entries only
// grow; the whole set is persisted at once.
type KnownItems struct {
	mu        sync.RWMutex
	data      Snapshot
	persister Persister
}

// NewKnownItems returns an empty set backed by persister.
func NewKnownItems(persister Persister) *KnownItems {
	return &KnownItems{data: Snapshot{}, persister: persister}
}

// Load replaces the in-memory state with the persisted snapshot.
func (k *KnownItems) Load(ctx context.Context) error {
	snap, err := k.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("load known items: %w", err)
	}
	if snap == nil {
		snap = Snapshot{}
	}
	k.mu.Lock()
	k.data = snap
	k.mu.Unlock()
	return nil
}

// Record appends the candidates not yet known under sourceKey (and subKey
// for grouped sources, "" for flat ones) and returns them in input order.
func (k *KnownItems) Record(sourceKey, subKey string, candidates []string) []string {
	k.mu.Lock()
	defer k.mu.Unlock()

	entry := k.data[sourceKey].clone()
	// Only the shape being recorded is kept. Identifiers already stored in
	// that shape stay known, so a reloaded mixed entry never repeats them.
	if subKey == "" {
		entry.Groups = nil
	} else {
		entry.Flat = nil
		if entry.Groups == nil {
			entry.Groups = map[string][]string{}
		}
	}

	seq := entry.Flat
	if subKey != "" {
		seq = entry.Groups[subKey]
	}

	var added []string
	for _, id := range candidates {
		if slices.Contains(seq, id) {
			continue
		}
		seq = append(seq, id)
		added = append(added, id)
	}

	if subKey != "" {
		if seq == nil {
			seq = []string{}
		}
		entry.Groups[subKey] = seq
	} else {
		entry.Flat = seq
	}
	k.data[sourceKey] = entry
	return added
}

// Contains reports whether id is recorded under sourceKey/subKey.
func (k *KnownItems) Contains(sourceKey, subKey, id string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	entry := k.data[sourceKey]
	if subKey == "" {
		return slices.Contains(entry.Flat, id)
	}
	return slices.Contains(entry.Groups[subKey], id)
}

// Last returns up to n of the most recently recorded identifiers of src,
// taken per group for grouped sources.
func (k *KnownItems) Last(src release.Source, n int) []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	entry := k.data[src.Key]
	if src.Shape == release.ShapeFlat {
		return tail(entry.Flat, n)
	}
	var out []string
	for _, g := range src.Groups {
		out = append(out, tail(entry.Groups[g.Key], n)...)
	}
	return out
}

// Find returns the first identifier of sourceKey accepted by match.
func (k *KnownItems) Find(sourceKey string, match func(id string) bool) (string, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	entry := k.data[sourceKey]
	for _, id := range entry.Flat {
		if match(id) {
			return id, true
		}
	}
	keys := make([]string, 0, len(entry.Groups))
	for key := range entry.Groups {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		for _, id := range entry.Groups[key] {
			if match(id) {
				return id, true
			}
		}
	}
	return "", false
}

// Snapshot returns a deep copy of the current state.
func (k *KnownItems) Snapshot() Snapshot {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.data.Clone()
}

// Restore replaces the current state with a copy of snap.
func (k *KnownItems) Restore(snap Snapshot) {
	clone := snap.Clone()
	k.mu.Lock()
	k.data = clone
	k.mu.Unlock()
}

// Persist writes the current state through the persister.
func (k *KnownItems) Persist(ctx context.Context) error {
	if err := k.persister.Save(ctx, k.Snapshot()); err != nil {
		return fmt.Errorf("persist known items: %w", err)
	}
	return nil
}

func tail(seq []string, n int) []string {
	if n <= 0 || len(seq) == 0 {
		return nil
	}
	if n > len(seq) {
		n = len(seq)
	}
	return append([]string(nil), seq[len(seq)-n:]...)
}
