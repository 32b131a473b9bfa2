// Package local persists watcher state as JSON documents on the local filesystem.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/release-watcher/internal/store"
)

const (
	knownItemsFile  = "data_url.json"
	subscribersFile = "data_chats.json"
)

// Config captures the parameters for the local state store.
type Config struct {
	// BaseDir is the directory holding the state documents.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// StateStore keeps the known-item snapshot and the subscriber registry in
// two pretty-printed JSON files under BaseDir.
type StateStore struct {
	baseDir string
	mu      sync.Mutex
}

// New prepares BaseDir and creates empty documents for any that are missing.
func New(cfg Config) (*StateStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	s := &StateStore{baseDir: cfg.BaseDir}
	for _, name := range []string{knownItemsFile, subscribersFile} {
		if err := s.initFile(name); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Load implements store.Persister.
func (s *StateStore) Load(_ context.Context) (store.Snapshot, error) {
	snap := store.Snapshot{}
	if err := s.read(knownItemsFile, &snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// Save implements store.Persister.
func (s *StateStore) Save(_ context.Context, snap store.Snapshot) error {
	return s.write(knownItemsFile, snap)
}

// LoadSubscribers implements store.SubscriberPersister.
func (s *StateStore) LoadSubscribers(_ context.Context) (store.Subscribers, error) {
	subs := store.Subscribers{}
	if err := s.read(subscribersFile, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// SaveSubscribers implements store.SubscriberPersister.
func (s *StateStore) SaveSubscribers(_ context.Context, subs store.Subscribers) error {
	return s.write(subscribersFile, subs)
}

func (s *StateStore) initFile(name string) error {
	_, err := os.Stat(filepath.Join(s.baseDir, name))
	switch {
	case err == nil:
		return nil
	case os.IsNotExist(err):
		return s.write(name, map[string]any{})
	default:
		return fmt.Errorf("failed to stat %s: %w", name, err)
	}
}

func (s *StateStore) read(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// #nosec G304 -- name is one of the fixed state documents.
	data, err := os.ReadFile(filepath.Join(s.baseDir, name))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return nil
}

// write replaces the document atomically through a temp file and rename.
func (s *StateStore) write(name string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.baseDir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.baseDir, name)); err != nil {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}
