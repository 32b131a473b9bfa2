// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/release-watcher/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	ItemsTable      string
	SubscriberTable string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// StateStore keeps known identifiers and subscribers in Postgres. Identifier
// rows are append-only; each save inserts only what the previous save has
// not written yet.
type StateStore struct {
	pool        pool
	items       string
	subscribers string

	mu      sync.Mutex
	written map[string]int
}

// New connects to Postgres and creates the tables when missing.
func New(ctx context.Context, cfg Config) (*StateStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("state.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(p, cfg.ItemsTable, cfg.SubscriberTable)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, itemsTable, subscriberTable string) (*StateStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if itemsTable == "" {
		itemsTable = "known_items"
	}
	if subscriberTable == "" {
		subscriberTable = "subscribers"
	}
	for _, table := range []string{itemsTable, subscriberTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &StateStore{
		pool:        p,
		items:       itemsTable,
		subscribers: subscriberTable,
		written:     map[string]int{},
	}, nil
}

// Close releases the underlying pool resources.
func (s *StateStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the state tables if they do not exist.
func (s *StateStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	source_key TEXT NOT NULL,
	sub_key    TEXT NOT NULL DEFAULT '',
	position   INTEGER NOT NULL,
	url        TEXT NOT NULL,
	seen_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (source_key, sub_key, url)
)`, s.items),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	chat_id TEXT PRIMARY KEY,
	name    TEXT
)`, s.subscribers),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// Load implements store.Persister.
func (s *StateStore) Load(ctx context.Context) (store.Snapshot, error) {
	query := fmt.Sprintf(`
SELECT source_key, sub_key, url
FROM %s
ORDER BY source_key, sub_key, position`, s.items)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query known items: %w", err)
	}
	defer rows.Close()

	snap := store.Snapshot{}
	written := map[string]int{}
	for rows.Next() {
		var sourceKey, subKey, url string
		if err := rows.Scan(&sourceKey, &subKey, &url); err != nil {
			return nil, fmt.Errorf("scan known item: %w", err)
		}
		entry := snap[sourceKey]
		if subKey == "" {
			entry.Flat = append(entry.Flat, url)
		} else {
			if entry.Groups == nil {
				entry.Groups = map[string][]string{}
			}
			entry.Groups[subKey] = append(entry.Groups[subKey], url)
		}
		snap[sourceKey] = entry
		written[seqKey(sourceKey, subKey)]++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate known items: %w", err)
	}

	s.mu.Lock()
	s.written = written
	s.mu.Unlock()
	return snap, nil
}

// Save implements store.Persister.
func (s *StateStore) Save(ctx context.Context, snap store.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	committing := false
	defer func() {
		if !committing {
			_ = tx.Rollback(ctx)
		}
	}()

	query := fmt.Sprintf(`
INSERT INTO %s (source_key, sub_key, position, url)
VALUES ($1, $2, $3, $4)
ON CONFLICT DO NOTHING`, s.items)

	pending := map[string]int{}
	for _, seq := range sequences(snap) {
		key := seqKey(seq.source, seq.sub)
		from := s.written[key]
		for pos := from; pos < len(seq.urls); pos++ {
			if _, err := tx.Exec(ctx, query, seq.source, seq.sub, pos, seq.urls[pos]); err != nil {
				return fmt.Errorf("insert known item %s: %w", seq.urls[pos], err)
			}
		}
		pending[key] = len(seq.urls)
	}
	committing = true
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	for key, n := range pending {
		if n > s.written[key] {
			s.written[key] = n
		}
	}
	return nil
}

// LoadSubscribers implements store.SubscriberPersister.
func (s *StateStore) LoadSubscribers(ctx context.Context) (store.Subscribers, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT chat_id, name FROM %s`, s.subscribers))
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer rows.Close()

	subs := store.Subscribers{}
	for rows.Next() {
		var chatID string
		var name *string
		if err := rows.Scan(&chatID, &name); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		subs[chatID] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}
	return subs, nil
}

// SaveSubscribers implements store.SubscriberPersister.
func (s *StateStore) SaveSubscribers(ctx context.Context, subs store.Subscribers) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin subscriber save: %w", err)
	}
	committing := false
	defer func() {
		if !committing {
			_ = tx.Rollback(ctx)
		}
	}()

	query := fmt.Sprintf(`
INSERT INTO %s (chat_id, name)
VALUES ($1, $2)
ON CONFLICT (chat_id) DO UPDATE SET name = EXCLUDED.name`, s.subscribers)

	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, err := tx.Exec(ctx, query, id, subs[id]); err != nil {
			return fmt.Errorf("upsert subscriber %s: %w", id, err)
		}
	}
	committing = true
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit subscriber save: %w", err)
	}
	return nil
}

type sequence struct {
	source string
	sub    string
	urls   []string
}

// sequences flattens a snapshot in a stable order.
func sequences(snap store.Snapshot) []sequence {
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []sequence
	for _, k := range keys {
		entry := snap[k]
		if !entry.Grouped() || len(entry.Flat) > 0 {
			out = append(out, sequence{source: k, urls: entry.Flat})
		}
		subs := make([]string, 0, len(entry.Groups))
		for sub := range entry.Groups {
			subs = append(subs, sub)
		}
		sort.Strings(subs)
		for _, sub := range subs {
			out = append(out, sequence{source: k, sub: sub, urls: entry.Groups[sub]})
		}
	}
	return out
}

func seqKey(source, sub string) string {
	return source + "\x00" + sub
}
