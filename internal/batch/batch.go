// Package batch fetches and extracts many identifiers at once while pacing
// requests so a site is not flooded.
package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/release-watcher/internal/extract"
	"github.com/JakeFAU/release-watcher/internal/release"
)

// Config controls launch pacing.
type Config struct {
	// LaunchDelay separates consecutive launches within a family.
	LaunchDelay time.Duration
	// Pause replaces LaunchDelay on every PauseEvery-th launch.
	Pause      time.Duration
	PauseEvery int
	// MaxInFlight bounds concurrent fetches per family; zero means unbounded.
	MaxInFlight int
}

// DefaultConfig mirrors the pacing the watched sites tolerate.
func DefaultConfig() Config {
	return Config{
		LaunchDelay: 200 * time.Millisecond,
		Pause:       time.Second,
		PauseEvery:  5,
		MaxInFlight: 8,
	}
}

// Renderer turns an item into message text.
type Renderer interface {
	Render(item release.Item, detail release.Detail, single bool) string
}

// Batch runs fetch and extraction for groups of identifiers.
type Batch struct {
	fetcher  release.Fetcher
	rules    *extract.Set
	renderer Renderer
	cfg      Config
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// New constructs a Batch.
func New(fetcher release.Fetcher, rules *extract.Set, renderer Renderer, cfg Config, logger *zap.Logger) *Batch {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PauseEvery <= 0 {
		cfg.PauseEvery = 1
	}
	return &Batch{
		fetcher:  fetcher,
		rules:    rules,
		renderer: renderer,
		cfg:      cfg,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Extract fetches and parses every identifier. Identifiers that fail for
// any reason contribute nothing; results arrive in completion order.
func (b *Batch) Extract(ctx context.Context, ids []string, detail release.Detail) []release.Item {
	groups := b.groupByFamily(ids)

	var (
		mu    sync.Mutex
		items []release.Item
	)
	collect := func(item release.Item) {
		mu.Lock()
		items = append(items, item)
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for family, urls := range groups {
		wg.Add(1)
		go func(family release.Family, urls []string) {
			defer wg.Done()
			b.runFamily(ctx, family, urls, detail, collect)
		}(family, urls)
	}
	wg.Wait()
	return items
}

// Render extracts ids and concatenates the rendered messages.
func (b *Batch) Render(ctx context.Context, ids []string, detail release.Detail, single bool) string {
	var out strings.Builder
	for _, item := range b.Extract(ctx, ids, detail) {
		out.WriteString(b.renderer.Render(item, detail, single))
	}
	return out.String()
}

func (b *Batch) groupByFamily(ids []string) map[release.Family][]string {
	groups := make(map[release.Family][]string)
	for _, id := range ids {
		src, _, ok := b.rules.Resolve(id)
		if !ok {
			b.logger.Warn("no source for identifier", zap.String("url", id))
			continue
		}
		groups[src.Family] = append(groups[src.Family], id)
	}
	return groups
}

func (b *Batch) runFamily(ctx context.Context, family release.Family, urls []string, detail release.Detail, collect func(release.Item)) {
	g, gctx := errgroup.WithContext(ctx)
	if b.cfg.MaxInFlight > 0 {
		g.SetLimit(b.cfg.MaxInFlight)
	}

	for i, url := range urls {
		g.Go(func() error {
			item, err := b.one(gctx, url, detail)
			if err != nil {
				b.logFailure(family, url, err)
				return nil
			}
			collect(item)
			return nil
		})
		if i == len(urls)-1 {
			break
		}
		delay := b.cfg.LaunchDelay
		if i%b.cfg.PauseEvery == 0 {
			delay = b.cfg.Pause
		}
		if err := b.sleep(ctx, delay); err != nil {
			break
		}
	}
	_ = g.Wait()
}

func (b *Batch) one(ctx context.Context, url string, detail release.Detail) (item release.Item, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extract %s panicked: %v", url, r)
		}
	}()
	body, err := b.fetcher.Fetch(ctx, url)
	if err != nil {
		return release.Item{}, err
	}
	return b.rules.Extract(ctx, url, body, detail)
}

func (b *Batch) logFailure(family release.Family, url string, err error) {
	fields := []zap.Field{zap.String("family", string(family)), zap.String("url", url), zap.Error(err)}
	switch {
	case errors.Is(err, release.ErrUnavailable), errors.Is(err, release.ErrItemNotFound):
		b.logger.Debug("identifier produced no item", fields...)
	default:
		b.logger.Warn("identifier failed", fields...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
