// Package diff compares live listing pages against the known-item store.
package diff

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/release-watcher/internal/extract"
	"github.com/JakeFAU/release-watcher/internal/metrics"
	"github.com/JakeFAU/release-watcher/internal/release"
	"github.com/JakeFAU/release-watcher/internal/store"
)

// Discovery is an identifier seen for the first time.
type Discovery struct {
	Source release.Source
	SubKey string
	URL    string
}

// Result lists the discoveries of one run in discovery order.
type Result struct {
	New []Discovery
	// Failed counts listing pages that could not be read.
	Failed int
}

// Engine records the candidates of every listing page and reports the new ones.
type Engine struct {
	fetcher release.Fetcher
	rules   *extract.Set
	known   *store.KnownItems
	logger  *zap.Logger
}

// New constructs an Engine.
func New(fetcher release.Fetcher, rules *extract.Set, known *store.KnownItems, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{fetcher: fetcher, rules: rules, known: known, logger: logger}
}

// Run visits every listing page of sources. A page that fails contributes
// nothing; only cancellation of ctx aborts the run.
func (e *Engine) Run(ctx context.Context, sources []release.Source) (Result, error) {
	var res Result
	for _, src := range sources {
		for _, page := range src.Pages() {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			added, err := e.page(ctx, src, page)
			if err != nil {
				res.Failed++
				e.logPageError(src, page, err)
				continue
			}
			for _, id := range added {
				res.New = append(res.New, Discovery{Source: src, SubKey: page.Key, URL: id})
			}
			metrics.ObserveNewItems(src.Key, len(added))
		}
	}
	return res, nil
}

func (e *Engine) page(ctx context.Context, src release.Source, page release.Group) ([]string, error) {
	body, err := e.fetcher.Fetch(ctx, page.URL)
	if err != nil {
		return nil, err
	}
	candidates, err := e.rules.Listing(src, page.URL, body)
	if err != nil {
		return nil, err
	}
	return e.known.Record(src.Key, page.Key, candidates), nil
}

func (e *Engine) logPageError(src release.Source, page release.Group, err error) {
	fields := []zap.Field{
		zap.String("source", src.Key),
		zap.String("url", page.URL),
		zap.Error(err),
	}
	if errors.Is(err, release.ErrUnavailable) {
		e.logger.Debug("listing unavailable", fields...)
		return
	}
	e.logger.Warn("listing fetch failed", fields...)
}
