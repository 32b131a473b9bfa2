package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/release-watcher/internal/release"
)

// Request describes one item page handed to a Rule.
type Request struct {
	URL    string
	Source release.Source
	Detail release.Detail
}

// Rule parses the pages of one site family.
type Rule interface {
	Family() release.Family
	// Listing returns up to limit candidate identifiers, oldest first.
	Listing(doc *goquery.Document, pageURL string, limit int) []string
	// Extract reads an item page. A page without the family's main content
	// block yields release.ErrItemNotFound.
	Extract(ctx context.Context, doc *goquery.Document, req Request) (release.Item, error)
	// ItemID returns the short identifier used in detail references.
	ItemID(itemURL string) string
	// DetailURL builds an item address from its short identifier, or returns
	// "" when the family cannot derive one.
	DetailURL(src release.Source, id string) string
}

// Set routes identifiers to their source and rule.
type Set struct {
	rules   map[release.Family]Rule
	sources []release.Source
}

// NewSet binds rules to sources. Every source must have a rule for its family.
func NewSet(sources []release.Source, rules ...Rule) (*Set, error) {
	s := &Set{
		rules:   make(map[release.Family]Rule, len(rules)),
		sources: append([]release.Source(nil), sources...),
	}
	for _, r := range rules {
		s.rules[r.Family()] = r
	}
	for _, src := range sources {
		if _, ok := s.rules[src.Family]; !ok {
			return nil, fmt.Errorf("source %q: no extraction rule for family %q", src.Key, src.Family)
		}
	}
	return s, nil
}

// Sources returns the configured sources in configuration order.
func (s *Set) Sources() []release.Source {
	return append([]release.Source(nil), s.sources...)
}

// Source looks a source up by its short code.
func (s *Set) Source(code string) (release.Source, bool) {
	for _, src := range s.sources {
		if src.Code == code {
			return src, true
		}
	}
	return release.Source{}, false
}

// Rule returns the rule registered for a family.
func (s *Set) Rule(f release.Family) (Rule, bool) {
	r, ok := s.rules[f]
	return r, ok
}

// Resolve finds the source an identifier belongs to: the source with the
// longest listing address that prefixes the identifier, else the first
// source on the same host.
func (s *Set) Resolve(itemURL string) (release.Source, Rule, bool) {
	best, bestLen := -1, 0
	for i, src := range s.sources {
		for _, page := range src.Pages() {
			if strings.HasPrefix(itemURL, page.URL) && len(page.URL) > bestLen {
				best, bestLen = i, len(page.URL)
			}
		}
	}
	if best < 0 {
		host := hostOf(itemURL)
		for i, src := range s.sources {
			if host != "" && sourceHost(src) == host {
				best = i
				break
			}
		}
	}
	if best < 0 {
		return release.Source{}, nil, false
	}
	src := s.sources[best]
	return src, s.rules[src.Family], true
}

// Listing parses a listing page of src.
func (s *Set) Listing(src release.Source, pageURL string, body []byte) ([]string, error) {
	rule, ok := s.rules[src.Family]
	if !ok {
		return nil, fmt.Errorf("%w: %s", release.ErrUnknownSource, src.Key)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing %s: %w", pageURL, err)
	}
	return rule.Listing(doc, pageURL, src.Limit), nil
}

// Extract parses the item page of itemURL.
func (s *Set) Extract(ctx context.Context, itemURL string, body []byte, detail release.Detail) (release.Item, error) {
	src, rule, ok := s.Resolve(itemURL)
	if !ok {
		return release.Item{}, fmt.Errorf("%w: no source for %s", release.ErrUnknownSource, itemURL)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return release.Item{}, fmt.Errorf("parse item %s: %w", itemURL, err)
	}
	item, err := rule.Extract(ctx, doc, Request{URL: itemURL, Source: src, Detail: detail})
	if err != nil {
		return release.Item{}, err
	}
	item.URL = itemURL
	item.Family = src.Family
	item.SourceKey = src.Key
	if item.Rating == "" {
		item.Rating = release.Placeholder
	}
	return item, nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func sourceHost(src release.Source) string {
	for _, page := range src.Pages() {
		if h := hostOf(page.URL); h != "" {
			return h
		}
	}
	return ""
}

// detailRef formats the command that re-fetches full detail for an item.
func detailRef(code, id string) string {
	if code == "" || id == "" {
		return ""
	}
	return "/more_" + code + "_" + id
}

// absolute resolves ref against base, returning ref unchanged when either
// address is malformed.
func absolute(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// reverse returns the first limit entries of s in reverse order.
func reverse(s []string, limit int) []string {
	if limit > 0 && len(s) > limit {
		s = s[:limit]
	}
	out := make([]string, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}
