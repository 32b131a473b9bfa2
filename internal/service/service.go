// Package service is the entry point used by the command front end and the
// HTTP API. It holds every collaborator explicitly; there is no global state.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/release-watcher/internal/extract"
	"github.com/JakeFAU/release-watcher/internal/release"
	"github.com/JakeFAU/release-watcher/internal/scheduler"
	"github.com/JakeFAU/release-watcher/internal/store"
)

// Replies shown to chat users.
const (
	StaleReply    = "Там все очень старое, даже выводить не буду..\n"
	NoneReply     = "Релизов не найдено"
	NotFoundReply = "Релиз не найден"
	// AllSources selects every configured source in LookupRecent.
	AllSources = "all"
)

// Config tunes on-demand lookups.
type Config struct {
	RecentLimit int
	DefaultCode string
	// OwnerChatID receives operational notices; empty disables them.
	OwnerChatID string
}

// Renderer fetches, extracts and renders identifiers.
type Renderer interface {
	Render(ctx context.Context, ids []string, detail release.Detail, single bool) string
}

// Poller runs one poll cycle.
type Poller interface {
	Cycle(ctx context.Context) (scheduler.Report, error)
}

// Deps groups the collaborators of a Service.
type Deps struct {
	Rules    *extract.Set
	Known    *store.KnownItems
	Registry *store.Registry
	Renderer Renderer
	Poller   Poller
	Fetcher  release.Fetcher
	Sink     release.Sink
	Logger   *zap.Logger
}

// Service answers polls and lookups.
type Service struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
}

// New constructs a Service.
func New(cfg Config, deps Deps) *Service {
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 5
	}
	if cfg.DefaultCode == "" {
		cfg.DefaultCode = "lf"
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{cfg: cfg, deps: deps, log: logger}
}

// Sources returns the configured sources.
func (s *Service) Sources() []release.Source {
	return s.deps.Rules.Sources()
}

// PollOnce runs one cycle synchronously. It waits for a running cycle to
// finish rather than overlapping it.
func (s *Service) PollOnce(ctx context.Context) (scheduler.Report, error) {
	return s.deps.Poller.Cycle(ctx)
}

// LookupRecent renders the latest known identifiers of the sources selected
// by filter: "" for the default source, AllSources for every source, or a
// source code.
func (s *Service) LookupRecent(ctx context.Context, filter string) (string, error) {
	sources, err := s.selectSources(filter)
	if err != nil {
		return "", err
	}
	if len(sources) == 0 {
		return NoneReply, nil
	}

	sections := make([]string, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			body := s.deps.Renderer.Render(gctx, s.deps.Known.Last(src, s.cfg.RecentLimit), release.DetailLess, false)
			if body == "" {
				body = StaleReply
			}
			sections[i] = header(src) + body + "\n"
			return nil
		})
	}
	_ = g.Wait()
	return strings.Join(sections, ""), ctx.Err()
}

func (s *Service) selectSources(filter string) ([]release.Source, error) {
	filter = strings.TrimSpace(filter)
	if filter == AllSources {
		return s.deps.Rules.Sources(), nil
	}
	if filter == "" {
		filter = s.cfg.DefaultCode
	}
	src, ok := s.deps.Rules.Source(filter)
	if !ok {
		return nil, fmt.Errorf("%w: %q", release.ErrUnknownSource, filter)
	}
	return []release.Source{src}, nil
}

func header(src release.Source) string {
	kind := "<b>Фильмы: </b>"
	if src.Kind == release.KindSeries {
		kind = "<b>Сериалы: </b>"
	}
	return kind + "(" + src.Title + ")\n"
}

// LookupDetail renders the full description of item id from the source
// with the given code.
func (s *Service) LookupDetail(ctx context.Context, code, id string) (string, error) {
	src, ok := s.deps.Rules.Source(code)
	if !ok {
		return "", fmt.Errorf("%w: %q", release.ErrUnknownSource, code)
	}
	itemURL := s.detailURL(src, id)
	if itemURL == "" {
		return NotFoundReply, nil
	}
	text := s.deps.Renderer.Render(ctx, []string{itemURL}, release.DetailFull, true)
	if text == "" {
		return NotFoundReply, nil
	}
	return text, nil
}

func (s *Service) detailURL(src release.Source, id string) string {
	rule, ok := s.deps.Rules.Rule(src.Family)
	if !ok || id == "" {
		return ""
	}
	found, ok := s.deps.Known.Find(src.Key, func(u string) bool {
		return rule.ItemID(u) == id
	})
	if ok {
		return found
	}
	return rule.DetailURL(src, id)
}

// Subscribe registers a chat. The owner is told about every new subscriber.
func (s *Service) Subscribe(ctx context.Context, chatID string, name *string) (bool, error) {
	added, err := s.deps.Registry.Add(ctx, chatID, name)
	if err != nil || !added {
		return added, err
	}
	display := chatID
	if name != nil && *name != "" {
		display = *name
	}
	s.NotifyOwner(ctx, "Мне написал start "+display)
	return true, nil
}

// NotifyOwner sends text to the owner chat when one is configured.
func (s *Service) NotifyOwner(ctx context.Context, text string) {
	if s.cfg.OwnerChatID == "" || s.deps.Sink == nil {
		return
	}
	if err := s.deps.Sink.Send(ctx, s.cfg.OwnerChatID, text); err != nil {
		s.log.Warn("owner notification failed", zap.Error(err))
	}
}

// Ping requests the root page of the source with the given code and
// reports the HTTP status.
func (s *Service) Ping(ctx context.Context, code string) (string, error) {
	if code == "" {
		code = s.cfg.DefaultCode
	}
	src, ok := s.deps.Rules.Source(code)
	if !ok {
		return "", fmt.Errorf("%w: %q", release.ErrUnknownSource, code)
	}
	root := siteRoot(src)
	if root == "" {
		return "", fmt.Errorf("%w: %q has no address", release.ErrUnknownSource, code)
	}

	status := 200
	if _, err := s.deps.Fetcher.Fetch(ctx, root); err != nil {
		var fe *release.FetchError
		if !errors.As(err, &fe) || fe.Status == 0 {
			return "", err
		}
		status = fe.Status
	}
	return fmt.Sprintf("Статус код: %d %s", status, root), nil
}

func siteRoot(src release.Source) string {
	for _, page := range src.Pages() {
		u, err := url.Parse(page.URL)
		if err == nil && u.Host != "" {
			return u.Scheme + "://" + u.Host
		}
	}
	return ""
}
