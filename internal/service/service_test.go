package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/release-watcher/internal/extract"
	"github.com/JakeFAU/release-watcher/internal/release"
	"github.com/JakeFAU/release-watcher/internal/scheduler"
	"github.com/JakeFAU/release-watcher/internal/service"
	"github.com/JakeFAU/release-watcher/internal/store"
)

type memPersister struct {
	snap store.Snapshot
	subs store.Subscribers
}

func (m *memPersister) Load(context.Context) (store.Snapshot, error) { return m.snap.Clone(), nil }
func (m *memPersister) Save(_ context.Context, s store.Snapshot) error {
	m.snap = s
	return nil
}
func (m *memPersister) LoadSubscribers(context.Context) (store.Subscribers, error) {
	return m.subs.Clone(), nil
}
func (m *memPersister) SaveSubscribers(_ context.Context, s store.Subscribers) error {
	m.subs = s
	return nil
}

type renderCall struct {
	ids    []string
	detail release.Detail
	single bool
}

type stubRenderer struct {
	mu    sync.Mutex
	calls []renderCall
	empty map[string]bool
}

func (r *stubRenderer) Render(_ context.Context, ids []string, detail release.Detail, single bool) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, renderCall{ids: ids, detail: detail, single: single})
	var b strings.Builder
	for _, id := range ids {
		if r.empty[id] {
			continue
		}
		b.WriteString("[" + id + "]")
	}
	return b.String()
}

type statusFetcher struct {
	status int
	err    error
	urls   []string
}

func (f *statusFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return nil, f.err
	}
	if f.status != 0 {
		return nil, &release.FetchError{URL: url, Status: f.status, Err: release.ErrNotFound}
	}
	return []byte("ok"), nil
}

type recordingSink struct {
	mu   sync.Mutex
	sent map[string][]string
}

func (s *recordingSink) Send(_ context.Context, chatID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent == nil {
		s.sent = map[string][]string{}
	}
	s.sent[chatID] = append(s.sent[chatID], text)
	return nil
}

type stubPoller struct{ calls int }

func (p *stubPoller) Cycle(context.Context) (scheduler.Report, error) {
	p.calls++
	return scheduler.Report{CycleID: "c1", Announced: 2}, nil
}

func testSources() []release.Source {
	return []release.Source{
		{Key: "mega_f", Code: "mf", Title: "Megashara", Family: release.FamilyMegashara, Kind: release.KindFilm, URL: "http://mega.test/movies", Limit: 2},
		{Key: "lf", Code: "lf", Title: "Lordsfilm", Family: release.FamilyLordsfilm, Kind: release.KindFilm, URL: "http://lords.test/filmy/", Limit: 5},
		{
			Key: "ns", Code: "ns", Title: "Newstudio", Family: release.FamilyNewstudio, Kind: release.KindSeries, Shape: release.ShapeGrouped, Limit: 5,
			Groups: []release.Group{{Key: "444", URL: "http://ns.test/viewforum.php?f=444"}},
		},
	}
}

type fixture struct {
	svc      *service.Service
	known    *store.KnownItems
	renderer *stubRenderer
	fetcher  *statusFetcher
	sink     *recordingSink
	poller   *stubPoller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rules, err := extract.NewSet(testSources(),
		extract.NewMegashara(nil, nil),
		extract.NewLordsfilm(),
		extract.NewNewstudio(nil),
	)
	require.NoError(t, err)

	p := &memPersister{snap: store.Snapshot{}, subs: store.Subscribers{}}
	known := store.NewKnownItems(p)
	registry := store.NewRegistry(p)
	f := &fixture{
		known:    known,
		renderer: &stubRenderer{empty: map[string]bool{}},
		fetcher:  &statusFetcher{},
		sink:     &recordingSink{},
		poller:   &stubPoller{},
	}
	f.svc = service.New(service.Config{RecentLimit: 2, OwnerChatID: "owner"}, service.Deps{
		Rules:    rules,
		Known:    known,
		Registry: registry,
		Renderer: f.renderer,
		Poller:   f.poller,
		Fetcher:  f.fetcher,
		Sink:     f.sink,
	})
	return f
}

func TestLookupRecentDefaultSource(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.known.Record("lf", "", []string{"http://lords.test/filmy/1-a.html", "http://lords.test/filmy/2-b.html", "http://lords.test/filmy/3-c.html"})

	text, err := f.svc.LookupRecent(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "<b>Фильмы: </b>(Lordsfilm)\n[http://lords.test/filmy/2-b.html][http://lords.test/filmy/3-c.html]\n", text)

	require.Len(t, f.renderer.calls, 1)
	assert.Equal(t, release.DetailLess, f.renderer.calls[0].detail)
	assert.False(t, f.renderer.calls[0].single)
}

func TestLookupRecentAllKeepsSourceOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.known.Record("mega_f", "", []string{"http://mega.test/movies/1/"})
	f.known.Record("ns", "444", []string{"http://ns.test/viewtopic.php?t=9"})

	text, err := f.svc.LookupRecent(context.Background(), service.AllSources)
	require.NoError(t, err)

	mega := strings.Index(text, "(Megashara)")
	lords := strings.Index(text, "(Lordsfilm)")
	ns := strings.Index(text, "<b>Сериалы: </b>(Newstudio)")
	require.True(t, mega >= 0 && lords > mega && ns > lords, text)
	assert.Contains(t, text, "(Lordsfilm)\n"+service.StaleReply+"\n")
}

func TestLookupRecentUnknownSource(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.svc.LookupRecent(context.Background(), "zz")
	require.ErrorIs(t, err, release.ErrUnknownSource)
}

func TestLookupDetailUsesKnownItem(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.known.Record("lf", "", []string{"http://lords.test/filmy/5012-oppenheimer.html"})

	text, err := f.svc.LookupDetail(context.Background(), "lf", "5012")
	require.NoError(t, err)
	assert.Equal(t, "[http://lords.test/filmy/5012-oppenheimer.html]", text)
	require.Len(t, f.renderer.calls, 1)
	assert.Equal(t, release.DetailFull, f.renderer.calls[0].detail)
	assert.True(t, f.renderer.calls[0].single)
}

func TestLookupDetailBuildsAddress(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	text, err := f.svc.LookupDetail(context.Background(), "mf", "77")
	require.NoError(t, err)
	assert.Equal(t, "[http://mega.test/movies/77/]", text)
}

func TestLookupDetailNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	text, err := f.svc.LookupDetail(context.Background(), "lf", "404")
	require.NoError(t, err)
	assert.Equal(t, service.NotFoundReply, text)

	f.renderer.empty["http://mega.test/movies/8/"] = true
	text, err = f.svc.LookupDetail(context.Background(), "mf", "8")
	require.NoError(t, err)
	assert.Equal(t, service.NotFoundReply, text)

	_, err = f.svc.LookupDetail(context.Background(), "nope", "1")
	require.ErrorIs(t, err, release.ErrUnknownSource)
}

func TestSubscribeNotifiesOwnerOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	name := "Ivan"

	added, err := f.svc.Subscribe(context.Background(), "42", &name)
	require.NoError(t, err)
	require.True(t, added)

	added, err = f.svc.Subscribe(context.Background(), "42", &name)
	require.NoError(t, err)
	require.False(t, added)

	assert.Equal(t, []string{"Мне написал start Ivan"}, f.sink.sent["owner"])
}

func TestPing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	text, err := f.svc.Ping(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "Статус код: 200 http://lords.test", text)

	f.fetcher.status = 503
	text, err = f.svc.Ping(context.Background(), "ns")
	require.NoError(t, err)
	assert.Equal(t, "Статус код: 503 http://ns.test", text)

	f.fetcher.err = errors.New("dial failed")
	_, err = f.svc.Ping(context.Background(), "mf")
	require.Error(t, err)
}

func TestPollOnceDelegates(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	report, err := f.svc.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Announced)
	assert.Equal(t, 1, f.poller.calls)
}
