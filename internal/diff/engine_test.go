package diff

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/release-watcher/internal/extract"
	"github.com/JakeFAU/release-watcher/internal/release"
	"github.com/JakeFAU/release-watcher/internal/store"
)

type nopPersister struct{}

func (nopPersister) Load(context.Context) (store.Snapshot, error) { return store.Snapshot{}, nil }
func (nopPersister) Save(context.Context, store.Snapshot) error { return nil }

type siteFetcher struct {
	mu    sync.Mutex
	pages map[string]string
}

func (f *siteFetcher) set(url, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = body
}

func (f *siteFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.pages[url]
	if !ok {
		return nil, &release.FetchError{URL: url, Err: release.ErrTimeout}
	}
	return []byte(body), nil
}

func megaListing(ids ...string) string {
	var b strings.Builder
	b.WriteString(`<div id="mid-side">`)
	for i := len(ids) - 1; i >= 0; i-- {
		b.WriteString(`<div class="name-block"><a href="` + ids[i] + `">x</a></div>`)
	}
	b.WriteString(`</div>`)
	return b.String()
}

func topicListing(ids ...string) string {
	var b strings.Builder
	for i := len(ids) - 1; i >= 0; i-- {
		b.WriteString(`<div class="topic-list"><a href="` + ids[i] + `">x</a></div>`)
	}
	return b.String()
}

var (
	movies = release.Source{Key: "mega_f", Code: "mf", Family: release.FamilyMegashara, URL: "http://mega.test/movies", Limit: 10}
	topics = release.Source{
		Key: "ns", Code: "ns", Family: release.FamilyNewstudio, Shape: release.ShapeGrouped, Limit: 10,
		Groups: []release.Group{
			{Key: "444", URL: "http://ns.test/viewforum.php?f=444"},
			{Key: "206", URL: "http://ns.test/viewforum.php?f=206"},
		},
	}
)

func newTestEngine(t *testing.T, fetcher *siteFetcher) (*Engine, *store.KnownItems) {
	t.Helper()
	set, err := extract.NewSet([]release.Source{movies, topics},
		extract.NewMegashara(nil, nil), extract.NewNewstudio(nil))
	require.NoError(t, err)
	known := store.NewKnownItems(nopPersister{})
	return New(fetcher, set, known, zap.NewNop()), known
}

func urls(res Result) []string {
	out := make([]string, 0, len(res.New))
	for _, d := range res.New {
		out = append(out, d.URL)
	}
	return out
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()

	fetcher := &siteFetcher{pages: map[string]string{
		"http://mega.test/movies": megaListing("http://mega.test/movies/1/", "http://mega.test/movies/2/"),
	}}
	engine, _ := newTestEngine(t, fetcher)
	sources := []release.Source{movies}

	first, err := engine.Run(context.Background(), sources)
	require.NoError(t, err)
	require.Equal(t, []string{"http://mega.test/movies/1/", "http://mega.test/movies/2/"}, urls(first))
	require.Equal(t, "mega_f", first.New[0].Source.Key)

	second, err := engine.Run(context.Background(), sources)
	require.NoError(t, err)
	require.Empty(t, second.New)

	fetcher.set("http://mega.test/movies", megaListing("http://mega.test/movies/2/", "http://mega.test/movies/3/"))
	third, err := engine.Run(context.Background(), sources)
	require.NoError(t, err)
	require.Equal(t, []string{"http://mega.test/movies/3/"}, urls(third))
}

func TestRunKeepsGroupsIndependent(t *testing.T) {
	t.Parallel()

	fetcher := &siteFetcher{pages: map[string]string{
		"http://ns.test/viewforum.php?f=444": topicListing("viewtopic.php?t=1"),
		"http://ns.test/viewforum.php?f=206": topicListing(),
	}}
	engine, known := newTestEngine(t, fetcher)
	sources := []release.Source{topics}

	res, err := engine.Run(context.Background(), sources)
	require.NoError(t, err)
	require.Len(t, res.New, 1)
	require.Equal(t, "444", res.New[0].SubKey)
	require.False(t, known.Contains("ns", "206", "http://ns.test/viewtopic.php?t=1"))

	fetcher.set("http://ns.test/viewforum.php?f=206", topicListing("viewtopic.php?t=1"))
	res, err = engine.Run(context.Background(), sources)
	require.NoError(t, err)
	require.Len(t, res.New, 1)
	require.Equal(t, "206", res.New[0].SubKey)
}

func TestRunSkipsFailingSources(t *testing.T) {
	t.Parallel()

	fetcher := &siteFetcher{pages: map[string]string{
		"http://ns.test/viewforum.php?f=206": topicListing("viewtopic.php?t=9"),
	}}
	engine, _ := newTestEngine(t, fetcher)

	res, err := engine.Run(context.Background(), []release.Source{movies, topics})
	require.NoError(t, err)
	require.Equal(t, 2, res.Failed)
	require.Equal(t, []string{"http://ns.test/viewtopic.php?t=9"}, urls(res))
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t, &siteFetcher{pages: map[string]string{}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Run(ctx, []release.Source{movies})
	require.ErrorIs(t, err, context.Canceled)
}
