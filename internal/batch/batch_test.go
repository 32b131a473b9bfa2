package batch

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/release-watcher/internal/extract"
	"github.com/JakeFAU/release-watcher/internal/release"
)

type titleRule struct {
	family release.Family
}

func (r titleRule) Family() release.Family { return r.family }

func (r titleRule) Listing(*goquery.Document, string, int) []string { return nil }

func (r titleRule) Extract(_ context.Context, doc *goquery.Document, req extract.Request) (release.Item, error) {
	title := doc.Find("h1").Text()
	switch title {
	case "panic":
		panic("malformed markup")
	case "":
		return release.Item{}, release.ErrItemNotFound
	}
	return release.Item{Title: title, Kind: req.Source.Kind}, nil
}

func (r titleRule) ItemID(string) string { return "" }
func (r titleRule) DetailURL(release.Source, string) string { return "" }

type pageFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	calls []string
}

func (f *pageFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	body, ok := f.pages[url]
	if !ok {
		return nil, &release.FetchError{URL: url, Err: release.ErrTimeout}
	}
	return []byte(body), nil
}

type titleRenderer struct{}

func (titleRenderer) Render(item release.Item, _ release.Detail, single bool) string {
	if single {
		return "*" + item.Title + "\n"
	}
	return item.Title + "\n"
}

func newTestBatch(t *testing.T, pages map[string]string) (*Batch, *pageFetcher, *[]time.Duration) {
	t.Helper()
	sources := []release.Source{
		{Key: "a", Code: "a", Family: release.FamilyMegashara, URL: "http://a.test/"},
		{Key: "b", Code: "b", Family: release.FamilyLordsfilm, URL: "http://b.test/"},
	}
	set, err := extract.NewSet(sources, titleRule{release.FamilyMegashara}, titleRule{release.FamilyLordsfilm})
	require.NoError(t, err)

	fetcher := &pageFetcher{pages: pages}
	b := New(fetcher, set, titleRenderer{}, DefaultConfig(), zap.NewNop())
	var (
		mu     sync.Mutex
		delays []time.Duration
	)
	b.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return nil
	}
	return b, fetcher, &delays
}

func page(title string) string {
	return "<html><body><h1>" + title + "</h1></body></html>"
}

func TestExtractIsolatesFailures(t *testing.T) {
	t.Parallel()

	b, _, _ := newTestBatch(t, map[string]string{
		"http://a.test/1": page("Первый"),
		"http://a.test/2": page("panic"),
		"http://a.test/3": page("Третий"),
		"http://a.test/4": page(""),
	})

	items := b.Extract(context.Background(), []string{
		"http://a.test/1", "http://a.test/2", "http://a.test/3", "http://a.test/4", "http://a.test/5",
	}, release.DetailLess)

	titles := make([]string, 0, len(items))
	for _, item := range items {
		titles = append(titles, item.Title)
		require.Equal(t, "a", item.SourceKey)
	}
	require.ElementsMatch(t, []string{"Первый", "Третий"}, titles)
}

func TestExtractRunsEveryFamily(t *testing.T) {
	t.Parallel()

	b, fetcher, _ := newTestBatch(t, map[string]string{
		"http://a.test/1": page("A"),
		"http://b.test/1": page("B"),
	})

	items := b.Extract(context.Background(), []string{"http://a.test/1", "http://b.test/1", "http://c.test/1"}, release.DetailLess)
	require.Len(t, items, 2)
	require.ElementsMatch(t, []string{"http://a.test/1", "http://b.test/1"}, fetcher.calls)
}

func TestExtractStaggersLaunches(t *testing.T) {
	t.Parallel()

	pages := map[string]string{}
	var ids []string
	for i := 0; i < 7; i++ {
		url := "http://a.test/" + string(rune('a'+i))
		pages[url] = page("x")
		ids = append(ids, url)
	}
	b, _, delays := newTestBatch(t, pages)

	items := b.Extract(context.Background(), ids, release.DetailLess)
	require.Len(t, items, 7)

	ms := 200 * time.Millisecond
	require.Equal(t, []time.Duration{time.Second, ms, ms, ms, ms, time.Second}, *delays)
}

func TestRenderSingle(t *testing.T) {
	t.Parallel()

	b, _, _ := newTestBatch(t, map[string]string{"http://a.test/1": page("Дюна")})

	require.Equal(t, "*Дюна\n", b.Render(context.Background(), []string{"http://a.test/1"}, release.DetailLess, true))
	require.Empty(t, b.Render(context.Background(), []string{"http://a.test/missing"}, release.DetailLess, true))

	out := b.Render(context.Background(), []string{"http://a.test/1", "http://a.test/1"}, release.DetailLess, false)
	require.Equal(t, 2, strings.Count(out, "Дюна\n"))
}
