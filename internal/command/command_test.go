package command

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/release-watcher/internal/release"
)

type fakeBackend struct {
	known     map[string]bool
	recent    []string
	detail    [][2]string
	pings     []string
	pingErr   error
	detailErr error
}

func (f *fakeBackend) Sources() []release.Source {
	return []release.Source{
		{Code: "lf", Title: "Lordsfilms", Kind: release.KindFilm},
		{Code: "ns", Title: "Newstudio", Kind: release.KindSeries},
	}
}

func (f *fakeBackend) Subscribe(_ context.Context, chatID string, _ *string) (bool, error) {
	if f.known == nil {
		f.known = map[string]bool{}
	}
	if f.known[chatID] {
		return false, nil
	}
	f.known[chatID] = true
	return true, nil
}

func (f *fakeBackend) LookupRecent(_ context.Context, filter string) (string, error) {
	f.recent = append(f.recent, filter)
	return "recent:" + filter, nil
}

func (f *fakeBackend) LookupDetail(_ context.Context, code, id string) (string, error) {
	f.detail = append(f.detail, [2]string{code, id})
	return "detail", f.detailErr
}

func (f *fakeBackend) Ping(_ context.Context, code string) (string, error) {
	f.pings = append(f.pings, code)
	if f.pingErr != nil {
		return "", f.pingErr
	}
	return "Статус код: 200 http://" + code, nil
}

func TestParse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text string
		want Command
		ok   bool
	}{
		{"/start", Command{Tag: TagStart, Args: []string{}}, true},
		{"/help@release_bot", Command{Tag: TagHelp, Args: []string{}}, true},
		{"/last ns", Command{Tag: TagLast, Args: []string{"ns"}}, true},
		{"  /ping   lf extra", Command{Tag: TagPing, Args: []string{"lf", "extra"}}, true},
		{"/more_mf_123", Command{Tag: TagMore, Args: []string{"mf", "123"}}, true},
		{"/more_mf", Command{}, false},
		{"/more", Command{}, false},
		{"/unknown", Command{}, false},
		{"hello", Command{}, false},
		{"", Command{}, false},
	}
	for _, tc := range cases {
		got, ok := Parse(tc.text)
		assert.Equal(t, tc.ok, ok, tc.text)
		assert.Equal(t, tc.want, got, tc.text)
	}
}

func TestStartGreetsNewAndKnownChats(t *testing.T) {
	t.Parallel()

	r := NewRouter(&fakeBackend{}, "lf", nil)
	msg := Request{ChatID: "7", FirstName: "Анна", Text: "/start"}

	first := r.Handle(context.Background(), msg)
	require.Len(t, first, 2)
	assert.Equal(t, "Добро пожаловать, Анна", first[0])
	assert.Equal(t, r.HelpText(), first[1])

	second := r.Handle(context.Background(), msg)
	assert.Equal(t, "Привет, Анна", second[0])
}

func TestHelpText(t *testing.T) {
	t.Parallel()

	text := NewRouter(&fakeBackend{}, "lf", nil).HelpText()
	assert.True(t, strings.HasPrefix(text, "<b>Доступны следующие команды: </b>\n/start - начать использовать бота\n\n"))
	assert.Contains(t, text, "/last X - показать последние релизы, где\nX - код сайта (если X не указано, то выведет для lf)\n\n")
	assert.Contains(t, text, "<b>Коды сайтов:</b>\nlf - релизы фильмов Lordsfilms\nns - релизы сериалов Newstudio\n")
	assert.True(t, strings.HasSuffix(text, "all - релизы со всех сайтов в подписке (для команды /last)\n"))
}

func TestLastFallsBackToDefault(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{}
	r := NewRouter(b, "lf", nil)

	out := r.Handle(context.Background(), Request{Text: "/last zz"})
	assert.Equal(t, Reply{"Подождите.. Получаю информацию о последних релизах Lordsfilms..", "recent:lf"}, out)

	out = r.Handle(context.Background(), Request{Text: "/last all"})
	assert.Equal(t, Reply{allWaitReply, "recent:all"}, out)

	r.Handle(context.Background(), Request{Text: "/last ns"})
	assert.Equal(t, []string{"lf", "all", "ns"}, b.recent)
}

func TestMore(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{}
	r := NewRouter(b, "lf", nil)

	out := r.Handle(context.Background(), Request{Text: "/more_lf_5012"})
	assert.Equal(t, Reply{FetchingReply, "detail"}, out)
	assert.Equal(t, [][2]string{{"lf", "5012"}}, b.detail)

	b.detailErr = release.ErrUnknownSource
	out = r.Handle(context.Background(), Request{Text: "/more_zz_1"})
	assert.Equal(t, Reply{FetchingReply, UnknownReply}, out)
}

func TestPing(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{}
	r := NewRouter(b, "lf", nil)

	assert.Equal(t, Reply{"Статус код: 200 http://lf"}, r.Handle(context.Background(), Request{Text: "/ping"}))
	assert.Equal(t, Reply{"Статус код: 200 http://ns"}, r.Handle(context.Background(), Request{Text: "/ping ns"}))

	b.pingErr = errors.New("dial tcp: refused")
	assert.Equal(t, Reply{"Сайт не отвечает"}, r.Handle(context.Background(), Request{Text: "/ping ns"}))
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()

	r := NewRouter(&fakeBackend{}, "lf", nil)
	assert.Equal(t, Reply{UnknownReply}, r.Handle(context.Background(), Request{Text: "как дела"}))
}
