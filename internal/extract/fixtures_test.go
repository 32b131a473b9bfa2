package extract

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/release-watcher/internal/release"
)

const megasharaListing = `<html><body><div id="mid-side">
<div class="name-block"><a href="http://mega.test/movies/103/">Newest</a></div>
<div class="name-block"><a href="http://mega.test/movies/102/">Middle</a></div>
<div class="name-block"><a href="http://mega.test/movies/101/">Oldest</a></div>
</div></body></html>`

const megasharaItem = `<html><body><div id="mid-side">
<h1>Дюна: Часть вторая</h1>
<div class="preview"><img src="http://mega.test/poster.jpg"></div>
<p><b>Жанр:</b> фантастика, драма<br><b>Студия/Страна:</b> США<br><b>Перевод:</b> Дублированный</p>
<a href="https://www.kinopoisk.ru/film/4540126/"><img alt="Кинопоиск" src="kp.png"></a>
<div class="back-bg3">Пол Атрейдес объединяется с фрименами.


Война начинается.
<table class="info-table"><tr><td><b>Видео:</b> 1920x1080</td></tr><tr><td><b>Звук:</b> AC3</td></tr><tr><td><b>Размер:</b> 4.1 GB</td></tr></table>
</div>
</div></body></html>`

const megasharaRemoved = `<html><body><div id="mid-side"><div class="big-error">Страница удалена</div></div></body></html>`

const lordsfilmListing = `<html><body><div id="dle-content">
<div class="short"><a href="/filmy/9002-bar.html">Bar</a></div>
<div class="short"><a href="/filmy/9001-foo.html">Foo</a></div>
</div></body></html>`

const lordsfilmItem = `<html><body><div class="fmain"><div class="fcols">
<div><h1>Оппенгеймер смотреть онлайн</h1></div>
<div class="fposter"><img src="/uploads/oppenheimer.jpg"></div>
<ul>
<li><span>Жанр:</span> <span>Фильмы, драма, история</span></li>
<li><span>Страна:</span> США</li>
<li><span>Перевод:</span> Многоголосый</li>
<li><span>Качество:</span> <span>HDRip</span></li>
</ul>
<div class="db-rates"><span class="r-kp">8.1</span><span class="r-imdb">8.4</span></div>
<div class="fdesc">История создания атомной бомбы.

</div>
</div></div></body></html>`

const newstudioListing = `<html><body>
<div class="topic-list"><a href="./viewtopic.php?t=30">Миллиарды 7x03</a></div>
<div class="topic-list"><a href="./viewtopic.php?t=29">Миллиарды 7x02</a></div>
<div class="topic-list"><a href="./viewtopic.php?t=28">Миллиарды 7x01</a></div>
</body></html>`

func newstudioItem(title, posted string) string {
	return `<html><body><div class="accordion-inner">
<span class="post-b">` + title + `</span>
<a title="Линк на это сообщение" href="#p1">` + posted + `</a>
</div><a class="genmed" href="./download.php?id=77">torrent</a></body></html>`
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type stubRater struct {
	rating string
	err    error
	asked  []string
}

func (r *stubRater) Rating(_ context.Context, filmID string) (string, error) {
	r.asked = append(r.asked, filmID)
	return r.rating, r.err
}

type mapFetcher map[string]string

func (m mapFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	body, ok := m[url]
	if !ok {
		return nil, &release.FetchError{URL: url, Status: 404, Err: release.ErrNotFound}
	}
	return []byte(body), nil
}

var errRating = errors.New("rating service down")

func testSources() []release.Source {
	return []release.Source{
		{Key: "mega_f", Code: "mf", Family: release.FamilyMegashara, Kind: release.KindFilm, URL: "http://mega.test/movies", Limit: 2, Announce: true},
		{Key: "mega_s", Code: "ms", Family: release.FamilyMegashara, Kind: release.KindSeries, URL: "http://mega.test/tv", Limit: 2},
		{Key: "lf", Code: "lf", Family: release.FamilyLordsfilm, Kind: release.KindFilm, URL: "http://lords.test/filmy/", Limit: 5, Announce: true},
		{
			Key: "ns", Code: "ns", Family: release.FamilyNewstudio, Kind: release.KindSeries, Shape: release.ShapeGrouped, Limit: 5, Announce: true,
			Groups: []release.Group{
				{Key: "444", URL: "http://ns.test/viewforum.php?f=444&sort=2"},
				{Key: "206", URL: "http://ns.test/viewforum.php?f=206&sort=2"},
			},
		},
	}
}
