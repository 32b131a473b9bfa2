package extract

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/release-watcher/internal/release"
)

// Rater looks up an external rating by film id.
type Rater interface {
	Rating(ctx context.Context, filmID string) (string, error)
}

// Megashara reads megashara-style catalogue pages.
type Megashara struct {
	rater  Rater
	logger *zap.Logger
}

// NewMegashara builds the rule. The rater may be nil, in which case ratings
// are left as placeholders.
func NewMegashara(rater Rater, logger *zap.Logger) *Megashara {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Megashara{rater: rater, logger: logger}
}

// Family implements Rule.
func (m *Megashara) Family() release.Family { return release.FamilyMegashara }

// Listing implements Rule.
func (m *Megashara) Listing(doc *goquery.Document, pageURL string, limit int) []string {
	block := doc.Find("#mid-side").First()
	if block.Length() == 0 {
		return nil
	}
	var links []string
	block.Find("div.name-block").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Find("a[href]").First().Attr("href"); ok {
			links = append(links, absolute(pageURL, href))
		}
	})
	return reverse(links, limit)
}

// Extract implements Rule.
func (m *Megashara) Extract(ctx context.Context, doc *goquery.Document, req Request) (release.Item, error) {
	block := doc.Find("#mid-side").First()
	if block.Length() == 0 || block.Find(".big-error").Length() > 0 {
		return release.Item{}, release.ErrItemNotFound
	}
	infoTable := block.Find(".back-bg3 .info-table").First().Remove()

	photo, _ := block.Find(".preview img").First().Attr("src")
	item := release.Item{
		Title:     strings.TrimSpace(block.Find("h1").First().Text()),
		Kind:      req.Source.Kind,
		Photo:     release.OrPlaceholder(photo),
		Genre:     labelValue(block, "Жанр:", 1),
		Country:   labelValue(block, "Студия/Страна:", 1),
		Rating:    release.Placeholder,
		DetailRef: detailRef(req.Source.Code, m.ItemID(req.URL)),
	}
	m.rate(ctx, block, &item)

	if req.Detail == release.DetailFull {
		item.Translate = labelValue(block, "Перевод:", 1)
		item.Video = labelValue(infoTable, "Видео:", 1)
		item.Audio = labelValue(infoTable, "Звук:", 1)
		item.Size = labelValue(infoTable, "Размер:", 1)
		item.Description = paragraph(block.Find(".back-bg3").First().Text())
	}
	return item, nil
}

// rate fills the Kinopoisk rating. Failures leave the placeholder in place.
func (m *Megashara) rate(ctx context.Context, block *goquery.Selection, item *release.Item) {
	link, ok := block.Find("img[alt='Кинопоиск']").First().Closest("a").Attr("href")
	if !ok || m.rater == nil {
		return
	}
	rating, err := m.rater.Rating(ctx, kinopoiskFilmID(link))
	if err != nil {
		m.logger.Debug("rating lookup failed", zap.String("link", link), zap.Error(err))
		return
	}
	item.Rating = release.OrPlaceholder(rating)
	item.TrailerURL = link
}

// ItemID returns the catalogue number: /movies/12345/ yields 12345.
func (m *Megashara) ItemID(itemURL string) string {
	u, err := url.Parse(itemURL)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) < 2 {
		return ""
	}
	return segments[1]
}

// DetailURL implements Rule.
func (m *Megashara) DetailURL(src release.Source, id string) string {
	if src.URL == "" || id == "" {
		return ""
	}
	return strings.TrimRight(src.URL, "/") + "/" + id + "/"
}
