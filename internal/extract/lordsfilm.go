package extract

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/release-watcher/internal/release"
)

const titleSuffix = "смотреть онлайн"

// Lordsfilm reads lordsfilm-style online cinema pages.
type Lordsfilm struct{}

// NewLordsfilm builds the rule.
func NewLordsfilm() *Lordsfilm { return &Lordsfilm{} }

// Family implements Rule.
func (l *Lordsfilm) Family() release.Family { return release.FamilyLordsfilm }

// Listing implements Rule.
func (l *Lordsfilm) Listing(doc *goquery.Document, pageURL string, limit int) []string {
	block := doc.Find("#dle-content").First()
	if block.Length() == 0 {
		return nil
	}
	var links []string
	block.Find("div.short").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Find("a[href]").First().Attr("href"); ok {
			links = append(links, absolute(pageURL, href))
		}
	})
	return reverse(links, limit)
}

// Extract implements Rule.
func (l *Lordsfilm) Extract(_ context.Context, doc *goquery.Document, req Request) (release.Item, error) {
	if doc.Find(".fmain").Length() == 0 {
		return release.Item{}, release.ErrItemNotFound
	}
	block := doc.Find(".fcols").First()

	title := strings.TrimSpace(block.Find("div h1").First().Text())
	title = strings.TrimSpace(strings.TrimSuffix(title, titleSuffix))

	photo, _ := block.Find(".fposter img").First().Attr("src")
	if photo != "" {
		photo = absolute(req.URL, photo)
	}

	kind, genre := splitGenreLine(labelValue(block, "Жанр:", 2))
	item := release.Item{
		Title:     title,
		Kind:      kind,
		Photo:     release.OrPlaceholder(photo),
		Genre:     genre,
		Country:   labelValue(block, "Страна:", 1),
		Rating:    fmt.Sprintf("KP %s, IMDB %s", textOr(block, ".db-rates .r-kp"), textOr(block, ".db-rates .r-imdb")),
		DetailRef: detailRef(req.Source.Code, l.ItemID(req.URL)),
	}

	if req.Detail == release.DetailFull {
		item.Translate = labelValue(block, "Перевод:", 1)
		item.Video = labelValue(block, "Качество:", 2)
		item.Description = paragraph(block.Find(".fdesc").First().Text())
	}
	return item, nil
}

// splitGenreLine splits "Фильмы, драма, комедия" into the kind and the genres.
func splitGenreLine(line string) (release.Kind, string) {
	if line == release.Placeholder {
		return release.KindFilm, release.Placeholder
	}
	head, genre, _ := strings.Cut(line, ",")
	kind := release.KindFilm
	if strings.HasPrefix(strings.TrimSpace(head), "Сериал") {
		kind = release.KindSeries
	}
	return kind, release.OrPlaceholder(genre)
}

func textOr(sel *goquery.Selection, selector string) string {
	node := sel.Find(selector).First()
	if node.Length() == 0 {
		return release.Placeholder
	}
	return release.OrPlaceholder(node.Text())
}

// ItemID returns the numeric prefix of the last path segment:
// /filmy/4521-dune.html yields 4521.
func (l *Lordsfilm) ItemID(itemURL string) string {
	u, err := url.Parse(itemURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." {
		return ""
	}
	id, _, _ := strings.Cut(base, "-")
	return id
}

// DetailURL implements Rule. Slugs cannot be derived from the id alone, so
// callers look the address up among known identifiers instead.
func (l *Lordsfilm) DetailURL(release.Source, string) string { return "" }
