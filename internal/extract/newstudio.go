package extract

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/release-watcher/internal/release"
)

// Newstudio reads forum-style release topics. Only recent postings are
// announced.
type Newstudio struct {
	clock release.Clock
}

// NewNewstudio builds the rule; clock decides which postings are recent.
func NewNewstudio(clock release.Clock) *Newstudio {
	return &Newstudio{clock: clock}
}

// Family implements Rule.
func (n *Newstudio) Family() release.Family { return release.FamilyNewstudio }

// Listing implements Rule.
func (n *Newstudio) Listing(doc *goquery.Document, pageURL string, limit int) []string {
	var links []string
	doc.Find("div.topic-list").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Find("a[href]").First().Attr("href"); ok {
			links = append(links, absolute(pageURL, href))
		}
	})
	return reverse(links, limit)
}

// Extract implements Rule.
func (n *Newstudio) Extract(_ context.Context, doc *goquery.Document, req Request) (release.Item, error) {
	block := doc.Find(".accordion-inner").First()
	if block.Length() == 0 {
		return release.Item{}, release.ErrItemNotFound
	}
	posted := block.Find("a[title='Линк на это сообщение']").First().Text()

	item := release.Item{
		Title:   strings.TrimSpace(block.Find(".post-b").First().Text()),
		Kind:    req.Source.Kind,
		Gated:   true,
		Recent:  isRecent(posted, n.clock.Now()),
		Torrent: release.Placeholder,
	}
	torrent := doc.Find(".seedmed").First()
	if torrent.Length() == 0 {
		torrent = doc.Find(".genmed").First()
	}
	if href, ok := torrent.Attr("href"); ok && strings.TrimSpace(href) != "" {
		item.Torrent = absolute(req.URL, href)
	}
	return item, nil
}

// ItemID returns the topic number from viewtopic.php?t=N.
func (n *Newstudio) ItemID(itemURL string) string {
	u, err := url.Parse(itemURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("t")
}

// DetailURL implements Rule.
func (n *Newstudio) DetailURL(src release.Source, id string) string {
	pages := src.Pages()
	if id == "" || len(pages) == 0 {
		return ""
	}
	u, err := url.Parse(pages[0].URL)
	if err != nil || u.Host == "" {
		return ""
	}
	u.Path = "/viewtopic.php"
	u.RawQuery = url.Values{"t": {id}}.Encode()
	return u.String()
}
