package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/release-watcher/internal/release"
)

// DefaultRatingBaseURL serves Kinopoisk ratings as <id>.xml documents.
const DefaultRatingBaseURL = "https://rating.kinopoisk.ru"

// RatingClient looks up Kinopoisk ratings by film id.
type RatingClient struct {
	fetcher release.Fetcher
	baseURL string
}

// NewRatingClient builds a client. An empty baseURL selects DefaultRatingBaseURL.
func NewRatingClient(fetcher release.Fetcher, baseURL string) *RatingClient {
	if baseURL == "" {
		baseURL = DefaultRatingBaseURL
	}
	return &RatingClient{fetcher: fetcher, baseURL: strings.TrimRight(baseURL, "/")}
}

// Rating returns the kp_rating value published for filmID.
func (c *RatingClient) Rating(ctx context.Context, filmID string) (string, error) {
	if filmID == "" {
		return "", fmt.Errorf("empty film id")
	}
	body, err := c.fetcher.Fetch(ctx, c.baseURL+"/"+filmID+".xml")
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse rating %s: %w", filmID, err)
	}
	node := doc.Find("kp_rating").First()
	if node.Length() == 0 {
		return "", fmt.Errorf("rating %s: no kp_rating element", filmID)
	}
	return strings.TrimSpace(node.Text()), nil
}

// kinopoiskFilmID takes the id from links like https://www.kinopoisk.ru/film/326/.
func kinopoiskFilmID(link string) string {
	parts := strings.Split(link, "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}
