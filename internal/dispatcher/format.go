package dispatcher

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/release-watcher/internal/release"
)

// Filter suppresses single-item announcements by genre and country.
type Filter struct {
	ExcludeGenres  []string
	AllowCountries []string
}

// DefaultFilter returns the stock genre exclude-list and country allow-list.
func DefaultFilter() Filter {
	return Filter{
		ExcludeGenres:  []string{"ТВ-Шоу", "Мультфильм", "Документальный", "Anime", "Спорт", "КВН"},
		AllowCountries: []string{"США", "Россия", "Германия", "Великобритания", "Испания", "Франция"},
	}
}

// Allows reports whether item passes both lists. Matching is by substring,
// so "США, Канада" satisfies an allow-list containing "США".
func (f Filter) Allows(item release.Item) bool {
	for _, genre := range f.ExcludeGenres {
		if genre != "" && strings.Contains(item.Genre, genre) {
			return false
		}
	}
	if len(f.AllowCountries) == 0 {
		return true
	}
	for _, country := range f.AllowCountries {
		if country != "" && strings.Contains(item.Country, country) {
			return true
		}
	}
	return false
}

// Formatter renders items as Telegram HTML messages.
type Formatter struct {
	filter       Filter
	titleMarkers []string
}

// NewFormatter builds a Formatter. Gated items whose title contains any of
// titleMarkers are never rendered.
func NewFormatter(filter Filter, titleMarkers []string) *Formatter {
	return &Formatter{filter: filter, titleMarkers: titleMarkers}
}

// Render returns the message for item, or "" when it must not be shown.
// single marks a message about one item rather than part of a listing.
func (f *Formatter) Render(item release.Item, detail release.Detail, single bool) string {
	switch {
	case item.Gated:
		return f.gated(item, single)
	case detail == release.DetailFull:
		return full(item)
	default:
		return f.short(item, single)
	}
}

func (f *Formatter) short(item release.Item, single bool) string {
	if single && !f.filter.Allows(item) {
		return ""
	}
	var b strings.Builder
	if single {
		fmt.Fprintf(&b, "<b>%s</b><a href='%s'>.</a>\n", item.Kind.Label(), item.Photo)
		fmt.Fprintf(&b, "<a href='%s'>%s</a>\n", item.URL, item.Title)
	} else {
		b.WriteString(item.Title + "\n")
	}
	fmt.Fprintf(&b, "Рейтинг: %s (%s)\n\n", item.Rating, item.DetailRef)
	return b.String()
}

func full(item release.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b><a href='%s'>.</a>\n", item.Kind.Label(), item.Photo)
	fmt.Fprintf(&b, "<a href='%s'>%s</a>\n", item.URL, item.Title)
	fmt.Fprintf(&b, "Жанр: %s\n", release.OrPlaceholder(item.Genre))
	fmt.Fprintf(&b, "Страна: %s\n", release.OrPlaceholder(item.Country))
	fmt.Fprintf(&b, "Перевод: %s\n", release.OrPlaceholder(item.Translate))
	fmt.Fprintf(&b, "Видео: %s\n", release.OrPlaceholder(item.Video))
	if item.Audio != "" {
		fmt.Fprintf(&b, "Аудио: %s\n", item.Audio)
	}
	if item.Size != "" {
		fmt.Fprintf(&b, "Размер: %s\n", item.Size)
	}
	fmt.Fprintf(&b, "Рейтинг: %s\n", release.OrPlaceholder(item.Rating))
	trailer := release.Placeholder
	if item.TrailerURL != "" {
		trailer = fmt.Sprintf("<a href='%s'>перейти</a>", item.TrailerURL)
	}
	fmt.Fprintf(&b, "Трейлер: %s\n\n", trailer)
	b.WriteString(item.Description + "\n")
	return b.String()
}

func (f *Formatter) gated(item release.Item, single bool) string {
	if !item.Recent {
		return ""
	}
	for _, marker := range f.titleMarkers {
		if marker != "" && strings.Contains(item.Title, marker) {
			return ""
		}
	}
	var b strings.Builder
	if single {
		b.WriteString("<b> ‼ РЕЛИЗ ‼</b>\n")
	}
	fmt.Fprintf(&b, "%s <a href='%s'> Торрент \U0001F4E5</a>\n\n", item.Title, release.OrPlaceholder(item.Torrent))
	return b.String()
}
