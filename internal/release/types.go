// Package release defines the core types shared across the watcher subsystems.
package release

import "strings"

// Family names an extraction rule family. Every source and every identifier
// belongs to exactly one family.
type Family string

// Known rule families.
const (
	FamilyMegashara Family = "megashara"
	FamilyLordsfilm Family = "lordsfilm"
	FamilyNewstudio Family = "newstudio"
)

// Kind distinguishes films from series.
type Kind string

// Kind values.
const (
	KindFilm   Kind = "film"
	KindSeries Kind = "series"
)

// Label returns the user-facing name of the kind.
func (k Kind) Label() string {
	if k == KindSeries {
		return "Сериал"
	}
	return "Фильм"
}

// Shape tags the two Source variants.
type Shape int

// Source shapes.
const (
	ShapeFlat Shape = iota
	ShapeGrouped
)

func (s Shape) String() string {
	if s == ShapeGrouped {
		return "grouped"
	}
	return "flat"
}

// Group is one sub-address of a grouped source, tracked under its own key.
type Group struct {
	Key string
	URL string
}

// Source is a configured content origin. Flat sources use URL; grouped
// sources use Groups. The shape is fixed when configuration is loaded.
type Source struct {
	Key      string
	Code     string
	Title    string
	Family   Family
	Kind     Kind
	Shape    Shape
	URL      string
	Groups   []Group
	Limit    int
	Announce bool
}

// Pages returns every listing address of the source paired with the sub-key
// its identifiers are tracked under. Flat sources yield a single empty sub-key.
func (s Source) Pages() []Group {
	if s.Shape == ShapeGrouped {
		return append([]Group(nil), s.Groups...)
	}
	return []Group{{URL: s.URL}}
}

// Detail selects how much of an item page is extracted and rendered.
type Detail int

// Detail levels.
const (
	DetailLess Detail = iota
	DetailFull
)

// Placeholder replaces optional fields that could not be located.
const Placeholder = "-"

// Item is the normalized metadata extracted from one identifier's page.
type Item struct {
	URL         string
	Family      Family
	SourceKey   string
	Title       string
	Kind        Kind
	Photo       string
	Rating      string
	Genre       string
	Country     string
	Translate   string
	Video       string
	Audio       string
	Size        string
	Description string
	TrailerURL  string
	Torrent     string
	DetailRef   string
	// Gated marks items from sources where only recent postings are announced.
	Gated  bool
	Recent bool
}

// Announceable reports whether the item may be handed to the notifier.
func (i Item) Announceable() bool {
	return !i.Gated || i.Recent
}

// OrPlaceholder trims s and substitutes Placeholder when nothing is left.
func OrPlaceholder(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return Placeholder
	}
	return s
}
