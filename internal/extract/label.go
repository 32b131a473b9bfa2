package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/release-watcher/internal/release"
)

var blankLines = regexp.MustCompile(`\n+`)

// findLabel returns the first text node under sel whose trimmed content
// equals label.
func findLabel(sel *goquery.Selection, label string) *html.Node {
	for _, root := range sel.Nodes {
		if n := findText(root, label); n != nil {
			return n
		}
	}
	return nil
}

func findText(n *html.Node, label string) *html.Node {
	if n.Type == html.TextNode && strings.TrimSpace(n.Data) == label {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findText(c, label); found != nil {
			return found
		}
	}
	return nil
}

// nextInOrder returns the node parsed right after n.
func nextInOrder(n *html.Node) *html.Node {
	if n.FirstChild != nil {
		return n.FirstChild
	}
	for ; n != nil; n = n.Parent {
		if n.NextSibling != nil {
			return n.NextSibling
		}
	}
	return nil
}

// labelValue reads the text of the node steps positions after the label in
// document order. Missing labels yield release.Placeholder.
func labelValue(sel *goquery.Selection, label string, steps int) string {
	n := findLabel(sel, label)
	for i := 0; i < steps && n != nil; i++ {
		n = nextInOrder(n)
	}
	if n == nil {
		return release.Placeholder
	}
	return release.OrPlaceholder(nodeText(n))
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// paragraph collapses runs of newlines and trims the result.
func paragraph(s string) string {
	return strings.TrimSpace(blankLines.ReplaceAllString(s, "\n"))
}
