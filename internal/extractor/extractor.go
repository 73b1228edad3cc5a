// Package extractor turns raw HTML into the structured signal the analysis step consumes.
// Extraction is best-effort: malformed markup degrades individual fields to their
// empty defaults and never fails.
package extractor

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// NoTitle is reported when a document has no usable <title>.
const NoTitle = "No title found"

// Signal is the structured view of one crawled page.
type Signal struct {
	Title           string   `json:"title"`
	MetaDescription string   `json:"meta_description"`
	Headings        []string `json:"headings"`
	BodyText        string   `json:"body_text"`
	Links           []string `json:"links"`
	WordCount       int      `json:"word_count"`
}

// Extract parses raw HTML fetched from sourceURL.
func Extract(raw, sourceURL string) Signal {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return Signal{Title: NoTitle, Headings: []string{}, Links: []string{}}
	}
	return Signal{
		Title:           title(doc),
		MetaDescription: metaDescription(doc),
		Headings:        headings(doc),
		BodyText:        bodyText(doc),
		Links:           links(doc, sourceURL),
		WordCount:       wordCount(doc),
	}
}

func title(doc *goquery.Document) string {
	sel := doc.Find("title").First()
	if sel.Length() == 0 {
		return NoTitle
	}
	t := collapse(sel.Text())
	if t == "" {
		return NoTitle
	}
	return t
}

func metaDescription(doc *goquery.Document) string {
	var desc string
	doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		name, _ := s.Attr("name")
		if !strings.EqualFold(strings.TrimSpace(name), "description") {
			return true
		}
		content, _ := s.Attr("content")
		desc = strings.TrimSpace(content)
		return false
	})
	return desc
}

func headings(doc *goquery.Document) []string {
	out := []string{}
	doc.Find("h1, h2, h3").Each(func(_ int, s *goquery.Selection) {
		if text := collapse(s.Text()); text != "" {
			out = append(out, text)
		}
	})
	return out
}

func bodyText(doc *goquery.Document) string {
	return collapse(visibleText(doc.Find("body").First()))
}

func wordCount(doc *goquery.Document) int {
	return len(strings.Fields(visibleText(doc.Selection)))
}

// visibleText joins every text node outside script and style blocks with spaces.
func visibleText(sel *goquery.Selection) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		writeText(&b, n)
	}
	return b.String()
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		b.WriteByte(' ')
		return
	case html.ElementNode:
		if n.Data == "script" || n.Data == "style" {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
}

// links resolves anchors against the source's scheme and host, keeping same-host
// targets in first-seen order. Relative paths are treated as host-root-relative.
func links(doc *goquery.Document, sourceURL string) []string {
	out := []string{}
	base, err := url.Parse(sourceURL)
	if err != nil || base.Host == "" {
		return out
	}
	origin := base.Scheme + "://" + base.Host
	seen := make(map[string]struct{})

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		abs := resolve(origin, href)
		u, err := url.Parse(abs)
		if err != nil || !strings.EqualFold(u.Hostname(), base.Hostname()) {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	})
	return out
}

func resolve(origin, href string) string {
	if u, err := url.Parse(href); err == nil && u.Scheme != "" {
		return href
	}
	if strings.HasPrefix(href, "/") {
		return origin + href
	}
	return origin + "/" + strings.TrimLeft(href, "/")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
