// Package extract turns fetched CLIP documents into candidate entity records.
// Every function here is pure: one document in, records (or an error) out.
package extract

import (
	"bytes"
	"errors"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/clip-harvester/internal/clip"
)

// ErrNoData means the document is valid but carries nothing for this item.
var ErrNoData = errors.New("extract: no data")

// Document is a cleaned, queryable HTML tree.
type Document struct {
	*goquery.Document
	URL string
}

// Parse builds a Document from a page, dropping scripts, heads, images and meta tags.
func Parse(page clip.Page) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, clip.ParseError("extract.Parse", page.URL, "parse html: %w", err)
	}
	doc.Find("script, head, img, meta").Remove()
	return &Document{Document: doc, URL: page.URL}, nil
}

// Link is an anchor whose href matched an extraction pattern.
type Link struct {
	Text  string
	Href  string
	Match []string
}

// Links returns every anchor whose href matches exp, in document order.
func (d *Document) Links(exp *regexp.Regexp) []Link {
	var links []Link
	d.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.ReplaceAll(s.AttrOr("href", ""), "\n", "")
		match := exp.FindStringSubmatch(href)
		if match == nil {
			return
		}
		links = append(links, Link{Text: cleanText(s.Text()), Href: href, Match: match})
	})
	return links
}

// cleanText collapses runs of whitespace.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
