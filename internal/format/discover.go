package format

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Candidate is a feed location found on an HTML page.
type Candidate struct {
	URL    string
	Format Format
}

// Discover scans an HTML page for feeds. Feed link elements in the head
// come first; with byName set, anchors pointing at well-known feed file
// names follow. Relative references resolve against base.
func Discover(page io.Reader, base *url.URL, byName bool) ([]Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(page)
	if err != nil {
		return nil, fmt.Errorf("error parsing html: %w", err)
	}

	var (
		found []Candidate
		seen  = map[string]bool{}
	)
	add := func(href string, f Format) {
		u, err := url.Parse(strings.TrimSpace(href))
		if err != nil || href == "" {
			return
		}
		if base != nil {
			u = base.ResolveReference(u)
		}
		abs := u.String()
		if seen[abs] || !IsAbsoluteURL(abs) {
			return
		}
		seen[abs] = true
		found = append(found, Candidate{URL: abs, Format: f})
	}

	doc.Find(`link[rel~="alternate"]`).Each(func(_ int, s *goquery.Selection) {
		f := FromStrictMIME(s.AttrOr("type", ""))
		if f == Unknown {
			return
		}
		add(s.AttrOr("href", ""), f)
	})

	if byName {
		doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			href := s.AttrOr("href", "")
			u, err := url.Parse(href)
			if err != nil {
				return
			}
			if f, ok := FromName(u.Path); ok {
				add(href, f)
			}
		})
	}

	return found, nil
}
