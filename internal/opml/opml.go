// Package opml reads and writes subscription lists in OPML.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jdholdren/skim/internal/skim"
)

type (
	document struct {
		XMLName xml.Name `xml:"opml"`
		Version string   `xml:"version,attr"`
		Head    head     `xml:"head"`
		Body    body     `xml:"body"`
	}

	head struct {
		Title       string `xml:"title,omitempty"`
		DateCreated string `xml:"dateCreated,omitempty"`
	}

	body struct {
		Outlines []outline `xml:"outline"`
	}

	// An outline is a feed when it has an xmlUrl, a folder otherwise.
	outline struct {
		Text     string    `xml:"text,attr"`
		Title    string    `xml:"title,attr,omitempty"`
		Type     string    `xml:"type,attr,omitempty"`
		XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
		HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
		Outlines []outline `xml:"outline,omitempty"`
	}
)

// Parse returns the feeds listed in an OPML document, in document order.
// Folders are flattened; a feed listed twice is returned once.
func Parse(r io.Reader) ([]skim.Feed, error) {
	var doc document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("error decoding opml: %w", err)
	}

	var (
		feeds []skim.Feed
		seen  = map[string]bool{}
		walk  func([]outline)
	)
	walk = func(outlines []outline) {
		for _, o := range outlines {
			u := strings.TrimSpace(o.XMLURL)
			if u == "" {
				walk(o.Outlines)
				continue
			}
			if seen[u] {
				continue
			}
			seen[u] = true

			title := o.Title
			if title == "" {
				title = o.Text
			}
			feeds = append(feeds, skim.Feed{
				FeedURL:     u,
				HomePageURL: o.HTMLURL,
				Title:       strings.TrimSpace(title),
			})
		}
	}
	walk(doc.Body.Outlines)

	return feeds, nil
}

// Export writes feeds as a flat OPML 2.0 document.
func Export(w io.Writer, title string, feeds []skim.Feed, created time.Time) error {
	doc := document{
		Version: "2.0",
		Head: head{
			Title:       title,
			DateCreated: created.Format(time.RFC1123Z),
		},
	}
	for _, f := range feeds {
		doc.Body.Outlines = append(doc.Body.Outlines, outline{
			Text:    f.Title,
			Title:   f.Title,
			Type:    "rss",
			XMLURL:  f.FeedURL,
			HTMLURL: f.HomePageURL,
		})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("error writing opml: %s", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("error encoding opml: %s", err)
	}

	return enc.Close()
}
