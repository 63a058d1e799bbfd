package format

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mmcdole/gofeed/atom"
)

type atomDoc struct {
	feed *atom.Feed
}

func parseAtom(r io.Reader) (atomDoc, error) {
	p := atom.Parser{}
	feed, err := p.Parse(r)
	if err != nil {
		return atomDoc{}, fmt.Errorf("error parsing atom: %w", err)
	}

	return atomDoc{feed: feed}, nil
}

func (d atomDoc) FeedMeta() Meta {
	return Meta{
		Title:       strings.TrimSpace(d.feed.Title),
		HomePageURL: alternateLink(d.feed.Links, false),
	}
}

func (d atomDoc) Entries() []Entry {
	entries := make([]Entry, 0, len(d.feed.Entries))
	for _, en := range d.feed.Entries {
		if en == nil {
			continue
		}
		entries = append(entries, atomEntry(en))
	}

	return entries
}

func atomEntry(en *atom.Entry) Entry {
	e := Entry{
		Title:     en.Title,
		URL:       alternateLink(en.Links, true),
		Published: atomPublished(en),
	}
	if en.Content != nil && strings.TrimSpace(en.Content.Value) != "" {
		e.ContentHTML = en.Content.Value
	} else {
		e.ContentHTML = wrapText(en.Summary)
	}
	for _, l := range en.Links {
		if l != nil && l.Rel == "enclosure" && strings.HasPrefix(l.Type, "image/") {
			e.ImageURL = l.Href
			break
		}
	}
	for _, c := range en.Categories {
		if c == nil || strings.TrimSpace(c.Term) == "" {
			continue
		}
		e.Tags = append(e.Tags, strings.TrimSpace(c.Term))
	}

	return e
}

// alternateLink prefers rel="alternate", which is also the meaning of a
// missing rel. With fallback set, the first link stands in when no
// alternate exists.
func alternateLink(links []*atom.Link, fallback bool) string {
	for _, l := range links {
		if l != nil && (l.Rel == "" || l.Rel == "alternate") {
			return strings.TrimSpace(l.Href)
		}
	}
	if fallback && len(links) > 0 && links[0] != nil {
		return strings.TrimSpace(links[0].Href)
	}

	return ""
}

func atomPublished(en *atom.Entry) time.Time {
	switch {
	case en.PublishedParsed != nil:
		return *en.PublishedParsed
	case en.Published != "":
		return parseDate(en.Published)
	case en.UpdatedParsed != nil:
		return *en.UpdatedParsed
	default:
		return parseDate(en.Updated)
	}
}
