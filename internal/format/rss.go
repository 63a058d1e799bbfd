package format

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mmcdole/gofeed/rss"
)

type rssDoc struct {
	feed *rss.Feed
}

func parseRSS(r io.Reader) (rssDoc, error) {
	p := rss.Parser{}
	feed, err := p.Parse(r)
	if err != nil {
		return rssDoc{}, fmt.Errorf("error parsing rss: %w", err)
	}

	return rssDoc{feed: feed}, nil
}

func (d rssDoc) FeedMeta() Meta {
	return Meta{
		Title:       strings.TrimSpace(d.feed.Title),
		HomePageURL: strings.TrimSpace(d.feed.Link),
	}
}

func (d rssDoc) Entries() []Entry {
	entries := make([]Entry, 0, len(d.feed.Items))
	for _, it := range d.feed.Items {
		if it == nil {
			continue
		}
		entries = append(entries, rssEntry(it))
	}

	return entries
}

func rssEntry(it *rss.Item) Entry {
	e := Entry{
		Title:       it.Title,
		URL:         strings.TrimSpace(it.Link),
		ContentHTML: it.Content,
		Published:   rssPublished(it),
	}
	if e.URL == "" && it.GUID != nil && it.GUID.IsPermalink != "false" && IsAbsoluteURL(it.GUID.Value) {
		e.URL = strings.TrimSpace(it.GUID.Value)
	}
	if strings.TrimSpace(e.ContentHTML) == "" {
		e.ContentHTML = it.Description
	}
	if enc := it.Enclosure; enc != nil && strings.HasPrefix(enc.Type, "image/") {
		e.ImageURL = enc.URL
	}
	for _, c := range it.Categories {
		if c == nil || strings.TrimSpace(c.Value) == "" {
			continue
		}
		e.Tags = append(e.Tags, strings.TrimSpace(c.Value))
	}

	return e
}

func rssPublished(it *rss.Item) time.Time {
	if it.PubDateParsed != nil {
		return *it.PubDateParsed
	}
	if t := parseDate(it.PubDate); !t.IsZero() {
		return t
	}
	if dc := it.DublinCoreExt; dc != nil && len(dc.Date) > 0 {
		return parseDate(dc.Date[0])
	}

	return time.Time{}
}
