package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	"github.com/jdholdren/skim/internal/fetch"
	"github.com/jdholdren/skim/internal/format"
	"github.com/jdholdren/skim/internal/logger"
	"github.com/jdholdren/skim/internal/sanitize"
	"github.com/jdholdren/skim/internal/skim"
)

// Fetcher is the network capability the loader runs on.
type Fetcher interface {
	Get(ctx context.Context, target string) (fetch.Response, error)
	FullText(ctx context.Context, target string) (fetch.Response, error)
	Buffer(ctx context.Context, target string, except []string) (format.JSONFeed, error)
	Stash(ctx context.Context, feeds []string) (string, error)
	Unstash(ctx context.Context, handle string) ([]string, error)
	Relayed() bool
}

// Loader fetches and normalizes feeds. It holds no engine state; what it
// returns is merged by the engine.
type Loader struct {
	client   Fetcher
	settings skim.Settings
	now      func() time.Time
}

// loadResult is the outcome of one fetch. Feed.Error is set when the fetch
// failed; Unauthorized when the relay refused it.
type loadResult struct {
	Feed         skim.Feed
	Items        []skim.Item
	Unauthorized bool
}

func NewLoader(client Fetcher, settings skim.Settings, now func() time.Time) *Loader {
	return &Loader{
		client:   client,
		settings: settings,
		now:      now,
	}
}

// Load fetches a subscribed feed, leaving out the items whose URL is in
// except. Items come back oldest first.
func (l *Loader) Load(ctx context.Context, feed skim.Feed, except []string) loadResult {
	ctx = logger.Ctx(ctx, slog.String("feed_url", feed.FeedURL))
	return l.load(ctx, feed, except, false)
}

// Subscribe probes a URL given by the user, which may be a feed or a page
// pointing at one, and returns the new feed with its first items.
func (l *Loader) Subscribe(ctx context.Context, feedURL string) loadResult {
	ctx = logger.Ctx(ctx, slog.String("feed_url", feedURL))
	return l.load(ctx, skim.Feed{FeedURL: feedURL}, nil, true)
}

func (l *Loader) load(ctx context.Context, feed skim.Feed, except []string, probe bool) loadResult {
	var (
		doc     format.Document
		relayed = l.client.Relayed()
		err     error
	)
	if relayed {
		doc, feed, err = l.buffer(ctx, feed, except)
	} else {
		doc, feed, err = l.direct(ctx, feed, probe)
	}
	if errors.Is(err, skim.ErrUnauthorized) {
		slog.WarnContext(ctx, "relay refused fetch")
		return loadResult{Feed: feed, Unauthorized: true}
	}
	if err != nil {
		slog.ErrorContext(ctx, "error loading feed", "error", err)
		feed.Error = fmt.Sprintf("Failed to load %s: %s", feed.FeedURL, err)
		if feed.Title == "" {
			feed.Title = feed.FeedURL
		}
		return loadResult{Feed: feed}
	}

	meta := doc.FeedMeta()
	if title := sanitize.Text(meta.Title); title != "" {
		feed.Title = title
	}
	if feed.Title == "" {
		feed.Title = feed.FeedURL
	}
	if meta.HomePageURL != "" {
		feed.HomePageURL = meta.HomePageURL
	}

	items := l.processItems(feed, doc.Entries(), except)
	slog.InfoContext(ctx, "loaded feed", "items", len(items))

	return loadResult{Feed: feed, Items: items}
}

// buffer lets the relay fetch and normalize the feed.
func (l *Loader) buffer(ctx context.Context, feed skim.Feed, except []string) (format.Document, skim.Feed, error) {
	env, err := l.client.Buffer(ctx, feed.FeedURL, except)
	if err != nil {
		return nil, feed, err
	}
	if env.Error != "" {
		return nil, feed, errors.New(env.Error)
	}
	if env.FeedURL != "" && feed.ID == 0 {
		feed.FeedURL = env.FeedURL
	}

	return env, feed, nil
}

// direct fetches the feed itself. An HTML page is scanned for feed links,
// and on a subscribe probe also for anchors to well-known feed files.
func (l *Loader) direct(ctx context.Context, feed skim.Feed, probe bool) (format.Document, skim.Feed, error) {
	resp, err := l.get(ctx, feed.FeedURL)
	if err != nil {
		return nil, feed, err
	}
	if probe {
		feed.FeedURL = resp.URL
	}

	contentType := resp.Header.Get("Content-Type")
	f := format.Detect(contentType, resp.Body)
	if f == format.Unknown && format.IsHTML(contentType) {
		base, _ := url.Parse(resp.URL)
		candidates, err := format.Discover(bytes.NewReader(resp.Body), base, probe)
		if err != nil {
			return nil, feed, err
		}
		if len(candidates) == 0 {
			return nil, feed, errors.New("no feed found on page")
		}

		cand := candidates[0]
		slog.DebugContext(ctx, "discovered feed", "candidate", cand.URL)
		if resp, err = l.get(ctx, cand.URL); err != nil {
			return nil, feed, err
		}
		if probe {
			feed.FeedURL = resp.URL
		}
		if f = format.Detect(resp.Header.Get("Content-Type"), resp.Body); f == format.Unknown {
			f = cand.Format
		}
	}
	if f == format.Unknown {
		return nil, feed, format.ErrUnknownFormat
	}

	doc, err := f.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, feed, err
	}

	return doc, feed, nil
}

func (l *Loader) get(ctx context.Context, target string) (fetch.Response, error) {
	resp, err := l.client.Get(ctx, target)
	if err != nil {
		return fetch.Response{}, err
	}
	if resp.Status != http.StatusOK {
		return fetch.Response{}, fmt.Errorf("HTTP status %d", resp.Status)
	}

	return resp, nil
}

// processItems turns raw entries into items. Only the first TruncateItems
// entries are looked at; entries without an absolute URL or a date, dated
// in the future, older than MaxKeptPeriod or listed in except are dropped.
func (l *Loader) processItems(feed skim.Feed, entries []format.Entry, except []string) []skim.Item {
	if len(entries) > l.settings.TruncateItems {
		entries = entries[:l.settings.TruncateItems]
	}

	var (
		now   = l.now()
		skip  = map[string]bool{}
		items []skim.Item
	)
	for _, u := range except {
		skip[u] = true
	}
	for _, e := range entries {
		switch {
		case !format.IsAbsoluteURL(e.URL), e.Published.IsZero():
			continue
		case e.Published.After(now):
			continue
		case now.Sub(e.Published) > l.settings.MaxKeptPeriod:
			continue
		case skip[e.URL]:
			continue
		}

		skip[e.URL] = true
		items = append(items, skim.Item{
			FeedID:        feed.ID,
			FeedTitle:     feed.Title,
			URL:           e.URL,
			Title:         sanitize.Text(e.Title),
			ContentHTML:   sanitize.HTML(e.ContentHTML),
			ImageURL:      e.ImageURL,
			Tags:          e.Tags,
			DatePublished: e.Published,
		})
	}

	// Oldest first so ids grow with recency.
	slices.SortStableFunc(items, func(a, b skim.Item) int {
		return a.DatePublished.Compare(b.DatePublished)
	})

	return items
}

// FullText fetches the readable article behind an item.
func (l *Loader) FullText(ctx context.Context, item skim.Item) (string, error) {
	resp, err := l.client.FullText(ctx, item.URL)
	if err != nil {
		return "", err
	}
	if resp.Status != http.StatusOK {
		return "", fmt.Errorf("HTTP status %d", resp.Status)
	}
	if l.client.Relayed() {
		return string(resp.Body), nil
	}

	pageURL, err := url.Parse(resp.URL)
	if err != nil {
		return "", fmt.Errorf("error with the item's url: %s", err)
	}
	parser := readability.NewParser()
	article, err := parser.Parse(bytes.NewReader(resp.Body), pageURL)
	if err != nil {
		return "", fmt.Errorf("error extracting article: %s", err)
	}
	if strings.TrimSpace(article.Content) == "" {
		return "", errors.New("no article found")
	}

	return sanitize.HTML(article.Content), nil
}

func (l *Loader) Stash(ctx context.Context, feeds []string) (string, error) {
	return l.client.Stash(ctx, feeds)
}

func (l *Loader) Unstash(ctx context.Context, handle string) ([]string, error) {
	return l.client.Unstash(ctx, handle)
}
