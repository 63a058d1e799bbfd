package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/skim/internal/fetch"
	"github.com/jdholdren/skim/internal/format"
	"github.com/jdholdren/skim/internal/skim"
)

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	return NewLoader(directClient(t), skim.DefaultSettings(), func() time.Time { return epoch })
}

func TestProcessItemsFilters(t *testing.T) {
	l := newTestLoader(t)
	entries := []format.Entry{
		{URL: "https://example.com/new", Title: "<b>New</b>", ContentHTML: `<p onclick="x()">new</p>`, Published: epoch.Add(-time.Hour)},
		{URL: "https://example.com/old", Published: epoch.Add(-time.Hour).Add(-l.settings.MaxKeptPeriod)},
		{URL: "https://example.com/future", Published: epoch.Add(time.Hour)},
		{URL: "https://example.com/undated"},
		{URL: "/relative", Published: epoch.Add(-time.Hour)},
		{URL: "https://example.com/seen", Published: epoch.Add(-time.Hour)},
		{URL: "https://example.com/older", Published: epoch.Add(-2 * time.Hour)},
		{URL: "https://example.com/new", Published: epoch.Add(-time.Hour)},
	}

	items := l.processItems(skim.Feed{ID: 3, Title: "Feed"}, entries, []string{"https://example.com/seen"})
	require.Len(t, items, 2)
	assert.Equal(t, "https://example.com/older", items[0].URL)
	assert.Equal(t, "https://example.com/new", items[1].URL)
	assert.Equal(t, "New", items[1].Title)
	assert.Equal(t, "<p>new</p>", items[1].ContentHTML)
	assert.EqualValues(t, 3, items[1].FeedID)
}

func TestProcessItemsTruncates(t *testing.T) {
	l := newTestLoader(t)
	l.settings.TruncateItems = 2

	var entries []format.Entry
	for i := 0; i < 5; i++ {
		entries = append(entries, format.Entry{
			URL:       fmt.Sprintf("https://example.com/%d", i),
			Published: epoch.Add(-time.Duration(i+1) * time.Minute),
		})
	}

	items := l.processItems(skim.Feed{}, entries, nil)
	require.Len(t, items, 2)
	assert.Equal(t, "https://example.com/1", items[0].URL)
}

const rssDoc = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<title>RSS &amp; Co</title><link>https://example.com/</link>
<item><title>First</title><link>https://example.com/1</link><description>&lt;p&gt;one&lt;/p&gt;</description><pubDate>Sat, 01 Jun 2024 10:00:00 GMT</pubDate></item>
</channel></rss>`

const atomDoc = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
<title>Atom</title><link href="https://example.org/"/>
<entry><title>Entry</title><link href="https://example.org/1"/><updated>2024-06-01T09:00:00Z</updated><summary>short</summary></entry>
</feed>`

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		title       string
		url         string
	}{
		{name: "rss", contentType: "application/rss+xml", body: rssDoc, title: "RSS & Co", url: "https://example.com/1"},
		{name: "generic xml", contentType: "text/xml", body: atomDoc, title: "Atom", url: "https://example.org/1"},
		{name: "no content type", body: rssDoc, title: "RSS & Co", url: "https://example.com/1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.contentType != "" {
					w.Header().Set("Content-Type", tt.contentType)
				}
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			res := newTestLoader(t).Load(context.Background(), skim.Feed{ID: 1, FeedURL: srv.URL}, nil)
			require.Empty(t, res.Feed.Error)
			assert.Equal(t, tt.title, res.Feed.Title)
			require.Len(t, res.Items, 1)
			assert.Equal(t, tt.url, res.Items[0].URL)
		})
	}
}

func TestLoadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "not a feed")
	}))
	defer srv.Close()

	res := newTestLoader(t).Load(context.Background(), skim.Feed{ID: 1, FeedURL: srv.URL, Title: "Kept"}, nil)
	assert.Contains(t, res.Feed.Error, "Failed to load "+srv.URL)
	assert.Equal(t, "Kept", res.Feed.Title)
	assert.Empty(t, res.Items)
	assert.False(t, res.Unauthorized)

	// A new feed that fails is still named.
	res = newTestLoader(t).Subscribe(context.Background(), srv.URL)
	assert.NotEmpty(t, res.Feed.Error)
	assert.Equal(t, srv.URL, res.Feed.Title)
}

func TestLoadRelayedSanitizes(t *testing.T) {
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/buffer", r.URL.Path)
		json.NewEncoder(w).Encode(format.JSONFeed{
			Title: "Relayed",
			Items: []format.JSONItem{{
				URL:           "https://example.com/a",
				Title:         "<i>A</i>",
				ContentHTML:   `<p>a</p><script>alert(1)</script><img src="javascript:x()">`,
				DatePublished: epoch.Add(-time.Hour).Format(time.RFC3339),
			}},
		})
	}))
	defer relay.Close()

	client, err := fetch.NewClient(fetch.Config{Relay: true, RelayRoot: relay.URL})
	require.NoError(t, err)

	l := NewLoader(client, skim.DefaultSettings(), func() time.Time { return epoch })
	res := l.Load(context.Background(), skim.Feed{ID: 1, FeedURL: "https://example.com/feed"}, nil)
	require.Empty(t, res.Feed.Error)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "A", res.Items[0].Title)
	assert.NotContains(t, res.Items[0].ContentHTML, "script")
	assert.NotContains(t, res.Items[0].ContentHTML, "javascript")
	assert.Contains(t, res.Items[0].ContentHTML, "<p>a</p>")
}

func TestSubscribeByWellKnownName(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/rss.xml">Subscribe</a></body></html>`)
	})
	mux.HandleFunc("/rss.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssDoc)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	l := newTestLoader(t)
	res := l.Subscribe(context.Background(), srv.URL)
	require.Empty(t, res.Feed.Error)
	assert.Equal(t, srv.URL+"/rss.xml", res.Feed.FeedURL)
	assert.Len(t, res.Items, 1)

	// Scheduled loads only follow link elements.
	res = l.Load(context.Background(), skim.Feed{ID: 1, FeedURL: srv.URL}, nil)
	assert.NotEmpty(t, res.Feed.Error)
}

func TestFullTextExtractsArticle(t *testing.T) {
	paragraph := "<p>The first paragraph of the article has enough words in it to look like real prose, with commas, to the extractor.</p>\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><head><title>Post</title></head><body>
<nav>menu</nav>
<article><h1>Post</h1>
%s<p>A last paragraph closes the article.<script>alert(1)</script></p>
</article></body></html>`, strings.Repeat(paragraph, 8))
	}))
	defer srv.Close()

	text, err := newTestLoader(t).FullText(context.Background(), skim.Item{URL: srv.URL + "/post"})
	require.NoError(t, err)
	assert.Contains(t, text, "first paragraph")
	assert.NotContains(t, text, "<script>")
}
