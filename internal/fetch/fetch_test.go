package fetch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/skim/internal/skim"
)

func TestGetDirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/feed.xml", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte("<rss/>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := NewClient(Config{})
	require.NoError(t, err)
	assert.False(t, c.Relayed())

	resp, err := c.Get(context.Background(), srv.URL+"/old")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "application/rss+xml", resp.Header.Get("Content-Type"))
	assert.Equal(t, "<rss/>", string(resp.Body))
	assert.Equal(t, srv.URL+"/feed.xml", resp.URL)
}

func TestRelayOnlyOperations(t *testing.T) {
	c, err := NewClient(Config{})
	require.NoError(t, err)

	_, err = c.Buffer(context.Background(), "https://example.com", nil)
	assert.ErrorIs(t, err, ErrNotRelayed)
	_, err = c.Stash(context.Background(), []string{"https://example.com"})
	assert.ErrorIs(t, err, ErrNotRelayed)
	_, err = c.Unstash(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrNotRelayed)
}

func TestInvalidRelayRoot(t *testing.T) {
	_, err := NewClient(Config{Relay: true, RelayRoot: "not a url"})
	assert.Error(t, err)
}

func TestRelay(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/bounce", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/feed+json")
		w.Write([]byte(`{"title":"bounced ` + r.URL.Query().Get("url") + `"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/fulltext", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<p>article of " + r.URL.Query().Get("url") + "</p>"))
	}).Methods(http.MethodGet)
	router.HandleFunc("/buffer", func(w http.ResponseWriter, r *http.Request) {
		var req bufferReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"https://example.com/1"}, req.Except)

		json.NewEncoder(w).Encode(map[string]any{
			"feed_url": req.URL,
			"title":    "Relayed",
			"items": []map[string]any{
				{"url": "https://example.com/2", "title": "Two", "date_published": "2024-01-02T00:00:00Z"},
			},
		})
	}).Methods(http.MethodPost)
	srv := httptest.NewServer(router)
	defer srv.Close()

	c, err := NewClient(Config{Relay: true, RelayRoot: srv.URL})
	require.NoError(t, err)
	assert.True(t, c.Relayed())

	ctx := context.Background()

	resp, err := c.Get(ctx, "https://example.com/feed.json")
	require.NoError(t, err)
	assert.Equal(t, `{"title":"bounced https://example.com/feed.json"}`, string(resp.Body))
	assert.Equal(t, "https://example.com/feed.json", resp.URL)

	resp, err = c.FullText(ctx, "https://example.com/2")
	require.NoError(t, err)
	assert.Equal(t, "<p>article of https://example.com/2</p>", string(resp.Body))

	feed, err := c.Buffer(ctx, "https://example.com/feed.json", []string{"https://example.com/1"})
	require.NoError(t, err)
	assert.Equal(t, "Relayed", feed.Title)
	assert.Equal(t, "https://example.com/feed.json", feed.FeedURL)
	require.Len(t, feed.Items, 1)
	assert.Equal(t, "https://example.com/2", feed.Items[0].URL)
}

func TestRelayUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := NewClient(Config{Relay: true, RelayRoot: srv.URL})
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "https://example.com")
	assert.ErrorIs(t, err, skim.ErrUnauthorized)
	_, err = c.Buffer(context.Background(), "https://example.com", nil)
	assert.ErrorIs(t, err, skim.ErrUnauthorized)
	_, err = c.Stash(context.Background(), []string{"https://example.com"})
	assert.ErrorIs(t, err, skim.ErrUnauthorized)
}

func TestStashRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	router := mux.NewRouter()
	router.HandleFunc("/stash", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var req stashReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, req.Feeds)
		w.Write([]byte(`{"handle":"h-123"}`))
	}).Methods(http.MethodPost)
	router.HandleFunc("/stash/{handle}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "h-123", mux.Vars(r)["handle"])
		w.Write([]byte(`{"feeds":["https://a.example","https://b.example"]}`))
	}).Methods(http.MethodGet)
	srv := httptest.NewServer(router)
	defer srv.Close()

	c, err := NewClient(Config{Relay: true, RelayRoot: srv.URL})
	require.NoError(t, err)

	handle, err := c.Stash(context.Background(), []string{"https://a.example", "https://b.example"})
	require.NoError(t, err)
	assert.Equal(t, "h-123", handle)
	assert.EqualValues(t, 2, calls.Load())

	feeds, err := c.Unstash(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, feeds)
}
