package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/skim/internal/migrations"
	"github.com/jdholdren/skim/internal/skim"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()

	dbx, err := Open(filepath.Join(t.TempDir(), "skim.db"))
	require.NoError(t, err)
	require.NoError(t, migrations.Run(dbx))

	r := New(dbx)
	t.Cleanup(func() { r.Close() })

	return r
}

func drain[T any](t *testing.T, c skim.Cursor[T]) []T {
	t.Helper()
	defer c.Close()

	var out []T
	for c.Next() {
		v, err := c.Value()
		require.NoError(t, err)
		out = append(out, v)
	}
	require.NoError(t, c.Err())

	return out
}

func TestFeedsRoundTrip(t *testing.T) {
	var (
		ctx  = context.Background()
		r    = newTestRepo(t)
		then = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	)

	id, err := r.AddFeed(ctx, skim.Feed{
		FeedURL:      "https://example.com/feed.xml",
		Title:        "Example",
		LastLoadTime: then,
	})
	require.NoError(t, err)

	got, err := r.Feed(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/feed.xml", got.FeedURL)
	assert.Equal(t, "Example", got.Title)
	assert.True(t, then.Equal(got.LastLoadTime))
	assert.True(t, got.LastFetchTime.IsZero())

	got.HomePageURL = "https://example.com"
	got.LastFetchTime = then.Add(time.Hour)
	require.NoError(t, r.PutFeed(ctx, got))

	byURL, err := r.FeedByURL(ctx, "https://example.com/feed.xml")
	require.NoError(t, err)
	assert.Equal(t, id, byURL.ID)
	assert.Equal(t, "https://example.com", byURL.HomePageURL)
	assert.True(t, then.Add(time.Hour).Equal(byURL.LastFetchTime))
}

func TestAddFeedConflict(t *testing.T) {
	var (
		ctx = context.Background()
		r   = newTestRepo(t)
	)

	_, err := r.AddFeed(ctx, skim.Feed{FeedURL: "https://example.com/feed.xml"})
	require.NoError(t, err)

	_, err = r.AddFeed(ctx, skim.Feed{FeedURL: "https://example.com/feed.xml"})
	assert.ErrorIs(t, err, skim.ErrConflict)
}

func TestFeedNotFound(t *testing.T) {
	var (
		ctx = context.Background()
		r   = newTestRepo(t)
	)

	_, err := r.Feed(ctx, 42)
	assert.ErrorIs(t, err, skim.ErrNotFound)
	_, err = r.FeedByURL(ctx, "https://nowhere.example")
	assert.ErrorIs(t, err, skim.ErrNotFound)
	assert.ErrorIs(t, r.DeleteFeed(ctx, 42), skim.ErrNotFound)
	assert.ErrorIs(t, r.PutFeed(ctx, skim.Feed{ID: 42, FeedURL: "x"}), skim.ErrNotFound)
}

func TestFeedsByLastLoad(t *testing.T) {
	var (
		ctx  = context.Background()
		r    = newTestRepo(t)
		base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	)

	for _, f := range []skim.Feed{
		{FeedURL: "https://b.example", LastLoadTime: base.Add(2 * time.Hour)},
		{FeedURL: "https://a.example", LastLoadTime: base.Add(time.Hour)},
		{FeedURL: "https://new.example"},
		{FeedURL: "https://c.example", LastLoadTime: base.Add(3 * time.Hour)},
	} {
		_, err := r.AddFeed(ctx, f)
		require.NoError(t, err)
	}

	c, err := r.FeedsByLastLoad(ctx)
	require.NoError(t, err)

	var urls []string
	for _, f := range drain(t, c) {
		urls = append(urls, f.FeedURL)
	}
	assert.Equal(t, []string{"https://new.example", "https://a.example", "https://b.example", "https://c.example"}, urls)
}

func TestItems(t *testing.T) {
	var (
		ctx       = context.Background()
		r         = newTestRepo(t)
		published = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	)

	var ids []int64
	for _, u := range []string{"https://example.com/1", "https://example.com/2", "https://example.com/3"} {
		id, err := r.AddItem(ctx, skim.Item{
			FeedID:        1,
			FeedTitle:     "Example",
			URL:           u,
			Title:         "Post",
			ContentHTML:   "<p>hi</p>",
			Tags:          skim.Tags{"go", "feeds"},
			DatePublished: published,
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	assert.Less(t, ids[0], ids[1])
	assert.Less(t, ids[1], ids[2])

	_, err := r.AddItem(ctx, skim.Item{FeedID: 1, URL: "https://example.com/2", DatePublished: published})
	assert.ErrorIs(t, err, skim.ErrConflict)

	item, err := r.Item(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, skim.Tags{"go", "feeds"}, item.Tags)
	assert.False(t, item.Read)
	assert.True(t, published.Equal(item.DatePublished))

	item.Read = true
	require.NoError(t, r.PutItem(ctx, item))
	item, err = r.Item(ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, item.Read)

	require.NoError(t, r.DeleteItem(ctx, ids[1]))
	assert.ErrorIs(t, r.DeleteItem(ctx, ids[1]), skim.ErrNotFound)

	c, err := r.ItemsNewestFirst(ctx)
	require.NoError(t, err)
	items := drain(t, c)
	require.Len(t, items, 2)
	assert.Equal(t, ids[2], items[0].ID)
	assert.Equal(t, ids[0], items[1].ID)
}

func TestClear(t *testing.T) {
	var (
		ctx = context.Background()
		r   = newTestRepo(t)
	)

	feedID, err := r.AddFeed(ctx, skim.Feed{FeedURL: "https://example.com/feed.xml"})
	require.NoError(t, err)
	itemID, err := r.AddItem(ctx, skim.Item{FeedID: feedID, URL: "https://example.com/1"})
	require.NoError(t, err)

	require.NoError(t, r.Clear(ctx))

	_, err = r.Feed(ctx, feedID)
	assert.ErrorIs(t, err, skim.ErrNotFound)
	_, err = r.Item(ctx, itemID)
	assert.ErrorIs(t, err, skim.ErrNotFound)
}

func TestClosed(t *testing.T) {
	var (
		ctx = context.Background()
		r   = newTestRepo(t)
	)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err := r.Feed(ctx, 1)
	assert.ErrorIs(t, err, skim.ErrClosed)
	_, err = r.AddItem(ctx, skim.Item{URL: "https://example.com/1"})
	assert.ErrorIs(t, err, skim.ErrClosed)
	_, err = r.ItemsNewestFirst(ctx)
	assert.ErrorIs(t, err, skim.ErrClosed)
	assert.ErrorIs(t, r.Clear(ctx), skim.ErrClosed)
}
