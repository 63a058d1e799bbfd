// Package skim holds the types shared by the feed reading engine: feeds,
// items, the store contract and the notifications the engine emits.
package skim

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrConflict = errors.New("resource already exists")
	ErrNotFound = errors.New("resource not found")
	// ErrClosed is returned once the store handle or the engine has shut down.
	ErrClosed = errors.New("store is closed")
	// ErrUnauthorized is returned when the relay refuses a request.
	ErrUnauthorized = errors.New("relay refused the request")
)

// TagError marks a synthetic placeholder item.
const TagError = "_error"

type (
	// Feed is a subscription to a remote JSON Feed, RSS or Atom source.
	Feed struct {
		ID          int64  `db:"id" json:"id"`
		FeedURL     string `db:"feed_url" json:"feed_url"`
		HomePageURL string `db:"home_page_url" json:"home_page_url"`
		Title       string `db:"title" json:"title"`

		// Last fetch attempt, successful or not.
		LastLoadTime time.Time `db:"last_load_time" json:"last_load_time"`
		// Last fetch that produced at least one item.
		LastFetchTime time.Time `db:"last_fetch_time" json:"last_fetch_time"`

		// Error from the last load attempt. Never persisted.
		Error string `db:"-" json:"error,omitempty"`
	}

	// Item is a single normalized entry of a feed.
	Item struct {
		ID            int64     `db:"id" json:"id"`
		FeedID        int64     `db:"feed_id" json:"feed_id"`
		FeedTitle     string    `db:"feed_title" json:"feed_title"`
		URL           string    `db:"url" json:"url"`
		Title         string    `db:"title" json:"title"`
		ContentHTML   string    `db:"content_html" json:"content_html"`
		ImageURL      string    `db:"image_url" json:"image_url,omitempty"`
		Tags          Tags      `db:"tags" json:"tags"`
		DatePublished time.Time `db:"date_published" json:"date_published"`
		Read          bool      `db:"read" json:"read"`
	}

	// Tags is an ordered list of item tags, stored as a JSON array.
	Tags []string
)

// IsPlaceholder reports whether the item was synthesized for a failed or
// silent feed rather than parsed from one.
func (i Item) IsPlaceholder() bool {
	return len(i.Tags) == 1 && i.Tags[0] == TagError
}

func (t Tags) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	byts, err := json.Marshal([]string(t))
	if err != nil {
		return nil, fmt.Errorf("error encoding tags: %s", err)
	}

	return string(byts), nil
}

func (t *Tags) Scan(src any) error {
	var byts []byte
	switch src := src.(type) {
	case nil:
		*t = nil
		return nil
	case string:
		byts = []byte(src)
	case []byte:
		byts = src
	default:
		return fmt.Errorf("unsupported tags type %T", src)
	}

	var tags []string
	if err := json.Unmarshal(byts, &tags); err != nil {
		return fmt.Errorf("error decoding tags: %s", err)
	}
	*t = tags

	return nil
}

// Settings are the engine's scheduling and retention policies.
type Settings struct {
	// Unread count at or above which no more fetching happens.
	WaterMark int
	// Minimum wait between two fetch attempts of the same feed.
	MinReloadWait time.Duration
	// Items older than this are dropped at ingestion and evicted at load.
	MaxKeptPeriod time.Duration
	// Cap of items kept per feed at load.
	MaxItemsPerFeed int
	// Cap of raw entries considered per fetch.
	TruncateItems int
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		WaterMark:       10,
		MinReloadWait:   12 * time.Hour,
		MaxKeptPeriod:   180 * 24 * time.Hour,
		MaxItemsPerFeed: 100,
		TruncateItems:   25,
	}
}

type (
	// Store is the persistent side of the engine. Every call is made from
	// the engine's single writer.
	Store interface {
		Feed(ctx context.Context, id int64) (Feed, error)
		FeedByURL(ctx context.Context, url string) (Feed, error)
		AddFeed(ctx context.Context, feed Feed) (int64, error)
		PutFeed(ctx context.Context, feed Feed) error
		DeleteFeed(ctx context.Context, id int64) error
		// FeedsByLastLoad iterates feeds by ascending last load time.
		FeedsByLastLoad(ctx context.Context) (Cursor[Feed], error)

		Item(ctx context.Context, id int64) (Item, error)
		AddItem(ctx context.Context, item Item) (int64, error)
		PutItem(ctx context.Context, item Item) error
		DeleteItem(ctx context.Context, id int64) error
		// ItemsNewestFirst iterates items by descending insertion order.
		ItemsNewestFirst(ctx context.Context) (Cursor[Item], error)

		// Clear deletes every feed and item.
		Clear(ctx context.Context) error
		Close() error
	}

	// Cursor is an ordered scan over a store. Next must be called before
	// the first Value.
	Cursor[T any] interface {
		Next() bool
		Value() (T, error)
		Err() error
		Close() error
	}
)
