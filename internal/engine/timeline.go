package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jdholdren/skim/internal/skim"
)

// Timeline is the ordered list of items, oldest first, with the reading
// cursor and the read accounting over it.
type Timeline struct {
	store    skim.Store
	feeds    *Registry
	settings skim.Settings
	now      func() time.Time
	cache    *lru.Cache[int64, skim.Item]

	items []int64
	// Index into items, -1 when empty.
	reading   int
	readCount int
}

func NewTimeline(store skim.Store, feeds *Registry, settings skim.Settings, now func() time.Time) *Timeline {
	cache, _ := lru.New[int64, skim.Item](256)

	return &Timeline{
		store:    store,
		feeds:    feeds,
		settings: settings,
		now:      now,
		cache:    cache,
		reading:  -1,
	}
}

// Load rebuilds the timeline from the store and evicts what falls out of
// retention: items older than MaxKeptPeriod and, per feed, everything past
// the newest MaxItemsPerFeed. The cursor lands on the oldest unread item,
// or on the newest one when everything was read.
func (t *Timeline) Load(ctx context.Context) error {
	c, err := t.store.ItemsNewestFirst(ctx)
	if err != nil {
		return err
	}

	var (
		perFeed = map[int64]int{}
		kept    []int64
		expired []int64
		// Position, counted from the newest, of the oldest unread item.
		unread    int
		readCount int
	)
	for c.Next() {
		item, err := c.Value()
		if err != nil {
			c.Close()
			return err
		}
		if !t.retained(item, perFeed[item.FeedID]) {
			expired = append(expired, item.ID)
			continue
		}

		perFeed[item.FeedID]++
		kept = append(kept, item.ID)
		t.feeds.AddItem(item.FeedID, item.ID)
		if item.Read {
			readCount++
		} else {
			unread = len(kept)
		}
	}
	if err := c.Err(); err != nil {
		c.Close()
		return fmt.Errorf("error scanning items: %s", err)
	}
	if err := c.Close(); err != nil {
		return fmt.Errorf("error closing items scan: %s", err)
	}

	slices.Reverse(kept)
	t.items = kept
	t.readCount = readCount
	t.cache.Purge()
	switch {
	case len(kept) == 0:
		t.reading = -1
	case unread == 0:
		t.reading = len(kept) - 1
	default:
		t.reading = len(kept) - unread
	}

	for _, id := range expired {
		if err := t.store.DeleteItem(ctx, id); err != nil && !errors.Is(err, skim.ErrNotFound) {
			return err
		}
	}
	if len(expired) > 0 {
		slog.InfoContext(ctx, "evicted items", "count", len(expired))
	}

	return nil
}

// retained decides if an item survives, given how many newer items of the
// same feed were already kept.
func (t *Timeline) retained(item skim.Item, keptOfFeed int) bool {
	if keptOfFeed >= t.settings.MaxItemsPerFeed {
		return false
	}

	return t.now().Sub(item.DatePublished) <= t.settings.MaxKeptPeriod
}

func (t *Timeline) Length() int {
	return len(t.items)
}

func (t *Timeline) Cursor() int {
	return t.reading
}

func (t *Timeline) ReadCount() int {
	return t.readCount
}

func (t *Timeline) UnreadCount() int {
	return len(t.items) - t.readCount
}

// Item reads an item through the cache.
func (t *Timeline) Item(ctx context.Context, id int64) (skim.Item, error) {
	if item, ok := t.cache.Get(id); ok {
		return item, nil
	}
	item, err := t.store.Item(ctx, id)
	if err != nil {
		return skim.Item{}, err
	}
	t.cache.Add(id, item)

	return item, nil
}

// CurrentItem returns the item under the cursor.
func (t *Timeline) CurrentItem(ctx context.Context) (skim.Item, bool, error) {
	if t.reading < 0 {
		return skim.Item{}, false, nil
	}
	item, err := t.Item(ctx, t.items[t.reading])
	if err != nil {
		return skim.Item{}, false, err
	}

	return item, true, nil
}

func (t *Timeline) IsCurrent(id int64) bool {
	return t.reading >= 0 && t.items[t.reading] == id
}

// CurrentID is the id under the cursor, 0 when empty.
func (t *Timeline) CurrentID() int64 {
	if t.reading < 0 {
		return 0
	}

	return t.items[t.reading]
}

// Forward moves the cursor to the next item, marking the one it leaves as
// read. It reports false at the end, changing nothing.
func (t *Timeline) Forward(ctx context.Context) (bool, error) {
	if t.reading < 0 || t.reading >= len(t.items)-1 {
		return false, nil
	}
	if err := t.markCurrentRead(ctx); err != nil {
		return false, err
	}
	t.reading++

	return true, nil
}

// Backward moves the cursor to the previous item, marking the one it leaves
// as read. It reports false at the beginning, changing nothing.
func (t *Timeline) Backward(ctx context.Context) (bool, error) {
	if t.reading <= 0 {
		return false, nil
	}
	if err := t.markCurrentRead(ctx); err != nil {
		return false, err
	}
	t.reading--

	return true, nil
}

func (t *Timeline) markCurrentRead(ctx context.Context) error {
	item, _, err := t.CurrentItem(ctx)
	if err != nil {
		return err
	}
	if item.Read {
		return nil
	}

	item.Read = true
	if err := t.UpdateItem(ctx, item); err != nil {
		return err
	}
	t.readCount++

	return nil
}

// DeleteCurrentItem removes the item under the cursor. The cursor stays on
// the same index unless that falls past the end.
func (t *Timeline) DeleteCurrentItem(ctx context.Context) (bool, error) {
	if t.reading < 0 {
		return false, nil
	}

	id := t.items[t.reading]
	item, err := t.Item(ctx, id)
	switch {
	case errors.Is(err, skim.ErrNotFound):
		// Gone from the store already, the owning feed is unknown.
		t.feeds.forgetItem(id)
	case err != nil:
		return false, err
	default:
		if item.Read {
			t.readCount--
		}
		t.feeds.RemoveItem(item.FeedID, id)
		if err := t.store.DeleteItem(ctx, id); err != nil && !errors.Is(err, skim.ErrNotFound) {
			return false, err
		}
	}
	t.cache.Remove(id)

	t.items = slices.Delete(t.items, t.reading, t.reading+1)
	if t.reading == len(t.items) {
		t.reading--
	}

	return true, nil
}

// DeleteAllItemsOfFeed removes every item of a feed, keeping the cursor on
// the item it was on, or on the closest older one if that item went away.
func (t *Timeline) DeleteAllItemsOfFeed(ctx context.Context, feedID int64) (int, error) {
	set := t.feeds.ItemsOf(feedID)
	if len(set) == 0 {
		return 0, nil
	}

	var (
		kept   = make([]int64, 0, len(t.items))
		shrink int
	)
	for i, id := range t.items {
		if _, ok := set[id]; !ok {
			kept = append(kept, id)
			continue
		}

		item, err := t.Item(ctx, id)
		if err != nil && !errors.Is(err, skim.ErrNotFound) {
			return 0, err
		}
		if item.Read {
			t.readCount--
		}
		if err := t.store.DeleteItem(ctx, id); err != nil && !errors.Is(err, skim.ErrNotFound) {
			return 0, err
		}
		t.cache.Remove(id)
		if i <= t.reading {
			shrink++
		}
	}

	removed := len(t.items) - len(kept)
	t.items = kept
	t.reading -= shrink
	switch {
	case len(t.items) == 0:
		t.reading = -1
	case t.reading < 0:
		t.reading = 0
	case t.reading >= len(t.items):
		t.reading = len(t.items) - 1
	}
	t.feeds.dropItems(feedID)

	return removed, nil
}

// PushItem stores a new item at the end of the timeline. A URL already
// served yields [skim.ErrConflict].
func (t *Timeline) PushItem(ctx context.Context, item skim.Item) (skim.Item, error) {
	id, err := t.store.AddItem(ctx, item)
	if err != nil {
		return skim.Item{}, err
	}
	item.ID = id

	t.feeds.AddItem(item.FeedID, id)
	t.items = append(t.items, id)
	t.cache.Add(id, item)
	if t.reading < 0 {
		t.reading = 0
	}

	return item, nil
}

// UpdateItem stores a changed item.
func (t *Timeline) UpdateItem(ctx context.Context, item skim.Item) error {
	if err := t.store.PutItem(ctx, item); err != nil {
		t.cache.Remove(item.ID)
		return err
	}
	t.cache.Add(item.ID, item)

	return nil
}

// AllURLsOfFeed returns the URLs of the real items kept for a feed, sorted.
func (t *Timeline) AllURLsOfFeed(ctx context.Context, feedID int64) ([]string, error) {
	set := t.feeds.ItemsOf(feedID)
	urls := make([]string, 0, len(set))
	for id := range set {
		item, err := t.Item(ctx, id)
		if errors.Is(err, skim.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if item.IsPlaceholder() {
			continue
		}
		urls = append(urls, item.URL)
	}
	slices.Sort(urls)

	return urls, nil
}
