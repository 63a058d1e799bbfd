package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jdholdren/skim/internal/skim"
)

// Registry owns the subscribed feeds: the rotation deciding which feed is
// fetched next and, per feed, the ids of its items in the timeline.
type Registry struct {
	store skim.Store

	// Feed ids, the head is the next fetch candidate.
	rotation []int64
	itemSets map[int64]map[int64]struct{}
}

func NewRegistry(store skim.Store) *Registry {
	return &Registry{
		store:    store,
		itemSets: map[int64]map[int64]struct{}{},
	}
}

// Load rebuilds the rotation from the store, least recently loaded first.
// Item sets are emptied and refilled by [Timeline.Load].
func (r *Registry) Load(ctx context.Context) error {
	c, err := r.store.FeedsByLastLoad(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	var rotation []int64
	for c.Next() {
		f, err := c.Value()
		if err != nil {
			return err
		}
		rotation = append(rotation, f.ID)
	}
	if err := c.Err(); err != nil {
		return fmt.Errorf("error scanning feeds: %s", err)
	}

	r.rotation = rotation
	r.itemSets = map[int64]map[int64]struct{}{}

	return nil
}

func (r *Registry) Len() int {
	return len(r.rotation)
}

// First returns the rotation head.
func (r *Registry) First(ctx context.Context) (skim.Feed, bool, error) {
	if len(r.rotation) == 0 {
		return skim.Feed{}, false, nil
	}
	f, err := r.Get(ctx, r.rotation[0])
	if err != nil {
		return skim.Feed{}, false, err
	}

	return f, true, nil
}

// Rotate moves the head to the tail.
func (r *Registry) Rotate() {
	if len(r.rotation) < 2 {
		return
	}
	head := r.rotation[0]
	r.rotation = append(r.rotation[1:], head)
}

// Get reads a feed. Feeds that never produced anything count as fetched
// when they were last loaded.
func (r *Registry) Get(ctx context.Context, id int64) (skim.Feed, error) {
	f, err := r.store.Feed(ctx, id)
	if err != nil {
		return skim.Feed{}, err
	}
	if f.LastFetchTime.IsZero() {
		f.LastFetchTime = f.LastLoadTime
	}

	return f, nil
}

// AddFeed stores a new feed and places it in the rotation. A feed that was
// never loaded becomes the next candidate, any other goes last.
func (r *Registry) AddFeed(ctx context.Context, f skim.Feed) (skim.Feed, error) {
	id, err := r.store.AddFeed(ctx, f)
	if err != nil {
		return skim.Feed{}, err
	}
	f.ID = id

	if f.LastLoadTime.IsZero() {
		r.rotation = slices.Insert(r.rotation, 0, id)
	} else {
		r.rotation = append(r.rotation, id)
	}

	return f, nil
}

// UpdateFeed stores the feed without touching the rotation.
func (r *Registry) UpdateFeed(ctx context.Context, f skim.Feed) error {
	return r.store.PutFeed(ctx, f)
}

// RemoveFeed deletes the feed and forgets it. Its items must already be
// gone from the timeline. An unknown feed yields [skim.ErrNotFound] after
// the in-memory state is cleaned.
func (r *Registry) RemoveFeed(ctx context.Context, id int64) error {
	r.rotation = slices.DeleteFunc(r.rotation, func(fid int64) bool { return fid == id })
	delete(r.itemSets, id)

	return r.store.DeleteFeed(ctx, id)
}

// FeedIDByURL returns the id of the feed at feedURL.
func (r *Registry) FeedIDByURL(ctx context.Context, feedURL string) (int64, error) {
	f, err := r.store.FeedByURL(ctx, feedURL)
	if err != nil {
		return 0, err
	}

	return f.ID, nil
}

// AllFeeds returns every feed in rotation order.
func (r *Registry) AllFeeds(ctx context.Context) ([]skim.Feed, error) {
	feeds := make([]skim.Feed, 0, len(r.rotation))
	for _, id := range r.rotation {
		f, err := r.Get(ctx, id)
		if errors.Is(err, skim.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, f)
	}

	return feeds, nil
}

func (r *Registry) AllFeedURLs(ctx context.Context) ([]string, error) {
	feeds, err := r.AllFeeds(ctx)
	if err != nil {
		return nil, err
	}

	urls := make([]string, 0, len(feeds))
	for _, f := range feeds {
		urls = append(urls, f.FeedURL)
	}

	return urls, nil
}

// ItemsOf returns the item ids of a feed. The set is owned by the registry
// and must not be modified.
func (r *Registry) ItemsOf(feedID int64) map[int64]struct{} {
	return r.itemSets[feedID]
}

func (r *Registry) AddItem(feedID, itemID int64) {
	set, ok := r.itemSets[feedID]
	if !ok {
		set = map[int64]struct{}{}
		r.itemSets[feedID] = set
	}
	set[itemID] = struct{}{}
}

func (r *Registry) RemoveItem(feedID, itemID int64) {
	set, ok := r.itemSets[feedID]
	if !ok {
		return
	}
	delete(set, itemID)
	if len(set) == 0 {
		delete(r.itemSets, feedID)
	}
}

// forgetItem removes an item from whichever feed's set holds it.
func (r *Registry) forgetItem(itemID int64) {
	for feedID, set := range r.itemSets {
		if _, ok := set[itemID]; ok {
			r.RemoveItem(feedID, itemID)
			return
		}
	}
}

// dropItems forgets every item of a feed.
func (r *Registry) dropItems(feedID int64) {
	delete(r.itemSets, feedID)
}
