// Package engine is the feed reading engine: a registry of subscribed
// feeds, a timeline of their items, and a loader fetching more of them.
// Every mutation runs on one queue so none of it needs locking.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jdholdren/skim/internal/format"
	"github.com/jdholdren/skim/internal/sanitize"
	"github.com/jdholdren/skim/internal/skim"
)

var (
	ErrInvalidURL = errors.New("invalid feed url")
	errShutdown   = errors.New("engine shut down")
)

type (
	Engine struct {
		store    skim.Store
		settings skim.Settings
		now      func() time.Time
		observer skim.Observer
		idle     time.Duration

		// Every mutation runs on queue; network calls run on fetches and
		// hand their results back to queue.
		queue   *Queue
		fetches *Queue

		feeds  *Registry
		items  *Timeline
		loader *Loader

		cancel    context.CancelCauseFunc
		idleTimer *time.Timer

		// Owned by the queue goroutine.
		loading bool
		paused  bool
	}

	Option func(*Engine)

	// Snapshot is the reading state at one point of the queue.
	Snapshot struct {
		Length    int        `json:"length"`
		Cursor    int        `json:"cursor"`
		Unread    int        `json:"unread"`
		ReadCount int        `json:"read_count"`
		Feeds     int        `json:"feeds"`
		Loading   bool       `json:"loading"`
		Paused    bool       `json:"paused"`
		Item      *skim.Item `json:"item,omitempty"`
	}
)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithObserver receives every event, on the queue goroutine.
func WithObserver(o skim.Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithIdleTimeout shuts the engine down after d without user operations.
func WithIdleTimeout(d time.Duration) Option {
	return func(e *Engine) { e.idle = d }
}

func New(store skim.Store, client Fetcher, settings skim.Settings, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		settings: settings,
		now:      time.Now,
		queue:    NewQueue("engine"),
		fetches:  NewQueue("fetch"),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.feeds = NewRegistry(store)
	e.items = NewTimeline(store, e.feeds, settings, e.now)
	e.loader = NewLoader(client, settings, e.now)

	// Loading the state is the first operation, ahead of anything queued
	// before Run.
	e.queue.Go("init", e.init)

	return e
}

// Run drains the queues until ctx is done or the engine shuts itself down.
// The store is closed on return.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	defer e.store.Close()

	e.cancel = cancel
	if e.idle > 0 {
		e.idleTimer = time.AfterFunc(e.idle, e.idleShutdown)
		defer e.idleTimer.Stop()
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.queue.Run(gCtx) })
	g.Go(func() error { return e.fetches.Run(gCtx) })
	if err := g.Wait(); err != nil {
		return err
	}

	if err := context.Cause(ctx); err != nil && !errors.Is(err, errShutdown) && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (e *Engine) init(ctx context.Context) {
	if err := e.feeds.Load(ctx); err != nil {
		e.fail(ctx, fmt.Errorf("error loading feeds: %w", err))
		return
	}
	if err := e.items.Load(ctx); err != nil {
		e.fail(ctx, fmt.Errorf("error loading items: %w", err))
		return
	}
	slog.InfoContext(ctx, "engine loaded",
		"feeds", e.feeds.Len(),
		"items", e.items.Length(),
		"unread", e.items.UnreadCount(),
	)

	e.emitItemsLoaded()
	if err := e.emitItemUpdated(ctx); err != nil {
		e.fail(ctx, err)
		return
	}
	if err := e.tryLoad(ctx); err != nil {
		slog.ErrorContext(ctx, "error starting load", "error", err)
	}
}

// fail stops the engine on an error it cannot recover from.
func (e *Engine) fail(ctx context.Context, err error) {
	slog.ErrorContext(ctx, "fatal engine error", "error", err)
	e.emit(skim.Event{Kind: skim.EventShutdown, Level: skim.LevelError, Text: err.Error()})
	e.cancel(err)
}

func (e *Engine) emit(ev skim.Event) {
	if e.observer != nil {
		e.observer(ev)
	}
}

func (e *Engine) alert(level skim.Level, text string) {
	e.emit(skim.Event{Kind: skim.EventAlert, Level: level, Text: text})
}

func (e *Engine) emitItemsLoaded() {
	e.emit(skim.Event{
		Kind:   skim.EventItemsLoaded,
		Length: e.items.Length(),
		Cursor: e.items.Cursor(),
	})
}

func (e *Engine) emitItemUpdated(ctx context.Context) error {
	item, ok, err := e.items.CurrentItem(ctx)
	if err != nil {
		return err
	}

	ev := skim.Event{Kind: skim.EventItemUpdated}
	if ok {
		ev.Item = &item
	}
	e.emit(ev)

	return nil
}

// touch records user activity for the idle watchdog.
func (e *Engine) touch() {
	if e.idleTimer != nil {
		e.idleTimer.Reset(e.idle)
	}
}

func (e *Engine) idleShutdown() {
	e.queue.Go("idle-shutdown", func(ctx context.Context) {
		if err := e.shutdown(ctx, skim.LevelInfo, "Shutdown due to inactivity"); err != nil {
			slog.ErrorContext(ctx, "error shutting down", "error", err)
		}
	})
}

// tryLoad starts fetching the next feed when the timeline runs low on
// unread items and the rotation head is due.
func (e *Engine) tryLoad(ctx context.Context) error {
	if e.loading || e.paused {
		return nil
	}
	if e.items.UnreadCount() >= e.settings.WaterMark {
		return nil
	}
	feed, ok, err := e.feeds.First(ctx)
	if err != nil || !ok {
		return err
	}
	if feed.LastLoadTime.After(e.now().Add(-e.settings.MinReloadWait)) {
		return nil
	}

	e.feeds.Rotate()
	except, err := e.items.AllURLsOfFeed(ctx, feed.ID)
	if err != nil {
		return err
	}

	e.loading = true
	e.emit(skim.Event{Kind: skim.EventLoadingStarted})
	if err := e.fetches.Go("load", func(ctx context.Context) {
		res := e.loader.Load(ctx, feed, except)
		e.handBack(res, true)
	}); err != nil {
		e.loading = false
		return err
	}

	return nil
}

// handBack queues the merge of a fetch result.
func (e *Engine) handBack(res loadResult, scheduled bool) {
	if err := e.queue.Go("merge", func(ctx context.Context) {
		if err := e.merge(ctx, res, scheduled); err != nil {
			slog.ErrorContext(ctx, "error merging feed", "error", err)
		}
	}); err != nil {
		slog.Warn("dropping fetch result", "feed_url", res.Feed.FeedURL, "error", err)
	}
}

// Forward moves to the next item, marking the current one read.
func (e *Engine) Forward(ctx context.Context) (bool, error) {
	return do(ctx, e.queue, "forward", func(ctx context.Context) (bool, error) {
		e.touch()
		moved, err := e.items.Forward(ctx)
		if err != nil {
			return false, err
		}
		if !moved {
			e.alert(skim.LevelWarning, "Already at the end")
			return false, e.tryLoad(ctx)
		}

		e.emitItemsLoaded()
		if err := e.emitItemUpdated(ctx); err != nil {
			return true, err
		}

		return true, e.tryLoad(ctx)
	})
}

// Backward moves to the previous item, marking the current one read.
func (e *Engine) Backward(ctx context.Context) (bool, error) {
	return do(ctx, e.queue, "backward", func(ctx context.Context) (bool, error) {
		e.touch()
		moved, err := e.items.Backward(ctx)
		if err != nil {
			return false, err
		}
		if !moved {
			e.alert(skim.LevelWarning, "Already at the beginning")
			return false, nil
		}

		e.emitItemsLoaded()
		if err := e.emitItemUpdated(ctx); err != nil {
			return true, err
		}

		return true, e.tryLoad(ctx)
	})
}

// DeleteItem deletes the current item.
func (e *Engine) DeleteItem(ctx context.Context) (bool, error) {
	return do(ctx, e.queue, "delete-item", func(ctx context.Context) (bool, error) {
		e.touch()
		deleted, err := e.items.DeleteCurrentItem(ctx)
		if err != nil {
			return false, err
		}
		if !deleted {
			e.alert(skim.LevelWarning, "No item to delete")
			return false, nil
		}

		e.emitItemsLoaded()
		if err := e.emitItemUpdated(ctx); err != nil {
			return true, err
		}

		return true, e.tryLoad(ctx)
	})
}

// RefreshItem replaces the current item's content with the full article
// fetched from its page. The new content arrives as an item-updated event.
func (e *Engine) RefreshItem(ctx context.Context) error {
	_, err := do(ctx, e.queue, "refresh-item", func(ctx context.Context) (struct{}, error) {
		e.touch()
		item, ok, err := e.items.CurrentItem(ctx)
		if err != nil {
			return struct{}{}, err
		}
		if !ok {
			e.alert(skim.LevelWarning, "No item to refresh")
			return struct{}{}, nil
		}
		if item.IsPlaceholder() {
			e.alert(skim.LevelWarning, "Item not refreshable")
			return struct{}{}, nil
		}

		return struct{}{}, e.fetches.Go("full-text", func(ctx context.Context) {
			text, err := e.loader.FullText(ctx, item)
			if qErr := e.queue.Go("update-item-text", func(ctx context.Context) {
				if err != nil {
					slog.ErrorContext(ctx, "error refreshing item", "url", item.URL, "error", err)
					e.alert(skim.LevelError, fmt.Sprintf("Failed to refresh %s: %s", item.URL, err))
					return
				}
				uErr := e.updateItemText(ctx, item.ID, text)
				if errors.Is(uErr, skim.ErrNotFound) {
					slog.InfoContext(ctx, "item deleted while refreshing", "url", item.URL)
					return
				}
				if uErr != nil {
					slog.ErrorContext(ctx, "error updating item", "error", uErr)
				}
			}); qErr != nil {
				slog.Warn("dropping refreshed item", "error", qErr)
			}
		})
	})

	return err
}

// UpdateItemText replaces the content of an item with sanitized html.
func (e *Engine) UpdateItemText(ctx context.Context, id int64, html string) error {
	_, err := do(ctx, e.queue, "update-item-text", func(ctx context.Context) (struct{}, error) {
		e.touch()
		return struct{}{}, e.updateItemText(ctx, id, sanitize.HTML(html))
	})

	return err
}

func (e *Engine) updateItemText(ctx context.Context, id int64, html string) error {
	item, err := e.items.Item(ctx, id)
	if err != nil {
		return err
	}

	item.ContentHTML = html
	if err := e.items.UpdateItem(ctx, item); err != nil {
		return err
	}
	if e.items.IsCurrent(id) {
		return e.emitItemUpdated(ctx)
	}

	return nil
}

// Subscribe probes feedURL and subscribes to the feed found there. The
// outcome arrives as alert and items-loaded events.
func (e *Engine) Subscribe(ctx context.Context, feedURL string) error {
	if !format.IsAbsoluteURL(feedURL) {
		return fmt.Errorf("%w: %q", ErrInvalidURL, feedURL)
	}

	_, err := do(ctx, e.queue, "subscribe", func(ctx context.Context) (struct{}, error) {
		e.touch()
		_, err := e.feeds.FeedIDByURL(ctx, feedURL)
		if err == nil {
			e.alert(skim.LevelWarning, fmt.Sprintf("Already subscribed to %s", feedURL))
			return struct{}{}, fmt.Errorf("feed %q: %w", feedURL, skim.ErrConflict)
		}
		if !errors.Is(err, skim.ErrNotFound) {
			return struct{}{}, err
		}
		if e.paused {
			e.alert(skim.LevelWarning, "Fetching is paused until you log in again")
			return struct{}{}, skim.ErrUnauthorized
		}

		return struct{}{}, e.fetches.Go("subscribe", func(ctx context.Context) {
			e.handBack(e.loader.Subscribe(ctx, feedURL), false)
		})
	})

	return err
}

// Unsubscribe deletes a feed with all its items.
func (e *Engine) Unsubscribe(ctx context.Context, id int64) error {
	_, err := do(ctx, e.queue, "unsubscribe", func(ctx context.Context) (struct{}, error) {
		e.touch()
		before := e.items.CurrentID()
		removed, err := e.items.DeleteAllItemsOfFeed(ctx, id)
		if err != nil {
			return struct{}{}, err
		}

		err = e.feeds.RemoveFeed(ctx, id)
		switch {
		case errors.Is(err, skim.ErrNotFound):
			e.alert(skim.LevelError, "Feed not found")
		case err != nil:
			return struct{}{}, err
		default:
			e.alert(skim.LevelInfo, "Feed unsubscribed")
		}

		if removed > 0 {
			e.emitItemsLoaded()
		}
		if e.items.CurrentID() != before {
			if err := e.emitItemUpdated(ctx); err != nil {
				return struct{}{}, err
			}
		}

		return struct{}{}, e.tryLoad(ctx)
	})

	return err
}

// AddFeed subscribes to a feed without probing it first. It is fetched at
// the next load.
func (e *Engine) AddFeed(ctx context.Context, feed skim.Feed) (skim.Feed, error) {
	if !format.IsAbsoluteURL(feed.FeedURL) {
		return skim.Feed{}, fmt.Errorf("%w: %q", ErrInvalidURL, feed.FeedURL)
	}

	return do(ctx, e.queue, "add-feed", func(ctx context.Context) (skim.Feed, error) {
		added, err := e.addFeed(ctx, feed)
		if err != nil {
			return skim.Feed{}, err
		}

		return added, e.tryLoad(ctx)
	})
}

// ImportFeeds adds every feed not subscribed yet and reports how many were
// added.
func (e *Engine) ImportFeeds(ctx context.Context, feeds []skim.Feed) (int, error) {
	return do(ctx, e.queue, "import-feeds", func(ctx context.Context) (int, error) {
		e.touch()
		added := 0
		for _, f := range feeds {
			if !format.IsAbsoluteURL(f.FeedURL) {
				slog.WarnContext(ctx, "skipping invalid feed url", "feed_url", f.FeedURL)
				continue
			}
			_, err := e.addFeed(ctx, f)
			if errors.Is(err, skim.ErrConflict) {
				continue
			}
			if err != nil {
				return added, err
			}
			added++
		}
		e.alert(skim.LevelInfo, fmt.Sprintf("%d feeds added", added))

		return added, e.tryLoad(ctx)
	})
}

// addFeed stores a feed that was never loaded, making it the next fetch
// candidate. It counts as fetched now so it is not reported quiet before
// its first load.
func (e *Engine) addFeed(ctx context.Context, f skim.Feed) (skim.Feed, error) {
	f.ID = 0
	f.Error = ""
	f.LastLoadTime = time.Time{}
	f.LastFetchTime = e.now()
	if f.Title == "" {
		f.Title = f.FeedURL
	}

	return e.feeds.AddFeed(ctx, f)
}

func (e *Engine) Feed(ctx context.Context, id int64) (skim.Feed, error) {
	return do(ctx, e.queue, "feed", func(ctx context.Context) (skim.Feed, error) {
		return e.feeds.Get(ctx, id)
	})
}

// Feeds returns every feed in rotation order.
func (e *Engine) Feeds(ctx context.Context) ([]skim.Feed, error) {
	return do(ctx, e.queue, "feeds", func(ctx context.Context) ([]skim.Feed, error) {
		return e.feeds.AllFeeds(ctx)
	})
}

func (e *Engine) AllFeedURLs(ctx context.Context) ([]string, error) {
	return do(ctx, e.queue, "all-feed-urls", func(ctx context.Context) ([]string, error) {
		return e.feeds.AllFeedURLs(ctx)
	})
}

// SaveFeeds stashes the subscribed feed URLs on the relay and returns the
// handle to restore them with, also published as a post-handle event.
func (e *Engine) SaveFeeds(ctx context.Context) (string, error) {
	urls, err := e.AllFeedURLs(ctx)
	if err != nil {
		return "", err
	}

	handle, err := do(ctx, e.fetches, "stash", func(ctx context.Context) (string, error) {
		return e.loader.Stash(ctx, urls)
	})
	if err != nil {
		e.queue.Go("stash-failed", func(context.Context) {
			e.alert(skim.LevelError, fmt.Sprintf("Failed to save feeds: %s", err))
		})
		return "", err
	}

	_, err = do(ctx, e.queue, "post-handle", func(context.Context) (struct{}, error) {
		e.emit(skim.Event{Kind: skim.EventPostHandle, Handle: handle})
		return struct{}{}, nil
	})

	return handle, err
}

// RestoreFeeds subscribes to the feeds stashed under handle.
func (e *Engine) RestoreFeeds(ctx context.Context, handle string) (int, error) {
	urls, err := do(ctx, e.fetches, "unstash", func(ctx context.Context) ([]string, error) {
		return e.loader.Unstash(ctx, handle)
	})
	if err != nil {
		e.queue.Go("unstash-failed", func(context.Context) {
			e.alert(skim.LevelError, fmt.Sprintf("Failed to restore feeds: %s", err))
		})
		return 0, err
	}

	feeds := make([]skim.Feed, 0, len(urls))
	for _, u := range urls {
		feeds = append(feeds, skim.Feed{FeedURL: u})
	}

	return e.ImportFeeds(ctx, feeds)
}

// MaybeLoad starts a fetch if one is due.
func (e *Engine) MaybeLoad(ctx context.Context) error {
	_, err := do(ctx, e.queue, "maybe-load", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.tryLoad(ctx)
	})

	return err
}

// Reauthorize resumes fetching after the relay refused it.
func (e *Engine) Reauthorize(ctx context.Context) error {
	_, err := do(ctx, e.queue, "reauthorize", func(ctx context.Context) (struct{}, error) {
		e.touch()
		if !e.paused {
			return struct{}{}, nil
		}
		e.paused = false
		e.alert(skim.LevelInfo, "Fetching resumed")

		return struct{}{}, e.tryLoad(ctx)
	})

	return err
}

// Snapshot returns the current reading state.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	return do(ctx, e.queue, "snapshot", func(ctx context.Context) (Snapshot, error) {
		s := Snapshot{
			Length:    e.items.Length(),
			Cursor:    e.items.Cursor(),
			Unread:    e.items.UnreadCount(),
			ReadCount: e.items.ReadCount(),
			Feeds:     e.feeds.Len(),
			Loading:   e.loading,
			Paused:    e.paused,
		}
		item, ok, err := e.items.CurrentItem(ctx)
		if err != nil {
			return Snapshot{}, err
		}
		if ok {
			s.Item = &item
		}

		return s, nil
	})
}

// Shutdown closes the store and stops the engine after publishing a
// shutdown event.
func (e *Engine) Shutdown(ctx context.Context, level skim.Level, text string) error {
	_, err := do(ctx, e.queue, "shutdown", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.shutdown(ctx, level, text)
	})

	return err
}

func (e *Engine) shutdown(ctx context.Context, level skim.Level, text string) error {
	slog.InfoContext(ctx, "shutting down", "reason", text)
	e.emit(skim.Event{Kind: skim.EventShutdown, Level: level, Text: text})
	err := e.store.Close()
	e.cancel(errShutdown)

	return err
}

// ClearData deletes every feed and item, then shuts down.
func (e *Engine) ClearData(ctx context.Context) error {
	_, err := do(ctx, e.queue, "clear-data", func(ctx context.Context) (struct{}, error) {
		if err := e.store.Clear(ctx); err != nil {
			return struct{}{}, err
		}
		e.feeds = NewRegistry(e.store)
		e.items = NewTimeline(e.store, e.feeds, e.settings, e.now)

		return struct{}{}, e.shutdown(ctx, skim.LevelInfo, "Database deleted")
	})

	return err
}
