package engine

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jdholdren/skim/internal/logger"
	"github.com/jdholdren/skim/internal/sanitize"
	"github.com/jdholdren/skim/internal/skim"
)

// merge folds a fetch result into the registry and the timeline. scheduled
// is set for fetches started by tryLoad, which own the loading flag.
func (e *Engine) merge(ctx context.Context, res loadResult, scheduled bool) error {
	if scheduled {
		e.loading = false
		e.emit(skim.Event{Kind: skim.EventLoadingStopped})
	}
	if res.Unauthorized {
		if !e.paused {
			e.paused = true
			e.alert(skim.LevelWarning, "The relay refused to fetch feeds. Log in again to resume fetching.")
		}
		return nil
	}

	var (
		now    = e.now()
		feed   = res.Feed
		before = e.items.CurrentID()
	)
	if feed.ID == 0 {
		if feed.Title == "" {
			feed.Title = feed.FeedURL
		}
		feed.LastLoadTime = now
		feed.LastFetchTime = now
		added, err := e.feeds.AddFeed(ctx, feed)
		if errors.Is(err, skim.ErrConflict) {
			e.alert(skim.LevelWarning, fmt.Sprintf("Already subscribed to %s", feed.FeedURL))
			return e.tryLoad(ctx)
		}
		if err != nil {
			return err
		}
		feed = added
		if feed.Error != "" {
			e.alert(skim.LevelWarning, fmt.Sprintf("Subscribed to %s, but it could not be loaded", feed.Title))
		} else {
			e.alert(skim.LevelInfo, fmt.Sprintf("Subscribed to %s", feed.Title))
		}
	} else if _, err := e.feeds.Get(ctx, feed.ID); errors.Is(err, skim.ErrNotFound) {
		slog.InfoContext(ctx, "feed removed while loading", "feed_url", feed.FeedURL)
		return e.tryLoad(ctx)
	} else if err != nil {
		return err
	}
	ctx = logger.Ctx(ctx, slog.Int64("feed_id", feed.ID))

	var fresh, pushed int
	for _, item := range res.Items {
		item.FeedID = feed.ID
		item.FeedTitle = feed.Title
		_, err := e.items.PushItem(ctx, item)
		if errors.Is(err, skim.ErrConflict) {
			slog.DebugContext(ctx, "item already served", "url", item.URL)
			continue
		}
		if err != nil {
			return err
		}
		fresh++
	}
	pushed = fresh

	switch {
	case feed.Error != "":
		e.alert(skim.LevelError, feed.Error)
		if err := e.pushPlaceholder(ctx, oopsItem(feed, now)); err != nil {
			return err
		}
		pushed++
		feed.Error = ""
	case fresh == 0 && feed.LastFetchTime.Before(now.Add(-e.settings.MaxKeptPeriod)):
		slog.WarnContext(ctx, "feed went quiet", "last_fetch_time", feed.LastFetchTime)
		if err := e.pushPlaceholder(ctx, quietItem(feed, now)); err != nil {
			return err
		}
		pushed++
		fresh++
	}

	feed.LastLoadTime = now
	if fresh > 0 {
		feed.LastFetchTime = now
	}
	if err := e.feeds.UpdateFeed(ctx, feed); err != nil {
		return err
	}
	slog.InfoContext(ctx, "merged feed", "items", pushed)

	if pushed > 0 {
		e.emitItemsLoaded()
	}
	if e.items.CurrentID() != before {
		if err := e.emitItemUpdated(ctx); err != nil {
			return err
		}
	}

	return e.tryLoad(ctx)
}

func (e *Engine) pushPlaceholder(ctx context.Context, item skim.Item) error {
	if _, err := e.items.PushItem(ctx, item); err != nil && !errors.Is(err, skim.ErrConflict) {
		return err
	}

	return nil
}

// oopsItem stands in for a failed fetch.
func oopsItem(feed skim.Feed, now time.Time) skim.Item {
	text := fmt.Sprintf("<p>%s</p><p>Delete this item once you have read it.</p>", html.EscapeString(feed.Error))
	return placeholder(feed, "Oops...", text, now)
}

// quietItem reports a feed that produced nothing for a whole retention
// period.
func quietItem(feed skim.Feed, now time.Time) skim.Item {
	text := fmt.Sprintf(
		"<p>The feed %s has not published anything since %s. Consider unsubscribing from it.</p>",
		html.EscapeString(feed.Title),
		feed.LastFetchTime.Format(time.DateOnly),
	)
	return placeholder(feed, "Errrr...", text, now)
}

// placeholder builds a synthetic item. Its URL is unique so it never clashes
// with a real one.
func placeholder(feed skim.Feed, title, content string, now time.Time) skim.Item {
	return skim.Item{
		FeedID:        feed.ID,
		FeedTitle:     feed.Title,
		URL:           fmt.Sprintf("%s#%s", feed.FeedURL, uuid.NewString()),
		Title:         title,
		ContentHTML:   sanitize.HTML(content),
		Tags:          skim.Tags{skim.TagError},
		DatePublished: now,
	}
}
