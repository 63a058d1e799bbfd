package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/jdholdren/skim/internal/skim"
)

const feedColumns = "id, feed_url, home_page_url, title, last_load_time, last_fetch_time"

func (r *Repo) Feed(ctx context.Context, id int64) (skim.Feed, error) {
	if r.closed.Load() {
		return skim.Feed{}, skim.ErrClosed
	}

	const q = `SELECT ` + feedColumns + ` FROM feeds WHERE id = ?;`
	var feed skim.Feed
	err := r.db.GetContext(ctx, &feed, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return skim.Feed{}, skim.ErrNotFound
	}
	if err != nil {
		return skim.Feed{}, fmt.Errorf("error fetching feed: %s", err)
	}

	return feed, nil
}

func (r *Repo) FeedByURL(ctx context.Context, url string) (skim.Feed, error) {
	if r.closed.Load() {
		return skim.Feed{}, skim.ErrClosed
	}

	const q = `SELECT ` + feedColumns + ` FROM feeds WHERE feed_url = ?;`
	var feed skim.Feed
	err := r.db.GetContext(ctx, &feed, q, url)
	if errors.Is(err, sql.ErrNoRows) {
		return skim.Feed{}, skim.ErrNotFound
	}
	if err != nil {
		return skim.Feed{}, fmt.Errorf("error fetching feed: %s", err)
	}

	return feed, nil
}

// AddFeed inserts the feed and returns its new id. The feed's ID is ignored.
func (r *Repo) AddFeed(ctx context.Context, feed skim.Feed) (int64, error) {
	if r.closed.Load() {
		return 0, skim.ErrClosed
	}

	const q = `INSERT INTO feeds (feed_url, home_page_url, title, last_load_time, last_fetch_time)
	VALUES (:feed_url, :home_page_url, :title, :last_load_time, :last_fetch_time);`
	feed = utcFeed(feed)
	res, err := r.db.NamedExecContext(ctx, q, feed)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("feed %q already exists: %w", feed.FeedURL, skim.ErrConflict)
	}
	if err != nil {
		return 0, fmt.Errorf("error inserting feed: %s", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("error reading feed id: %s", err)
	}

	return id, nil
}

// PutFeed overwrites every stored field of the feed.
func (r *Repo) PutFeed(ctx context.Context, feed skim.Feed) error {
	if r.closed.Load() {
		return skim.ErrClosed
	}

	feed = utcFeed(feed)
	query, args, err := sq.Update("feeds").
		Set("feed_url", feed.FeedURL).
		Set("home_page_url", feed.HomePageURL).
		Set("title", feed.Title).
		Set("last_load_time", feed.LastLoadTime).
		Set("last_fetch_time", feed.LastFetchTime).
		Where(sq.Eq{"id": feed.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %s", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if isUniqueViolation(err) {
		return fmt.Errorf("feed %q already exists: %w", feed.FeedURL, skim.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("error updating feed: %s", err)
	}

	return expectOne(res)
}

func (r *Repo) DeleteFeed(ctx context.Context, id int64) error {
	if r.closed.Load() {
		return skim.ErrClosed
	}

	const q = `DELETE FROM feeds WHERE id = ?;`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("error deleting feed: %s", err)
	}

	return expectOne(res)
}

func (r *Repo) FeedsByLastLoad(ctx context.Context) (skim.Cursor[skim.Feed], error) {
	if r.closed.Load() {
		return nil, skim.ErrClosed
	}

	query, args, err := sq.Select(feedColumns).From("feeds").OrderBy("last_load_time ASC", "id ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error scanning feeds: %s", err)
	}

	return rowsCursor[skim.Feed]{rows: rows}, nil
}

func utcFeed(f skim.Feed) skim.Feed {
	f.LastLoadTime = f.LastLoadTime.UTC()
	f.LastFetchTime = f.LastFetchTime.UTC()
	return f
}

// expectOne maps an update or delete that touched nothing to [skim.ErrNotFound].
func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows: %s", err)
	}
	if n == 0 {
		return skim.ErrNotFound
	}

	return nil
}
