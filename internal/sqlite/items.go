package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/jdholdren/skim/internal/skim"
)

const itemColumns = "id, feed_id, feed_title, url, title, content_html, image_url, tags, date_published, read"

func (r *Repo) Item(ctx context.Context, id int64) (skim.Item, error) {
	if r.closed.Load() {
		return skim.Item{}, skim.ErrClosed
	}

	const q = `SELECT ` + itemColumns + ` FROM items WHERE id = ?;`
	var item skim.Item
	err := r.db.GetContext(ctx, &item, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return skim.Item{}, skim.ErrNotFound
	}
	if err != nil {
		return skim.Item{}, fmt.Errorf("error fetching item: %s", err)
	}

	return item, nil
}

// AddItem inserts the item and returns its id. Ids grow with insertion, so
// the newest item always has the largest one.
func (r *Repo) AddItem(ctx context.Context, item skim.Item) (int64, error) {
	if r.closed.Load() {
		return 0, skim.ErrClosed
	}

	const q = `INSERT INTO items (feed_id, feed_title, url, title, content_html, image_url, tags, date_published, read)
	VALUES (:feed_id, :feed_title, :url, :title, :content_html, :image_url, :tags, :date_published, :read);`
	item.DatePublished = item.DatePublished.UTC()
	res, err := r.db.NamedExecContext(ctx, q, item)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("item %q already exists: %w", item.URL, skim.ErrConflict)
	}
	if err != nil {
		return 0, fmt.Errorf("error inserting item: %s", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("error reading item id: %s", err)
	}

	return id, nil
}

func (r *Repo) PutItem(ctx context.Context, item skim.Item) error {
	if r.closed.Load() {
		return skim.ErrClosed
	}

	query, args, err := sq.Update("items").
		Set("feed_id", item.FeedID).
		Set("feed_title", item.FeedTitle).
		Set("url", item.URL).
		Set("title", item.Title).
		Set("content_html", item.ContentHTML).
		Set("image_url", item.ImageURL).
		Set("tags", item.Tags).
		Set("date_published", item.DatePublished.UTC()).
		Set("read", item.Read).
		Where(sq.Eq{"id": item.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %s", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if isUniqueViolation(err) {
		return fmt.Errorf("item %q already exists: %w", item.URL, skim.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("error updating item: %s", err)
	}

	return expectOne(res)
}

func (r *Repo) DeleteItem(ctx context.Context, id int64) error {
	if r.closed.Load() {
		return skim.ErrClosed
	}

	const q = `DELETE FROM items WHERE id = ?;`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("error deleting item: %s", err)
	}

	return expectOne(res)
}

func (r *Repo) ItemsNewestFirst(ctx context.Context) (skim.Cursor[skim.Item], error) {
	if r.closed.Load() {
		return nil, skim.ErrClosed
	}

	query, args, err := sq.Select(itemColumns).From("items").OrderBy("id DESC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error scanning items: %s", err)
	}

	return rowsCursor[skim.Item]{rows: rows}, nil
}
