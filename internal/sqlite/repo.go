// Package sqlite is the persistent store of feeds and items.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"

	"github.com/jdholdren/skim/internal/skim"
)

var _ skim.Store = (*Repo)(nil)

type Repo struct {
	db     *sqlx.DB
	closed atomic.Bool
}

func New(db *sqlx.DB) *Repo {
	return &Repo{db: db}
}

// Open connects to the sqlite database at path.
func Open(path string) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("%s?_txlock=immediate&_time_format=sqlite&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	dbx, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %s", err)
	}

	return dbx, nil
}

// Close releases the database. Every later call fails with [skim.ErrClosed].
func (r *Repo) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("error closing database: %s", err)
	}

	return nil
}

func (r *Repo) Clear(ctx context.Context) error {
	if r.closed.Load() {
		return skim.ErrClosed
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %s", err)
	}
	defer tx.Rollback()

	for _, q := range []string{`DELETE FROM items;`, `DELETE FROM feeds;`} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("error clearing database: %s", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing clear: %s", err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	sqliteErr := &sqlite.Error{}
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == 2067 // SQLITE_CONSTRAINT_UNIQUE
}

// rowsCursor adapts sqlx rows to [skim.Cursor].
type rowsCursor[T any] struct {
	rows *sqlx.Rows
}

func (c rowsCursor[T]) Next() bool {
	return c.rows.Next()
}

func (c rowsCursor[T]) Value() (T, error) {
	var v T
	if err := c.rows.StructScan(&v); err != nil {
		return v, fmt.Errorf("error scanning row: %s", err)
	}

	return v, nil
}

func (c rowsCursor[T]) Err() error {
	return c.rows.Err()
}

func (c rowsCursor[T]) Close() error {
	return c.rows.Close()
}
