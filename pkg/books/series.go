package books

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/unowned-ai/catalogue/pkg/db"
)

const (
	findSeriesStatement = `
	SELECT _id FROM series WHERE series_name = ? COLLATE LOCALIZED
	`

	createSeriesStatement = `
	INSERT INTO series (series_name) VALUES (?)
	`

	getSeriesStatement = `
	SELECT _id, series_name FROM series WHERE _id = ?
	`

	listSeriesStatement = `
	SELECT s._id, s.series_name,
	       (SELECT COUNT(*) FROM book_series bs WHERE bs.series = s._id)
	FROM series s
	ORDER BY s.series_name COLLATE LOCALIZED
	`

	bookSeriesStatement = `
	SELECT s._id, s.series_name, COALESCE(bs.series_num, '')
	FROM book_series bs JOIN series s ON s._id = bs.series
	WHERE bs.book = ?
	ORDER BY bs.series_position, bs.series
	`

	deleteBookSeriesStatement = `
	DELETE FROM book_series WHERE book = ?
	`

	linkBookSeriesStatement = `
	INSERT INTO book_series (book, series, series_num, series_position) VALUES (?, ?, ?, ?)
	`
)

// GetOrCreateSeries returns the id of the series called name, compared
// case-insensitively, creating it on a miss.
func (c *Catalogue) GetOrCreateSeries(ctx context.Context, name string) (int64, error) {
	name = normalizeName(name)
	if name == "" {
		return 0, fmt.Errorf("series name: %w", ErrEmptyName)
	}

	var id int64
	err := c.h.WithTx(ctx, func(ctx context.Context) error {
		err := c.queryRow(ctx, "find_series", findSeriesStatement, []any{name}, &id)
		if err == nil || !errors.Is(err, db.ErrNotFound) {
			return err
		}
		id, err = c.insert(ctx, "create_series", createSeriesStatement, name)
		return db.WithEntity(err, "series")
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get or create series %q: %w", name, err)
	}
	return id, nil
}

// FetchSeriesByID returns one series.
func (c *Catalogue) FetchSeriesByID(ctx context.Context, id int64) (Series, error) {
	var s Series
	if err := c.queryRow(ctx, "get_series", getSeriesStatement, []any{id}, &s.ID, &s.Name); err != nil {
		return Series{}, fmt.Errorf("series %d: %w", id, err)
	}
	return s, nil
}

// ListSeries returns every series with the number of books in it.
func (c *Catalogue) ListSeries(ctx context.Context) ([]SeriesCount, error) {
	s, err := c.stmt("list_series", listSeriesStatement)
	if err != nil {
		return nil, err
	}
	var series []SeriesCount
	err = s.Query(ctx, nil, func(rows *sql.Rows) error {
		var sc SeriesCount
		if err := rows.Scan(&sc.ID, &sc.Name, &sc.Books); err != nil {
			return err
		}
		series = append(series, sc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list series: %w", err)
	}
	return series, nil
}

func (c *Catalogue) bookSeries(ctx context.Context, bookID int64) ([]BookSeries, error) {
	s, err := c.stmt("book_series", bookSeriesStatement)
	if err != nil {
		return nil, err
	}
	var series []BookSeries
	err = s.Query(ctx, []any{bookID}, func(rows *sql.Rows) error {
		var bs BookSeries
		if err := rows.Scan(&bs.ID, &bs.Name, &bs.Number); err != nil {
			return err
		}
		series = append(series, bs)
		return nil
	})
	return series, err
}

// setBookSeries replaces the series of a book in the given order.
func (c *Catalogue) setBookSeries(ctx context.Context, bookID int64, series []BookSeries) error {
	if _, err := c.exec(ctx, "delete_book_series", deleteBookSeriesStatement, bookID); err != nil {
		return err
	}
	seen := make(map[int64]bool, len(series))
	position := 0
	for _, s := range series {
		id := s.ID
		if id == 0 {
			var err error
			if id, err = c.GetOrCreateSeries(ctx, s.Name); err != nil {
				return err
			}
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		position++
		_, err := c.exec(ctx, "link_book_series", linkBookSeriesStatement, bookID, id, normalizeName(s.Number), position)
		if err != nil {
			return db.WithEntity(err, "series")
		}
	}
	return nil
}

// PurgeSeries deletes every series no book refers to and returns how many went.
func (c *Catalogue) PurgeSeries(ctx context.Context) (int64, error) {
	n, err := c.exec(ctx, "purge_series", db.PurgeSeriesSQL)
	if err != nil {
		return 0, fmt.Errorf("failed to purge series: %w", err)
	}
	return n, nil
}

// ReplaceSeriesEverywhere moves every book of series from into series to,
// keeps series positions dense and deletes from once unused.
func (c *Catalogue) ReplaceSeriesEverywhere(ctx context.Context, from, to int64) error {
	err := c.h.WithTx(ctx, func(ctx context.Context) error {
		if _, err := c.FetchSeriesByID(ctx, to); err != nil {
			return err
		}
		q := c.h.Querier(ctx)
		touched, err := db.RepointSeries(ctx, q, from, to)
		if err != nil {
			return err
		}
		if len(touched) == 0 {
			return nil
		}
		if err := db.ClosePositionGaps(ctx, q, db.SeriesLinks, touched...); err != nil {
			return err
		}
		return c.refreshFTS(ctx, touched...)
	})
	if err != nil {
		return fmt.Errorf("failed to replace series %d with %d: %w", from, to, err)
	}
	c.logger.Info("series_replaced", slog.Int64("from", from), slog.Int64("to", to))
	return nil
}
