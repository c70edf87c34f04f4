package db

import (
	"context"
	"fmt"
)

const (
	// A book linked to both keeps the earlier of the two positions: when from
	// comes first, to's own row goes and from's row is repointed.
	yieldBookAuthorSQL = `
DELETE FROM book_author
WHERE author = ?2 AND EXISTS (
    SELECT 1 FROM book_author f
    WHERE f.book = book_author.book AND f.author = ?1 AND f.author_position < book_author.author_position
)`
	repointBookAuthorSQL = `
UPDATE book_author SET author = ?2
WHERE author = ?1 AND book NOT IN (SELECT book FROM book_author WHERE author = ?2)`
	dropBookAuthorSQL = `DELETE FROM book_author WHERE author = ?1`

	repointAnthologySQL = `
UPDATE anthology SET author = ?2
WHERE author = ?1 AND NOT EXISTS (
    SELECT 1 FROM anthology a
    WHERE a.book = anthology.book AND a.author = ?2 AND a.title = anthology.title COLLATE LOCALIZED
)`
	dropAnthologySQL = `DELETE FROM anthology WHERE author = ?1`

	yieldBookSeriesSQL = `
DELETE FROM book_series
WHERE series = ?2 AND EXISTS (
    SELECT 1 FROM book_series f
    WHERE f.book = book_series.book AND f.series = ?1 AND f.series_position < book_series.series_position
)`
	repointBookSeriesSQL = `
UPDATE book_series SET series = ?2
WHERE series = ?1 AND book NOT IN (SELECT book FROM book_series WHERE series = ?2)`
	dropBookSeriesSQL = `DELETE FROM book_series WHERE series = ?1`

	booksOfAuthorSQL = `
SELECT book FROM book_author WHERE author = ?1
UNION SELECT book FROM anthology WHERE author = ?1`
	booksOfSeriesSQL = `SELECT book FROM book_series WHERE series = ?1`

	// PurgeAuthorsSQL deletes authors no book or anthology title refers to.
	PurgeAuthorsSQL = `
DELETE FROM authors
WHERE NOT EXISTS (SELECT 1 FROM book_author ba WHERE ba.author = authors._id)
  AND NOT EXISTS (SELECT 1 FROM anthology an WHERE an.author = authors._id)`

	// PurgeSeriesSQL deletes series no book refers to.
	PurgeSeriesSQL = `
DELETE FROM series
WHERE NOT EXISTS (SELECT 1 FROM book_series bs WHERE bs.series = series._id)`

	purgeOneAuthorSQL = PurgeAuthorsSQL + ` AND _id = ?1`
	purgeOneSeriesSQL = PurgeSeriesSQL + ` AND _id = ?1`
)

// RepointAuthor moves every book and anthology link from author from to
// author to. A book linked to both keeps one link at the earlier of the two
// positions, which leaves a hole in its positions; the ids of all touched
// books are returned so the caller can close the gaps. The old author is deleted
// when nothing refers to it any more.
func RepointAuthor(ctx context.Context, q Querier, from, to int64) ([]int64, error) {
	if from == to {
		return nil, nil
	}
	books, err := int64Column(ctx, q, booksOfAuthorSQL, from)
	if err != nil {
		return nil, fmt.Errorf("failed to list books of author %d: %w", from, err)
	}
	steps := []struct {
		query string
		args  []any
	}{
		{yieldBookAuthorSQL, []any{from, to}},
		{repointBookAuthorSQL, []any{from, to}},
		{dropBookAuthorSQL, []any{from}},
		{repointAnthologySQL, []any{from, to}},
		{dropAnthologySQL, []any{from}},
	}
	for _, step := range steps {
		if _, err := q.ExecContext(ctx, step.query, step.args...); err != nil {
			return nil, fmt.Errorf("failed to move links of author %d to %d: %w", from, to, ClassifyError(err))
		}
	}
	if _, err := q.ExecContext(ctx, purgeOneAuthorSQL, from); err != nil {
		return nil, fmt.Errorf("failed to purge author %d: %w", from, err)
	}
	return books, nil
}

// RepointSeries is RepointAuthor for series links.
func RepointSeries(ctx context.Context, q Querier, from, to int64) ([]int64, error) {
	if from == to {
		return nil, nil
	}
	books, err := int64Column(ctx, q, booksOfSeriesSQL, from)
	if err != nil {
		return nil, fmt.Errorf("failed to list books of series %d: %w", from, err)
	}
	if _, err := q.ExecContext(ctx, yieldBookSeriesSQL, from, to); err != nil {
		return nil, fmt.Errorf("failed to move links of series %d to %d: %w", from, to, ClassifyError(err))
	}
	if _, err := q.ExecContext(ctx, repointBookSeriesSQL, from, to); err != nil {
		return nil, fmt.Errorf("failed to move links of series %d to %d: %w", from, to, ClassifyError(err))
	}
	if _, err := q.ExecContext(ctx, dropBookSeriesSQL, from); err != nil {
		return nil, fmt.Errorf("failed to drop links of series %d: %w", from, ClassifyError(err))
	}
	if _, err := q.ExecContext(ctx, purgeOneSeriesSQL, from); err != nil {
		return nil, fmt.Errorf("failed to purge series %d: %w", from, err)
	}
	return books, nil
}

func int64Column(ctx context.Context, q Querier, query string, args ...any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
