package db

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustExec(t *testing.T, q Querier, query string, args ...any) {
	t.Helper()
	_, err := q.ExecContext(context.Background(), query, args...)
	require.NoError(t, err, query)
}

func insertBook(t *testing.T, q Querier, id int64, title string) {
	t.Helper()
	mustExec(t, q, `INSERT INTO books (_id, title, book_uuid) VALUES (?, ?, ?)`, id, title, title+"-uuid")
}

// authorOrder returns the author ids of a book by position, with positions.
func authorOrder(t *testing.T, q Querier, book int64) (ids []int64, positions []int) {
	t.Helper()
	rows, err := q.QueryContext(context.Background(),
		`SELECT author, author_position FROM book_author WHERE book = ? ORDER BY author_position`, book)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var id int64
		var pos int
		require.NoError(t, rows.Scan(&id, &pos))
		ids = append(ids, id)
		positions = append(positions, pos)
	}
	require.NoError(t, rows.Err())
	return ids, positions
}

func TestClosePositionGaps_KeepsOrder(t *testing.T) {
	h := migratedHandle(t)
	q := h.db

	mustExec(t, q, `INSERT INTO authors (_id, family_name, given_names) VALUES (1, 'A', ''), (2, 'B', ''), (3, 'C', '')`)
	insertBook(t, q, 10, "Gappy")
	insertBook(t, q, 11, "Untouched")
	mustExec(t, q, `INSERT INTO book_author (book, author, author_position) VALUES (10, 3, 2), (10, 1, 5), (10, 2, 9), (11, 1, 4)`)

	require.NoError(t, ClosePositionGaps(context.Background(), q, AuthorLinks, 10))

	ids, positions := authorOrder(t, q, 10)
	assert.Equal(t, []int64{3, 1, 2}, ids)
	assert.Equal(t, []int{1, 2, 3}, positions)

	_, positions = authorOrder(t, q, 11)
	assert.Equal(t, []int{4}, positions, "books outside the filter keep their positions")

	require.NoError(t, ClosePositionGaps(context.Background(), q, AuthorLinks))
	_, positions = authorOrder(t, q, 11)
	assert.Equal(t, []int{1}, positions)
}

func TestClosePositionGaps_Anthology(t *testing.T) {
	h := migratedHandle(t)
	q := h.db

	mustExec(t, q, `INSERT INTO authors (_id, family_name, given_names) VALUES (1, 'A', '')`)
	insertBook(t, q, 1, "Collection")
	mustExec(t, q, `INSERT INTO anthology (book, author, title, position) VALUES (1, 1, 'One', 3), (1, 1, 'Two', 7)`)

	require.NoError(t, ClosePositionGaps(context.Background(), q, AnthologyLinks, 1))

	rows, err := q.Query(`SELECT title, position FROM anthology ORDER BY position`)
	require.NoError(t, err)
	defer rows.Close()
	var got []string
	for rows.Next() {
		var title string
		var pos int
		require.NoError(t, rows.Scan(&title, &pos))
		got = append(got, title)
		assert.Equal(t, len(got), pos)
	}
	assert.Equal(t, []string{"One", "Two"}, got)
}

func TestRepointAuthor_GuardsExistingLinks(t *testing.T) {
	h := migratedHandle(t)
	q := h.db
	ctx := context.Background()

	mustExec(t, q, `INSERT INTO authors (_id, family_name, given_names) VALUES (1, 'King', 'Stephen'), (2, 'King', 'S.'), (3, 'Straub', 'Peter')`)
	insertBook(t, q, 1, "The Talisman")
	insertBook(t, q, 2, "Carrie")
	// Book 1 already has both the old and the new author.
	mustExec(t, q, `INSERT INTO book_author (book, author, author_position) VALUES (1, 2, 1), (1, 3, 2), (1, 1, 3), (2, 2, 1)`)
	mustExec(t, q, `INSERT INTO anthology (book, author, title, position) VALUES (2, 2, 'Foreword', 1)`)

	books, err := RepointAuthor(ctx, q, 2, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, books)
	require.NoError(t, ClosePositionGaps(ctx, q, AuthorLinks, books...))

	ids, positions := authorOrder(t, q, 1)
	assert.Equal(t, []int64{1, 3}, ids, "the surviving author takes the earlier position")
	assert.Equal(t, []int{1, 2}, positions)

	ids, positions = authorOrder(t, q, 2)
	assert.Equal(t, []int64{1}, ids)
	assert.Equal(t, []int{1}, positions)

	var anthologyAuthor int64
	require.NoError(t, q.QueryRow(`SELECT author FROM anthology WHERE book = 2`).Scan(&anthologyAuthor))
	assert.Equal(t, int64(1), anthologyAuthor)

	err = q.QueryRow(`SELECT _id FROM authors WHERE _id = 2`).Scan(new(int64))
	assert.ErrorIs(t, err, sql.ErrNoRows, "the replaced author is purged")
}

func TestRepointSeries(t *testing.T) {
	h := migratedHandle(t)
	q := h.db
	ctx := context.Background()

	mustExec(t, q, `INSERT INTO series (_id, series_name) VALUES (1, 'Foundation'), (2, 'Foundation Saga')`)
	insertBook(t, q, 1, "Foundation")
	mustExec(t, q, `INSERT INTO book_series (book, series, series_num, series_position) VALUES (1, 2, '1', 1)`)

	books, err := RepointSeries(ctx, q, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, books)

	var series int64
	var num string
	require.NoError(t, q.QueryRow(`SELECT series, series_num FROM book_series WHERE book = 1`).Scan(&series, &num))
	assert.Equal(t, int64(1), series)
	assert.Equal(t, "1", num)

	books, err = RepointSeries(ctx, q, 1, 1)
	require.NoError(t, err)
	assert.Empty(t, books, "repointing onto itself changes nothing")
}

func TestRepointSeries_EarlierPositionWins(t *testing.T) {
	h := migratedHandle(t)
	q := h.db
	ctx := context.Background()

	mustExec(t, q, `INSERT INTO series (_id, series_name) VALUES (1, 'Discworld'), (2, 'Disc World'), (3, 'Death')`)
	insertBook(t, q, 1, "Mort")
	mustExec(t, q, `INSERT INTO book_series (book, series, series_num, series_position) VALUES (1, 2, '4', 1), (1, 3, '1', 2), (1, 1, '4', 3)`)

	books, err := RepointSeries(ctx, q, 2, 1)
	require.NoError(t, err)
	require.NoError(t, ClosePositionGaps(ctx, q, SeriesLinks, books...))

	var first int64
	require.NoError(t, q.QueryRow(`SELECT series FROM book_series WHERE book = 1 AND series_position = 1`).Scan(&first))
	assert.Equal(t, int64(1), first)
	var n int
	require.NoError(t, q.QueryRow(`SELECT COUNT(*) FROM book_series WHERE book = 1`).Scan(&n))
	assert.Equal(t, 2, n)
}
