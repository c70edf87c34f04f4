package query

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unowned-ai/catalogue/pkg/db"
)

func seededHandle(t *testing.T) *db.Handle {
	t.Helper()
	h, err := db.Open(db.Options{Path: filepath.Join(t.TempDir(), "catalogue.db"), Sync: "OFF"})
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	ctx := context.Background()
	_, err = db.NewMigrator(h, db.MigratorOptions{}).Migrate(ctx)
	require.NoError(t, err)

	for _, stmt := range []string{
		`INSERT INTO authors (_id, family_name, given_names) VALUES (1, 'Asimov', 'Isaac'), (2, 'King', 'Stephen'), (3, 'Straub', 'Peter'), (4, 'Bradbury', 'Ray')`,
		`INSERT INTO series (_id, series_name) VALUES (1, 'Foundation'), (2, 'The Dark Tower')`,
		`INSERT INTO bookshelf (_id, bookshelf) VALUES (2, 'Attic')`,
		`INSERT INTO books (_id, title, book_uuid, isbn, publisher, date_added, notes) VALUES
            (1, 'Foundation', 'u1', '978-0-553-29335-7', 'Bantam', '2020-01-01', NULL),
            (2, 'Second Foundation', 'u2', '0553293362', 'Bantam', '2021-01-01', NULL),
            (3, 'The Talisman', 'u3', NULL, 'Viking', '2019-01-01', 'signed by both'),
            (4, 'The Gunslinger', 'u4', NULL, 'Grant', '2022-01-01', NULL),
            (5, 'zen stories', 'u5', NULL, NULL, '2018-01-01', NULL)`,
		`INSERT INTO book_author (book, author, author_position) VALUES
            (1, 1, 1), (2, 1, 1), (3, 2, 1), (3, 3, 2), (4, 2, 1), (5, 4, 1)`,
		`INSERT INTO book_series (book, series, series_num, series_position) VALUES
            (1, 1, '1', 1), (2, 1, '3', 1), (4, 2, '1', 1)`,
		`INSERT INTO book_bookshelf_weak (book, bookshelf) VALUES (1, 1), (2, 1), (3, 2), (4, 2), (5, 1)`,
		`INSERT INTO anthology (book, author, title, position) VALUES (5, 4, 'The Fog Horn', 1)`,
		`INSERT INTO loan (book, loaned_to) VALUES (3, 'Ann')`,
	} {
		_, err := h.Exec(ctx, stmt)
		require.NoError(t, err, stmt)
	}
	return h
}

func listTitles(t *testing.T, h *db.Handle, query string, args []any) []string {
	t.Helper()
	var titles []string
	err := h.Query(context.Background(), query, args, func(rows *sql.Rows) error {
		r, err := ScanBookRow(rows)
		if err != nil {
			return err
		}
		titles = append(titles, r.Title)
		return nil
	})
	require.NoError(t, err, query)
	return titles
}

func TestBuildBookQuery_Filters(t *testing.T) {
	h := seededHandle(t)

	tests := []struct {
		name   string
		filter BookFilter
		want   []string
	}{
		{
			name: "everything by title",
			want: []string{"Foundation", "Second Foundation", "The Gunslinger", "The Talisman", "zen stories"},
		},
		{
			name:   "descending",
			filter: BookFilter{Descending: true},
			want:   []string{"zen stories", "The Talisman", "The Gunslinger", "Second Foundation", "Foundation"},
		},
		{
			name:   "bookshelf ignores case",
			filter: BookFilter{Bookshelf: "ATTIC"},
			want:   []string{"The Gunslinger", "The Talisman"},
		},
		{
			name:   "author predicate",
			filter: BookFilter{AuthorWhere: TextEquals{Column: "a.family_name", Value: "king"}},
			want:   []string{"The Gunslinger", "The Talisman"},
		},
		{
			name:   "book predicate",
			filter: BookFilter{BookWhere: TextEquals{Column: "b.publisher", Value: "BANTAM"}},
			want:   []string{"Foundation", "Second Foundation"},
		},
		{
			name:   "loaned to",
			filter: BookFilter{LoanedTo: "ann"},
			want:   []string{"The Talisman"},
		},
		{
			name:   "series",
			filter: BookFilter{SeriesName: "foundation"},
			want:   []string{"Foundation", "Second Foundation"},
		},
		{
			name:   "no series",
			filter: BookFilter{SeriesName: NoSeries},
			want:   []string{"The Talisman", "zen stories"},
		},
		{
			name:   "search matches any related text",
			filter: BookFilter{SearchText: "straub"},
			want:   []string{"The Talisman"},
		},
		{
			name:   "search words must all match",
			filter: BookFilter{SearchText: "king tower"},
			want:   []string{"The Gunslinger"},
		},
		{
			name:   "search reads anthology titles",
			filter: BookFilter{SearchText: "FOG"},
			want:   []string{"zen stories"},
		},
		{
			name:   "search reads notes",
			filter: BookFilter{SearchText: "signed"},
			want:   []string{"The Talisman"},
		},
		{
			name:   "order by author",
			filter: BookFilter{Order: OrderAuthor},
			want:   []string{"Foundation", "Second Foundation", "zen stories", "The Gunslinger", "The Talisman"},
		},
		{
			name:   "order by date added",
			filter: BookFilter{Order: OrderDateAdded},
			want:   []string{"zen stories", "The Talisman", "Foundation", "Second Foundation", "The Gunslinger"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := BuildBookQuery(tt.filter)
			assert.Equal(t, tt.want, listTitles(t, h, query, args))
		})
	}
}

func TestBuildBookQuery_FirstAuthorAndSeries(t *testing.T) {
	h := seededHandle(t)
	query, args := BuildBookQuery(BookFilter{SearchText: "talisman"})

	var got []BookRow
	err := h.Query(context.Background(), query, args, func(rows *sql.Rows) error {
		r, err := ScanBookRow(rows)
		got = append(got, r)
		return err
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "King, Stephen", got[0].FirstAuthor)
	assert.Empty(t, got[0].FirstSeries)
	assert.Equal(t, "Ann", got[0].LoanedTo)

	query, args = BuildBookQuery(BookFilter{SearchText: "second"})
	got = nil
	err = h.Query(context.Background(), query, args, func(rows *sql.Rows) error {
		r, err := ScanBookRow(rows)
		got = append(got, r)
		return err
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Asimov, Isaac", got[0].FirstAuthor)
	assert.Equal(t, "Foundation #3", got[0].FirstSeries)
}

func TestBuildBookQuery_OrderBreaksTiesByID(t *testing.T) {
	h := seededHandle(t)
	ctx := context.Background()
	for _, stmt := range []string{
		`INSERT INTO books (_id, title, book_uuid, date_added) VALUES
            (9, 'Twin', 'u9', '2023-01-01'), (7, 'Twin', 'u7', '2023-01-01'),
            (8, 'Twin', 'u8', '2023-01-01'), (6, 'Twin', 'u6', '2023-01-01')`,
		`INSERT INTO book_author (book, author, author_position) VALUES (9, 2, 1), (7, 2, 1), (8, 2, 1), (6, 2, 1)`,
	} {
		_, err := h.Exec(ctx, stmt)
		require.NoError(t, err, stmt)
	}

	ids := func(query string, args []any) []int64 {
		var got []int64
		err := h.Query(ctx, query, args, func(rows *sql.Rows) error {
			r, err := ScanBookRow(rows)
			if r.Title == "Twin" {
				got = append(got, r.ID)
			}
			return err
		})
		require.NoError(t, err)
		return got
	}

	for _, order := range []Order{OrderTitle, OrderAuthor, OrderSeries, OrderDateAdded, OrderDatePublished} {
		query, args := BuildBookQuery(BookFilter{Order: order})
		assert.Equal(t, []int64{6, 7, 8, 9}, ids(query, args), "order %d", order)

		// One row per page must visit every tied book exactly once.
		var paged []int64
		for offset := range 9 {
			paged = append(paged, ids(query+"\nLIMIT ? OFFSET ?", append(args[:len(args):len(args)], 1, offset))...)
		}
		assert.Equal(t, []int64{6, 7, 8, 9}, paged, "order %d", order)
	}
}

func TestBuildBookQuery_SearchIsSupersetOfEachWord(t *testing.T) {
	h := seededHandle(t)

	q, args := BuildBookQuery(BookFilter{SearchText: "foundation bantam"})
	both := listTitles(t, h, q, args)
	q, args = BuildBookQuery(BookFilter{SearchText: "foundation"})
	one := listTitles(t, h, q, args)

	assert.Subset(t, one, both)
}

func TestBuildIsbnQuery(t *testing.T) {
	h := seededHandle(t)

	query, args := BuildIsbnQuery([]string{"9780553293357", " 0-553-29336-2 ", ""})
	assert.Equal(t, []any{"9780553293357", "0553293362"}, args)
	assert.Equal(t, []string{"Foundation", "Second Foundation"}, listTitles(t, h, query, args))

	query, args = BuildIsbnQuery([]string{" ", "-"})
	assert.Empty(t, query)
	assert.Nil(t, args)
}

func TestParseOrder(t *testing.T) {
	o, err := ParseOrder("")
	require.NoError(t, err)
	assert.Equal(t, OrderTitle, o)

	o, err = ParseOrder("Published")
	require.NoError(t, err)
	assert.Equal(t, OrderDatePublished, o)

	_, err = ParseOrder("colour")
	assert.Error(t, err)
}
