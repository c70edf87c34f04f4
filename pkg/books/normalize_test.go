package books

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unowned-ai/catalogue/pkg/db"
)

func authorPositions(t *testing.T, c *Catalogue, bookID int64) []int {
	t.Helper()
	var positions []int
	err := c.Handle().Query(context.Background(),
		`SELECT author_position FROM book_author WHERE book = ? ORDER BY author_position`, []any{bookID},
		func(rows *sql.Rows) error {
			var p int
			if err := rows.Scan(&p); err != nil {
				return err
			}
			positions = append(positions, p)
			return nil
		})
	require.NoError(t, err)
	return positions
}

func TestGetOrCreateAuthor_IgnoresCase(t *testing.T) {
	c := newTestCatalogue(t)
	ctx := context.Background()

	first, err := c.GetOrCreateAuthor(ctx, "King", "stephen")
	require.NoError(t, err)
	second, err := c.GetOrCreateAuthor(ctx, "KING", " Stephen ")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	createTestBook(t, c, "Carrie", Author{FamilyName: "King", GivenNames: "Stephen"})
	createTestBook(t, c, "Misery", Author{FamilyName: "king", GivenNames: "STEPHEN"})

	authors, err := c.ListAuthors(ctx)
	require.NoError(t, err)
	require.Len(t, authors, 1)
	assert.Equal(t, first, authors[0].ID)
	assert.Equal(t, 2, authors[0].Books)
	assert.Equal(t, "King, stephen", authors[0].DisplayName())

	_, err = c.GetOrCreateAuthor(ctx, "  ", "Nobody")
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestGetOrCreateSeries_IgnoresCase(t *testing.T) {
	c := newTestCatalogue(t)
	ctx := context.Background()

	first, err := c.GetOrCreateSeries(ctx, "The Dark Tower")
	require.NoError(t, err)
	second, err := c.GetOrCreateSeries(ctx, "the dark  TOWER")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	series, err := c.ListSeries(ctx)
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, 0, series[0].Books)
}

func TestReplaceAuthorEverywhere_KeepsPositionsDense(t *testing.T) {
	c := newTestCatalogue(t)
	ctx := context.Background()

	talisman := createTestBook(t, c, "The Talisman",
		Author{FamilyName: "King", GivenNames: "S."},
		Author{FamilyName: "Straub", GivenNames: "Peter"},
		Author{FamilyName: "King", GivenNames: "Stephen"})
	carrie := createTestBook(t, c, "Carrie", Author{FamilyName: "King", GivenNames: "S."})
	variant, canonical := talisman.Authors[0].ID, talisman.Authors[2].ID

	require.NoError(t, c.ReplaceAuthorEverywhere(ctx, variant, canonical))

	b, err := c.FetchBookByID(ctx, talisman.ID)
	require.NoError(t, err)
	require.Len(t, b.Authors, 2)
	assert.Equal(t, "King, Stephen", b.Authors[0].DisplayName(), "the merged author keeps the earlier position")
	assert.Equal(t, "Straub, Peter", b.Authors[1].DisplayName())
	assert.Equal(t, []int{1, 2}, authorPositions(t, c, talisman.ID))

	b, err = c.FetchBookByID(ctx, carrie.ID)
	require.NoError(t, err)
	assert.Equal(t, "King, Stephen", b.FirstAuthor())
	assert.Equal(t, []int{1}, authorPositions(t, c, carrie.ID))

	_, err = c.FetchAuthorByID(ctx, variant)
	assert.ErrorIs(t, err, db.ErrNotFound)

	ids, err := c.SearchFTS(ctx, "stephen", "carrie", "")
	require.NoError(t, err)
	assert.Equal(t, []int64{carrie.ID}, ids, "the index follows the replacement")

	err = c.ReplaceAuthorEverywhere(ctx, canonical, 9999)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestReplaceAuthorEverywhere_EarlierPositionWins(t *testing.T) {
	c := newTestCatalogue(t)
	ctx := context.Background()

	first := createTestBook(t, c, "Good Omens",
		Author{FamilyName: "Old", GivenNames: "A"},
		Author{FamilyName: "Middle", GivenNames: "B"},
		Author{FamilyName: "New", GivenNames: "C"})
	old, middle, canonical := first.Authors[0].ID, first.Authors[1].ID, first.Authors[2].ID
	second := createTestBook(t, c, "The Long Earth",
		Author{ID: canonical},
		Author{ID: middle},
		Author{ID: old})

	require.NoError(t, c.ReplaceAuthorEverywhere(ctx, old, canonical))

	b, err := c.FetchBookByID(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, b.Authors, 2)
	assert.Equal(t, "New, C", b.FirstAuthor())
	assert.Equal(t, "Middle, B", b.Authors[1].DisplayName())
	assert.Equal(t, []int{1, 2}, authorPositions(t, c, first.ID))

	b, err = c.FetchBookByID(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, b.Authors, 2)
	assert.Equal(t, "New, C", b.FirstAuthor())
	assert.Equal(t, "Middle, B", b.Authors[1].DisplayName())
	assert.Equal(t, []int{1, 2}, authorPositions(t, c, second.ID))
}

func TestReplaceSeriesEverywhere_EarlierPositionWins(t *testing.T) {
	c := newTestCatalogue(t)
	ctx := context.Background()

	b, err := c.CreateBook(ctx, Book{
		Title:   "Mort",
		Authors: []Author{{FamilyName: "Pratchett", GivenNames: "Terry"}},
		Series: []BookSeries{
			{Series: Series{Name: "Disc World"}, Number: "4"},
			{Series: Series{Name: "Death"}, Number: "1"},
			{Series: Series{Name: "Discworld"}, Number: "4"},
		},
	})
	require.NoError(t, err)
	variant, canonical := b.Series[0].ID, b.Series[2].ID

	require.NoError(t, c.ReplaceSeriesEverywhere(ctx, variant, canonical))

	b, err = c.FetchBookByID(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, b.Series, 2)
	assert.Equal(t, "Discworld", b.Series[0].Name)
	assert.Equal(t, "Death", b.Series[1].Name)
}

func TestReplaceSeriesEverywhere(t *testing.T) {
	c := newTestCatalogue(t)
	ctx := context.Background()

	b, err := c.CreateBook(ctx, Book{
		Title:   "The Gunslinger",
		Authors: []Author{{FamilyName: "King"}},
		Series:  []BookSeries{{Series: Series{Name: "Dark Tower"}, Number: "1"}},
	})
	require.NoError(t, err)
	canonical, err := c.GetOrCreateSeries(ctx, "The Dark Tower")
	require.NoError(t, err)

	require.NoError(t, c.ReplaceSeriesEverywhere(ctx, b.Series[0].ID, canonical))

	b, err = c.FetchBookByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "The Dark Tower #1", b.FirstSeries())

	series, err := c.ListSeries(ctx)
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, canonical, series[0].ID)
}

func TestPurgeAuthors_OnlyOrphans(t *testing.T) {
	c := newTestCatalogue(t)
	ctx := context.Background()

	lem := Author{FamilyName: "Lem", GivenNames: "Stanisław"}
	solaris := createTestBook(t, c, "Solaris", lem)
	fiasco := createTestBook(t, c, "Fiasco", lem)
	lemID := solaris.Authors[0].ID

	for range 3 {
		n, err := c.PurgeAuthors(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	}

	_, err := c.DeleteBook(ctx, solaris.ID)
	require.NoError(t, err)
	n, err := c.PurgeAuthors(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = c.FetchAuthorByID(ctx, lemID)
	require.NoError(t, err, "an author with books left survives purges")

	_, err = c.DeleteBook(ctx, fiasco.ID)
	require.NoError(t, err)
	_, err = c.PurgeAuthors(ctx)
	require.NoError(t, err)
	_, err = c.FetchAuthorByID(ctx, lemID)
	assert.ErrorIs(t, err, db.ErrNotFound)

	_, err = c.GetOrCreateAuthor(ctx, "Unused", "")
	require.NoError(t, err)
	n, err = c.PurgeAuthors(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestBookshelves(t *testing.T) {
	c := newTestCatalogue(t)
	ctx := context.Background()

	attic, err := c.CreateBookshelf(ctx, "Attic")
	require.NoError(t, err)

	_, err = c.CreateBookshelf(ctx, "ATTIC")
	var constraint *db.ConstraintError
	require.ErrorAs(t, err, &constraint)
	assert.Equal(t, "bookshelf", constraint.Entity)

	require.NoError(t, c.RenameBookshelf(ctx, attic.ID, "Loft"))
	assert.ErrorIs(t, c.RenameBookshelf(ctx, 999, "Cellar"), db.ErrNotFound)

	b, err := c.CreateBook(ctx, Book{Title: "Stored", Authors: []Author{{FamilyName: "X"}}, Bookshelves: []Bookshelf{{ID: attic.ID}}})
	require.NoError(t, err)
	assert.Equal(t, []Bookshelf{{ID: attic.ID, Name: "Loft"}}, b.Bookshelves)

	shelves, err := c.ListBookshelves(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Bookshelf{{ID: db.DefaultBookshelfID, Name: db.DefaultBookshelfName}, {ID: attic.ID, Name: "Loft"}}, shelves)

	assert.ErrorIs(t, c.DeleteBookshelf(ctx, db.DefaultBookshelfID), ErrDefaultBookshelf)
	require.NoError(t, c.DeleteBookshelf(ctx, attic.ID))
	assert.ErrorIs(t, c.DeleteBookshelf(ctx, attic.ID), db.ErrNotFound)

	b, err = c.FetchBookByID(ctx, b.ID)
	require.NoError(t, err, "deleting a shelf keeps its books")
	assert.Empty(t, b.Bookshelves)
}

func TestLoans(t *testing.T) {
	c := newTestCatalogue(t)
	ctx := context.Background()
	b := createTestBook(t, c, "Lent")

	require.NoError(t, c.CreateLoan(ctx, b.ID, " Ann "))
	err := c.CreateLoan(ctx, b.ID, "Bob")
	var constraint *db.ConstraintError
	require.ErrorAs(t, err, &constraint)
	assert.Equal(t, "loan", constraint.Entity)

	loan, err := c.FetchLoan(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, Loan{BookID: b.ID, LoanedTo: "Ann"}, loan)

	fetched, err := c.FetchBookByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ann", fetched.LoanedTo)

	require.NoError(t, c.DeleteLoan(ctx, b.ID))
	assert.ErrorIs(t, c.DeleteLoan(ctx, b.ID), db.ErrNotFound)
}

func TestAnthologyTitles(t *testing.T) {
	c := newTestCatalogue(t)
	ctx := context.Background()
	bradbury := Author{FamilyName: "Bradbury", GivenNames: "Ray"}
	b := createTestBook(t, c, "The Golden Apples of the Sun", bradbury)

	var ids []int64
	for _, title := range []string{"The Fog Horn", "The Pedestrian", "A Sound of Thunder"} {
		at, err := c.CreateAnthologyTitle(ctx, b.ID, bradbury, title)
		require.NoError(t, err)
		ids = append(ids, at.ID)
	}

	_, err := c.CreateAnthologyTitle(ctx, b.ID, bradbury, "the fog horn")
	var constraint *db.ConstraintError
	require.ErrorAs(t, err, &constraint)
	assert.Equal(t, "anthology", constraint.Entity)

	titlesOf := func() ([]string, []int) {
		t.Helper()
		list, err := c.ListAnthologyTitles(ctx, b.ID)
		require.NoError(t, err)
		var titles []string
		var positions []int
		for _, at := range list {
			titles = append(titles, at.Title)
			positions = append(positions, at.Position)
		}
		return titles, positions
	}

	titles, positions := titlesOf()
	assert.Equal(t, []string{"The Fog Horn", "The Pedestrian", "A Sound of Thunder"}, titles)
	assert.Equal(t, []int{1, 2, 3}, positions)

	require.NoError(t, c.ReorderAnthologyTitle(ctx, ids[2], 1))
	titles, positions = titlesOf()
	assert.Equal(t, []string{"A Sound of Thunder", "The Fog Horn", "The Pedestrian"}, titles)
	assert.Equal(t, []int{1, 2, 3}, positions)

	require.NoError(t, c.ReorderAnthologyTitle(ctx, ids[2], 10))
	titles, _ = titlesOf()
	assert.Equal(t, []string{"The Fog Horn", "The Pedestrian", "A Sound of Thunder"}, titles)

	require.NoError(t, c.DeleteAnthologyTitle(ctx, ids[0]))
	titles, positions = titlesOf()
	assert.Equal(t, []string{"The Pedestrian", "A Sound of Thunder"}, titles)
	assert.Equal(t, []int{1, 2}, positions)

	fetched, err := c.FetchBookByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, fetched.AnthologyMask)
	assert.Len(t, fetched.AnthologyTitles, 2)

	assert.ErrorIs(t, c.DeleteAnthologyTitle(ctx, ids[0]), db.ErrNotFound)
}
