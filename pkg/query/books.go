package query

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/unowned-ai/catalogue/pkg/db"
)

// Order selects the sort of a book listing.
type Order int

const (
	// OrderTitle sorts by title. It is the default.
	OrderTitle Order = iota
	OrderAuthor
	OrderSeries
	OrderDateAdded
	OrderDatePublished
)

var orderNames = map[string]Order{
	"title":     OrderTitle,
	"author":    OrderAuthor,
	"series":    OrderSeries,
	"added":     OrderDateAdded,
	"published": OrderDatePublished,
}

// ParseOrder maps a user-facing sort name to an Order. Empty means title.
func ParseOrder(s string) (Order, error) {
	if s == "" {
		return OrderTitle, nil
	}
	o, ok := orderNames[strings.ToLower(s)]
	if !ok {
		return OrderTitle, fmt.Errorf("unknown sort order %q (use title, author, series, added or published)", s)
	}
	return o, nil
}

// NoSeries as BookFilter.SeriesName selects books that belong to no series.
const NoSeries = "\x00no-series"

// BookFilter holds the optional filters of a book listing. The zero value
// lists every book by title.
type BookFilter struct {
	Order      Order
	Descending bool
	// Bookshelf restricts to members of the named shelf. Empty means all books.
	Bookshelf string
	// AuthorWhere is matched against any author of the book, aliased a
	// (authors) and ba (book_author).
	AuthorWhere Predicate
	// BookWhere is matched against the book row, aliased b.
	BookWhere Predicate
	// SearchText is split into words; a book matches when every word occurs
	// in its own text or in the text of a related author, series or
	// anthology title.
	SearchText string
	LoanedTo   string
	// SeriesName restricts to books of the named series, or to books without
	// a series when set to NoSeries.
	SeriesName string
}

// BookRow is one row of a book listing.
type BookRow struct {
	ID            int64   `json:"id"`
	UUID          string  `json:"uuid"`
	Title         string  `json:"title"`
	ISBN          string  `json:"isbn,omitempty"`
	Publisher     string  `json:"publisher,omitempty"`
	DatePublished string  `json:"date_published,omitempty"`
	Rating        float64 `json:"rating,omitempty"`
	Read          bool    `json:"read"`
	Signed        bool    `json:"signed"`
	Format        string  `json:"format,omitempty"`
	Location      string  `json:"location,omitempty"`
	Genre         string  `json:"genre,omitempty"`
	Language      string  `json:"language,omitempty"`
	DateAdded     string  `json:"date_added,omitempty"`
	// FirstAuthor is "Family, Given" of the author at the lowest position.
	FirstAuthor string `json:"first_author,omitempty"`
	// FirstSeries is "Name #Number" of the series at the lowest position.
	FirstSeries string `json:"first_series,omitempty"`
	LoanedTo    string `json:"loaned_to,omitempty"`
}

const (
	firstAuthorSQL = `(
    SELECT a.family_name || CASE WHEN a.given_names <> '' THEN ', ' || a.given_names ELSE '' END
    FROM book_author ba JOIN authors a ON a._id = ba.author
    WHERE ba.book = b._id
    ORDER BY ba.author_position, ba.author
    LIMIT 1)`

	firstSeriesNameSQL = `(
    SELECT s.series_name
    FROM book_series bs JOIN series s ON s._id = bs.series
    WHERE bs.book = b._id
    ORDER BY bs.series_position, bs.series
    LIMIT 1)`

	firstSeriesSQL = `(
    SELECT s.series_name || CASE WHEN COALESCE(bs.series_num, '') <> '' THEN ' #' || bs.series_num ELSE '' END
    FROM book_series bs JOIN series s ON s._id = bs.series
    WHERE bs.book = b._id
    ORDER BY bs.series_position, bs.series
    LIMIT 1)`

	firstSeriesNumSQL = `(
    SELECT bs.series_num
    FROM book_series bs
    WHERE bs.book = b._id
    ORDER BY bs.series_position, bs.series
    LIMIT 1)`
)

// bookRowColumns must stay in step with ScanBookRow.
var bookRowColumns = strings.Join([]string{
	"b._id",
	"b.book_uuid",
	"b.title",
	"COALESCE(b.isbn, '')",
	"COALESCE(b.publisher, '')",
	"COALESCE(b.date_published, '')",
	"COALESCE(b.rating, 0)",
	"COALESCE(b.read, 0)",
	"COALESCE(b.signed, 0)",
	"COALESCE(b.format, '')",
	"COALESCE(b.location, '')",
	"COALESCE(b.genre, '')",
	"COALESCE(b.language, '')",
	"COALESCE(b.date_added, '')",
	"COALESCE(" + firstAuthorSQL + ", '') AS first_author",
	"COALESCE(" + firstSeriesSQL + ", '') AS first_series",
	"COALESCE(l.loaned_to, '') AS loaned_to",
}, ",\n    ")

// ScanBookRow reads one row produced by BuildBookQuery or BuildIsbnQuery.
func ScanBookRow(rows *sql.Rows) (BookRow, error) {
	var r BookRow
	err := rows.Scan(
		&r.ID, &r.UUID, &r.Title, &r.ISBN, &r.Publisher, &r.DatePublished,
		&r.Rating, &r.Read, &r.Signed, &r.Format, &r.Location, &r.Genre,
		&r.Language, &r.DateAdded, &r.FirstAuthor, &r.FirstSeries, &r.LoanedTo,
	)
	if err != nil {
		return BookRow{}, fmt.Errorf("failed to scan book row: %w", err)
	}
	return r, nil
}

// BuildBookQuery composes the listing query for f.
func BuildBookQuery(f BookFilter) (string, []any) {
	var (
		sb    strings.Builder
		args  []any
		where And
	)

	sb.WriteString("SELECT\n    " + bookRowColumns + "\nFROM books b")

	if f.Bookshelf != "" {
		sb.WriteString("\nJOIN book_bookshelf_weak bbw ON bbw.book = b._id")
		sb.WriteString("\nJOIN bookshelf sh ON sh._id = bbw.bookshelf AND sh.bookshelf = ? COLLATE " + db.CollationName)
		args = append(args, f.Bookshelf)
	}

	switch f.SeriesName {
	case "":
	case NoSeries:
		where = append(where, Not{Exists{From: "book_series nbs", Where: Raw{SQL: "nbs.book = b._id"}}})
	default:
		sb.WriteString("\nJOIN book_series fbs ON fbs.book = b._id")
		sb.WriteString("\nJOIN series fs ON fs._id = fbs.series AND fs.series_name = ? COLLATE " + db.CollationName)
		args = append(args, f.SeriesName)
	}

	sb.WriteString("\nLEFT JOIN loan l ON l.book = b._id")

	if f.LoanedTo != "" {
		where = append(where, TextEquals{Column: "l.loaned_to", Value: f.LoanedTo})
	}
	if f.AuthorWhere != nil {
		where = append(where, Exists{
			From:  "book_author ba JOIN authors a ON a._id = ba.author",
			Where: And{Raw{SQL: "ba.book = b._id"}, f.AuthorWhere},
		})
	}
	if f.BookWhere != nil {
		where = append(where, f.BookWhere)
	}
	if p := SearchPredicate(f.SearchText); p != nil {
		where = append(where, p)
	}

	if len(where) > 0 {
		clause, whereArgs := Render(where)
		sb.WriteString("\nWHERE " + clause)
		args = append(args, whereArgs...)
	}

	sb.WriteString("\nORDER BY " + orderClause(f.Order, f.Descending))
	return sb.String(), args
}

func orderClause(o Order, desc bool) string {
	dir := ""
	if desc {
		dir = " DESC"
	}
	// b._id last keeps equal keys in a stable order across LIMIT/OFFSET pages.
	title := "b.title COLLATE " + db.CollationName + dir + ", b._id"
	switch o {
	case OrderAuthor:
		return "first_author COLLATE " + db.CollationName + dir + ", " + title
	case OrderSeries:
		return "COALESCE(" + firstSeriesNameSQL + ", '') COLLATE " + db.CollationName + dir +
			", CAST(" + firstSeriesNumSQL + " AS REAL)" + dir + ", " + title
	case OrderDateAdded:
		return "b.date_added" + dir + ", " + title
	case OrderDatePublished:
		return "b.date_published" + dir + ", " + title
	default:
		return title
	}
}

// searchColumns are the book's own text columns that free-text search reads.
var searchColumns = []string{"b.title", "b.isbn", "b.publisher", "b.notes", "b.location", "b.description"}

// SearchPredicate expands free text into a predicate: every word must match,
// and a word matches a book when any of its own text columns or any related
// author, series or anthology title contains it. Blank text yields nil.
func SearchPredicate(text string) Predicate {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	all := make(And, 0, len(words))
	for _, w := range words {
		word := make(Or, 0, len(searchColumns)+3)
		for _, c := range searchColumns {
			word = append(word, TextLike{Column: c, Value: w})
		}
		word = append(word,
			Exists{
				From: "book_author sba JOIN authors sa ON sa._id = sba.author",
				Where: And{
					Raw{SQL: "sba.book = b._id"},
					Or{TextLike{Column: "sa.family_name", Value: w}, TextLike{Column: "sa.given_names", Value: w}},
				},
			},
			Exists{
				From: "book_series sbs JOIN series ss ON ss._id = sbs.series",
				Where: And{
					Raw{SQL: "sbs.book = b._id"},
					TextLike{Column: "ss.series_name", Value: w},
				},
			},
			Exists{
				From: "anthology san LEFT JOIN authors saa ON saa._id = san.author",
				Where: And{
					Raw{SQL: "san.book = b._id"},
					Or{
						TextLike{Column: "san.title", Value: w},
						TextLike{Column: "saa.family_name", Value: w},
						TextLike{Column: "saa.given_names", Value: w},
					},
				},
			},
		)
		all = append(all, word)
	}
	return all
}

// NormalizeISBN strips separators so ISBNs typed with or without hyphens compare equal.
func NormalizeISBN(isbn string) string {
	return strings.ToUpper(strings.NewReplacer("-", "", " ", "").Replace(strings.TrimSpace(isbn)))
}

// BuildIsbnQuery selects the books whose ISBN matches any of isbns,
// ignoring hyphens and spaces. It returns "" when isbns holds nothing usable.
func BuildIsbnQuery(isbns []string) (string, []any) {
	var args []any
	for _, isbn := range isbns {
		if n := NormalizeISBN(isbn); n != "" {
			args = append(args, n)
		}
	}
	if len(args) == 0 {
		return "", nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ")
	return "SELECT\n    " + bookRowColumns + "\nFROM books b\nLEFT JOIN loan l ON l.book = b._id" +
		"\nWHERE upper(replace(replace(b.isbn, '-', ''), ' ', '')) IN (" + placeholders + ")" +
		"\nORDER BY " + orderClause(OrderTitle, false), args
}
