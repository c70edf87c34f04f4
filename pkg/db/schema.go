package db

import (
	"context"
	"fmt"
	"strings"
)

// CurrentSchemaVersion is the schema version this build creates and migrates to.
const CurrentSchemaVersion = 82

// DefaultBookshelfID is the shelf that always exists.
const DefaultBookshelfID int64 = 1

// DefaultBookshelfName is the name of the default shelf on fresh stores.
const DefaultBookshelfName = "Default"

const (
	TableAuthors       = "authors"
	TableSeries        = "series"
	TableBookshelf     = "bookshelf"
	TableBooks         = "books"
	TableBookAuthor    = "book_author"
	TableBookSeries    = "book_series"
	TableBookBookshelf = "book_bookshelf_weak"
	TableAnthology     = "anthology"
	TableLoan          = "loan"
	TableFTS           = "books_fts"
	TableFTSRebuild    = "books_fts_rebuild"
)

const (
	createAuthorsSQL = `
CREATE TABLE authors (
    _id INTEGER PRIMARY KEY AUTOINCREMENT,
    family_name TEXT NOT NULL,
    given_names TEXT NOT NULL DEFAULT ''
)`

	createSeriesSQL = `
CREATE TABLE series (
    _id INTEGER PRIMARY KEY AUTOINCREMENT,
    series_name TEXT NOT NULL
)`

	createBookshelfSQL = `
CREATE TABLE bookshelf (
    _id INTEGER PRIMARY KEY AUTOINCREMENT,
    bookshelf TEXT NOT NULL
)`

	createBooksSQL = `
CREATE TABLE books (
    _id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    isbn TEXT,
    publisher TEXT,
    date_published DATE,
    rating FLOAT NOT NULL DEFAULT 0,
    read BOOLEAN NOT NULL DEFAULT 0,
    pages INTEGER,
    notes TEXT,
    list_price TEXT,
    anthology INTEGER NOT NULL DEFAULT 0,
    location TEXT,
    read_start DATE,
    read_end DATE,
    format TEXT,
    signed BOOLEAN NOT NULL DEFAULT 0,
    description TEXT,
    genre TEXT,
    language TEXT,
    date_added DATETIME,
    book_uuid TEXT NOT NULL,
    goodreads_book_id INTEGER,
    last_goodreads_sync_date DATE DEFAULT '0000-00-00',
    last_update_date DATETIME
)`

	createBookAuthorSQL = `
CREATE TABLE book_author (
    book INTEGER NOT NULL REFERENCES books (_id) ON DELETE CASCADE,
    author INTEGER NOT NULL REFERENCES authors (_id),
    author_position INTEGER NOT NULL,
    PRIMARY KEY (book, author_position)
)`

	createBookSeriesSQL = `
CREATE TABLE book_series (
    book INTEGER NOT NULL REFERENCES books (_id) ON DELETE CASCADE,
    series INTEGER NOT NULL REFERENCES series (_id),
    series_num TEXT,
    series_position INTEGER NOT NULL,
    PRIMARY KEY (book, series_position)
)`

	createBookBookshelfSQL = `
CREATE TABLE book_bookshelf_weak (
    book INTEGER NOT NULL REFERENCES books (_id) ON DELETE CASCADE,
    bookshelf INTEGER NOT NULL REFERENCES bookshelf (_id) ON DELETE CASCADE,
    PRIMARY KEY (book, bookshelf)
)`

	createAnthologySQL = `
CREATE TABLE anthology (
    _id INTEGER PRIMARY KEY AUTOINCREMENT,
    book INTEGER NOT NULL REFERENCES books (_id) ON DELETE CASCADE,
    author INTEGER NOT NULL REFERENCES authors (_id),
    title TEXT NOT NULL,
    position INTEGER NOT NULL
)`

	createLoanSQL = `
CREATE TABLE loan (
    _id INTEGER PRIMARY KEY AUTOINCREMENT,
    book INTEGER NOT NULL UNIQUE REFERENCES books (_id) ON DELETE CASCADE,
    loaned_to TEXT NOT NULL
)`
)

// FTSColumns are the columns of the full-text table, in declaration order.
var FTSColumns = []string{"author_name", "title", "description", "notes", "publisher", "genre", "location", "isbn"}

// FTSDefinition returns the DDL of a full-text table named name.
func FTSDefinition(name string) string {
	return fmt.Sprintf("CREATE VIRTUAL TABLE %s USING fts4 (%s)", name, strings.Join(FTSColumns, ", "))
}

// Table is one catalog entry: a table and its canonical DDL.
type Table struct {
	Name    string
	DDL     string
	Virtual bool
}

// SchemaObject is an index or trigger of the catalog.
type SchemaObject struct {
	Name  string
	Table string
	DDL   string
}

// Tables lists the primary tables in creation order.
var Tables = []Table{
	{Name: TableAuthors, DDL: createAuthorsSQL},
	{Name: TableSeries, DDL: createSeriesSQL},
	{Name: TableBookshelf, DDL: createBookshelfSQL},
	{Name: TableBooks, DDL: createBooksSQL},
	{Name: TableBookAuthor, DDL: createBookAuthorSQL},
	{Name: TableBookSeries, DDL: createBookSeriesSQL},
	{Name: TableBookBookshelf, DDL: createBookBookshelfSQL},
	{Name: TableAnthology, DDL: createAnthologySQL},
	{Name: TableLoan, DDL: createLoanSQL},
}

// FTSTable is the full-text shadow table.
var FTSTable = Table{Name: TableFTS, DDL: FTSDefinition(TableFTS), Virtual: true}

// Indexes are dropped and recreated after every migration.
var Indexes = []SchemaObject{
	{Name: "authors_name_idx", Table: TableAuthors, DDL: "CREATE UNIQUE INDEX authors_name_idx ON authors (family_name COLLATE LOCALIZED, given_names COLLATE LOCALIZED)"},
	{Name: "series_name_idx", Table: TableSeries, DDL: "CREATE UNIQUE INDEX series_name_idx ON series (series_name COLLATE LOCALIZED)"},
	{Name: "bookshelf_name_idx", Table: TableBookshelf, DDL: "CREATE UNIQUE INDEX bookshelf_name_idx ON bookshelf (bookshelf COLLATE LOCALIZED)"},
	{Name: "books_uuid_idx", Table: TableBooks, DDL: "CREATE UNIQUE INDEX books_uuid_idx ON books (book_uuid)"},
	{Name: "books_title_idx", Table: TableBooks, DDL: "CREATE INDEX books_title_idx ON books (title COLLATE LOCALIZED)"},
	{Name: "books_isbn_idx", Table: TableBooks, DDL: "CREATE INDEX books_isbn_idx ON books (isbn)"},
	{Name: "books_publisher_idx", Table: TableBooks, DDL: "CREATE INDEX books_publisher_idx ON books (publisher COLLATE LOCALIZED)"},
	{Name: "books_goodreads_idx", Table: TableBooks, DDL: "CREATE INDEX books_goodreads_idx ON books (goodreads_book_id)"},
	{Name: "book_author_book_author_idx", Table: TableBookAuthor, DDL: "CREATE UNIQUE INDEX book_author_book_author_idx ON book_author (book, author)"},
	{Name: "book_author_author_idx", Table: TableBookAuthor, DDL: "CREATE INDEX book_author_author_idx ON book_author (author)"},
	{Name: "book_series_book_series_idx", Table: TableBookSeries, DDL: "CREATE UNIQUE INDEX book_series_book_series_idx ON book_series (book, series)"},
	{Name: "book_series_series_idx", Table: TableBookSeries, DDL: "CREATE INDEX book_series_series_idx ON book_series (series)"},
	{Name: "book_bookshelf_weak_bookshelf_idx", Table: TableBookBookshelf, DDL: "CREATE INDEX book_bookshelf_weak_bookshelf_idx ON book_bookshelf_weak (bookshelf)"},
	{Name: "anthology_book_author_title_idx", Table: TableAnthology, DDL: "CREATE UNIQUE INDEX anthology_book_author_title_idx ON anthology (book, author, title COLLATE LOCALIZED)"},
	{Name: "anthology_author_idx", Table: TableAnthology, DDL: "CREATE INDEX anthology_author_idx ON anthology (author)"},
	{Name: "loan_loaned_to_idx", Table: TableLoan, DDL: "CREATE INDEX loan_loaned_to_idx ON loan (loaned_to COLLATE LOCALIZED)"},
}

// Triggers are dropped and recreated after every migration.
var Triggers = []SchemaObject{
	{
		Name:  "books_tg_reset_goodreads",
		Table: TableBooks,
		DDL: `CREATE TRIGGER books_tg_reset_goodreads AFTER UPDATE OF isbn ON books
    WHEN new.isbn IS NOT old.isbn
    BEGIN
        UPDATE books SET goodreads_book_id = 0 WHERE _id = new._id;
    END`,
	},
	{
		Name:  "book_bookshelf_weak_tg_touch",
		Table: TableBookBookshelf,
		DDL: `CREATE TRIGGER book_bookshelf_weak_tg_touch AFTER INSERT ON book_bookshelf_weak
    BEGIN
        UPDATE books SET last_update_date = datetime('now') WHERE _id = new.book;
    END`,
	},
}

// Association describes an ordered link table hanging off books.
type Association struct {
	Table    string
	Entity   string
	Position string
}

var (
	AuthorLinks    = Association{Table: TableBookAuthor, Entity: "author", Position: "author_position"}
	SeriesLinks    = Association{Table: TableBookSeries, Entity: "series", Position: "series_position"}
	AnthologyLinks = Association{Table: TableAnthology, Entity: "_id", Position: "position"}
)

// InitializeSchema creates the current catalog on an empty store, including
// the default bookshelf. It does not stamp the version.
func InitializeSchema(ctx context.Context, q Querier) error {
	for _, t := range Tables {
		if _, err := q.ExecContext(ctx, t.DDL); err != nil {
			return fmt.Errorf("failed to create table %s: %w", t.Name, err)
		}
	}
	if _, err := q.ExecContext(ctx, FTSTable.DDL); err != nil {
		return fmt.Errorf("failed to create table %s: %w", FTSTable.Name, err)
	}
	for _, objects := range [][]SchemaObject{Indexes, Triggers} {
		for _, o := range objects {
			if _, err := q.ExecContext(ctx, o.DDL); err != nil {
				return fmt.Errorf("failed to create %s: %w", o.Name, err)
			}
		}
	}
	return ensureDefaultBookshelf(ctx, q)
}

func ensureDefaultBookshelf(ctx context.Context, q Querier) error {
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO bookshelf (_id, bookshelf) VALUES (?, ?)`, DefaultBookshelfID, DefaultBookshelfName)
	if err != nil {
		return fmt.Errorf("failed to create default bookshelf: %w", err)
	}
	return nil
}
