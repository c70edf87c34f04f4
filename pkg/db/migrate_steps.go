package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// upgradeStep brings a store from version-1 to version.
type upgradeStep struct {
	version     int
	description string
	// destructive steps are preceded by a backup of the store.
	destructive bool
	// tolerant steps only clean up data; their failures are logged and the
	// version is stamped anyway.
	tolerant bool
	// skip inspects the schema and reports that another release line already
	// produced what this step would.
	skip  func(ctx context.Context, q Querier) (bool, error)
	apply func(ctx context.Context, env *stepEnv) error
}

// stepEnv is what a step sees: the step's transaction and the collaborators
// a data transform may need.
type stepEnv struct {
	q          Querier
	covers     CoverRenamer
	logger     *slog.Logger
	rebuildFTS bool
}

func (e *stepEnv) exec(ctx context.Context, statements ...string) error {
	for _, s := range statements {
		if _, err := e.q.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("%s: %w", firstLine(s), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// legacyBookColumns are the column declarations books carried before the
// current catalog, by name. Historical shapes of the table are rebuilt from
// these so every safe copy in the step table reproduces what the release
// that introduced it created.
var legacyBookColumns = map[string]string{
	"_id":                      "integer primary key autoincrement",
	"author":                   "integer not null references authors",
	"title":                    "text not null",
	"isbn":                     "text",
	"publisher":                "text",
	"date_published":           "date",
	"rating":                   "float not null default 0",
	"read":                     "boolean not null default 0",
	"series":                   "text",
	"pages":                    "int",
	"notes":                    "text",
	"bookshelf":                "integer default 1",
	"series_num":               "text",
	"list_price":               "text",
	"anthology":                "int not null default 0",
	"location":                 "text",
	"read_start":               "date",
	"read_end":                 "date",
	"format":                   "text",
	"signed":                   "boolean not null default 0",
	"description":              "text",
	"genre":                    "text",
	"date_added":               "datetime",
	"language":                 "text",
	"book_uuid":                "text",
	"last_update_date":         "datetime",
	"goodreads_book_id":        "int",
	"last_goodreads_sync_date": "date default '0000-00-00'",
}

var (
	booksColumnsV15 = []string{"_id", "author", "title", "isbn", "publisher", "date_published", "rating", "read", "series", "pages", "notes", "series_num", "list_price", "anthology", "location", "read_start", "read_end", "format", "signed", "description", "genre"}
	booksColumnsV25 = without(booksColumnsV15, "author")
	booksColumnsV58 = append(without(booksColumnsV25, "series", "series_num"), "date_added", "language")
)

func without(columns []string, drop ...string) []string {
	var out []string
	for _, c := range columns {
		keep := true
		for _, d := range drop {
			if c == d {
				keep = false
			}
		}
		if keep {
			out = append(out, c)
		}
	}
	return out
}

func legacyBooksDDL(columns []string) string {
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = c + " " + legacyBookColumns[c]
	}
	return "create table books (" + strings.Join(defs, ", ") + ")"
}

// addColumn adds a column unless an earlier release already did.
func addColumn(ctx context.Context, q Querier, table, column, decl string) error {
	exists, err := ColumnExists(ctx, q, table, column)
	if err != nil || exists {
		return err
	}
	if _, err := q.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
		return fmt.Errorf("failed to add %s.%s: %w", table, column, err)
	}
	return nil
}

func addBookColumnsStep(version int, description string, columns ...string) upgradeStep {
	return upgradeStep{
		version:     version,
		description: description,
		apply: func(ctx context.Context, env *stepEnv) error {
			for _, c := range columns {
				if err := addColumn(ctx, env.q, TableBooks, c, legacyBookColumns[c]); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func execStep(version int, description string, statements ...string) upgradeStep {
	return upgradeStep{
		version:     version,
		description: description,
		apply: func(ctx context.Context, env *stepEnv) error {
			return env.exec(ctx, statements...)
		},
	}
}

func cleanupStep(version int, description string, statements ...string) upgradeStep {
	s := execStep(version, description, statements...)
	s.tolerant = true
	return s
}

func ftsStep(version int, description string, ddl string) upgradeStep {
	return upgradeStep{
		version:     version,
		description: description,
		apply: func(ctx context.Context, env *stepEnv) error {
			if err := env.exec(ctx, "DROP TABLE IF EXISTS "+TableFTS, ddl); err != nil {
				return err
			}
			env.rebuildFTS = true
			return nil
		},
	}
}

// upgradeSteps holds one descriptor per version from 2 to CurrentSchemaVersion.
// Versions without schema changes only shipped new application messages and
// are filled in as no-ops.
var upgradeSteps = fillNoops([]upgradeStep{
	addBookColumnsStep(2, "book notes", "notes"),
	{
		version:     3,
		description: "bookshelves",
		apply: func(ctx context.Context, env *stepEnv) error {
			err := env.exec(ctx,
				`create table if not exists bookshelf (_id integer primary key autoincrement, bookshelf text not null)`,
				`INSERT INTO bookshelf (_id, bookshelf) SELECT 1, 'Default' WHERE NOT EXISTS (SELECT 1 FROM bookshelf)`,
			)
			if err != nil {
				return err
			}
			return addColumn(ctx, env.q, TableBooks, "bookshelf", legacyBookColumns["bookshelf"])
		},
	},
	execStep(4, "loans", `create table if not exists loan (_id integer primary key autoincrement, book integer not null, loaned_to text not null)`),
	addBookColumnsStep(5, "series number", "series_num"),
	addBookColumnsStep(6, "list price", "list_price"),
	{
		version:     7,
		description: "anthology titles",
		apply: func(ctx context.Context, env *stepEnv) error {
			if err := addColumn(ctx, env.q, TableBooks, "anthology", legacyBookColumns["anthology"]); err != nil {
				return err
			}
			return env.exec(ctx, `create table if not exists anthology (_id integer primary key autoincrement, book integer not null references books, author integer not null references authors, title text not null)`)
		},
	},
	addBookColumnsStep(8, "location", "location"),
	addBookColumnsStep(9, "reading dates", "read_start", "read_end"),
	addBookColumnsStep(10, "format", "format"),
	addBookColumnsStep(11, "signed flag", "signed"),
	cleanupStep(12, "drop loans of deleted books", `DELETE FROM loan WHERE book NOT IN (SELECT _id FROM books)`),
	addBookColumnsStep(13, "description", "description"),
	addBookColumnsStep(14, "genre", "genre"),
	{
		version:     15,
		description: "books may sit on several bookshelves",
		destructive: true,
		apply: func(ctx context.Context, env *stepEnv) error {
			err := env.exec(ctx,
				`create table book_bookshelf_weak (book integer references books on delete cascade, bookshelf integer references bookshelf on delete cascade)`,
				`INSERT INTO book_bookshelf_weak (book, bookshelf) SELECT _id, bookshelf FROM books WHERE bookshelf IS NOT NULL`,
			)
			if err != nil {
				return err
			}
			return safeCopy(ctx, env.q, TableBooks, legacyBooksDDL(booksColumnsV15), "bookshelf")
		},
	},
	execStep(16, "default ratings", `UPDATE books SET rating = 0 WHERE rating IS NULL`),
	{
		version:     17,
		description: "anthology title order",
		apply: func(ctx context.Context, env *stepEnv) error {
			if err := addColumn(ctx, env.q, TableAnthology, "position", "integer"); err != nil {
				return err
			}
			return env.exec(ctx, `
UPDATE anthology SET position = r.rn
FROM (SELECT _id AS aid, ROW_NUMBER() OVER (PARTITION BY book ORDER BY _id) AS rn FROM anthology) AS r
WHERE anthology._id = r.aid`)
		},
	},
	cleanupStep(18, "drop anthology titles of deleted books", `DELETE FROM anthology WHERE book NOT IN (SELECT _id FROM books)`),
	cleanupStep(20, "drop duplicate loans", `DELETE FROM loan WHERE _id NOT IN (SELECT MAX(_id) FROM loan GROUP BY book)`),
	{
		version:     25,
		description: "books may have several authors",
		destructive: true,
		apply: func(ctx context.Context, env *stepEnv) error {
			err := env.exec(ctx,
				`create table book_author (book integer not null references books on delete cascade, author integer not null references authors, author_position integer not null, primary key (book, author_position))`,
				`INSERT INTO book_author (book, author, author_position) SELECT _id, author, 1 FROM books WHERE author IS NOT NULL`,
			)
			if err != nil {
				return err
			}
			return safeCopy(ctx, env.q, TableBooks, legacyBooksDDL(booksColumnsV25), "author")
		},
	},
	{
		version:     30,
		description: "date added",
		apply: func(ctx context.Context, env *stepEnv) error {
			if err := addColumn(ctx, env.q, TableBooks, "date_added", legacyBookColumns["date_added"]); err != nil {
				return err
			}
			return env.exec(ctx, `UPDATE books SET date_added = datetime('now') WHERE date_added IS NULL`)
		},
	},
	cleanupStep(33, "purge unreferenced authors", `
DELETE FROM authors
WHERE _id NOT IN (SELECT author FROM book_author)
  AND _id NOT IN (SELECT author FROM anthology)`),
	execStep(36, "trim author names", `UPDATE authors SET family_name = trim(family_name), given_names = trim(given_names)`),
	addBookColumnsStep(40, "language", "language"),
	execStep(45, "isbn lookup index", `create index if not exists books_isbn_idx on books (isbn)`),
	execStep(50, "normalize read flag", `
UPDATE books SET read = CASE
    WHEN lower(CAST(read AS TEXT)) IN ('1', 't', 'true', 'y', 'yes') THEN 1
    ELSE 0
END`),
	{
		version:     58,
		description: "series become entities",
		destructive: true,
		skip: func(ctx context.Context, q Querier) (bool, error) {
			// One release line reached version 57 with this change already applied.
			return TableExists(ctx, q, TableBookSeries)
		},
		apply: normalizeSeries,
	},
	{
		version:     59,
		description: "series order",
		apply: func(ctx context.Context, env *stepEnv) error {
			return addColumn(ctx, env.q, TableBookSeries, "series_position", "integer not null default 1")
		},
	},
	ftsStep(63, "full text search", `CREATE VIRTUAL TABLE books_fts USING fts3 (author_name, title, description, notes, publisher, genre, location)`),
	cleanupStep(65, "drop dangling shelf memberships", `
DELETE FROM book_bookshelf_weak
WHERE book NOT IN (SELECT _id FROM books) OR bookshelf NOT IN (SELECT _id FROM bookshelf)`),
	{
		version:     68,
		description: "book uuids",
		apply:       assignBookUUIDs,
	},
	{
		version:     69,
		description: "uuid based cover names",
		tolerant:    true,
		apply:       renameCovers,
	},
	{
		version:     71,
		description: "last update date",
		apply: func(ctx context.Context, env *stepEnv) error {
			if err := addColumn(ctx, env.q, TableBooks, "last_update_date", legacyBookColumns["last_update_date"]); err != nil {
				return err
			}
			return env.exec(ctx, `UPDATE books SET last_update_date = COALESCE(date_added, datetime('now')) WHERE last_update_date IS NULL`)
		},
	},
	ftsStep(72, "full text search on fts4", `CREATE VIRTUAL TABLE books_fts USING fts4 (author_name, title, description, notes, publisher, genre, location)`),
	addBookColumnsStep(74, "goodreads sync", "goodreads_book_id", "last_goodreads_sync_date"),
	{
		version:     76,
		description: "merge authors and series differing only in case",
		destructive: true,
		apply:       mergeCaseVariants,
	},
	execStep(78, "untitled books", `UPDATE books SET title = '(untitled)' WHERE title IS NULL OR trim(title) = ''`),
	ftsStep(80, "isbn in full text search", FTSDefinition(TableFTS)),
	{
		version:     81,
		description: "dense positions",
		apply: func(ctx context.Context, env *stepEnv) error {
			for _, a := range []Association{AuthorLinks, SeriesLinks, AnthologyLinks} {
				if err := ClosePositionGaps(ctx, env.q, a); err != nil {
					return err
				}
			}
			return nil
		},
	},
	{
		version:     82,
		description: "default bookshelf",
		apply: func(ctx context.Context, env *stepEnv) error {
			return ensureDefaultBookshelf(ctx, env.q)
		},
	},
})

func fillNoops(steps []upgradeStep) []upgradeStep {
	byVersion := make(map[int]upgradeStep, len(steps))
	for _, s := range steps {
		if _, dup := byVersion[s.version]; dup {
			panic(fmt.Sprintf("duplicate upgrade step %d", s.version))
		}
		byVersion[s.version] = s
	}
	out := make([]upgradeStep, 0, CurrentSchemaVersion-1)
	for v := 2; v <= CurrentSchemaVersion; v++ {
		s, ok := byVersion[v]
		if !ok {
			s = upgradeStep{version: v, description: "no schema change"}
		}
		out = append(out, s)
	}
	return out
}

// normalizeSeries moves the free-text series columns of books into the
// series and book_series tables.
func normalizeSeries(ctx context.Context, env *stepEnv) error {
	err := env.exec(ctx,
		`create table series (_id integer primary key autoincrement, series_name text not null)`,
		`create table book_series (book integer not null references books on delete cascade, series integer not null references series, series_num text, series_position integer not null default 1, primary key (book, series_position))`,
		`
INSERT INTO series (series_name)
SELECT trim(series) FROM books
WHERE trim(COALESCE(series, '')) <> ''
GROUP BY trim(series) COLLATE LOCALIZED`,
		`
INSERT INTO book_series (book, series, series_num, series_position)
SELECT b._id, s._id, b.series_num, 1
FROM books b JOIN series s ON s.series_name = trim(b.series) COLLATE LOCALIZED`,
	)
	if err != nil {
		return err
	}
	return safeCopy(ctx, env.q, TableBooks, legacyBooksDDL(booksColumnsV58), "series", "series_num")
}

func assignBookUUIDs(ctx context.Context, env *stepEnv) error {
	if err := addColumn(ctx, env.q, TableBooks, "book_uuid", legacyBookColumns["book_uuid"]); err != nil {
		return err
	}
	ids, err := int64Column(ctx, env.q, `SELECT _id FROM books WHERE book_uuid IS NULL OR book_uuid = ''`)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := env.q.ExecContext(ctx, `UPDATE books SET book_uuid = ? WHERE _id = ?`, uuid.NewString(), id); err != nil {
			return fmt.Errorf("failed to assign uuid to book %d: %w", id, err)
		}
	}
	return nil
}

func renameCovers(ctx context.Context, env *stepEnv) error {
	if env.covers == nil {
		return nil
	}
	type cover struct {
		id   int64
		uuid string
	}
	var covers []cover
	rows, err := env.q.QueryContext(ctx, `SELECT _id, book_uuid FROM books`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var c cover
		if err := rows.Scan(&c.id, &c.uuid); err != nil {
			rows.Close()
			return err
		}
		covers = append(covers, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	var errs []error
	for _, c := range covers {
		if err := env.covers.RenameCover(ctx, c.id, c.uuid); err != nil {
			errs = append(errs, fmt.Errorf("book %d: %w", c.id, err))
		}
	}
	return errors.Join(errs...)
}

// mergeCaseVariants folds authors and series that collide under the
// LOCALIZED collation into the oldest row of each group, before the unique
// indexes are created.
func mergeCaseVariants(ctx context.Context, env *stepEnv) error {
	merges := []struct {
		kind    string
		pairs   string
		repoint func(ctx context.Context, q Querier, from, to int64) ([]int64, error)
	}{
		{
			kind: "author",
			pairs: `
SELECT a._id, (
    SELECT MIN(b._id) FROM authors b
    WHERE b.family_name = a.family_name COLLATE LOCALIZED
      AND b.given_names = a.given_names COLLATE LOCALIZED
) FROM authors a`,
			repoint: RepointAuthor,
		},
		{
			kind: "series",
			pairs: `
SELECT a._id, (
    SELECT MIN(b._id) FROM series b
    WHERE b.series_name = a.series_name COLLATE LOCALIZED
) FROM series a`,
			repoint: RepointSeries,
		},
	}

	for _, merge := range merges {
		rows, err := env.q.QueryContext(ctx, merge.pairs)
		if err != nil {
			return err
		}
		var pairs [][2]int64
		for rows.Next() {
			var id, keep int64
			if err := rows.Scan(&id, &keep); err != nil {
				rows.Close()
				return err
			}
			if id != keep {
				pairs = append(pairs, [2]int64{id, keep})
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, p := range pairs {
			if _, err := merge.repoint(ctx, env.q, p[0], p[1]); err != nil {
				return err
			}
			env.logger.Info("migration_merged_duplicate", slog.String("kind", merge.kind), slog.Int64("from", p[0]), slog.Int64("into", p[1]))
		}
	}
	return nil
}
