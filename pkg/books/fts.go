package books

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/unowned-ai/catalogue/pkg/db"
)

// ftsSeparator joins the values of a multi-valued relation in one column.
const ftsSeparator = " ; "

const (
	ftsBookStatement = `
	SELECT title, COALESCE(description, ''), COALESCE(notes, ''), COALESCE(publisher, ''),
	       COALESCE(genre, ''), COALESCE(location, ''), COALESCE(isbn, '')
	FROM books WHERE _id = ?
	`

	ftsAuthorsStatement = `
	SELECT name FROM (
	    SELECT 0 AS src, ba.author_position AS pos, TRIM(a.given_names || ' ' || a.family_name) AS name
	    FROM book_author ba JOIN authors a ON a._id = ba.author WHERE ba.book = ?1
	    UNION ALL
	    SELECT 1, an.position, TRIM(a.given_names || ' ' || a.family_name)
	    FROM anthology an JOIN authors a ON a._id = an.author WHERE an.book = ?1
	) ORDER BY src, pos
	`

	ftsAnthologyTitlesStatement = `
	SELECT title FROM anthology WHERE book = ? ORDER BY position, _id
	`

	ftsSeriesStatement = `
	SELECT s.series_name || CASE WHEN COALESCE(bs.series_num, '') <> '' THEN ' ' || bs.series_num ELSE '' END
	FROM book_series bs JOIN series s ON s._id = bs.series
	WHERE bs.book = ? ORDER BY bs.series_position
	`

	ftsDeleteStatement = `
	DELETE FROM books_fts WHERE docid = ?
	`

	ftsSearchStatement = `
	SELECT docid FROM books_fts WHERE books_fts MATCH ? ORDER BY docid
	`

	bookIDsStatement = `
	SELECT _id FROM books ORDER BY _id
	`
)

func ftsInsertStatement(table string) string {
	return fmt.Sprintf("INSERT INTO %s (docid, %s) VALUES (?%s)",
		table, strings.Join(db.FTSColumns, ", "), strings.Repeat(", ?", len(db.FTSColumns)))
}

// ftsDocument computes the shadow row of a book, in db.FTSColumns order.
// Every value is case-folded here because the full-text tokenizer only folds ASCII.
func (c *Catalogue) ftsDocument(ctx context.Context, bookID int64) ([]any, error) {
	var title, description, notes, publisher, genre, location, isbn string
	err := c.queryRow(ctx, "fts_book", ftsBookStatement, []any{bookID},
		&title, &description, &notes, &publisher, &genre, &location, &isbn)
	if err != nil {
		return nil, err
	}

	authors, err := c.stringColumn(ctx, "fts_authors", ftsAuthorsStatement, bookID)
	if err != nil {
		return nil, err
	}
	anthologyTitles, err := c.stringColumn(ctx, "fts_anthology_titles", ftsAnthologyTitlesStatement, bookID)
	if err != nil {
		return nil, err
	}
	series, err := c.stringColumn(ctx, "fts_series", ftsSeriesStatement, bookID)
	if err != nil {
		return nil, err
	}

	join := func(head string, rest []string) string {
		parts := make([]string, 0, len(rest)+1)
		if head != "" {
			parts = append(parts, head)
		}
		return strings.Join(append(parts, rest...), ftsSeparator)
	}

	values := []string{
		join("", authors),
		join(title, anthologyTitles),
		join(description, series),
		notes,
		publisher,
		genre,
		location,
		isbn,
	}
	doc := make([]any, 0, len(values)+1)
	doc = append(doc, bookID)
	for _, v := range values {
		doc = append(doc, db.Fold(v))
	}
	return doc, nil
}

func (c *Catalogue) stringColumn(ctx context.Context, name, text string, args ...any) ([]string, error) {
	s, err := c.stmt(name, text)
	if err != nil {
		return nil, err
	}
	var values []string
	err = s.Query(ctx, args, func(rows *sql.Rows) error {
		var v string
		if err := rows.Scan(&v); err != nil {
			return err
		}
		values = append(values, v)
		return nil
	})
	return values, err
}

// insertFTS writes the shadow row of a new book. It must run inside the
// transaction that wrote the book.
func (c *Catalogue) insertFTS(ctx context.Context, bookID int64) error {
	doc, err := c.ftsDocument(ctx, bookID)
	if err != nil {
		return fmt.Errorf("failed to index book %d: %w", bookID, err)
	}
	if _, err := c.exec(ctx, "fts_insert", ftsInsertStatement(db.TableFTS), doc...); err != nil {
		return fmt.Errorf("failed to index book %d: %w", bookID, err)
	}
	return nil
}

// updateFTS replaces the shadow row of a book.
func (c *Catalogue) updateFTS(ctx context.Context, bookID int64) error {
	if err := c.deleteFTS(ctx, bookID); err != nil {
		return err
	}
	return c.insertFTS(ctx, bookID)
}

// deleteFTS drops the shadow row of a book.
func (c *Catalogue) deleteFTS(ctx context.Context, bookID int64) error {
	if _, err := c.exec(ctx, "fts_delete", ftsDeleteStatement, bookID); err != nil {
		return fmt.Errorf("failed to unindex book %d: %w", bookID, err)
	}
	return nil
}

// refreshFTS rewrites the shadow rows of every book in ids.
func (c *Catalogue) refreshFTS(ctx context.Context, ids ...int64) error {
	for _, id := range ids {
		if err := c.updateFTS(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// RebuildFTS regenerates the whole full-text index. The replacement is built
// under a temporary name in one transaction; the old table is then dropped
// and the new one renamed into place outside any transaction, which the
// full-text module requires. The writer lock is held from the build to the
// rename, so no write lands in the table being replaced and concurrent
// rebuilds run one after the other.
func (c *Catalogue) RebuildFTS(ctx context.Context) error {
	start := time.Now()
	var indexed int

	err := c.h.Exclusive(ctx, func(ctx context.Context) error {
		n, err := c.buildFTS(ctx)
		if err != nil {
			return fmt.Errorf("failed to build full-text index: %w", err)
		}
		if _, err := c.h.Exec(ctx, "DROP TABLE IF EXISTS "+db.TableFTS); err != nil {
			return fmt.Errorf("failed to swap in full-text index: %w", err)
		}
		if _, err := c.h.Exec(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", db.TableFTSRebuild, db.TableFTS)); err != nil {
			return fmt.Errorf("failed to swap in full-text index: %w", err)
		}
		indexed = n
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.Info("fts_rebuilt", slog.Int("books", indexed), slog.Duration("took", time.Since(start)))
	return nil
}

// buildFTS fills the replacement table and commits it. ctx must hold the
// writer lock.
func (c *Catalogue) buildFTS(ctx context.Context) (int, error) {
	tx, err := c.h.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	ctx = tx.Context()

	if _, err := c.h.Exec(ctx, "DROP TABLE IF EXISTS "+db.TableFTSRebuild); err != nil {
		return 0, err
	}
	if _, err := c.h.Exec(ctx, db.FTSDefinition(db.TableFTSRebuild)); err != nil {
		return 0, err
	}
	ids, err := c.int64Column(ctx, "book_ids", bookIDsStatement)
	if err != nil {
		return 0, err
	}
	insert := ftsInsertStatement(db.TableFTSRebuild)
	for _, id := range ids {
		doc, err := c.ftsDocument(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("failed to index book %d: %w", id, err)
		}
		if _, err := c.h.Exec(ctx, insert, doc...); err != nil {
			return 0, fmt.Errorf("failed to index book %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (c *Catalogue) int64Column(ctx context.Context, name, text string, args ...any) ([]int64, error) {
	s, err := c.stmt(name, text)
	if err != nil {
		return nil, err
	}
	var values []int64
	err = s.Query(ctx, args, func(rows *sql.Rows) error {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return err
		}
		values = append(values, v)
		return nil
	})
	return values, err
}

// SearchFTS returns the ids of books matching every term. authorTerms match
// author names, titleTerms match titles and anthology titles, anyTerms match
// any indexed text. Terms are prefix matches; blank input matches nothing.
func (c *Catalogue) SearchFTS(ctx context.Context, authorTerms, titleTerms, anyTerms string) ([]int64, error) {
	match := ftsMatchExpression(authorTerms, titleTerms, anyTerms)
	if match == "" {
		return nil, nil
	}
	ids, err := c.int64Column(ctx, "fts_search", ftsSearchStatement, match)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	return ids, nil
}

// ftsMatchExpression turns user text into an fts4 MATCH expression of
// column-qualified prefix tokens. Punctuation never reaches the query parser.
func ftsMatchExpression(authorTerms, titleTerms, anyTerms string) string {
	var parts []string
	add := func(column, text string) {
		for _, tok := range ftsTokens(text) {
			if column != "" {
				tok = column + ":" + tok
			}
			parts = append(parts, tok+"*")
		}
	}
	add("author_name", authorTerms)
	add("title", titleTerms)
	add("", anyTerms)
	return strings.Join(parts, " ")
}

func ftsTokens(text string) []string {
	return strings.FieldsFunc(db.Fold(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
