package books

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unowned-ai/catalogue/pkg/db"
	"github.com/unowned-ai/catalogue/pkg/query"
)

// dateTimeLayout is how timestamps are stored.
const dateTimeLayout = "2006-01-02 15:04:05"

// listPageSize bounds how many rows FetchAllBooks reads per query.
const listPageSize = 200

const (
	createBookStatement = `
	INSERT INTO books (
	    title, isbn, publisher, date_published, rating, read, pages, notes, list_price,
	    anthology, location, read_start, read_end, format, signed, description, genre,
	    language, date_added, book_uuid, goodreads_book_id, last_update_date
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	updateBookStatement = `
	UPDATE books SET
	    title = ?, isbn = ?, publisher = ?, date_published = ?, rating = ?, read = ?,
	    pages = ?, notes = ?, list_price = ?, anthology = ?, location = ?, read_start = ?,
	    read_end = ?, format = ?, signed = ?, description = ?, genre = ?, language = ?,
	    last_update_date = ?
	WHERE _id = ?
	`

	bookColumns = `
	    _id, book_uuid, title, COALESCE(isbn, ''), COALESCE(publisher, ''),
	    COALESCE(date_published, ''), COALESCE(rating, 0), COALESCE(read, 0), COALESCE(pages, 0),
	    COALESCE(notes, ''), COALESCE(list_price, ''), COALESCE(anthology, 0), COALESCE(location, ''),
	    COALESCE(read_start, ''), COALESCE(read_end, ''), COALESCE(format, ''), COALESCE(signed, 0),
	    COALESCE(description, ''),
	    COALESCE(genre, ''), COALESCE(language, ''), COALESCE(date_added, ''),
	    COALESCE(goodreads_book_id, 0), COALESCE(last_goodreads_sync_date, ''),
	    COALESCE(last_update_date, '')`

	getBookStatement = `SELECT` + bookColumns + `
	FROM books WHERE _id = ?
	`

	getBookByUUIDStatement = `SELECT` + bookColumns + `
	FROM books WHERE book_uuid = ?
	`

	bookUUIDStatement = `
	SELECT book_uuid FROM books WHERE _id = ?
	`

	bookIDByUUIDStatement = `
	SELECT _id FROM books WHERE book_uuid = ?
	`

	deleteBookStatement = `
	DELETE FROM books WHERE _id = ?
	`

	bookExistsByIsbnStatement = `
	SELECT EXISTS (SELECT 1 FROM books WHERE upper(replace(replace(isbn, '-', ''), ' ', '')) = ?)
	`
)

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func now() string {
	return time.Now().UTC().Format(dateTimeLayout)
}

func validateBook(b *Book) error {
	b.Title = strings.TrimSpace(b.Title)
	if b.Title == "" {
		return ErrEmptyTitle
	}
	if len(b.Authors) == 0 {
		return ErrNoAuthors
	}
	return nil
}

// CreateBook stores a new book with its authors, series, shelves, anthology
// titles and loan, and indexes it, all in one transaction. The book gets a
// fresh UUID unless it carries one, and the current time as date added
// unless it carries one.
func (c *Catalogue) CreateBook(ctx context.Context, b Book) (Book, error) {
	if err := validateBook(&b); err != nil {
		return Book{}, err
	}
	if b.UUID == "" {
		b.UUID = uuid.NewString()
	}
	if b.DateAdded == "" {
		b.DateAdded = now()
	}

	var id int64
	err := c.h.WithTx(ctx, func(ctx context.Context) error {
		var err error
		id, err = c.insert(ctx, "create_book", createBookStatement,
			b.Title, nullIfEmpty(b.ISBN), nullIfEmpty(b.Publisher), nullIfEmpty(b.DatePublished),
			b.Rating, b.Read, b.Pages, nullIfEmpty(b.Notes), nullIfEmpty(b.ListPrice),
			b.AnthologyMask, nullIfEmpty(b.Location), nullIfEmpty(b.ReadStart), nullIfEmpty(b.ReadEnd),
			nullIfEmpty(b.Format), b.Signed, nullIfEmpty(b.Description), nullIfEmpty(b.Genre),
			nullIfEmpty(b.Language), b.DateAdded, b.UUID, b.GoodreadsBookID, now())
		if err != nil {
			return db.WithEntity(err, "book")
		}
		if err := c.writeAssociations(ctx, id, b); err != nil {
			return err
		}
		for _, at := range b.AnthologyTitles {
			if _, err := c.CreateAnthologyTitle(ctx, id, at.Author, at.Title); err != nil {
				return err
			}
		}
		if b.LoanedTo != "" {
			if err := c.CreateLoan(ctx, id, b.LoanedTo); err != nil {
				return err
			}
		}
		return c.updateFTS(ctx, id)
	})
	if err != nil {
		return Book{}, fmt.Errorf("failed to create book %q: %w", b.Title, err)
	}
	c.logger.Debug("book_created", slog.Int64("book_id", id), slog.String("uuid", b.UUID))
	return c.FetchBookByID(ctx, id)
}

// writeAssociations replaces the authors, series and shelves of a book.
func (c *Catalogue) writeAssociations(ctx context.Context, id int64, b Book) error {
	if err := c.setBookAuthors(ctx, id, b.Authors); err != nil {
		return err
	}
	if err := c.setBookSeries(ctx, id, b.Series); err != nil {
		return err
	}
	return c.setBookBookshelves(ctx, id, b.Bookshelves)
}

// UpdateBook rewrites a book's own fields and replaces its authors, series
// and shelves. Anthology titles and the loan have their own operations. The
// UUID and date added never change; passing a different UUID fails with
// ErrImmutableUUID.
func (c *Catalogue) UpdateBook(ctx context.Context, b Book) (Book, error) {
	if err := validateBook(&b); err != nil {
		return Book{}, err
	}

	err := c.h.WithTx(ctx, func(ctx context.Context) error {
		var current string
		if err := c.queryRow(ctx, "book_uuid", bookUUIDStatement, []any{b.ID}, &current); err != nil {
			return err
		}
		if b.UUID != "" && b.UUID != current {
			return ErrImmutableUUID
		}
		_, err := c.exec(ctx, "update_book", updateBookStatement,
			b.Title, nullIfEmpty(b.ISBN), nullIfEmpty(b.Publisher), nullIfEmpty(b.DatePublished),
			b.Rating, b.Read, b.Pages, nullIfEmpty(b.Notes), nullIfEmpty(b.ListPrice),
			b.AnthologyMask, nullIfEmpty(b.Location), nullIfEmpty(b.ReadStart), nullIfEmpty(b.ReadEnd),
			nullIfEmpty(b.Format), b.Signed, nullIfEmpty(b.Description), nullIfEmpty(b.Genre),
			nullIfEmpty(b.Language), now(), b.ID)
		if err != nil {
			return db.WithEntity(err, "book")
		}
		if err := c.writeAssociations(ctx, b.ID, b); err != nil {
			return err
		}
		if err := c.updateFTS(ctx, b.ID); err != nil {
			return err
		}
		c.purgeQuietly(ctx)
		return nil
	})
	if err != nil {
		return Book{}, fmt.Errorf("failed to update book %d: %w", b.ID, err)
	}
	return c.FetchBookByID(ctx, b.ID)
}

// DeleteBook removes a book with its links, loan and index row, then sweeps
// authors and series left without books. It returns the book's UUID so the
// caller can remove the cover.
func (c *Catalogue) DeleteBook(ctx context.Context, id int64) (string, error) {
	var bookUUID string
	err := c.h.WithTx(ctx, func(ctx context.Context) error {
		if err := c.queryRow(ctx, "book_uuid", bookUUIDStatement, []any{id}, &bookUUID); err != nil {
			return err
		}
		if err := c.deleteFTS(ctx, id); err != nil {
			return err
		}
		if _, err := c.exec(ctx, "delete_book", deleteBookStatement, id); err != nil {
			return err
		}
		c.purgeQuietly(ctx)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to delete book %d: %w", id, err)
	}
	c.logger.Debug("book_deleted", slog.Int64("book_id", id))
	return bookUUID, nil
}

// FetchBookByID loads a book with all its associations. A missing book is
// reported as db.ErrNotFound.
func (c *Catalogue) FetchBookByID(ctx context.Context, id int64) (Book, error) {
	b, err := c.fetchBook(ctx, "get_book", getBookStatement, id)
	if err != nil {
		return Book{}, fmt.Errorf("book %d: %w", id, err)
	}
	return b, nil
}

// FetchBookByUUID loads a book by its stable identity.
func (c *Catalogue) FetchBookByUUID(ctx context.Context, bookUUID string) (Book, error) {
	b, err := c.fetchBook(ctx, "get_book_by_uuid", getBookByUUIDStatement, bookUUID)
	if err != nil {
		return Book{}, fmt.Errorf("book %s: %w", bookUUID, err)
	}
	return b, nil
}

func (c *Catalogue) fetchBook(ctx context.Context, name, text string, key any) (Book, error) {
	var b Book
	err := c.h.Read(ctx, func(ctx context.Context) error {
		err := c.queryRow(ctx, name, text, []any{key},
			&b.ID, &b.UUID, &b.Title, &b.ISBN, &b.Publisher, &b.DatePublished, &b.Rating,
			&b.Read, &b.Pages, &b.Notes, &b.ListPrice, &b.AnthologyMask, &b.Location,
			&b.ReadStart, &b.ReadEnd, &b.Format, &b.Signed, &b.Description, &b.Genre,
			&b.Language, &b.DateAdded, &b.GoodreadsBookID, &b.LastGoodreadsSyncDate,
			&b.LastUpdateDate)
		if err != nil {
			return err
		}
		if b.Authors, err = c.bookAuthors(ctx, b.ID); err != nil {
			return err
		}
		if b.Series, err = c.bookSeries(ctx, b.ID); err != nil {
			return err
		}
		if b.Bookshelves, err = c.bookBookshelves(ctx, b.ID); err != nil {
			return err
		}
		if b.AnthologyTitles, err = c.ListAnthologyTitles(ctx, b.ID); err != nil {
			return err
		}
		loan, err := c.FetchLoan(ctx, b.ID)
		switch {
		case err == nil:
			b.LoanedTo = loan.LoanedTo
		case !errors.Is(err, db.ErrNotFound):
			return err
		}
		return nil
	})
	return b, err
}

// FetchAllBooks lists the books matching f. The sequence is restartable:
// every range over it runs the query again. Rows are read in pages and no
// lock is held while the caller handles a row, so the loop body may call
// back into the catalogue; rows written meanwhile may be skipped or repeated.
func (c *Catalogue) FetchAllBooks(ctx context.Context, f query.BookFilter) iter.Seq2[query.BookRow, error] {
	text, args := query.BuildBookQuery(f)
	text += "\nLIMIT ? OFFSET ?"

	return func(yield func(query.BookRow, error) bool) {
		for offset := 0; ; offset += listPageSize {
			page := make([]query.BookRow, 0, listPageSize)
			err := c.h.Query(ctx, text, append(args[:len(args):len(args)], listPageSize, offset), func(rows *sql.Rows) error {
				r, err := query.ScanBookRow(rows)
				if err != nil {
					return err
				}
				page = append(page, r)
				return nil
			})
			if err != nil {
				yield(query.BookRow{}, fmt.Errorf("failed to list books: %w", err))
				return
			}
			for _, r := range page {
				if !yield(r, nil) {
					return
				}
			}
			if len(page) < listPageSize {
				return
			}
		}
	}
}

// FetchBooksByIsbns returns the books whose ISBN matches any of isbns,
// ignoring hyphens and spaces. No match is an empty result, not an error.
func (c *Catalogue) FetchBooksByIsbns(ctx context.Context, isbns []string) ([]query.BookRow, error) {
	text, args := query.BuildIsbnQuery(isbns)
	if text == "" {
		return nil, nil
	}
	var found []query.BookRow
	err := c.h.Query(ctx, text, args, func(rows *sql.Rows) error {
		r, err := query.ScanBookRow(rows)
		if err != nil {
			return err
		}
		found = append(found, r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to look up isbns: %w", err)
	}
	return found, nil
}

// BookExistsByIsbn reports whether any book carries isbn.
func (c *Catalogue) BookExistsByIsbn(ctx context.Context, isbn string) (bool, error) {
	normalized := query.NormalizeISBN(isbn)
	if normalized == "" {
		return false, nil
	}
	var exists bool
	if err := c.queryRow(ctx, "book_exists_by_isbn", bookExistsByIsbnStatement, []any{normalized}, &exists); err != nil {
		return false, fmt.Errorf("failed to look up isbn %s: %w", isbn, err)
	}
	return exists, nil
}

// bookIDByUUID returns the id of the book with bookUUID, or 0 when there is none.
func (c *Catalogue) bookIDByUUID(ctx context.Context, bookUUID string) (int64, error) {
	var id int64
	err := c.queryRow(ctx, "book_id_by_uuid", bookIDByUUIDStatement, []any{bookUUID}, &id)
	if errors.Is(err, db.ErrNotFound) {
		return 0, nil
	}
	return id, err
}
