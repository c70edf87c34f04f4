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
	findAuthorStatement = `
	SELECT _id FROM authors
	WHERE family_name = ? COLLATE LOCALIZED AND given_names = ? COLLATE LOCALIZED
	`

	createAuthorStatement = `
	INSERT INTO authors (family_name, given_names) VALUES (?, ?)
	`

	getAuthorStatement = `
	SELECT _id, family_name, given_names FROM authors WHERE _id = ?
	`

	listAuthorsStatement = `
	SELECT a._id, a.family_name, a.given_names,
	       (SELECT COUNT(*) FROM book_author ba WHERE ba.author = a._id)
	FROM authors a
	ORDER BY a.family_name COLLATE LOCALIZED, a.given_names COLLATE LOCALIZED
	`

	bookAuthorsStatement = `
	SELECT a._id, a.family_name, a.given_names
	FROM book_author ba JOIN authors a ON a._id = ba.author
	WHERE ba.book = ?
	ORDER BY ba.author_position, ba.author
	`

	deleteBookAuthorsStatement = `
	DELETE FROM book_author WHERE book = ?
	`

	linkBookAuthorStatement = `
	INSERT INTO book_author (book, author, author_position) VALUES (?, ?, ?)
	`
)

// GetOrCreateAuthor returns the id of the author named family and given,
// compared case-insensitively under the store's collation, creating the
// author on a miss.
func (c *Catalogue) GetOrCreateAuthor(ctx context.Context, family, given string) (int64, error) {
	family, given = normalizeName(family), normalizeName(given)
	if family == "" {
		return 0, fmt.Errorf("author family name: %w", ErrEmptyName)
	}

	var id int64
	err := c.h.WithTx(ctx, func(ctx context.Context) error {
		err := c.queryRow(ctx, "find_author", findAuthorStatement, []any{family, given}, &id)
		if err == nil || !errors.Is(err, db.ErrNotFound) {
			return err
		}
		id, err = c.insert(ctx, "create_author", createAuthorStatement, family, given)
		return db.WithEntity(err, "author")
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get or create author %q: %w", family, err)
	}
	return id, nil
}

// FetchAuthorByID returns one author.
func (c *Catalogue) FetchAuthorByID(ctx context.Context, id int64) (Author, error) {
	var a Author
	err := c.queryRow(ctx, "get_author", getAuthorStatement, []any{id}, &a.ID, &a.FamilyName, &a.GivenNames)
	if err != nil {
		return Author{}, fmt.Errorf("author %d: %w", id, err)
	}
	return a, nil
}

// ListAuthors returns every author with the number of books crediting them.
func (c *Catalogue) ListAuthors(ctx context.Context) ([]AuthorCount, error) {
	s, err := c.stmt("list_authors", listAuthorsStatement)
	if err != nil {
		return nil, err
	}
	var authors []AuthorCount
	err = s.Query(ctx, nil, func(rows *sql.Rows) error {
		var a AuthorCount
		if err := rows.Scan(&a.ID, &a.FamilyName, &a.GivenNames, &a.Books); err != nil {
			return err
		}
		authors = append(authors, a)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list authors: %w", err)
	}
	return authors, nil
}

func (c *Catalogue) bookAuthors(ctx context.Context, bookID int64) ([]Author, error) {
	s, err := c.stmt("book_authors", bookAuthorsStatement)
	if err != nil {
		return nil, err
	}
	var authors []Author
	err = s.Query(ctx, []any{bookID}, func(rows *sql.Rows) error {
		var a Author
		if err := rows.Scan(&a.ID, &a.FamilyName, &a.GivenNames); err != nil {
			return err
		}
		authors = append(authors, a)
		return nil
	})
	return authors, err
}

// resolveAuthor returns the id of a, creating the author when a has no id.
func (c *Catalogue) resolveAuthor(ctx context.Context, a Author) (int64, error) {
	if a.ID != 0 {
		return a.ID, nil
	}
	return c.GetOrCreateAuthor(ctx, a.FamilyName, a.GivenNames)
}

// setBookAuthors replaces the authors of a book, numbering them 1..n in the
// given order. Repeated authors keep their first position.
func (c *Catalogue) setBookAuthors(ctx context.Context, bookID int64, authors []Author) error {
	if _, err := c.exec(ctx, "delete_book_authors", deleteBookAuthorsStatement, bookID); err != nil {
		return err
	}
	seen := make(map[int64]bool, len(authors))
	position := 0
	for _, a := range authors {
		id, err := c.resolveAuthor(ctx, a)
		if err != nil {
			return err
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		position++
		if _, err := c.exec(ctx, "link_book_author", linkBookAuthorStatement, bookID, id, position); err != nil {
			return db.WithEntity(err, "author")
		}
	}
	return nil
}

// PurgeAuthors deletes every author no book or anthology title refers to and
// returns how many went. It is a no-op when nothing is orphaned.
func (c *Catalogue) PurgeAuthors(ctx context.Context) (int64, error) {
	n, err := c.exec(ctx, "purge_authors", db.PurgeAuthorsSQL)
	if err != nil {
		return 0, fmt.Errorf("failed to purge authors: %w", err)
	}
	return n, nil
}

// ReplaceAuthorEverywhere moves every book and anthology title credited to
// author from onto author to, keeps author positions dense and deletes from
// when nothing refers to it any more.
func (c *Catalogue) ReplaceAuthorEverywhere(ctx context.Context, from, to int64) error {
	err := c.h.WithTx(ctx, func(ctx context.Context) error {
		if _, err := c.FetchAuthorByID(ctx, to); err != nil {
			return err
		}
		q := c.h.Querier(ctx)
		touched, err := db.RepointAuthor(ctx, q, from, to)
		if err != nil {
			return err
		}
		if len(touched) == 0 {
			return nil
		}
		if err := db.ClosePositionGaps(ctx, q, db.AuthorLinks, touched...); err != nil {
			return err
		}
		if err := db.ClosePositionGaps(ctx, q, db.AnthologyLinks, touched...); err != nil {
			return err
		}
		return c.refreshFTS(ctx, touched...)
	})
	if err != nil {
		return fmt.Errorf("failed to replace author %d with %d: %w", from, to, err)
	}
	c.logger.Info("author_replaced", slog.Int64("from", from), slog.Int64("to", to))
	return nil
}

// purgeQuietly sweeps orphans after a write. The sweep is cosmetic, so a
// failure is logged and dropped.
func (c *Catalogue) purgeQuietly(ctx context.Context) {
	if _, err := c.PurgeAuthors(ctx); err != nil {
		c.logger.Warn("purge_failed", slog.String("entity", "author"), slog.Any("error", err))
	}
	if _, err := c.PurgeSeries(ctx); err != nil {
		c.logger.Warn("purge_failed", slog.String("entity", "series"), slog.Any("error", err))
	}
}
