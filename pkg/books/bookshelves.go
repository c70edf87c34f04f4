package books

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/unowned-ai/catalogue/pkg/db"
)

const (
	createBookshelfStatement = `
	INSERT INTO bookshelf (bookshelf) VALUES (?)
	`

	findBookshelfStatement = `
	SELECT _id FROM bookshelf WHERE bookshelf = ? COLLATE LOCALIZED
	`

	listBookshelvesStatement = `
	SELECT _id, bookshelf FROM bookshelf ORDER BY bookshelf COLLATE LOCALIZED
	`

	renameBookshelfStatement = `
	UPDATE bookshelf SET bookshelf = ? WHERE _id = ?
	`

	deleteBookshelfStatement = `
	DELETE FROM bookshelf WHERE _id = ?
	`

	bookBookshelvesStatement = `
	SELECT sh._id, sh.bookshelf
	FROM book_bookshelf_weak bbw JOIN bookshelf sh ON sh._id = bbw.bookshelf
	WHERE bbw.book = ?
	ORDER BY sh.bookshelf COLLATE LOCALIZED
	`

	deleteBookBookshelvesStatement = `
	DELETE FROM book_bookshelf_weak WHERE book = ?
	`

	linkBookBookshelfStatement = `
	INSERT OR IGNORE INTO book_bookshelf_weak (book, bookshelf) VALUES (?, ?)
	`
)

// CreateBookshelf adds a shelf. A name already used under the store's
// collation fails with a *db.ConstraintError.
func (c *Catalogue) CreateBookshelf(ctx context.Context, name string) (Bookshelf, error) {
	name = normalizeName(name)
	if name == "" {
		return Bookshelf{}, fmt.Errorf("bookshelf name: %w", ErrEmptyName)
	}
	id, err := c.insert(ctx, "create_bookshelf", createBookshelfStatement, name)
	if err != nil {
		return Bookshelf{}, fmt.Errorf("failed to create bookshelf %q: %w", name, db.WithEntity(err, "bookshelf"))
	}
	return Bookshelf{ID: id, Name: name}, nil
}

// ListBookshelves returns every shelf in collation order.
func (c *Catalogue) ListBookshelves(ctx context.Context) ([]Bookshelf, error) {
	s, err := c.stmt("list_bookshelves", listBookshelvesStatement)
	if err != nil {
		return nil, err
	}
	var shelves []Bookshelf
	err = s.Query(ctx, nil, func(rows *sql.Rows) error {
		var sh Bookshelf
		if err := rows.Scan(&sh.ID, &sh.Name); err != nil {
			return err
		}
		shelves = append(shelves, sh)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list bookshelves: %w", err)
	}
	return shelves, nil
}

// RenameBookshelf renames a shelf.
func (c *Catalogue) RenameBookshelf(ctx context.Context, id int64, name string) error {
	name = normalizeName(name)
	if name == "" {
		return fmt.Errorf("bookshelf name: %w", ErrEmptyName)
	}
	n, err := c.exec(ctx, "rename_bookshelf", renameBookshelfStatement, name, id)
	if err != nil {
		return fmt.Errorf("failed to rename bookshelf %d: %w", id, db.WithEntity(err, "bookshelf"))
	}
	if n == 0 {
		return fmt.Errorf("bookshelf %d: %w", id, db.ErrNotFound)
	}
	return nil
}

// DeleteBookshelf removes a shelf and its memberships. The books stay.
func (c *Catalogue) DeleteBookshelf(ctx context.Context, id int64) error {
	if id == db.DefaultBookshelfID {
		return ErrDefaultBookshelf
	}
	n, err := c.exec(ctx, "delete_bookshelf", deleteBookshelfStatement, id)
	if err != nil {
		return fmt.Errorf("failed to delete bookshelf %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("bookshelf %d: %w", id, db.ErrNotFound)
	}
	return nil
}

// resolveBookshelf returns the id of sh, creating a shelf by name when sh has no id.
func (c *Catalogue) resolveBookshelf(ctx context.Context, sh Bookshelf) (int64, error) {
	if sh.ID != 0 {
		return sh.ID, nil
	}
	name := normalizeName(sh.Name)
	if name == "" {
		return 0, fmt.Errorf("bookshelf name: %w", ErrEmptyName)
	}
	var id int64
	err := c.queryRow(ctx, "find_bookshelf", findBookshelfStatement, []any{name}, &id)
	if err == nil || !errors.Is(err, db.ErrNotFound) {
		return id, err
	}
	created, err := c.CreateBookshelf(ctx, name)
	return created.ID, err
}

func (c *Catalogue) bookBookshelves(ctx context.Context, bookID int64) ([]Bookshelf, error) {
	s, err := c.stmt("book_bookshelves", bookBookshelvesStatement)
	if err != nil {
		return nil, err
	}
	var shelves []Bookshelf
	err = s.Query(ctx, []any{bookID}, func(rows *sql.Rows) error {
		var sh Bookshelf
		if err := rows.Scan(&sh.ID, &sh.Name); err != nil {
			return err
		}
		shelves = append(shelves, sh)
		return nil
	})
	return shelves, err
}

// setBookBookshelves replaces the shelves of a book. A book with no shelf
// goes on the default one.
func (c *Catalogue) setBookBookshelves(ctx context.Context, bookID int64, shelves []Bookshelf) error {
	if _, err := c.exec(ctx, "delete_book_bookshelves", deleteBookBookshelvesStatement, bookID); err != nil {
		return err
	}
	if len(shelves) == 0 {
		shelves = []Bookshelf{{ID: db.DefaultBookshelfID}}
	}
	for _, sh := range shelves {
		id, err := c.resolveBookshelf(ctx, sh)
		if err != nil {
			return err
		}
		if _, err := c.exec(ctx, "link_book_bookshelf", linkBookBookshelfStatement, bookID, id); err != nil {
			return fmt.Errorf("failed to shelve book %d: %w", bookID, err)
		}
	}
	return nil
}
