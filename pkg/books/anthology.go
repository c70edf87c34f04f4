package books

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/unowned-ai/catalogue/pkg/db"
)

const (
	createAnthologyTitleStatement = `
	INSERT INTO anthology (book, author, title, position) VALUES (?, ?, ?, ?)
	`

	getAnthologyTitleStatement = `
	SELECT book, position FROM anthology WHERE _id = ?
	`

	deleteAnthologyTitleStatement = `
	DELETE FROM anthology WHERE _id = ?
	`

	listAnthologyTitlesStatement = `
	SELECT an._id, an.book, an.title, an.position, a._id, a.family_name, a.given_names
	FROM anthology an JOIN authors a ON a._id = an.author
	WHERE an.book = ?
	ORDER BY an.position, an._id
	`

	shiftAnthologyUpStatement = `
	UPDATE anthology SET position = position + 1
	WHERE book = ? AND position >= ? AND position < ?
	`

	shiftAnthologyDownStatement = `
	UPDATE anthology SET position = position - 1
	WHERE book = ? AND position > ? AND position <= ?
	`

	moveAnthologyTitleStatement = `
	UPDATE anthology SET position = ? WHERE _id = ?
	`

	markAnthologyStatement = `
	UPDATE books SET anthology = 1 WHERE _id = ? AND anthology = 0
	`
)

// CreateAnthologyTitle appends a title to an anthology book. The same title
// by the same author twice in one book fails with a *db.ConstraintError
// naming "anthology".
func (c *Catalogue) CreateAnthologyTitle(ctx context.Context, bookID int64, author Author, title string) (AnthologyTitle, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return AnthologyTitle{}, ErrEmptyTitle
	}

	at := AnthologyTitle{BookID: bookID, Title: title}
	err := c.h.WithTx(ctx, func(ctx context.Context) error {
		authorID, err := c.resolveAuthor(ctx, author)
		if err != nil {
			return err
		}
		if at.Author, err = c.FetchAuthorByID(ctx, authorID); err != nil {
			return err
		}
		last, err := db.MaxPosition(ctx, c.h.Querier(ctx), db.AnthologyLinks, bookID)
		if err != nil {
			return err
		}
		at.Position = last + 1
		at.ID, err = c.insert(ctx, "create_anthology_title", createAnthologyTitleStatement, bookID, authorID, title, at.Position)
		if err != nil {
			return db.WithEntity(err, "anthology")
		}
		if _, err := c.exec(ctx, "mark_anthology", markAnthologyStatement, bookID); err != nil {
			return err
		}
		return c.refreshFTS(ctx, bookID)
	})
	if err != nil {
		return AnthologyTitle{}, fmt.Errorf("failed to add %q to book %d: %w", title, bookID, err)
	}
	return at, nil
}

// DeleteAnthologyTitle removes a title and closes the gap it leaves.
func (c *Catalogue) DeleteAnthologyTitle(ctx context.Context, id int64) error {
	err := c.h.WithTx(ctx, func(ctx context.Context) error {
		var bookID int64
		var position int
		if err := c.queryRow(ctx, "get_anthology_title", getAnthologyTitleStatement, []any{id}, &bookID, &position); err != nil {
			return err
		}
		if _, err := c.exec(ctx, "delete_anthology_title", deleteAnthologyTitleStatement, id); err != nil {
			return err
		}
		if err := db.ClosePositionGaps(ctx, c.h.Querier(ctx), db.AnthologyLinks, bookID); err != nil {
			return err
		}
		if err := c.refreshFTS(ctx, bookID); err != nil {
			return err
		}
		c.purgeQuietly(ctx)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete anthology title %d: %w", id, err)
	}
	return nil
}

// ReorderAnthologyTitle moves a title to position within its book, shifting
// the titles in between. Positions outside 1..n are clamped.
func (c *Catalogue) ReorderAnthologyTitle(ctx context.Context, id int64, position int) error {
	err := c.h.WithTx(ctx, func(ctx context.Context) error {
		var bookID int64
		var current int
		if err := c.queryRow(ctx, "get_anthology_title", getAnthologyTitleStatement, []any{id}, &bookID, &current); err != nil {
			return err
		}
		last, err := db.MaxPosition(ctx, c.h.Querier(ctx), db.AnthologyLinks, bookID)
		if err != nil {
			return err
		}
		position = max(1, min(position, last))
		switch {
		case position < current:
			_, err = c.exec(ctx, "shift_anthology_up", shiftAnthologyUpStatement, bookID, position, current)
		case position > current:
			_, err = c.exec(ctx, "shift_anthology_down", shiftAnthologyDownStatement, bookID, current, position)
		default:
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := c.exec(ctx, "move_anthology_title", moveAnthologyTitleStatement, position, id); err != nil {
			return err
		}
		return c.refreshFTS(ctx, bookID)
	})
	if err != nil {
		return fmt.Errorf("failed to move anthology title %d: %w", id, err)
	}
	return nil
}

// ListAnthologyTitles returns the titles of a book in order.
func (c *Catalogue) ListAnthologyTitles(ctx context.Context, bookID int64) ([]AnthologyTitle, error) {
	s, err := c.stmt("list_anthology_titles", listAnthologyTitlesStatement)
	if err != nil {
		return nil, err
	}
	var titles []AnthologyTitle
	err = s.Query(ctx, []any{bookID}, func(rows *sql.Rows) error {
		var at AnthologyTitle
		err := rows.Scan(&at.ID, &at.BookID, &at.Title, &at.Position,
			&at.Author.ID, &at.Author.FamilyName, &at.Author.GivenNames)
		if err != nil {
			return err
		}
		titles = append(titles, at)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list anthology titles of book %d: %w", bookID, err)
	}
	return titles, nil
}
