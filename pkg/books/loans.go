package books

import (
	"context"
	"fmt"
	"strings"

	"github.com/unowned-ai/catalogue/pkg/db"
)

const (
	createLoanStatement = `
	INSERT INTO loan (book, loaned_to) VALUES (?, ?)
	`

	deleteLoanStatement = `
	DELETE FROM loan WHERE book = ?
	`

	getLoanStatement = `
	SELECT book, loaned_to FROM loan WHERE book = ?
	`
)

// CreateLoan lends a book. Lending a book that is already out fails with a
// *db.ConstraintError naming "loan".
func (c *Catalogue) CreateLoan(ctx context.Context, bookID int64, loanedTo string) error {
	loanedTo = strings.TrimSpace(loanedTo)
	if loanedTo == "" {
		return fmt.Errorf("borrower: %w", ErrEmptyName)
	}
	if _, err := c.insert(ctx, "create_loan", createLoanStatement, bookID, loanedTo); err != nil {
		return fmt.Errorf("failed to lend book %d: %w", bookID, db.WithEntity(err, "loan"))
	}
	return nil
}

// DeleteLoan marks a book as returned.
func (c *Catalogue) DeleteLoan(ctx context.Context, bookID int64) error {
	n, err := c.exec(ctx, "delete_loan", deleteLoanStatement, bookID)
	if err != nil {
		return fmt.Errorf("failed to return book %d: %w", bookID, err)
	}
	if n == 0 {
		return fmt.Errorf("loan of book %d: %w", bookID, db.ErrNotFound)
	}
	return nil
}

// FetchLoan returns the loan of a book, or db.ErrNotFound when it is not lent.
func (c *Catalogue) FetchLoan(ctx context.Context, bookID int64) (Loan, error) {
	var l Loan
	if err := c.queryRow(ctx, "get_loan", getLoanStatement, []any{bookID}, &l.BookID, &l.LoanedTo); err != nil {
		return Loan{}, fmt.Errorf("loan of book %d: %w", bookID, err)
	}
	return l, nil
}
