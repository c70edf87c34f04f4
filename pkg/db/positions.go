package db

import (
	"context"
	"fmt"
	"strings"
)

// ClosePositionGaps renumbers the positions of an association to 1..n per
// book, keeping their relative order (ties broken by entity id). With no
// bookIDs every book is renumbered.
//
// Positions are part of the primary key, so the rows are first moved to
// negative values and then assigned their rank; no intermediate state can
// collide with a row that has not been renumbered yet.
func ClosePositionGaps(ctx context.Context, q Querier, a Association, bookIDs ...int64) error {
	filter, args := bookFilter(bookIDs)

	negate := fmt.Sprintf(
		`UPDATE %[1]s SET %[2]s = -1 - COALESCE(%[2]s, 0) WHERE (%[2]s >= 0 OR %[2]s IS NULL)%[3]s`,
		a.Table, a.Position, filter)
	if _, err := q.ExecContext(ctx, negate, args...); err != nil {
		return fmt.Errorf("failed to stage positions of %s: %w", a.Table, err)
	}

	rank := fmt.Sprintf(`
UPDATE %[1]s SET %[2]s = r.rn
FROM (
    SELECT rowid AS rid,
           ROW_NUMBER() OVER (PARTITION BY book ORDER BY -%[2]s, %[3]s) AS rn
    FROM %[1]s
    WHERE %[2]s < 0%[4]s
) AS r
WHERE %[1]s.rowid = r.rid`,
		a.Table, a.Position, a.Entity, filter)
	if _, err := q.ExecContext(ctx, rank, args...); err != nil {
		return fmt.Errorf("failed to renumber positions of %s: %w", a.Table, err)
	}
	return nil
}

func bookFilter(bookIDs []int64) (string, []any) {
	if len(bookIDs) == 0 {
		return "", nil
	}
	args := make([]any, len(bookIDs))
	for i, id := range bookIDs {
		args[i] = id
	}
	return " AND book IN (" + strings.TrimSuffix(strings.Repeat("?,", len(bookIDs)), ",") + ")", args
}

// MaxPosition returns the highest position used by a book, 0 if none.
func MaxPosition(ctx context.Context, q Querier, a Association, bookID int64) (int, error) {
	var max int
	query := fmt.Sprintf(`SELECT COALESCE(MAX(%s), 0) FROM %s WHERE book = ?`, a.Position, a.Table)
	if err := q.QueryRowContext(ctx, query, bookID).Scan(&max); err != nil {
		return 0, fmt.Errorf("failed to read positions of %s: %w", a.Table, err)
	}
	return max, nil
}
