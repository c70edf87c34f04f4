package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// SchemaVersion reads the version stamped in the store.
func SchemaVersion(ctx context.Context, q Querier) (int, error) {
	var version int
	if err := q.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func setSchemaVersion(ctx context.Context, q Querier, version int) error {
	// PRAGMA arguments cannot be bound.
	if _, err := q.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("failed to stamp schema version %d: %w", version, err)
	}
	return nil
}

// tableSQL returns the stored DDL of a table, or "" when it does not exist.
func tableSQL(ctx context.Context, q Querier, name string) (string, error) {
	var ddl sql.NullString
	err := q.QueryRowContext(ctx, `SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&ddl)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read definition of %s: %w", name, err)
	}
	return ddl.String, nil
}

// TableExists checks sqlite_master for a table.
func TableExists(ctx context.Context, q Querier, name string) (bool, error) {
	ddl, err := tableSQL(ctx, q, name)
	if err != nil {
		return false, err
	}
	return ddl != "", nil
}

// TableColumns lists a table's columns in declaration order.
func TableColumns(ctx context.Context, q Querier, table string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns of %s: %w", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}

// ColumnExists checks pragma table_info for a column.
func ColumnExists(ctx context.Context, q Querier, table, column string) (bool, error) {
	columns, err := TableColumns(ctx, q, table)
	if err != nil {
		return false, err
	}
	for _, c := range columns {
		if strings.EqualFold(c, column) {
			return true, nil
		}
	}
	return false, nil
}

// schemaNames lists the names of user-defined objects of a type, skipping
// SQLite's automatic indexes.
func schemaNames(ctx context.Context, q Querier, kind string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = ? AND sql IS NOT NULL ORDER BY name`, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list %ss: %w", kind, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// NormalizeDDL reduces DDL to a comparable form: lower case, without quoting
// characters and without whitespace. Renames rewrite names with different
// quoting, so quotes of either kind are dropped.
func NormalizeDDL(ddl string) string {
	var b strings.Builder
	b.Grow(len(ddl))
	for _, r := range strings.ToLower(ddl) {
		if unicode.IsSpace(r) || strings.ContainsRune("\"'`[]", r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SchemaEntry is one row of sqlite_master in comparable form.
type SchemaEntry struct {
	Type string
	Name string
	SQL  string
}

// SchemaSnapshot returns every user-visible schema object, normalized, in a
// stable order. Two stores with equal snapshots have the same schema.
func SchemaSnapshot(ctx context.Context, q Querier) ([]SchemaEntry, error) {
	rows, err := q.QueryContext(ctx, `
SELECT type, name, sql FROM sqlite_master
WHERE sql IS NOT NULL AND name NOT LIKE 'sqlite_%'
ORDER BY type, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	defer rows.Close()

	var entries []SchemaEntry
	for rows.Next() {
		var e SchemaEntry
		if err := rows.Scan(&e.Type, &e.Name, &e.SQL); err != nil {
			return nil, err
		}
		e.SQL = NormalizeDDL(e.SQL)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
