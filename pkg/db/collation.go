package db

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// CollationName is the locale-aware, case-insensitive collation registered on
// every connection. All text equality and ordering in the schema uses it.
const CollationName = "LOCALIZED"

// FoldFunction is the SQL function that case-folds its argument, used for
// substring matching that SQLite's ASCII-only LIKE cannot do.
const FoldFunction = "fold"

var (
	driversMu sync.Mutex
	drivers   = map[string]string{}
)

// driverName registers (once per locale) a sqlite3 driver whose connections
// carry the LOCALIZED collation and the fold() function.
func driverName(tag language.Tag) string {
	key := tag.String()

	driversMu.Lock()
	defer driversMu.Unlock()

	if name, ok := drivers[key]; ok {
		return name
	}

	name := "sqlite3_catalogue_" + key
	sql.Register(name, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return registerConnFunctions(conn, tag)
		},
	})
	drivers[key] = name
	return name
}

// registerConnFunctions installs per-connection collators. Collators and
// casers keep internal buffers, and a SQLite connection is only ever used by
// one goroutine at a time, so one instance per connection is enough.
func registerConnFunctions(conn *sqlite3.SQLiteConn, tag language.Tag) error {
	collator := collate.New(tag, collate.IgnoreCase)
	if err := conn.RegisterCollation(CollationName, collator.CompareString); err != nil {
		return fmt.Errorf("failed to register %s collation: %w", CollationName, err)
	}

	folder := cases.Fold()
	fold := func(v any) any {
		switch s := v.(type) {
		case nil:
			return nil
		case string:
			return folder.String(s)
		case []byte:
			return folder.String(string(s))
		default:
			return fmt.Sprint(s)
		}
	}
	if err := conn.RegisterFunc(FoldFunction, fold, true); err != nil {
		return fmt.Errorf("failed to register %s function: %w", FoldFunction, err)
	}
	return nil
}

// Fold case-folds s exactly like the fold() SQL function does. The search
// index is written and queried through it.
func Fold(s string) string {
	return cases.Fold().String(s)
}
