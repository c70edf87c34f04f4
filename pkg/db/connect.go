package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/text/language"
)

// validSyncModes lists the allowed values for the synchronous pragma.
var validSyncModes = map[string]bool{
	"OFF":    true,
	"NORMAL": true,
	"FULL":   true,
	"EXTRA":  true,
}

// MemoryPath opens a private in-memory store. Every pooled connection would
// otherwise see its own empty database, so such handles use one connection.
const MemoryPath = ":memory:"

// IsMemoryPath reports whether path names an in-memory store.
func IsMemoryPath(path string) bool {
	return path == "" || path == MemoryPath || strings.HasPrefix(path, "file::memory:") || strings.Contains(path, "mode=memory")
}

// OpenDBConnection establishes a connection pool to a SQLite database.
// path is the store file (or ":memory:").
// enableWAL sets the journal_mode to WAL if true.
// syncPragma sets the synchronous pragma (e.g., "OFF", "NORMAL", "FULL", "EXTRA").
// locale selects the ordering of the LOCALIZED collation.
func OpenDBConnection(path string, enableWAL bool, syncPragma string, locale language.Tag) (*sql.DB, error) {
	params := url.Values{}

	if enableWAL && !IsMemoryPath(path) {
		params.Add("_journal_mode", "WAL")
	}

	if syncPragma != "" {
		ucSyncPragma := strings.ToUpper(syncPragma)
		if !validSyncModes[ucSyncPragma] {
			return nil, fmt.Errorf("invalid sync pragma value: %s. Must be one of OFF, NORMAL, FULL, EXTRA", syncPragma)
		}
		params.Add("_synchronous", ucSyncPragma)
	}

	// Foreign keys are a per-connection setting; putting them in the DSN
	// applies them to every connection the pool opens.
	params.Add("_foreign_keys", "1")
	params.Add("_busy_timeout", "5000")
	params.Add("_txlock", "immediate")

	if path == "" {
		path = MemoryPath
	}
	constructedDSN := path
	if strings.Contains(path, "?") {
		constructedDSN += "&" + params.Encode()
	} else {
		constructedDSN += "?" + params.Encode()
	}

	db, err := sql.Open(driverName(locale), constructedDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database with DSN '%s': %w", constructedDSN, err)
	}
	if IsMemoryPath(path) {
		db.SetMaxOpenConns(1)
	}

	// Ping the database to ensure the connection is alive and the DSN is valid.
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database with DSN '%s': %w", constructedDSN, err)
	}

	return db, nil
}
