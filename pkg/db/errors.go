package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound reports a lookup by id or UUID that matched no row.
	ErrNotFound = errors.New("not found")
	// ErrConstraint reports a write rejected by a uniqueness or integrity rule.
	ErrConstraint = errors.New("constraint violation")
	// ErrMigration reports a schema upgrade that could not complete.
	ErrMigration = errors.New("schema migration failed")
	// ErrClosedHandle reports use of a Handle (or one of its statements) after Close.
	ErrClosedHandle = errors.New("storage handle is closed")
	// ErrIO reports a file system failure while backing up the store or resolving a path.
	ErrIO = errors.New("i/o failure")
	// ErrWriteInReadScope reports a write attempted from inside Handle.Read.
	ErrWriteInReadScope = errors.New("write attempted inside a read scope")
	// ErrTxAborted reports a commit of a transaction that a nested scope rolled back.
	ErrTxAborted = errors.New("transaction was rolled back by a nested scope")
)

// ConstraintError is returned when SQLite rejects a write because of a
// UNIQUE, PRIMARY KEY, NOT NULL, CHECK or FOREIGN KEY rule.
type ConstraintError struct {
	Entity string
	Err    error
}

func (e *ConstraintError) Error() string {
	if e.Entity == "" {
		return fmt.Sprintf("constraint violation: %v", e.Err)
	}
	return fmt.Sprintf("duplicate or invalid %s: %v", e.Entity, e.Err)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

func (e *ConstraintError) Is(target error) bool { return target == ErrConstraint }

// MigrationError carries the version transition that failed.
type MigrationError struct {
	From    int
	To      int
	Version int
	Err     error
}

func (e *MigrationError) Error() string {
	if e.Version == 0 {
		return fmt.Sprintf("schema upgrade from version %d to %d failed: %v", e.From, e.To, e.Err)
	}
	return fmt.Sprintf("schema upgrade from version %d to %d failed at step %d: %v", e.From, e.To, e.Version, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

func (e *MigrationError) Is(target error) bool { return target == ErrMigration }

// IOError wraps a file system failure.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == ErrIO }

// ClassifyError maps driver errors onto the package taxonomy. Constraint
// failures become *ConstraintError, sql.ErrNoRows becomes ErrNotFound and
// everything else is returned unchanged.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var constraint *ConstraintError
	if errors.As(err, &constraint) {
		return err
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return &ConstraintError{Err: err}
	}
	return err
}

// WithEntity names the entity of a constraint failure so callers can offer a
// "use existing?" flow. Other errors pass through unchanged.
func WithEntity(err error, entity string) error {
	err = ClassifyError(err)
	var constraint *ConstraintError
	if errors.As(err, &constraint) && constraint.Entity == "" {
		return &ConstraintError{Entity: entity, Err: constraint.Err}
	}
	return err
}
