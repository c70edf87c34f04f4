package db

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/text/language"
)

// Querier is the subset of *sql.DB, *sql.Conn and *sql.Tx the schema code
// needs. Migration steps and catalog helpers accept it so the same code runs
// on a dedicated connection, inside a transaction, or on the pool.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Options configures Open.
type Options struct {
	// Path is the store file. Empty or ":memory:" opens a private in-memory store.
	Path string
	// WAL enables write-ahead logging for file stores.
	WAL bool
	// Sync is the synchronous pragma (OFF, NORMAL, FULL, EXTRA). Empty keeps the SQLite default.
	Sync string
	// Locale drives the LOCALIZED collation. The zero value uses language.Und.
	Locale language.Tag
	// Logger receives diagnostics. Nil discards them.
	Logger *slog.Logger
}

// Handle is the one storage handle shared by every component. It owns the
// connection pool, the named statement cache and the reader/writer
// coordinator: plain reads share it, transactions and standalone writes hold
// it exclusively.
type Handle struct {
	db     *sql.DB
	path   string
	wal    bool
	logger *slog.Logger

	rw sync.RWMutex

	stmtMu sync.Mutex
	stmts  map[string]*Stmt

	closed atomic.Bool
}

// Open opens (or creates) the store described by opts. It does not migrate;
// see Migrator.
func Open(opts Options) (*Handle, error) {
	sqlDB, err := OpenDBConnection(opts.Path, opts.WAL, opts.Sync, opts.Locale)
	if err != nil {
		return nil, err
	}
	h := NewHandle(sqlDB, opts.Path, opts.Logger)
	h.wal = opts.WAL
	return h, nil
}

// NewHandle wraps an already opened pool. path is only used for backups and
// log messages.
func NewHandle(sqlDB *sql.DB, path string, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handle{
		db:     sqlDB,
		path:   path,
		logger: logger,
		stmts:  make(map[string]*Stmt),
	}
}

// Path returns the store file path the handle was opened with.
func (h *Handle) Path() string { return h.path }

// Logger returns the handle's logger.
func (h *Handle) Logger() *slog.Logger { return h.logger }

// IsMemory reports whether the handle is backed by an in-memory store.
func (h *Handle) IsMemory() bool { return IsMemoryPath(h.path) }

func (h *Handle) checkOpen() error {
	if h.closed.Load() {
		return ErrClosedHandle
	}
	return nil
}

// Close releases every cached statement and the pool. It waits for in-flight
// operations; calls made after Close starts fail with ErrClosedHandle.
func (h *Handle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}

	h.rw.Lock()
	defer h.rw.Unlock()

	h.stmtMu.Lock()
	for name, s := range h.stmts {
		if err := s.close(); err != nil {
			h.logger.Warn("statement_close_failed", slog.String("statement", name), slog.Any("error", err))
		}
	}
	h.stmts = nil
	h.stmtMu.Unlock()

	if h.wal && !h.IsMemory() {
		if _, err := h.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			h.logger.Warn("wal_checkpoint_failed", slog.Any("error", err))
		}
	}
	return h.db.Close()
}

// Prepare registers text under name, or returns the statement already
// registered under that name. Compilation is deferred to the first run so a
// statement first used inside a transaction is compiled on that
// transaction's connection; an in-memory store has no other.
func (h *Handle) Prepare(name, text string) (*Stmt, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}

	h.stmtMu.Lock()
	defer h.stmtMu.Unlock()

	if h.stmts == nil {
		return nil, ErrClosedHandle
	}
	if s, ok := h.stmts[name]; ok {
		if s.text != text {
			h.logger.Warn("statement_text_mismatch", slog.String("statement", name))
		}
		return s, nil
	}

	s := &Stmt{h: h, name: name, text: text}
	h.stmts[name] = s
	return s, nil
}

// scope marks a context as already holding the coordinator.
type scope struct {
	h         *Handle
	exclusive bool
}

type scopeKey struct{}

// access resolves what a call made with ctx should run on. Inside a
// transaction it is the transaction; inside a Read or Exclusive scope it is
// the pool without further locking; otherwise the coordinator is acquired
// (exclusively for writes) and the returned release must be called.
func (h *Handle) access(ctx context.Context, write bool) (Querier, *Tx, func(), error) {
	if err := h.checkOpen(); err != nil {
		return nil, nil, nil, err
	}
	if t := txFromContext(ctx, h); t != nil {
		return t.root.sqlTx, t.root, func() {}, nil
	}
	if sc, ok := ctx.Value(scopeKey{}).(*scope); ok && sc.h == h {
		if write && !sc.exclusive {
			return nil, nil, nil, ErrWriteInReadScope
		}
		return h.db, nil, func() {}, nil
	}
	if write {
		h.rw.Lock()
		if err := h.checkOpen(); err != nil {
			h.rw.Unlock()
			return nil, nil, nil, err
		}
		return h.db, nil, h.rw.Unlock, nil
	}
	h.rw.RLock()
	if err := h.checkOpen(); err != nil {
		h.rw.RUnlock()
		return nil, nil, nil, err
	}
	return h.db, nil, h.rw.RUnlock, nil
}

// Read runs fn holding the shared side of the coordinator, so a group of
// queries observes no interleaved writer. Calls made with the context passed
// to fn do not lock again. Writes inside fn fail with ErrWriteInReadScope.
func (h *Handle) Read(ctx context.Context, fn func(ctx context.Context) error) error {
	_, _, release, err := h.access(ctx, false)
	if err != nil {
		return err
	}
	defer release()
	if txFromContext(ctx, h) == nil && !inReadScope(ctx, h) && !inExclusiveScope(ctx, h) {
		ctx = context.WithValue(ctx, scopeKey{}, &scope{h: h})
	}
	return fn(ctx)
}

// Exclusive runs fn holding the exclusive side of the coordinator without a
// transaction. It serves operations SQLite refuses inside one, such as
// renaming a full-text table.
func (h *Handle) Exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	if t := txFromContext(ctx, h); t != nil {
		return fmt.Errorf("exclusive scope requested inside a transaction")
	}
	_, _, release, err := h.access(ctx, true)
	if err != nil {
		return err
	}
	defer release()
	return fn(context.WithValue(ctx, scopeKey{}, &scope{h: h, exclusive: true}))
}

func inExclusiveScope(ctx context.Context, h *Handle) bool {
	sc, ok := ctx.Value(scopeKey{}).(*scope)
	return ok && sc.h == h && sc.exclusive
}

func inReadScope(ctx context.Context, h *Handle) bool {
	sc, ok := ctx.Value(scopeKey{}).(*scope)
	return ok && sc.h == h && !sc.exclusive
}

// Exec runs an ad hoc mutation.
func (h *Handle) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	q, _, release, err := h.access(ctx, isWrite(query))
	if err != nil {
		return nil, err
	}
	defer release()
	res, err := q.ExecContext(ctx, query, args...)
	return res, ClassifyError(err)
}

// QueryRow runs an ad hoc single-row query and scans it into dest. A missing
// row is reported as ErrNotFound.
func (h *Handle) QueryRow(ctx context.Context, query string, args []any, dest ...any) error {
	q, _, release, err := h.access(ctx, false)
	if err != nil {
		return err
	}
	defer release()
	return ClassifyError(q.QueryRowContext(ctx, query, args...).Scan(dest...))
}

// Query runs an ad hoc query and calls fn once per row. fn must not issue
// further queries: in-memory stores have a single connection.
func (h *Handle) Query(ctx context.Context, query string, args []any, fn func(rows *sql.Rows) error) error {
	q, _, release, err := h.access(ctx, false)
	if err != nil {
		return err
	}
	defer release()
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return ClassifyError(err)
	}
	return scanRows(rows, fn)
}

func scanRows(rows *sql.Rows, fn func(rows *sql.Rows) error) error {
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// isWrite reports whether an ad hoc statement mutates the store.
func isWrite(query string) bool {
	head := strings.ToUpper(strings.TrimSpace(query))
	for _, prefix := range []string{"SELECT", "WITH", "EXPLAIN"} {
		if strings.HasPrefix(head, prefix) {
			return false
		}
	}
	return true
}

// Stmt is a named statement. Outside a transaction it is compiled once on
// the pool; inside one it is compiled on the transaction's connection and
// released with the transaction.
type Stmt struct {
	h    *Handle
	name string
	text string

	mu     sync.Mutex
	pooled *sql.Stmt
}

// Name returns the name the statement was registered under.
func (s *Stmt) Name() string { return s.name }

func (s *Stmt) compiled() *sql.Stmt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pooled
}

func (s *Stmt) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pooled == nil {
		return nil
	}
	err := s.pooled.Close()
	s.pooled = nil
	return err
}

func (s *Stmt) bind(ctx context.Context, t *Tx) (*sql.Stmt, error) {
	if t != nil {
		return t.stmt(ctx, s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pooled == nil {
		compiled, err := s.h.db.PrepareContext(ctx, s.text)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare statement %s: %w", s.name, ClassifyError(err))
		}
		s.pooled = compiled
	}
	return s.pooled, nil
}

// Exec runs a mutation. Outside a transaction it holds the coordinator
// exclusively for the duration of the statement.
func (s *Stmt) Exec(ctx context.Context, args ...any) (sql.Result, error) {
	_, tx, release, err := s.h.access(ctx, true)
	if err != nil {
		return nil, err
	}
	defer release()
	stmt, err := s.bind(ctx, tx)
	if err != nil {
		return nil, err
	}
	res, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.name, ClassifyError(err))
	}
	return res, nil
}

// QueryRow runs a single-row query and scans it into dest. A missing row is
// reported as ErrNotFound.
func (s *Stmt) QueryRow(ctx context.Context, args []any, dest ...any) error {
	_, tx, release, err := s.h.access(ctx, false)
	if err != nil {
		return err
	}
	defer release()
	stmt, err := s.bind(ctx, tx)
	if err != nil {
		return err
	}
	return ClassifyError(stmt.QueryRowContext(ctx, args...).Scan(dest...))
}

// Query runs a query and calls fn once per row.
func (s *Stmt) Query(ctx context.Context, args []any, fn func(rows *sql.Rows) error) error {
	_, tx, release, err := s.h.access(ctx, false)
	if err != nil {
		return err
	}
	defer release()
	stmt, err := s.bind(ctx, tx)
	if err != nil {
		return err
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", s.name, ClassifyError(err))
	}
	return scanRows(rows, fn)
}
