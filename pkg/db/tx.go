package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

type txKey struct{}

// Tx is a writer transaction. The outermost Tx holds the coordinator
// exclusively until Commit or Rollback. Transactions begun with a context
// that already carries one are nested: they share the outer transaction,
// their Commit is a no-op and their Rollback marks the outer one as aborted.
type Tx struct {
	h      *Handle
	root   *Tx
	sqlTx  *sql.Tx
	ctx    context.Context
	nested bool
	locked bool

	mu      sync.Mutex
	done    bool
	aborted bool
	stmts   map[*Stmt]*sql.Stmt
}

func txFromContext(ctx context.Context, h *Handle) *Tx {
	t, ok := ctx.Value(txKey{}).(*Tx)
	if !ok || t.h != h {
		return nil
	}
	t.root.mu.Lock()
	defer t.root.mu.Unlock()
	if t.root.done {
		return nil
	}
	return t
}

// Begin starts a transaction, or joins the one carried by ctx.
func (h *Handle) Begin(ctx context.Context) (*Tx, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	if outer := txFromContext(ctx, h); outer != nil {
		return &Tx{h: h, root: outer.root, ctx: ctx, nested: true}, nil
	}
	if inReadScope(ctx, h) {
		return nil, ErrWriteInReadScope
	}

	locked := !inExclusiveScope(ctx, h)
	if locked {
		h.rw.Lock()
		if err := h.checkOpen(); err != nil {
			h.rw.Unlock()
			return nil, err
		}
	}

	sqlTx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		if locked {
			h.rw.Unlock()
		}
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	t := &Tx{h: h, sqlTx: sqlTx, locked: locked}
	t.root = t
	t.ctx = context.WithValue(ctx, txKey{}, t)
	return t, nil
}

// stmt returns s compiled on the transaction's connection. database/sql
// closes it when the transaction ends.
func (t *Tx) stmt(ctx context.Context, s *Stmt) (*sql.Stmt, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ts, ok := t.stmts[s]; ok {
		return ts, nil
	}

	var ts *sql.Stmt
	if pooled := s.compiled(); pooled != nil {
		ts = t.sqlTx.StmtContext(ctx, pooled)
	} else {
		var err error
		ts, err = t.sqlTx.PrepareContext(ctx, s.text)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare statement %s: %w", s.name, ClassifyError(err))
		}
	}
	if t.stmts == nil {
		t.stmts = make(map[*Stmt]*sql.Stmt)
	}
	t.stmts[s] = ts
	return ts, nil
}

// Context returns the context that routes calls through this transaction.
func (t *Tx) Context() context.Context { return t.ctx }

// Commit commits the outermost transaction. It fails with ErrTxAborted if a
// nested scope rolled back.
func (t *Tx) Commit() error {
	if t.nested {
		return nil
	}
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return sql.ErrTxDone
	}
	t.done = true
	aborted := t.aborted
	t.mu.Unlock()
	defer t.release()

	if aborted {
		if err := t.sqlTx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			return fmt.Errorf("failed to roll back aborted transaction: %w", err)
		}
		return ErrTxAborted
	}
	if err := t.sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", ClassifyError(err))
	}
	return nil
}

// Rollback abandons the transaction. It is safe to defer after Commit.
func (t *Tx) Rollback() error {
	if t.nested {
		t.root.mu.Lock()
		t.root.aborted = true
		t.root.mu.Unlock()
		return nil
	}
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return nil
	}
	t.done = true
	t.mu.Unlock()
	defer t.release()

	if err := t.sqlTx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to roll back transaction: %w", err)
	}
	return nil
}

func (t *Tx) release() {
	if t.locked {
		t.h.rw.Unlock()
	}
}

// WithTx runs fn inside a transaction, joining the one carried by ctx if any.
// fn's error rolls the transaction back and is returned unchanged.
func (h *Handle) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := h.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx.Context()); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			h.logger.Warn("rollback_failed", slog.Any("error", rbErr))
		}
		return err
	}
	return tx.Commit()
}

// Querier returns the transaction carried by ctx, or nil outside one. Helpers
// that take a Querier use it to join the caller's transaction.
func (h *Handle) Querier(ctx context.Context) Querier {
	if t := txFromContext(ctx, h); t != nil {
		return t.root.sqlTx
	}
	return nil
}
