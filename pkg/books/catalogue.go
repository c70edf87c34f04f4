// Package books is the catalogue facade: the book aggregate and its
// normalized authors, series, shelves, anthology titles and loans, kept in
// step with the full-text index.
package books

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/text/language"

	"github.com/unowned-ai/catalogue/pkg/db"
)

// Options configures Open.
type Options struct {
	// Path is the store file; empty or ":memory:" opens a private in-memory store.
	Path   string
	WAL    bool
	Sync   string
	Locale language.Tag
	Logger *slog.Logger

	// BackupDir receives the copy taken before destructive migrations.
	BackupDir string
	// OnBackup is called with the path of every migration backup.
	OnBackup func(path string)
	// CoverRenamer moves covers to UUID names during the upgrade that introduced them.
	CoverRenamer db.CoverRenamer
}

// Catalogue is the entry point to a store. It is safe for concurrent use.
type Catalogue struct {
	h         *db.Handle
	logger    *slog.Logger
	migration db.MigrationResult
}

// Open opens the store, migrates it to the current schema and rebuilds the
// full-text index when the migration asked for it. Nothing else touches the
// store before the migration finishes.
func Open(ctx context.Context, opts Options) (*Catalogue, error) {
	h, err := db.Open(db.Options{
		Path:   opts.Path,
		WAL:    opts.WAL,
		Sync:   opts.Sync,
		Locale: opts.Locale,
		Logger: opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open catalogue: %w", err)
	}

	c := New(h)
	result, err := db.NewMigrator(h, db.MigratorOptions{
		BackupDir:    opts.BackupDir,
		OnBackup:     opts.OnBackup,
		CoverRenamer: opts.CoverRenamer,
	}).Migrate(ctx)
	if err != nil {
		h.Close()
		return nil, err
	}
	c.migration = result
	if result.Upgraded() {
		c.logger.Info("catalogue_upgraded",
			slog.Int("from", result.From),
			slog.Int("to", result.To),
			slog.String("backup", result.BackupPath))
	}

	if result.RebuildFTS {
		if err := c.RebuildFTS(ctx); err != nil {
			h.Close()
			return nil, err
		}
	}
	return c, nil
}

// New wraps a handle whose store is already migrated.
func New(h *db.Handle) *Catalogue {
	return &Catalogue{h: h, logger: h.Logger()}
}

// Close releases the store. Later calls fail with db.ErrClosedHandle.
func (c *Catalogue) Close() error {
	return c.h.Close()
}

// Handle exposes the storage handle shared by every component.
func (c *Catalogue) Handle() *db.Handle { return c.h }

// Migration reports what Open did to the schema.
func (c *Catalogue) Migration() db.MigrationResult { return c.migration }

// Begin starts a transaction. Facade calls made with tx.Context() join it.
func (c *Catalogue) Begin(ctx context.Context) (*db.Tx, error) {
	return c.h.Begin(ctx)
}

// Backup copies the store file into dir and returns the copy's path.
func (c *Catalogue) Backup(ctx context.Context, dir string) (string, error) {
	return c.h.Backup(ctx, dir, "")
}

func (c *Catalogue) stmt(name, text string) (*db.Stmt, error) {
	return c.h.Prepare(name, text)
}

// exec runs a named statement.
func (c *Catalogue) exec(ctx context.Context, name, text string, args ...any) (int64, error) {
	s, err := c.stmt(name, text)
	if err != nil {
		return 0, err
	}
	res, err := s.Exec(ctx, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// insert runs a named insert and returns the new row id.
func (c *Catalogue) insert(ctx context.Context, name, text string, args ...any) (int64, error) {
	s, err := c.stmt(name, text)
	if err != nil {
		return 0, err
	}
	res, err := s.Exec(ctx, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (c *Catalogue) queryRow(ctx context.Context, name, text string, args []any, dest ...any) error {
	s, err := c.stmt(name, text)
	if err != nil {
		return err
	}
	return s.QueryRow(ctx, args, dest...)
}
