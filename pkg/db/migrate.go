package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// CoverRenamer moves a book's cover image to its UUID-based name. The
// migration that introduced UUID naming calls it once per book.
type CoverRenamer interface {
	RenameCover(ctx context.Context, bookID int64, bookUUID string) error
}

// MigratorOptions configures a Migrator.
type MigratorOptions struct {
	// BackupDir receives the copy taken before the first destructive step.
	// Empty means the directory of the store.
	BackupDir string
	// OnBackup is called with the path of every backup written.
	OnBackup func(path string)
	// CoverRenamer is optional; without it the cover step does nothing.
	CoverRenamer CoverRenamer
}

// MigrationResult describes one migration run.
type MigrationResult struct {
	From       int
	To         int
	BackupPath string
	// RebuildFTS is set when a step replaced the full-text table; the index
	// must be rebuilt before the store is searched.
	RebuildFTS bool
}

// Upgraded reports whether the run changed the store.
func (r MigrationResult) Upgraded() bool { return r.From != r.To }

// Migrator carries a store from its recorded version to CurrentSchemaVersion.
type Migrator struct {
	h      *Handle
	opts   MigratorOptions
	logger *slog.Logger
}

// NewMigrator returns a Migrator for h.
func NewMigrator(h *Handle, opts MigratorOptions) *Migrator {
	return &Migrator{h: h, opts: opts, logger: h.logger}
}

// Migrate upgrades the store. The whole run holds the writer lock and uses a
// dedicated connection, because foreign keys and legacy rename semantics are
// per-connection settings that must not leak into the pool.
func (m *Migrator) Migrate(ctx context.Context) (MigrationResult, error) {
	var result MigrationResult
	err := m.h.Exclusive(ctx, func(ctx context.Context) error {
		conn, err := m.h.db.Conn(ctx)
		if err != nil {
			return fmt.Errorf("failed to reserve migration connection: %w", err)
		}
		defer conn.Close()

		result, err = m.migrate(ctx, conn, CurrentSchemaVersion)
		return err
	})
	return result, err
}

func (m *Migrator) migrate(ctx context.Context, conn *sql.Conn, target int) (MigrationResult, error) {
	from, err := SchemaVersion(ctx, conn)
	if err != nil {
		return MigrationResult{}, &MigrationError{To: target, Err: err}
	}
	result := MigrationResult{From: from, To: from}

	switch {
	case from == target:
		m.logger.Debug("schema_up_to_date", slog.Int("version", from))
		return result, nil
	case from > target:
		return result, &MigrationError{From: from, To: target, Err: fmt.Errorf("store was written by a newer release")}
	case from == 0:
		if err := m.create(ctx, conn, target); err != nil {
			return result, err
		}
		result.To = target
		return result, nil
	}

	m.logger.Info("migration_started", slog.Int("from", from), slog.Int("to", target))

	if err := setMigrationPragmas(ctx, conn, true); err != nil {
		return result, &MigrationError{From: from, To: target, Err: err}
	}
	defer func() {
		if err := setMigrationPragmas(context.WithoutCancel(ctx), conn, false); err != nil {
			m.logger.Warn("migration_pragmas_restore_failed", slog.Any("error", err))
		}
	}()

	run := &migrationRun{m: m, conn: conn, result: &result, target: target}
	if err := run.applySteps(ctx, from, target); err != nil {
		return result, err
	}
	if err := run.finish(ctx); err != nil {
		return result, &MigrationError{From: from, To: target, Err: err}
	}
	result.To = target

	m.logger.Info("migration_finished",
		slog.Int("from", from),
		slog.Int("to", target),
		slog.String("backup", result.BackupPath),
		slog.Bool("rebuild_fts", result.RebuildFTS),
	)
	return result, nil
}

// create builds the current catalog on a store that has never been stamped.
func (m *Migrator) create(ctx context.Context, conn *sql.Conn, target int) error {
	exists, err := TableExists(ctx, conn, TableBooks)
	if err != nil {
		return &MigrationError{To: target, Err: err}
	}
	if exists {
		return &MigrationError{To: target, Err: fmt.Errorf("store holds a %s table but no schema version", TableBooks)}
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return &MigrationError{To: target, Err: err}
	}
	defer tx.Rollback()

	if err := InitializeSchema(ctx, tx); err != nil {
		return &MigrationError{To: target, Err: err}
	}
	if err := setSchemaVersion(ctx, tx, target); err != nil {
		return &MigrationError{To: target, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &MigrationError{To: target, Err: err}
	}
	m.logger.Info("schema_created", slog.Int("version", target))
	return nil
}

func setMigrationPragmas(ctx context.Context, conn *sql.Conn, migrating bool) error {
	fk, legacy := "OFF", "ON"
	if !migrating {
		fk, legacy = "ON", "OFF"
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = "+fk); err != nil {
		return fmt.Errorf("failed to set foreign_keys: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA legacy_alter_table = "+legacy); err != nil {
		return fmt.Errorf("failed to set legacy_alter_table: %w", err)
	}
	return nil
}

// migrationRun is the state of one Migrate call.
type migrationRun struct {
	m        *Migrator
	conn     *sql.Conn
	result   *MigrationResult
	target   int
	backedUp bool
}

// applySteps runs the steps in (from, to]. When any of them is destructive
// the store is copied before the first one runs, so the backup holds the
// store exactly as the caller left it.
func (r *migrationRun) applySteps(ctx context.Context, from, to int) error {
	var steps []upgradeStep
	for _, step := range upgradeSteps {
		if step.version > from && step.version <= to {
			steps = append(steps, step)
		}
	}

	if i := slices.IndexFunc(steps, func(s upgradeStep) bool { return s.destructive }); i >= 0 {
		if err := r.ensureBackup(ctx); err != nil {
			return &MigrationError{From: from, To: to, Version: steps[i].version, Err: err}
		}
	}

	for _, step := range steps {
		if err := r.applyStep(ctx, step); err != nil {
			return &MigrationError{From: from, To: to, Version: step.version, Err: err}
		}
	}
	return nil
}

// applyStep runs one step and stamps its version in the same transaction.
// A tolerant step that fails is rolled back, logged, and stamped anyway.
func (r *migrationRun) applyStep(ctx context.Context, step upgradeStep) error {
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	env := &stepEnv{q: tx, covers: r.m.opts.CoverRenamer, logger: r.m.logger}

	skip := false
	if step.skip != nil {
		if skip, err = step.skip(ctx, tx); err != nil {
			return fmt.Errorf("schema check failed: %w", err)
		}
	}

	switch {
	case skip:
		r.m.logger.Info("migration_step_skipped", slog.Int("version", step.version), slog.String("step", step.description))
	case step.apply != nil:
		if err := step.apply(ctx, env); err != nil {
			if !step.tolerant {
				return err
			}
			r.m.logger.Warn("migration_cleanup_failed",
				slog.Int("version", step.version),
				slog.String("step", step.description),
				slog.Any("error", err),
			)
			if err := tx.Rollback(); err != nil {
				return err
			}
			if tx, err = r.conn.BeginTx(ctx, nil); err != nil {
				return err
			}
			defer tx.Rollback()
			env.rebuildFTS = false
		}
	}

	if err := setSchemaVersion(ctx, tx, step.version); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if env.rebuildFTS {
		r.result.RebuildFTS = true
	}
	r.m.logger.Debug("migration_step", slog.Int("version", step.version), slog.String("step", step.description))
	return nil
}

// ensureBackup copies the store once per run.
func (r *migrationRun) ensureBackup(ctx context.Context) error {
	if r.backedUp {
		return nil
	}
	r.backedUp = true
	if r.m.h.IsMemory() {
		return nil
	}

	path := storeFile(r.m.h.path)
	dst, err := backupFile(ctx, r.conn, path, r.m.opts.BackupDir, BackupName(path, r.result.From, r.target))
	if err != nil {
		return err
	}
	r.result.BackupPath = dst
	r.m.logger.Info("migration_backup_written", slog.String("path", dst))
	if r.m.opts.OnBackup != nil {
		r.m.opts.OnBackup(dst)
	}
	return nil
}

// finish brings every table to its canonical shape and rebuilds all indexes
// and triggers from the catalog.
func (r *migrationRun) finish(ctx context.Context) error {
	reshape, err := r.tablesToReshape(ctx)
	if err != nil {
		return err
	}
	if len(reshape) > 0 {
		if err := r.ensureBackup(ctx); err != nil {
			return err
		}
	}

	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	r.dropSchemaObjects(ctx, tx, "trigger")
	r.dropSchemaObjects(ctx, tx, "index")

	for _, t := range reshape {
		if err := r.reshapeTable(ctx, tx, t); err != nil {
			return fmt.Errorf("failed to reshape %s: %w", t.Name, err)
		}
	}

	for _, objects := range [][]SchemaObject{Indexes, Triggers} {
		for _, o := range objects {
			if _, err := tx.ExecContext(ctx, o.DDL); err != nil {
				r.m.logger.Warn("schema_object_create_failed", slog.String("name", o.Name), slog.Any("error", err))
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	r.checkForeignKeys(ctx)
	return nil
}

// tablesToReshape returns the catalog tables whose stored DDL is missing or
// differs from the canonical one.
func (r *migrationRun) tablesToReshape(ctx context.Context) ([]Table, error) {
	var out []Table
	for _, t := range append(slices.Clone(Tables), FTSTable) {
		stored, err := tableSQL(ctx, r.conn, t.Name)
		if err != nil {
			return nil, err
		}
		if stored == "" || NormalizeDDL(stored) != NormalizeDDL(t.DDL) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *migrationRun) reshapeTable(ctx context.Context, q Querier, t Table) error {
	exists, err := TableExists(ctx, q, t.Name)
	if err != nil {
		return err
	}
	r.m.logger.Info("table_reshaped", slog.String("table", t.Name), slog.Bool("created", !exists))

	if t.Virtual {
		// The full-text table is derived data.
		if _, err := q.ExecContext(ctx, "DROP TABLE IF EXISTS "+t.Name); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, t.DDL); err != nil {
			return err
		}
		r.result.RebuildFTS = true
		return nil
	}
	if !exists {
		_, err := q.ExecContext(ctx, t.DDL)
		return err
	}
	return safeCopy(ctx, q, t.Name, t.DDL)
}

func (r *migrationRun) dropSchemaObjects(ctx context.Context, q Querier, kind string) {
	names, err := schemaNames(ctx, q, kind)
	if err != nil {
		r.m.logger.Warn("schema_object_list_failed", slog.String("type", kind), slog.Any("error", err))
		return
	}
	for _, name := range names {
		if _, err := q.ExecContext(ctx, fmt.Sprintf("DROP %s IF EXISTS %q", strings.ToUpper(kind), name)); err != nil {
			r.m.logger.Warn("schema_object_drop_failed", slog.String("name", name), slog.Any("error", err))
		}
	}
}

// checkForeignKeys reports rows left dangling by historical releases. They
// are logged rather than repaired.
func (r *migrationRun) checkForeignKeys(ctx context.Context) {
	rows, err := r.conn.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		r.m.logger.Warn("foreign_key_check_failed", slog.Any("error", err))
		return
	}
	defer rows.Close()

	violations := 0
	for rows.Next() {
		violations++
	}
	if violations > 0 {
		r.m.logger.Warn("foreign_key_violations", slog.Int("count", violations))
	}
}

// safeCopy recreates table under ddl: the old table is renamed aside, the
// new one created, the columns both share (minus exclude) copied across and
// the old table dropped. Callers run it with foreign keys off and legacy
// rename semantics on, so references from other tables keep pointing at the
// table name rather than following the rename.
func safeCopy(ctx context.Context, q Querier, table, ddl string, exclude ...string) error {
	old := table + "_old"
	if _, err := q.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", old)); err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", table, old)); err != nil {
		return fmt.Errorf("failed to rename %s aside: %w", table, err)
	}
	if _, err := q.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create new %s: %w", table, err)
	}

	oldColumns, err := TableColumns(ctx, q, old)
	if err != nil {
		return err
	}
	newColumns, err := TableColumns(ctx, q, table)
	if err != nil {
		return err
	}

	var common []string
	for _, c := range newColumns {
		if slices.Contains(oldColumns, c) && !slices.Contains(exclude, c) {
			common = append(common, c)
		}
	}
	if len(common) > 0 {
		cols := strings.Join(common, ", ")
		copySQL := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", table, cols, cols, old)
		if _, err := q.ExecContext(ctx, copySQL); err != nil {
			return fmt.Errorf("failed to copy rows into new %s: %w", table, err)
		}
	}

	if _, err := q.ExecContext(ctx, fmt.Sprintf("DROP TABLE %s", old)); err != nil {
		return fmt.Errorf("failed to drop old %s: %w", table, err)
	}
	return nil
}
