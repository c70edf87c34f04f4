package db

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
)

// BackupName is the file name of the copy taken before upgrading the store
// at path from one version to another.
func BackupName(path string, from, to int) string {
	return fmt.Sprintf("%s.v%d-v%d.bak", filepath.Base(path), from, to)
}

// backupFile copies the store at path into dir/name. The WAL is checkpointed
// first so the main file holds every committed page. The copy is written to
// a temporary file and renamed into place, so a crash never leaves a partial
// backup under the final name.
func backupFile(ctx context.Context, q Querier, path, dir, name string) (string, error) {
	if _, err := q.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return "", fmt.Errorf("failed to checkpoint before backup: %w", err)
	}

	if dir == "" {
		dir = filepath.Dir(path)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &IOError{Op: "create backup dir", Path: dir, Err: err}
	}

	src, err := os.Open(storeFile(path))
	if err != nil {
		return "", &IOError{Op: "open store", Path: path, Err: err}
	}
	defer src.Close()

	dst := filepath.Join(dir, name)
	if err := atomic.WriteFile(dst, src); err != nil {
		return "", &IOError{Op: "write backup", Path: dst, Err: err}
	}
	return dst, nil
}

// storeFile strips a file: URI prefix and query parameters from a DSN path.
func storeFile(path string) string {
	path = strings.TrimPrefix(path, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

// Backup writes a copy of the store into dir under name (BackupName of the
// current version when name is empty) while holding the writer lock.
// In-memory stores have nothing to copy and return "".
func (h *Handle) Backup(ctx context.Context, dir, name string) (string, error) {
	if h.IsMemory() {
		return "", nil
	}
	var dst string
	err := h.Exclusive(ctx, func(ctx context.Context) error {
		if name == "" {
			version, err := SchemaVersion(ctx, h.db)
			if err != nil {
				return err
			}
			name = BackupName(storeFile(h.path), version, version)
		}
		var err error
		dst, err = backupFile(ctx, h.db, storeFile(h.path), dir, name)
		return err
	})
	if err != nil {
		return "", err
	}
	h.logger.Info("store_backed_up", slog.String("path", dst))
	return dst, nil
}
