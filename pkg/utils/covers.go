package utils

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/natefinch/atomic"

	"github.com/unowned-ai/catalogue/pkg/db"
)

const coverExt = ".jpg"

// CoverPath is where the cover of the book with the given UUID lives.
func CoverPath(dir, bookUUID string) string {
	return filepath.Join(dir, bookUUID+coverExt)
}

// legacyCoverPath is where stores older than UUID naming kept a cover.
func legacyCoverPath(dir string, bookID int64) string {
	return filepath.Join(dir, strconv.FormatInt(bookID, 10)+coverExt)
}

// CoverDir renames covers stored under a book id to their UUID name. It is
// handed to the migrator so the upgrade introducing UUIDs moves the files.
type CoverDir string

// RenameCover moves <id>.jpg to <uuid>.jpg. A missing cover is not an error,
// and an existing UUID-named cover is left untouched.
func (d CoverDir) RenameCover(ctx context.Context, bookID int64, bookUUID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from := legacyCoverPath(string(d), bookID)
	to := CoverPath(string(d), bookUUID)

	if _, err := os.Stat(from); errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return &db.IOError{Op: "stat cover", Path: from, Err: err}
	}
	if _, err := os.Stat(to); err == nil {
		return nil
	}
	if err := atomic.ReplaceFile(from, to); err != nil {
		return &db.IOError{Op: "rename cover", Path: from, Err: err}
	}
	return nil
}

// DeleteCover removes the cover of a deleted book. A missing cover is fine.
func (d CoverDir) DeleteCover(bookUUID string) error {
	p := CoverPath(string(d), bookUUID)
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &db.IOError{Op: "delete cover", Path: p, Err: err}
	}
	return nil
}
