package utils

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAndEnsureDBPath(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "nested", "deeper", "catalogue.db")

	got, err := ResolveAndEnsureDBPath(target)
	require.NoError(t, err)
	assert.Equal(t, target, got)

	info, err := os.Stat(filepath.Dir(target))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	got, err = ResolveAndEnsureDBPath(":memory:")
	require.NoError(t, err)
	assert.Equal(t, ":memory:", got)
}

func TestExpandPath_Home(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := ExpandPath("~/books/catalogue.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "books", "catalogue.db"), got)
}

func TestGetDefaultDBPathOnly(t *testing.T) {
	assert.Equal(t, "catalogue.db", filepath.Base(GetDefaultDBPathOnly()))
}

func TestCoverDir_RenameCover(t *testing.T) {
	dir := t.TempDir()
	covers := CoverDir(dir)
	ctx := context.Background()
	const bookUUID = "4f1c1a9e-6f0b-4d3c-9a57-2d5b8f0e7c11"

	require.NoError(t, os.WriteFile(filepath.Join(dir, "7.jpg"), []byte("cover"), 0o644))
	require.NoError(t, covers.RenameCover(ctx, 7, bookUUID))

	data, err := os.ReadFile(CoverPath(dir, bookUUID))
	require.NoError(t, err)
	assert.Equal(t, "cover", string(data))
	assert.NoFileExists(t, filepath.Join(dir, "7.jpg"))

	// Running again, or for a book without a cover, does nothing.
	require.NoError(t, covers.RenameCover(ctx, 7, bookUUID))
	require.NoError(t, covers.RenameCover(ctx, 8, "no-cover"))

	require.NoError(t, covers.DeleteCover(bookUUID))
	assert.NoFileExists(t, CoverPath(dir, bookUUID))
	require.NoError(t, covers.DeleteCover(bookUUID))
}

func TestCoverDir_KeepsExistingUUIDCover(t *testing.T) {
	dir := t.TempDir()
	const bookUUID = "uuid-1"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "3.jpg"), []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(CoverPath(dir, bookUUID), []byte("new"), 0o644))

	require.NoError(t, CoverDir(dir).RenameCover(context.Background(), 3, bookUUID))
	data, err := os.ReadFile(CoverPath(dir, bookUUID))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestCoverDir_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := CoverDir(t.TempDir()).RenameCover(ctx, 1, "uuid")
	assert.ErrorIs(t, err, context.Canceled)
}
