package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// GetDefaultDBPathOnly returns a system-appropriate default path for the catalogue store.
func GetDefaultDBPathOnly() string {
	dir := DefaultDataDir()
	if dir == "" {
		return "catalogue.db"
	}
	return filepath.Join(dir, "catalogue.db")
}

// DefaultDataDir is the per-user directory holding the store, its backups
// and the cover images. It is empty when the home directory is unknown.
func DefaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(homeDir, "AppData", "Roaming", "catalogue")
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", "catalogue")
	default: // Primarily Linux, but also other UNIX-like systems.
		return filepath.Join(homeDir, ".local", "share", "catalogue")
	}
}

// ExpandPath resolves a leading "~/" and makes the path absolute.
func ExpandPath(p string) (string, error) {
	if strings.HasPrefix(p, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory to expand path '%s': %w", p, err)
		}
		p = filepath.Join(homeDir, p[2:])
	}

	absPath, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for '%s': %w", p, err)
	}
	return absPath, nil
}

// ResolveAndEnsureDBPath expands providedPath (or the default path when it
// is empty) and creates its parent directory. ":memory:" is returned as is.
func ResolveAndEnsureDBPath(providedPath string) (string, error) {
	if providedPath == ":memory:" {
		return providedPath, nil
	}
	targetPath := providedPath
	if targetPath == "" {
		targetPath = GetDefaultDBPathOnly()
	}

	targetPath, err := ExpandPath(targetPath)
	if err != nil {
		return "", err
	}

	if err := EnsureDir(filepath.Dir(targetPath)); err != nil {
		return "", fmt.Errorf("failed to prepare directory for database: %w", err)
	}
	return targetPath, nil
}

// EnsureDir creates dir when it does not exist yet.
func EnsureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil { // 0755 gives rwx for user, rx for group/other
			return fmt.Errorf("failed to create directory '%s': %w", dir, err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to stat directory '%s': %w", dir, err)
	}
	return nil
}
