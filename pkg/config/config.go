// Package config loads the catalogue settings from flags, CATALOGUE_*
// environment variables and an optional config file, in that order of
// precedence.
package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/text/language"

	"github.com/unowned-ai/catalogue/pkg/utils"
)

const EnvPrefix = "CATALOGUE"

// Keys shared with the flag bindings of the CLI.
const (
	KeyDBPath    = "db.path"
	KeyDBWAL     = "db.wal"
	KeyDBSync    = "db.sync"
	KeyLocale    = "db.locale"
	KeyBackupDir = "db.backup_dir"
	KeyCoversDir = "covers.dir"
	KeyLogLevel  = "log.level"
)

type Database struct {
	Path      string
	WAL       bool
	Sync      string
	Locale    language.Tag
	BackupDir string
}

type Covers struct {
	Dir string
}

type Log struct {
	Level slog.Level
}

type Config struct {
	Database Database
	Covers   Covers
	Log      Log
}

// New returns a viper instance with the defaults and environment binding
// in place. Callers bind their flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyDBPath, "")
	v.SetDefault(KeyDBWAL, true)
	v.SetDefault(KeyDBSync, "NORMAL")
	v.SetDefault(KeyLocale, "und")
	v.SetDefault(KeyBackupDir, "")
	v.SetDefault(KeyCoversDir, "")
	v.SetDefault(KeyLogLevel, "info")
	return v
}

// Load reads the optional config file and resolves every setting. Relative
// directories default to siblings of the store.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", file, err)
		}
	}

	path, err := utils.ResolveAndEnsureDBPath(v.GetString(KeyDBPath))
	if err != nil {
		return nil, err
	}

	locale, err := language.Parse(v.GetString(KeyLocale))
	if err != nil {
		return nil, fmt.Errorf("invalid locale %q: %w", v.GetString(KeyLocale), err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString(KeyLogLevel))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", v.GetString(KeyLogLevel), err)
	}

	sync := strings.ToUpper(v.GetString(KeyDBSync))
	switch sync {
	case "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		return nil, fmt.Errorf("invalid synchronous mode %q", sync)
	}

	cfg := &Config{
		Database: Database{
			Path:      path,
			WAL:       v.GetBool(KeyDBWAL),
			Sync:      sync,
			Locale:    locale,
			BackupDir: v.GetString(KeyBackupDir),
		},
		Covers: Covers{
			Dir: v.GetString(KeyCoversDir),
		},
		Log: Log{
			Level: level,
		},
	}

	if path != ":memory:" {
		storeDir := filepath.Dir(path)
		if cfg.Database.BackupDir == "" {
			cfg.Database.BackupDir = filepath.Join(storeDir, "backups")
		}
		if cfg.Covers.Dir == "" {
			cfg.Covers.Dir = filepath.Join(storeDir, "covers")
		}
	}
	return cfg, nil
}
