package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	catalogue "github.com/unowned-ai/catalogue/pkg"
	"github.com/unowned-ai/catalogue/pkg/books"
	"github.com/unowned-ai/catalogue/pkg/config"
	"github.com/unowned-ai/catalogue/pkg/db"
	"github.com/unowned-ai/catalogue/pkg/utils"
)

var (
	settings   *viper.Viper
	configFile string
)

var rootCmd = &cobra.Command{
	Use:           "catalogue",
	Short:         "A personal book catalogue backed by a single SQLite file.",
	Version:       fmt.Sprintf("v%s", catalogue.Version),
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var completionShells = []string{"bash", "zsh", "fish", "powershell"}

var completionCmd = &cobra.Command{
	Use:   fmt.Sprintf("completion %s", strings.Join(completionShells, "|")),
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for catalogue.

Examples:

  Bash (current shell):
    $ source <(catalogue completion bash)

  Zsh:
    $ catalogue completion zsh > "${fpath[1]}/_catalogue"

  Fish:
    $ catalogue completion fish > ~/.config/fish/completions/catalogue.fish

  PowerShell:
    PS> catalogue completion powershell | Out-String | Invoke-Expression`,
	DisableFlagsInUseLine: true,
	ValidArgs:             completionShells,
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(cmd.OutOrStdout())
		case "zsh":
			return rootCmd.GenZshCompletion(cmd.OutOrStdout())
		case "fish":
			return rootCmd.GenFishCompletion(cmd.OutOrStdout(), true)
		case "powershell":
			return rootCmd.GenPowerShellCompletion(cmd.OutOrStdout())
		default:
			return fmt.Errorf("unsupported shell: %s", args[0])
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of catalogue",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s (schema %d)\n", catalogue.Version, db.CurrentSchemaVersion)
	},
}

// session is an open catalogue plus the settings it was opened with.
type session struct {
	cat    *books.Catalogue
	cfg    *config.Config
	logger *slog.Logger
}

func (s *session) Close() {
	if err := s.cat.Close(); err != nil {
		s.logger.Warn("catalogue_close_failed", slog.Any("error", err))
	}
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openSession resolves the configuration and opens (and migrates) the store.
// Logs go to stderr so stdout stays machine-readable.
func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := config.Load(settings, configFile)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.Log.Level)

	var covers db.CoverRenamer
	if cfg.Covers.Dir != "" {
		covers = utils.CoverDir(cfg.Covers.Dir)
	}
	cat, err := books.Open(cmd.Context(), books.Options{
		Path:      cfg.Database.Path,
		WAL:       cfg.Database.WAL,
		Sync:      cfg.Database.Sync,
		Locale:    cfg.Database.Locale,
		Logger:    logger,
		BackupDir: cfg.Database.BackupDir,
		OnBackup: func(path string) {
			logger.Info("backup_written", slog.String("path", path))
		},
		CoverRenamer: covers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open catalogue at '%s': %w", cfg.Database.Path, err)
	}
	return &session{cat: cat, cfg: cfg, logger: logger}, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(output))
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q: must be a positive integer", s)
	}
	return id, nil
}

func initCmd() {
	settings = config.New()

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Path to a config file (YAML, TOML or JSON)")
	flags.String("db", "", "Path to the catalogue SQLite file (default: per-user data directory)")
	flags.Bool("wal", true, "Enable SQLite WAL (Write-Ahead Logging) mode")
	flags.String("sync", "NORMAL", "SQLite synchronous pragma (OFF, NORMAL, FULL, EXTRA)")
	flags.String("locale", "und", "BCP 47 locale used to compare names")
	flags.String("backup-dir", "", "Directory for migration backups (default: <store dir>/backups)")
	flags.String("covers-dir", "", "Directory holding cover images (default: <store dir>/covers)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")

	for key, flag := range map[string]string{
		config.KeyDBPath:    "db",
		config.KeyDBWAL:     "wal",
		config.KeyDBSync:    "sync",
		config.KeyLocale:    "locale",
		config.KeyBackupDir: "backup-dir",
		config.KeyCoversDir: "covers-dir",
		config.KeyLogLevel:  "log-level",
	} {
		if err := settings.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	initDBCmd()
	initBooksCmd()
	initAuthorsCmd()
	initSeriesCmd()
	initShelvesCmd()
	initLoansCmd()
	initAnthologyCmd()

	rootCmd.AddCommand(completionCmd, versionCmd, dbCmd, booksCmd, authorsCmd, seriesCmd,
		shelvesCmd, loansCmd, anthologyCmd, mcpCmd)
}

func main() {
	initCmd()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
