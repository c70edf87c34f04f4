package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the catalogue store",
	Long:  `Provides commands for schema upgrades, full-text index rebuilds and backups of the catalogue SQLite file.`,
}

var dbUpgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Upgrade the catalogue schema to the current version",
	Long: `Opens the store at --db and applies every pending migration step. A store
that does not exist yet is created with the current schema. A backup is written
before the first step that rewrites data.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		m := s.cat.Migration()
		return printJSON(cmd, map[string]any{
			"path":        s.cfg.Database.Path,
			"from":        m.From,
			"to":          m.To,
			"upgraded":    m.Upgraded(),
			"backup":      m.BackupPath,
			"rebuilt_fts": m.RebuildFTS,
		})
	},
}

var dbRebuildFTSCmd = &cobra.Command{
	Use:   "rebuild-fts",
	Short: "Rebuild the full-text search index from the books",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.cat.RebuildFTS(cmd.Context()); err != nil {
			return fmt.Errorf("failed to rebuild full-text index: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Full-text index rebuilt.")
		return nil
	},
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Copy the catalogue file into the backup directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = s.cfg.Database.BackupDir
		}
		path, err := s.cat.Backup(cmd.Context(), dir)
		if err != nil {
			return fmt.Errorf("failed to back up catalogue: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func initDBCmd() {
	dbBackupCmd.Flags().String("dir", "", "Target directory (default: the configured backup directory)")
	dbCmd.AddCommand(dbUpgradeCmd, dbRebuildFTSCmd, dbBackupCmd)
}
