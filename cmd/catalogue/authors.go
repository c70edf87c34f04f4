package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/unowned-ai/catalogue/pkg/db"
)

var authorsCmd = &cobra.Command{
	Use:   "authors",
	Short: "Manage authors",
	Long:  `Lists authors, merges duplicates into one canonical author and purges authors without books.`,
}

var authorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List authors with their book counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		authors, err := s.cat.ListAuthors(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list authors: %w", err)
		}
		if len(authors) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No authors found.")
			return nil
		}
		return printJSON(cmd, authors)
	},
}

var authorMergeCmd = &cobra.Command{
	Use:   "merge [from-id] [into-id]",
	Short: "Credit every book of one author to another and drop the first",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, to, err := parseIDPair(args)
		if err != nil {
			return err
		}
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.cat.ReplaceAuthorEverywhere(cmd.Context(), from, to); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return fmt.Errorf("author %d not found", to)
			}
			return fmt.Errorf("failed to merge authors: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Author %d merged into %d.\n", from, to)
		return nil
	},
}

var authorPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete authors credited on no book or anthology title",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		n, err := s.cat.PurgeAuthors(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to purge authors: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d authors purged.\n", n)
		return nil
	},
}

var seriesCmd = &cobra.Command{
	Use:   "series",
	Short: "Manage series",
	Long:  `Lists series, merges duplicates into one canonical series and purges empty series.`,
}

var seriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List series with their book counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		series, err := s.cat.ListSeries(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list series: %w", err)
		}
		if len(series) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No series found.")
			return nil
		}
		return printJSON(cmd, series)
	},
}

var seriesMergeCmd = &cobra.Command{
	Use:   "merge [from-id] [into-id]",
	Short: "Move every book of one series into another and drop the first",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, to, err := parseIDPair(args)
		if err != nil {
			return err
		}
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.cat.ReplaceSeriesEverywhere(cmd.Context(), from, to); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return fmt.Errorf("series %d not found", to)
			}
			return fmt.Errorf("failed to merge series: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Series %d merged into %d.\n", from, to)
		return nil
	},
}

var seriesPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete series without books",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		n, err := s.cat.PurgeSeries(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to purge series: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d series purged.\n", n)
		return nil
	},
}

func parseIDPair(args []string) (int64, int64, error) {
	from, err := parseID(args[0])
	if err != nil {
		return 0, 0, err
	}
	to, err := parseID(args[1])
	if err != nil {
		return 0, 0, err
	}
	return from, to, nil
}

func initAuthorsCmd() {
	authorsCmd.AddCommand(authorListCmd, authorMergeCmd, authorPurgeCmd)
}

func initSeriesCmd() {
	seriesCmd.AddCommand(seriesListCmd, seriesMergeCmd, seriesPurgeCmd)
}
