package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var shelvesCmd = &cobra.Command{
	Use:   "shelves",
	Short: "Manage bookshelves",
}

var shelfListCmd = &cobra.Command{
	Use:   "list",
	Short: "List bookshelves",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		shelves, err := s.cat.ListBookshelves(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, shelves)
	},
}

var shelfCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a bookshelf",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		shelf, err := s.cat.CreateBookshelf(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, shelf)
	},
}

var shelfRenameCmd = &cobra.Command{
	Use:   "rename [id] [name]",
	Short: "Rename a bookshelf",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.cat.RenameBookshelf(cmd.Context(), id, args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Bookshelf %d renamed.\n", id)
		return nil
	},
}

var shelfDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a bookshelf; its books stay in the catalogue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.cat.DeleteBookshelf(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Bookshelf %d deleted.\n", id)
		return nil
	},
}

var loansCmd = &cobra.Command{
	Use:   "loans",
	Short: "Track lent books",
}

var loanLendCmd = &cobra.Command{
	Use:   "lend [book-id] [borrower]",
	Short: "Record that a book was lent",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.cat.CreateLoan(cmd.Context(), id, args[1]); err != nil {
			return err
		}
		loan, err := s.cat.FetchLoan(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(cmd, loan)
	},
}

var loanReturnCmd = &cobra.Command{
	Use:   "return [book-id]",
	Short: "Record that a lent book came back",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.cat.DeleteLoan(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Book %d returned.\n", id)
		return nil
	},
}

var anthologyCmd = &cobra.Command{
	Use:   "anthology",
	Short: "Manage the titles inside anthology books",
}

var anthologyListCmd = &cobra.Command{
	Use:   "list [book-id]",
	Short: "List the titles of a book in order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		titles, err := s.cat.ListAnthologyTitles(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(cmd, titles)
	},
}

var anthologyAddCmd = &cobra.Command{
	Use:   "add [book-id] [title]",
	Short: "Append a title to a book",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		authorArg, _ := cmd.Flags().GetString("author")
		if authorArg == "" {
			return fmt.Errorf("--author is required")
		}
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		at, err := s.cat.CreateAnthologyTitle(cmd.Context(), id, parseAuthor(authorArg), args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd, at)
	},
}

var anthologyRemoveCmd = &cobra.Command{
	Use:   "remove [title-id]",
	Short: "Remove a title from its book",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.cat.DeleteAnthologyTitle(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Anthology title %d removed.\n", id)
		return nil
	},
}

var anthologyMoveCmd = &cobra.Command{
	Use:   "move [title-id] [position]",
	Short: "Move a title to a position within its book",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		position, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid position %q: %w", args[1], err)
		}
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.cat.ReorderAnthologyTitle(cmd.Context(), id, position); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Anthology title %d moved.\n", id)
		return nil
	},
}

func initShelvesCmd() {
	shelvesCmd.AddCommand(shelfListCmd, shelfCreateCmd, shelfRenameCmd, shelfDeleteCmd)
}

func initLoansCmd() {
	loansCmd.AddCommand(loanLendCmd, loanReturnCmd)
}

func initAnthologyCmd() {
	anthologyAddCmd.Flags().String("author", "", `Author of the title as "Family, Given" (required)`)
	anthologyCmd.AddCommand(anthologyListCmd, anthologyAddCmd, anthologyRemoveCmd, anthologyMoveCmd)
}
