package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/unowned-ai/catalogue/pkg/books"
	"github.com/unowned-ai/catalogue/pkg/db"
	"github.com/unowned-ai/catalogue/pkg/query"
	"github.com/unowned-ai/catalogue/pkg/utils"
)

var booksCmd = &cobra.Command{
	Use:   "books",
	Short: "Manage books",
	Long:  `Provides commands for adding, listing, searching, importing and deleting books.`,
}

// parseAuthor reads "Family, Given" or a bare family name.
func parseAuthor(s string) books.Author {
	family, given, _ := strings.Cut(s, ",")
	return books.Author{FamilyName: strings.TrimSpace(family), GivenNames: strings.TrimSpace(given)}
}

// parseSeries reads "Name #Number" or a bare series name.
func parseSeries(s string) books.BookSeries {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, " #"); i > 0 {
		return books.BookSeries{Series: books.Series{Name: strings.TrimSpace(s[:i])}, Number: strings.TrimSpace(s[i+2:])}
	}
	return books.BookSeries{Series: books.Series{Name: s}}
}

var bookAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a book",
	Long: `Adds a book. Authors are given as "Family, Given" and series as "Name #Number";
both flags may be repeated and keep their order.`,
	Example: `  catalogue books add --title "The Talisman" --author "King, Stephen" --author "Straub, Peter"
  catalogue books add --title Foundation --author "Asimov, Isaac" --series "Foundation #1" --shelf Office`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		title, _ := flags.GetString("title")
		authorArgs, _ := flags.GetStringArray("author")
		seriesArgs, _ := flags.GetStringArray("series")
		shelfArgs, _ := flags.GetStringArray("shelf")

		b := books.Book{Title: title}
		b.ISBN, _ = flags.GetString("isbn")
		b.Publisher, _ = flags.GetString("publisher")
		b.DatePublished, _ = flags.GetString("published")
		b.Notes, _ = flags.GetString("notes")
		b.Location, _ = flags.GetString("location")
		b.Format, _ = flags.GetString("format")
		b.Genre, _ = flags.GetString("genre")
		b.Language, _ = flags.GetString("language")
		b.Rating, _ = flags.GetFloat64("rating")
		b.Read, _ = flags.GetBool("read")
		b.Signed, _ = flags.GetBool("signed")
		b.Pages, _ = flags.GetInt("pages")
		for _, a := range authorArgs {
			b.Authors = append(b.Authors, parseAuthor(a))
		}
		for _, s := range seriesArgs {
			b.Series = append(b.Series, parseSeries(s))
		}
		for _, name := range shelfArgs {
			b.Bookshelves = append(b.Bookshelves, books.Bookshelf{Name: name})
		}

		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		created, err := s.cat.CreateBook(cmd.Context(), b)
		if err != nil {
			return fmt.Errorf("failed to add book: %w", err)
		}
		return printJSON(cmd, created)
	},
}

var bookGetCmd = &cobra.Command{
	Use:   "get [id|uuid]",
	Short: "Show a book with its authors, series, shelves, anthology titles and loan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		var b books.Book
		if id, idErr := parseID(args[0]); idErr == nil {
			b, err = s.cat.FetchBookByID(cmd.Context(), id)
		} else {
			b, err = s.cat.FetchBookByUUID(cmd.Context(), args[0])
		}
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("book %s not found", args[0])
		}
		if err != nil {
			return fmt.Errorf("failed to fetch book: %w", err)
		}
		return printJSON(cmd, b)
	},
}

var bookListCmd = &cobra.Command{
	Use:   "list",
	Short: "List books",
	Long: `Lists books, one JSON object per line. Filters combine; --search words must
all occur in the book or in its authors, series or anthology titles.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		orderArg, _ := flags.GetString("order")
		order, err := query.ParseOrder(orderArg)
		if err != nil {
			return err
		}
		f := query.BookFilter{Order: order}
		f.Descending, _ = flags.GetBool("desc")
		f.Bookshelf, _ = flags.GetString("shelf")
		f.SeriesName, _ = flags.GetString("series")
		f.LoanedTo, _ = flags.GetString("loaned-to")
		f.SearchText, _ = flags.GetString("search")
		if noSeries, _ := flags.GetBool("no-series"); noSeries {
			f.SeriesName = query.NoSeries
		}
		if author, _ := flags.GetString("author"); author != "" {
			f.AuthorWhere = query.Or{
				query.TextLike{Column: "a.family_name", Value: author},
				query.TextLike{Column: "a.given_names", Value: author},
			}
		}

		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		enc := json.NewEncoder(cmd.OutOrStdout())
		for row, err := range s.cat.FetchAllBooks(cmd.Context(), f) {
			if err != nil {
				return fmt.Errorf("failed to list books: %w", err)
			}
			if err := enc.Encode(row); err != nil {
				return err
			}
		}
		return nil
	},
}

var bookSearchCmd = &cobra.Command{
	Use:   "search [words...]",
	Short: "Full-text search; words match as prefixes",
	RunE: func(cmd *cobra.Command, args []string) error {
		author, _ := cmd.Flags().GetString("author")
		title, _ := cmd.Flags().GetString("title")
		terms := strings.Join(args, " ")
		if terms == "" && author == "" && title == "" {
			return fmt.Errorf("give search words, --author or --title")
		}

		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		ids, err := s.cat.SearchFTS(cmd.Context(), author, title, terms)
		if err != nil {
			return fmt.Errorf("failed to search: %w", err)
		}
		found := make([]books.Book, 0, len(ids))
		for _, id := range ids {
			b, err := s.cat.FetchBookByID(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("failed to fetch book %d: %w", id, err)
			}
			found = append(found, b)
		}
		return printJSON(cmd, found)
	},
}

var bookDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a book and its cover",
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

		bookUUID, err := s.cat.DeleteBook(cmd.Context(), id)
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("book %d not found", id)
		}
		if err != nil {
			return fmt.Errorf("failed to delete book: %w", err)
		}
		if s.cfg.Covers.Dir != "" {
			if err := utils.CoverDir(s.cfg.Covers.Dir).DeleteCover(bookUUID); err != nil {
				s.logger.Warn("cover_delete_failed", slog.String("uuid", bookUUID), slog.Any("error", err))
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Book %d deleted.\n", id)
		return nil
	},
}

// decodeBooks yields the JSON objects of r in order. A decode error stops
// the sequence and is stored in *errp.
func decodeBooks(r io.Reader, errp *error) iter.Seq[books.Book] {
	return func(yield func(books.Book) bool) {
		dec := json.NewDecoder(r)
		for {
			var b books.Book
			err := dec.Decode(&b)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				*errp = fmt.Errorf("invalid book JSON: %w", err)
				return
			}
			if !yield(b) {
				return
			}
		}
	}
}

var bookImportCmd = &cobra.Command{
	Use:   "import [file|-]",
	Short: "Import books from a stream of JSON objects",
	Long: `Imports books from a file (or stdin with "-") holding one JSON book per line,
in the shape printed by "books get". A book whose uuid is already catalogued is
updated; any other book is added. Books are committed in batches.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		batch, _ := cmd.Flags().GetInt("batch")

		var r io.Reader = cmd.InOrStdin()
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open import file: %w", err)
			}
			defer f.Close()
			r = f
		}

		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		var decodeErr error
		result, err := s.cat.ImportBooks(cmd.Context(), decodeBooks(r, &decodeErr), batch)
		if printErr := printJSON(cmd, result); printErr != nil {
			return printErr
		}
		return errors.Join(err, decodeErr)
	},
}

func initBooksCmd() {
	add := bookAddCmd.Flags()
	add.String("title", "", "Title (required)")
	add.StringArray("author", nil, `Author as "Family, Given" (repeatable, at least one)`)
	add.StringArray("series", nil, `Series as "Name #Number" (repeatable)`)
	add.StringArray("shelf", nil, "Bookshelf name (repeatable, default: the default shelf)")
	add.String("isbn", "", "ISBN")
	add.String("publisher", "", "Publisher")
	add.String("published", "", "Date published")
	add.String("notes", "", "Notes")
	add.String("location", "", "Location")
	add.String("format", "", "Format")
	add.String("genre", "", "Genre")
	add.String("language", "", "Language")
	add.Float64("rating", 0, "Rating")
	add.Bool("read", false, "Mark as read")
	add.Bool("signed", false, "Mark as signed")
	add.Int("pages", 0, "Page count")

	list := bookListCmd.Flags()
	list.String("order", "title", "Sort by title, author, series, added or published")
	list.Bool("desc", false, "Reverse the order")
	list.String("shelf", "", "Only books on this shelf")
	list.String("series", "", "Only books of this series")
	list.Bool("no-series", false, "Only books in no series")
	list.String("loaned-to", "", "Only books lent to this person")
	list.String("author", "", "Only books with an author whose name contains this text")
	list.String("search", "", "Words that must all occur in the book or its related names")

	bookSearchCmd.Flags().String("author", "", "Words to match against author names only")
	bookSearchCmd.Flags().String("title", "", "Words to match against titles only")

	bookImportCmd.Flags().Int("batch", books.DefaultImportBatchSize, "Books committed per transaction")

	booksCmd.AddCommand(bookAddCmd, bookGetCmd, bookListCmd, bookSearchCmd, bookDeleteCmd, bookImportCmd)
}
