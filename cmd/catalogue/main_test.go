package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	catalogue "github.com/unowned-ai/catalogue/pkg"
	"github.com/unowned-ai/catalogue/pkg/books"
	"github.com/unowned-ai/catalogue/pkg/db"
	"github.com/unowned-ai/catalogue/pkg/query"
)

func TestMain(m *testing.M) {
	initCmd()
	os.Exit(m.Run())
}

// resetFlags puts every flag of the tree back to its default so one test
// run does not leak into the next.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

type cli struct {
	t    *testing.T
	path string
}

func newCLI(t *testing.T) *cli {
	return &cli{t: t, path: filepath.Join(t.TempDir(), "catalogue.db")}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	resetFlags(rootCmd)
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(append([]string{"--db", c.path, "--sync", "OFF"}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, "catalogue %s", strings.Join(args, " "))
	return out
}

func decode[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(out), &v), out)
	return v
}

func TestVersion(t *testing.T) {
	out := newCLI(t).mustRun("version")
	assert.Equal(t, fmt.Sprintf("%s (schema %d)\n", catalogue.Version, db.CurrentSchemaVersion), out)
}

func TestDBUpgrade_FreshStore(t *testing.T) {
	c := newCLI(t)
	result := decode[map[string]any](t, c.mustRun("db", "upgrade"))
	assert.Equal(t, float64(0), result["from"])
	assert.Equal(t, float64(db.CurrentSchemaVersion), result["to"])
	assert.Equal(t, true, result["upgraded"])

	result = decode[map[string]any](t, c.mustRun("db", "upgrade"))
	assert.Equal(t, false, result["upgraded"])

	c.mustRun("db", "rebuild-fts")

	dir := t.TempDir()
	out := strings.TrimSpace(c.mustRun("db", "backup", "--dir", dir))
	assert.Equal(t, dir, filepath.Dir(out))
	assert.FileExists(t, out)
}

func TestBooksLifecycle(t *testing.T) {
	c := newCLI(t)

	talisman := decode[books.Book](t, c.mustRun("books", "add",
		"--title", "The Talisman",
		"--author", "King, Stephen", "--author", "Straub, Peter",
		"--series", "The Talisman #1",
		"--shelf", "Office"))
	assert.Equal(t, "King, Stephen", talisman.FirstAuthor())
	assert.Equal(t, "The Talisman #1", talisman.FirstSeries())
	assert.Equal(t, []books.Bookshelf{{ID: talisman.Bookshelves[0].ID, Name: "Office"}}, talisman.Bookshelves)

	// Flags from the previous run must not leak into this one.
	carrie := decode[books.Book](t, c.mustRun("books", "add", "--title", "Carrie", "--author", "king, stephen"))
	require.Len(t, carrie.Authors, 1)
	assert.Equal(t, talisman.Authors[0].ID, carrie.Authors[0].ID)

	got := decode[books.Book](t, c.mustRun("books", "get", talisman.UUID))
	assert.Equal(t, talisman.ID, got.ID)

	var titles []string
	for _, line := range strings.Split(strings.TrimSpace(c.mustRun("books", "list", "--order", "title")), "\n") {
		titles = append(titles, decode[query.BookRow](t, line).Title)
	}
	assert.Equal(t, []string{"Carrie", "The Talisman"}, titles)

	out := c.mustRun("books", "list", "--author", "straub")
	assert.Equal(t, "The Talisman", decode[query.BookRow](t, out).Title)
	out = c.mustRun("books", "list", "--no-series")
	assert.Equal(t, "Carrie", decode[query.BookRow](t, out).Title)

	found := decode[[]books.Book](t, c.mustRun("books", "search", "--title", "tali"))
	require.Len(t, found, 1)
	assert.Equal(t, talisman.ID, found[0].ID)

	_, err := c.run("books", "search")
	assert.Error(t, err)
	_, err = c.run("books", "list", "--order", "colour")
	assert.Error(t, err)
	_, err = c.run("books", "add", "--title", "Nobody wrote this")
	assert.ErrorIs(t, err, books.ErrNoAuthors)

	c.mustRun("books", "delete", fmt.Sprint(carrie.ID))
	_, err = c.run("books", "get", fmt.Sprint(carrie.ID))
	assert.Error(t, err)
	_, err = c.run("books", "delete", fmt.Sprint(carrie.ID))
	assert.Error(t, err)
}

func TestBooksImport(t *testing.T) {
	c := newCLI(t)
	file := filepath.Join(t.TempDir(), "books.jsonl")
	lines := []string{
		`{"uuid":"00000000-0000-4000-8000-000000000001","title":"Solaris","authors":[{"family_name":"Lem","given_names":"Stanisław"}]}`,
		`{"uuid":"00000000-0000-4000-8000-000000000002","title":"Fiasco","authors":[{"family_name":"Lem"}]}`,
	}
	require.NoError(t, os.WriteFile(file, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	result := decode[books.ImportResult](t, c.mustRun("books", "import", file, "--batch", "1"))
	assert.Equal(t, books.ImportResult{Created: 2}, result)
	result = decode[books.ImportResult](t, c.mustRun("books", "import", file))
	assert.Equal(t, books.ImportResult{Updated: 2}, result)

	require.NoError(t, os.WriteFile(file, []byte(lines[0]+"\n{not json\n"), 0o644))
	out, err := c.run("books", "import", file)
	assert.ErrorContains(t, err, "invalid book JSON")
	assert.Equal(t, books.ImportResult{Updated: 1}, decode[books.ImportResult](t, out))
}

func TestAuthorsAndSeriesMerge(t *testing.T) {
	c := newCLI(t)
	a := decode[books.Book](t, c.mustRun("books", "add", "--title", "The Gunslinger", "--author", "King, S.", "--series", "Dark Tower #1"))
	b := decode[books.Book](t, c.mustRun("books", "add", "--title", "Misery", "--author", "King, Stephen", "--series", "The Dark Tower #2"))

	c.mustRun("authors", "merge", fmt.Sprint(a.Authors[0].ID), fmt.Sprint(b.Authors[0].ID))
	authors := decode[[]books.AuthorCount](t, c.mustRun("authors", "list"))
	require.Len(t, authors, 1)
	assert.Equal(t, 2, authors[0].Books)

	c.mustRun("series", "merge", fmt.Sprint(a.Series[0].ID), fmt.Sprint(b.Series[0].ID))
	series := decode[[]books.SeriesCount](t, c.mustRun("series", "list"))
	require.Len(t, series, 1)
	assert.Equal(t, "The Dark Tower", series[0].Name)

	_, err := c.run("authors", "merge", fmt.Sprint(b.Authors[0].ID), "9999")
	assert.Error(t, err)
	_, err = c.run("series", "merge", "x", "1")
	assert.Error(t, err)

	assert.Equal(t, "0 authors purged.\n", c.mustRun("authors", "purge"))
	assert.Equal(t, "0 series purged.\n", c.mustRun("series", "purge"))
}

func TestShelvesLoansAnthology(t *testing.T) {
	c := newCLI(t)
	book := decode[books.Book](t, c.mustRun("books", "add", "--title", "The Golden Apples of the Sun", "--author", "Bradbury, Ray"))
	id := fmt.Sprint(book.ID)

	attic := decode[books.Bookshelf](t, c.mustRun("shelves", "create", "Attic"))
	c.mustRun("shelves", "rename", fmt.Sprint(attic.ID), "Loft")
	shelves := decode[[]books.Bookshelf](t, c.mustRun("shelves", "list"))
	assert.Equal(t, []books.Bookshelf{{ID: db.DefaultBookshelfID, Name: db.DefaultBookshelfName}, {ID: attic.ID, Name: "Loft"}}, shelves)
	c.mustRun("shelves", "delete", fmt.Sprint(attic.ID))
	_, err := c.run("shelves", "delete", fmt.Sprint(db.DefaultBookshelfID))
	assert.ErrorIs(t, err, books.ErrDefaultBookshelf)

	loan := decode[books.Loan](t, c.mustRun("loans", "lend", id, "Ann"))
	assert.Equal(t, books.Loan{BookID: book.ID, LoanedTo: "Ann"}, loan)
	out := c.mustRun("books", "list", "--loaned-to", "Ann")
	assert.Equal(t, book.ID, decode[query.BookRow](t, out).ID)
	c.mustRun("loans", "return", id)
	_, err = c.run("loans", "return", id)
	assert.ErrorIs(t, err, db.ErrNotFound)

	fog := decode[books.AnthologyTitle](t, c.mustRun("anthology", "add", id, "The Fog Horn", "--author", "Bradbury, Ray"))
	c.mustRun("anthology", "add", id, "The Pedestrian", "--author", "Bradbury, Ray")
	_, err = c.run("anthology", "add", id, "No Author")
	assert.Error(t, err)

	c.mustRun("anthology", "move", fmt.Sprint(fog.ID), "2")
	titles := decode[[]books.AnthologyTitle](t, c.mustRun("anthology", "list", id))
	require.Len(t, titles, 2)
	assert.Equal(t, "The Pedestrian", titles[0].Title)
	assert.Equal(t, "The Fog Horn", titles[1].Title)

	c.mustRun("anthology", "remove", fmt.Sprint(fog.ID))
	titles = decode[[]books.AnthologyTitle](t, c.mustRun("anthology", "list", id))
	require.Len(t, titles, 1)
	assert.Equal(t, 1, titles[0].Position)
}

func TestParseHelpers(t *testing.T) {
	assert.Equal(t, books.Author{FamilyName: "King", GivenNames: "Stephen"}, parseAuthor(" King , Stephen "))
	assert.Equal(t, books.Author{FamilyName: "Homer"}, parseAuthor("Homer"))
	assert.Equal(t, books.BookSeries{Series: books.Series{Name: "Discworld"}, Number: "2.5"}, parseSeries("Discworld #2.5"))
	assert.Equal(t, books.BookSeries{Series: books.Series{Name: "#1 Ladies"}}, parseSeries("#1 Ladies"))

	_, err := parseID("0")
	assert.Error(t, err)
	id, err := parseID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}
