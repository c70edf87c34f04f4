package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unowned-ai/catalogue/pkg/books"
	"github.com/unowned-ai/catalogue/pkg/db"
	"github.com/unowned-ai/catalogue/pkg/query"
)

func setupTestCatalogue(t *testing.T) *books.Catalogue {
	t.Helper()
	cat, err := books.Open(context.Background(), books.Options{
		Path: filepath.Join(t.TempDir(), "catalogue.db"),
		Sync: "OFF",
	})
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })
	return cat
}

func call(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (string, bool) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text, res.IsError
}

func seed(t *testing.T, cat *books.Catalogue) (foundation, solaris books.Book) {
	t.Helper()
	ctx := context.Background()
	var err error
	foundation, err = cat.CreateBook(ctx, books.Book{
		Title:   "Foundation",
		Authors: []books.Author{{FamilyName: "Asimov", GivenNames: "Isaac"}},
		Series:  []books.BookSeries{{Series: books.Series{Name: "Foundation"}, Number: "1"}},
	})
	require.NoError(t, err)
	solaris, err = cat.CreateBook(ctx, books.Book{
		Title:   "Solaris",
		Authors: []books.Author{{FamilyName: "Lem", GivenNames: "Stanisław"}},
	})
	require.NoError(t, err)
	return foundation, solaris
}

func TestPing(t *testing.T) {
	text, isErr := call(t, pingHandler, nil)
	assert.False(t, isErr)
	assert.Equal(t, "pong_catalogue", text)
}

func TestSearchBooks(t *testing.T) {
	cat := setupTestCatalogue(t)
	foundation, _ := seed(t, cat)
	h := searchBooksHandler(cat)

	text, isErr := call(t, h, map[string]any{"author": "asim"})
	require.False(t, isErr, text)
	var found []books.Book
	require.NoError(t, json.Unmarshal([]byte(text), &found))
	require.Len(t, found, 1)
	assert.Equal(t, foundation.UUID, found[0].UUID)

	text, isErr = call(t, h, map[string]any{"text": "nothing-like-this"})
	require.False(t, isErr, text)
	assert.Equal(t, "[]", text)

	_, isErr = call(t, h, map[string]any{})
	assert.True(t, isErr)
}

func TestListBooks(t *testing.T) {
	cat := setupTestCatalogue(t)
	seed(t, cat)
	h := listBooksHandler(cat)

	decode := func(text string) []string {
		var rows []query.BookRow
		require.NoError(t, json.Unmarshal([]byte(text), &rows))
		titles := []string{}
		for _, r := range rows {
			titles = append(titles, r.Title)
		}
		return titles
	}

	text, isErr := call(t, h, nil)
	require.False(t, isErr, text)
	assert.Equal(t, []string{"Foundation", "Solaris"}, decode(text))

	text, _ = call(t, h, map[string]any{"descending": true, "limit": float64(1)})
	assert.Equal(t, []string{"Solaris"}, decode(text))

	text, _ = call(t, h, map[string]any{"series": "foundation"})
	assert.Equal(t, []string{"Foundation"}, decode(text))

	_, isErr = call(t, h, map[string]any{"order": "colour"})
	assert.True(t, isErr)
	_, isErr = call(t, h, map[string]any{"limit": float64(-3)})
	assert.True(t, isErr)
}

func TestGetBook(t *testing.T) {
	cat := setupTestCatalogue(t)
	_, solaris := seed(t, cat)
	h := getBookHandler(cat)

	for _, args := range []map[string]any{
		{"id": float64(solaris.ID)},
		{"uuid": solaris.UUID},
	} {
		text, isErr := call(t, h, args)
		require.False(t, isErr, text)
		var b books.Book
		require.NoError(t, json.Unmarshal([]byte(text), &b))
		assert.Equal(t, "Solaris", b.Title)
		assert.Equal(t, "Lem, Stanisław", b.FirstAuthor())
	}

	text, isErr := call(t, h, map[string]any{"id": float64(999)})
	assert.True(t, isErr)
	assert.Equal(t, "Book not found.", text)

	_, isErr = call(t, h, nil)
	assert.True(t, isErr)
}

func TestLendAndReturnBook(t *testing.T) {
	cat := setupTestCatalogue(t)
	foundation, _ := seed(t, cat)
	lend, ret := lendBookHandler(cat), returnBookHandler(cat)
	id := float64(foundation.ID)

	text, isErr := call(t, lend, map[string]any{"id": id, "to": " Ann "})
	require.False(t, isErr, text)
	var loan books.Loan
	require.NoError(t, json.Unmarshal([]byte(text), &loan))
	assert.Equal(t, books.Loan{BookID: foundation.ID, LoanedTo: "Ann"}, loan)

	_, isErr = call(t, lend, map[string]any{"id": id, "to": "Bob"})
	assert.True(t, isErr, "a lent book cannot be lent again")

	_, isErr = call(t, lend, map[string]any{"id": id})
	assert.True(t, isErr)

	_, isErr = call(t, ret, map[string]any{"id": id})
	assert.False(t, isErr)
	_, isErr = call(t, ret, map[string]any{"id": id})
	assert.True(t, isErr)
}

func TestServerRegistersTools(t *testing.T) {
	cat := setupTestCatalogue(t)
	s := NewCatalogueMCPServer(cat, nil)
	s.RegisterTools()
	assert.NotNil(t, s.MCPRawServer())
	require.NoError(t, s.Close())
}

func TestServerClose_ClosesCatalogue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalogue.db")
	cat, err := books.Open(context.Background(), books.Options{Path: path, WAL: true, Sync: "OFF"})
	require.NoError(t, err)
	_, err = cat.CreateBook(context.Background(), books.Book{Title: "Dune", Authors: []books.Author{{FamilyName: "Herbert"}}})
	require.NoError(t, err)

	s := NewCatalogueMCPServer(cat, nil)
	require.NoError(t, s.Close())

	_, err = cat.FetchBookByID(context.Background(), 1)
	assert.ErrorIs(t, err, db.ErrClosedHandle)
	if info, err := os.Stat(path + "-wal"); err == nil {
		assert.Zero(t, info.Size(), "the WAL is written back on close")
	}
}
