package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/unowned-ai/catalogue/pkg/books"
	"github.com/unowned-ai/catalogue/pkg/db"
	"github.com/unowned-ai/catalogue/pkg/query"
)

// DefaultListLimit caps list and search results unless the caller asks otherwise.
const DefaultListLimit = 50

// RegisterPingTool registers the simple ping tool.
func RegisterPingTool(s *server.MCPServer) {
	pingTool := mcp.NewTool("ping",
		mcp.WithDescription("Responds with 'pong' to check if the Catalogue MCP server is alive."),
	)
	s.AddTool(pingTool, pingHandler)
}

func pingHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText("pong_catalogue"), nil
}

// RegisterSearchBooksTool registers the search_books tool, a full-text
// search over titles, authors, series and anthology contents.
func RegisterSearchBooksTool(s *server.MCPServer, cat *books.Catalogue) {
	tool := mcp.NewTool("search_books",
		mcp.WithDescription("Full-text search of the catalogue. Words match as prefixes; all words must match."),
		mcp.WithString("text", mcp.Description("Words to match anywhere in the book's text.")),
		mcp.WithString("author", mcp.Description("Words to match against author names only.")),
		mcp.WithString("title", mcp.Description("Words to match against titles only.")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of books to return (default 50).")),
	)
	s.AddTool(tool, searchBooksHandler(cat))
}

func searchBooksHandler(cat *books.Catalogue) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text := stringArg(request, "text")
		author := stringArg(request, "author")
		title := stringArg(request, "title")
		if text == "" && author == "" && title == "" {
			return mcp.NewToolResultError("at least one of 'text', 'author' or 'title' is required."), nil
		}
		limit, err := limitArg(request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		ids, err := cat.SearchFTS(ctx, author, title, text)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to search books: %v", err)), nil
		}
		found := make([]books.Book, 0, min(len(ids), limit))
		for _, id := range ids[:min(len(ids), limit)] {
			b, err := cat.FetchBookByID(ctx, id)
			if errors.Is(err, db.ErrNotFound) {
				continue
			}
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch book %d: %v", id, err)), nil
			}
			found = append(found, b)
		}
		return jsonResult(found)
	}
}

// RegisterListBooksTool registers the list_books tool.
func RegisterListBooksTool(s *server.MCPServer, cat *books.Catalogue) {
	tool := mcp.NewTool("list_books",
		mcp.WithDescription("Lists books, optionally filtered by shelf, series, borrower or search words."),
		mcp.WithString("bookshelf", mcp.Description("Only books on this shelf.")),
		mcp.WithString("series", mcp.Description("Only books of this series.")),
		mcp.WithString("loaned_to", mcp.Description("Only books lent to this person.")),
		mcp.WithString("search", mcp.Description("Words that must all occur in the book or its authors, series or anthology titles.")),
		mcp.WithString("order", mcp.Description("One of title, author, series, added, published. Default title.")),
		mcp.WithBoolean("descending", mcp.Description("Reverse the order.")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of books to return (default 50).")),
	)
	s.AddTool(tool, listBooksHandler(cat))
}

func listBooksHandler(cat *books.Catalogue) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		order, err := query.ParseOrder(stringArg(request, "order"))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		limit, err := limitArg(request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		descending, _ := request.Params.Arguments["descending"].(bool)

		filter := query.BookFilter{
			Order:      order,
			Descending: descending,
			Bookshelf:  stringArg(request, "bookshelf"),
			SeriesName: stringArg(request, "series"),
			LoanedTo:   stringArg(request, "loaned_to"),
			SearchText: stringArg(request, "search"),
		}
		rows := []query.BookRow{}
		for row, err := range cat.FetchAllBooks(ctx, filter) {
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("Failed to list books: %v", err)), nil
			}
			rows = append(rows, row)
			if len(rows) >= limit {
				break
			}
		}
		return jsonResult(rows)
	}
}

// RegisterGetBookTool registers the get_book tool.
func RegisterGetBookTool(s *server.MCPServer, cat *books.Catalogue) {
	tool := mcp.NewTool("get_book",
		mcp.WithDescription("Retrieves a book with its authors, series, shelves, anthology titles and loan."),
		mcp.WithNumber("id", mcp.Description("The book id.")),
		mcp.WithString("uuid", mcp.Description("The book UUID. Used when 'id' is absent.")),
	)
	s.AddTool(tool, getBookHandler(cat))
}

func getBookHandler(cat *books.Catalogue) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var (
			b   books.Book
			err error
		)
		if id, ok, argErr := idArg(request, "id"); argErr != nil {
			return mcp.NewToolResultError(argErr.Error()), nil
		} else if ok {
			b, err = cat.FetchBookByID(ctx, id)
		} else if bookUUID := stringArg(request, "uuid"); bookUUID != "" {
			b, err = cat.FetchBookByUUID(ctx, bookUUID)
		} else {
			return mcp.NewToolResultError("'id' or 'uuid' is required."), nil
		}
		if errors.Is(err, db.ErrNotFound) {
			return mcp.NewToolResultError("Book not found."), nil
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch book: %v", err)), nil
		}
		return jsonResult(b)
	}
}

// RegisterListBookshelvesTool registers the list_bookshelves tool.
func RegisterListBookshelvesTool(s *server.MCPServer, cat *books.Catalogue) {
	tool := mcp.NewTool("list_bookshelves",
		mcp.WithDescription("Lists all bookshelves."),
	)
	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		shelves, err := cat.ListBookshelves(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list bookshelves: %v", err)), nil
		}
		return jsonResult(shelves)
	})
}

// RegisterListAuthorsTool registers the list_authors tool.
func RegisterListAuthorsTool(s *server.MCPServer, cat *books.Catalogue) {
	tool := mcp.NewTool("list_authors",
		mcp.WithDescription("Lists all authors with the number of books crediting each."),
	)
	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		authors, err := cat.ListAuthors(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list authors: %v", err)), nil
		}
		return jsonResult(authors)
	})
}

// RegisterLendBookTool registers the lend_book tool.
func RegisterLendBookTool(s *server.MCPServer, cat *books.Catalogue) {
	tool := mcp.NewTool("lend_book",
		mcp.WithDescription("Records that a book was lent to someone."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("The book id.")),
		mcp.WithString("to", mcp.Required(), mcp.Description("Who borrowed the book.")),
	)
	s.AddTool(tool, lendBookHandler(cat))
}

func lendBookHandler(cat *books.Catalogue) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, ok, err := idArg(request, "id")
		if err != nil || !ok {
			return mcp.NewToolResultError("'id' parameter is required and must be a positive number."), nil
		}
		to := stringArg(request, "to")
		if to == "" {
			return mcp.NewToolResultError("'to' parameter is required and must be a non-empty string."), nil
		}

		err = cat.CreateLoan(ctx, id, to)
		var constraint *db.ConstraintError
		switch {
		case errors.As(err, &constraint):
			return mcp.NewToolResultError(fmt.Sprintf("Book %d is already lent or does not exist.", id)), nil
		case err != nil:
			return mcp.NewToolResultError(fmt.Sprintf("Failed to lend book: %v", err)), nil
		}
		loan, err := cat.FetchLoan(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to read loan: %v", err)), nil
		}
		return jsonResult(loan)
	}
}

// RegisterReturnBookTool registers the return_book tool.
func RegisterReturnBookTool(s *server.MCPServer, cat *books.Catalogue) {
	tool := mcp.NewTool("return_book",
		mcp.WithDescription("Records that a lent book came back."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("The book id.")),
	)
	s.AddTool(tool, returnBookHandler(cat))
}

func returnBookHandler(cat *books.Catalogue) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, ok, err := idArg(request, "id")
		if err != nil || !ok {
			return mcp.NewToolResultError("'id' parameter is required and must be a positive number."), nil
		}
		err = cat.DeleteLoan(ctx, id)
		if errors.Is(err, db.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("Book %d is not lent.", id)), nil
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to return book: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Book %d returned.", id)), nil
	}
}
