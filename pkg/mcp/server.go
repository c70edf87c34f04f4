package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	catalogue "github.com/unowned-ai/catalogue/pkg"
	"github.com/unowned-ai/catalogue/pkg/books"
)

type CatalogueMCPServer struct {
	mcpServer *server.MCPServer
	cat       *books.Catalogue
	logger    *slog.Logger
}

// NewCatalogueMCPServer wraps an open catalogue. The server owns cat and
// closes it in Close.
func NewCatalogueMCPServer(cat *books.Catalogue, logger *slog.Logger) *CatalogueMCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := server.NewMCPServer(
		"Catalogue MCP Server",
		catalogue.Version,
		server.WithResourceCapabilities(true, true),
		server.WithLogging(),
		server.WithRecovery(),
	)
	return &CatalogueMCPServer{mcpServer: s, cat: cat, logger: logger}
}

// RegisterTools adds every catalogue tool.
func (s *CatalogueMCPServer) RegisterTools() {
	RegisterPingTool(s.mcpServer)
	RegisterSearchBooksTool(s.mcpServer, s.cat)
	RegisterListBooksTool(s.mcpServer, s.cat)
	RegisterGetBookTool(s.mcpServer, s.cat)
	RegisterListBookshelvesTool(s.mcpServer, s.cat)
	RegisterListAuthorsTool(s.mcpServer, s.cat)
	RegisterLendBookTool(s.mcpServer, s.cat)
	RegisterReturnBookTool(s.mcpServer, s.cat)
}

// Start runs the stdio event loop. Make sure to register tools beforehand.
func (s *CatalogueMCPServer) Start() error {
	return server.ServeStdio(s.mcpServer)
}

// MCPRawServer exposes the raw mcp-go server (useful for additional configuration).
func (s *CatalogueMCPServer) MCPRawServer() *server.MCPServer {
	return s.mcpServer
}

// Close closes the catalogue, which also checkpoints the WAL.
func (s *CatalogueMCPServer) Close() error {
	if s.cat == nil {
		return nil
	}
	if err := s.cat.Close(); err != nil {
		return err
	}
	s.logger.Debug("mcp_server_closed")
	return nil
}
