package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/unowned-ai/catalogue/pkg/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Catalogue MCP server (stdio)",
	Long: `Start a Model Context Protocol (MCP) server that exposes catalogue search,
listing and lending as MCP tools via STDIO.

The --db flag is optional. If not provided, a system-specific default location is used:
- Windows: %USERPROFILE%\AppData\Roaming\catalogue\catalogue.db
- macOS: ~/Library/Application Support/catalogue/catalogue.db
- Linux: ~/.local/share/catalogue/catalogue.db

Example:

  catalogue mcp --db books.db 2> server.log`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}

		srv := mcp.NewCatalogueMCPServer(s.cat, s.logger)
		defer srv.Close()
		srv.RegisterTools()

		// Logs go to stderr so we don't contaminate the JSON-RPC stream on stdout.
		s.logger.Info("mcp_server_started", slog.String("db", s.cfg.Database.Path))
		return srv.Start()
	},
}
