package main

import (
	"github.com/spf13/cobra"

	"github.com/dshills/roomscan-mcp/internal/app"
	"github.com/dshills/roomscan-mcp/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the search_items, analyze_scan and get_status tools over MCP stdio",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	server, err := mcp.NewServer(mcp.Deps{
		Searcher: a.Searcher,
		Ingester: a.Ingester,
		Store:    a.Store,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	logger.Info("mcp server ready, listening on stdio", "version", version)
	return server.Serve(cmd.Context())
}
