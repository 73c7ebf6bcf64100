package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/roomscan-mcp/internal/ingest"
	"github.com/dshills/roomscan-mcp/internal/searcher"
	"github.com/dshills/roomscan-mcp/internal/storage"
	"github.com/dshills/roomscan-mcp/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "roomscan-mcp"
	// ServerVersion is the current server version
	ServerVersion = "0.1.0"
)

// Searcher answers item queries.
type Searcher interface {
	Search(ctx context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error)
}

// ScanReader is the storage the tools read from.
type ScanReader interface {
	GetScan(ctx context.Context, id string) (*types.Scan, error)
	GetStatus(ctx context.Context) (*storage.Status, error)
}

// Deps are the application components the tools call into.
type Deps struct {
	Searcher Searcher
	Ingester ingest.Ingester
	Store    ScanReader
	Logger   *slog.Logger
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	searcher Searcher
	ingester ingest.Ingester
	store    ScanReader
	logger   *slog.Logger
}

// NewServer creates a new MCP server instance
func NewServer(deps Deps) (*Server, error) {
	if deps.Searcher == nil || deps.Ingester == nil || deps.Store == nil {
		return nil, errors.New("mcp server requires searcher, ingester and store")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp: server.NewMCPServer(
			ServerName,
			ServerVersion,
			server.WithToolCapabilities(false),
		),
		searcher: deps.Searcher,
		ingester: deps.Ingester,
		store:    deps.Store,
		logger:   logger,
	}

	s.registerTools()
	return s, nil
}

// Serve runs the MCP server on stdio and blocks until stdin closes.
// Storage is owned by the caller.
func (s *Server) Serve(ctx context.Context) error {
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchItemsTool(), s.handleSearchItems)
	s.mcp.AddTool(analyzeScanTool(), s.handleAnalyzeScan)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
