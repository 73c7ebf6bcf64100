package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/roomscan-mcp/internal/ingest"
	"github.com/dshills/roomscan-mcp/internal/searcher"
	"github.com/dshills/roomscan-mcp/internal/storage"
	"github.com/dshills/roomscan-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams       = -32602 // Invalid method parameters
	ErrorCodeInternalError       = -32603 // Internal JSON-RPC error
	ErrorCodeScanNotFound        = -32001 // No scan with the given id
	ErrorCodeIngestionInProgress = -32002 // The scan is already being analyzed
	ErrorCodeEmptyQuery          = -32004 // Query parameter is empty
)

// handleSearchItems handles the search_items tool invocation
func (s *Server) handleSearchItems(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query := strings.TrimSpace(getStringDefault(args, "query", ""))
	if query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}
	room := getStringDefault(args, "room", "")
	withCandidates := getBoolDefault(args, "include_candidates", false)

	resp, err := s.searcher.Search(ctx, searcher.SearchRequest{Query: query, Room: room})
	if err != nil {
		// Details are logged by the searcher.
		return nil, newMCPError(ErrorCodeInternalError, "search failed", nil)
	}

	response := map[string]interface{}{
		"answer": resp.Result.Answer,
		"image":  resp.Result.Image,
		"item":   resp.Item,
	}
	if resp.Room != "" {
		response["room"] = resp.Room
	}
	if withCandidates {
		response["candidates"] = candidateSummaries(resp.Candidates)
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleAnalyzeScan handles the analyze_scan tool invocation
func (s *Server) handleAnalyzeScan(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	scanID := strings.TrimSpace(getStringDefault(args, "scan_id", ""))
	if scanID == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "scan_id parameter is required", map[string]interface{}{
			"param":  "scan_id",
			"reason": "missing or empty",
		})
	}

	scan, err := s.store.GetScan(ctx, scanID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newMCPError(ErrorCodeScanNotFound, "scan not found", map[string]interface{}{
			"scan_id": scanID,
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to load scan", map[string]interface{}{
			"error": err.Error(),
		})
	}

	result, err := s.ingester.Ingest(ctx, ingest.RecordFromScan(scan))
	switch {
	case err == nil:
	case errors.Is(err, ingest.ErrInProgress):
		return nil, newMCPError(ErrorCodeIngestionInProgress, "scan is already being analyzed", map[string]interface{}{
			"scan_id": scanID,
		})
	default:
		return nil, newMCPError(ErrorCodeInternalError, "analysis failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"scan_id":     result.ScanID,
		"room_label":  result.RoomLabel,
		"room_source": result.RoomSource,
		"objects":     nonNil(result.Labels),
		"detection":   result.DetectionState,
		"duration_ms": result.Duration.Milliseconds(),
	}
	if result.InheritedFrom != "" {
		response["inherited_from"] = result.InheritedFrom
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.store.GetStatus(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"statistics": map[string]interface{}{
			"total_scans":        status.TotalScans,
			"analyzed_scans":     status.AnalyzedScans,
			"pending_scans":      status.TotalScans - status.AnalyzedScans,
			"scans_with_objects": status.ScansWithObjects,
			"size_mb":            fmt.Sprintf("%.2f", status.SizeMB),
		},
		"storage": map[string]interface{}{
			"driver":         status.Driver,
			"build_mode":     status.BuildMode,
			"schema_version": status.SchemaVersion,
		},
	}
	if status.LastCreatedAt != nil {
		response["last_scan_at"] = status.LastCreatedAt.Format(time.RFC3339)
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

func candidateSummaries(cands []types.Candidate) []map[string]interface{} {
	out := make([]map[string]interface{}, len(cands))
	for i, c := range cands {
		entry := map[string]interface{}{
			"index":      i,
			"scan_id":    c.ID(),
			"image_url":  c.Scan.ImageURL,
			"room_label": c.Scan.RoomLabel,
		}
		if c.Match != nil {
			entry["matched_object"] = c.Match.Label
			entry["match_similarity"] = c.Match.Similarity
		}
		out[i] = entry
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
