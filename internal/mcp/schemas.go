package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/roomscan-mcp/pkg/types"
)

// searchItemsTool returns the tool definition for search_items
func searchItemsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_items",
		Description: "Find where a physical item was last photographed, e.g. \"where are my keys\"",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural language question about an item",
				},
				"room": map[string]interface{}{
					"type":        "string",
					"description": "Optional room to restrict the search to; overrides any room named in the query",
					"examples":    types.DefiniteRooms,
				},
				"include_candidates": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, include the candidate scans that were shown to the judge",
					"default":     false,
				},
			},
			Required: []string{"query"},
		},
	}
}

// analyzeScanTool returns the tool definition for analyze_scan
func analyzeScanTool() mcp.Tool {
	return mcp.Tool{
		Name:        "analyze_scan",
		Description: "Run (or re-run) scene description, object detection and embedding for a stored scan",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"scan_id": map[string]interface{}{
					"type":        "string",
					"description": "Id of a stored scan",
				},
			},
			Required: []string{"scan_id"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report how many scans are stored and analyzed",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
