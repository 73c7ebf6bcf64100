// Package mcp implements the Model Context Protocol (MCP) server for roomscan.
//
// The server exposes three tools to MCP clients:
//   - search_items: Ask where a physical item was last seen
//   - analyze_scan: Run the analysis pipeline for a stored scan
//   - get_status: Report scan counts and storage details
//
// # Protocol Overview
//
// MCP is JSON-RPC 2.0 over stdio. Stdout carries protocol frames only, so
// all logging goes to stderr:
//
//	roomscan mcp
//
// # Tool: search_items
//
//	Request:
//	{
//	  "name": "search_items",
//	  "arguments": {
//	    "query": "where did I leave my keys",
//	    "room": "Office",
//	    "include_candidates": false
//	  }
//	}
//
//	Response:
//	{
//	  "answer": "Your keys are on the desk next to the monitor.",
//	  "image": "https://example.com/scans/office.jpg",
//	  "item": "keys",
//	  "room": "Office"
//	}
//
// When nothing matches, answer is "No matching items found." and image is null.
//
// # Tool: analyze_scan
//
//	Request:
//	{
//	  "name": "analyze_scan",
//	  "arguments": {"scan_id": "6f1c..."}
//	}
//
//	Response:
//	{
//	  "scan_id": "6f1c...",
//	  "room_label": "Kitchen",
//	  "room_source": "inherited",
//	  "inherited_from": "51aa...",
//	  "objects": ["keys", "mug"],
//	  "detection": "succeeded",
//	  "duration_ms": 8123
//	}
//
// # Tool: get_status
//
// Takes no arguments and returns scan statistics plus the storage driver,
// build mode and schema version.
//
// # Error Handling
//
// Tool failures are returned as *MCPError values:
//   - -32602: Invalid params
//   - -32603: Internal error
//   - -32001: Scan not found
//   - -32002: Analysis already in progress for the scan
//   - -32004: Empty query
//
// Search failures never echo upstream details; they are logged by the
// searcher and reported as "search failed".
package mcp
