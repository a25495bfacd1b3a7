// Package rpc implements the daemon's RPC dispatcher (spec §4.7): an
// MCP-compatible tool-call server speaking line-delimited JSON-RPC over
// a local Unix socket only, with
// the accept-loop, connection-semaphore, and version-compatibility
// machinery grounded in the teacher's own RPC server.
package rpc

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// ToolHandler is the signature every Strobe tool-call handler implements;
// Dispatcher.registerTools wires concrete implementations from the
// session/worker/dwarf/eventstore packages under these names.
type ToolHandler = func(ctx context.Context, tc toolContext, req mcp.CallToolRequest) (*mcp.CallToolResult, error)

// toolNames lists the tool-call surface from spec §6, grouped by area.
const (
	ToolLaunch          = "launch"
	ToolSessionList     = "session_list"
	ToolSessionStatus   = "session_status"
	ToolSessionStop     = "session_stop"
	ToolTraceAdd        = "trace_add"
	ToolTraceRemove     = "trace_remove"
	ToolQueryEvents     = "query_events"
	ToolBreakpointSet   = "breakpoint_set"
	ToolBreakpointClear = "breakpoint_clear"
	ToolContinue        = "continue"
	ToolMemory          = "memory"
	ToolTestRun         = "test_run"
	ToolHealth          = "health"
)

// newTool is a small helper over mcp.NewTool that always attaches a
// description, keeping tool registration in registerTools terse.
func newTool(name, description string, opts ...mcp.ToolOption) mcp.Tool {
	all := append([]mcp.ToolOption{mcp.WithDescription(description)}, opts...)
	return mcp.NewTool(name, all...)
}
