package engine

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mosbree/embedkeeper/dom"
	"github.com/mosbree/embedkeeper/kit"
)

// RegisterMCP registers engine inspection tools on an MCP server.
func (e *Engine) RegisterMCP(srv *mcp.Server) {
	e.registerStatsTool(srv)
	e.registerCacheTool(srv)
	e.registerReconcileTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// --- stats ---

func (e *Engine) registerStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "embedkeeper_stats",
		Description: "Engine counters: passes, nodes seen, negotiations, substitutions, guard sweeps, cache size.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return e.Stats(), nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: struct{}{}}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- cache ---

func (e *Engine) registerCacheTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "embedkeeper_cache",
		Description: "List lite-card cache keys in insertion order (oldest first).",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return map[string]any{
			"entries": e.cache.Len(),
			"keys":    e.cache.Keys(),
		}, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: struct{}{}}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- reconcile ---

type reconcileRequest struct {
	Root         int64 `json:"root,omitempty"`
	ForceReload  bool  `json:"force_reload,omitempty"`
	LiteCardMode bool  `json:"lite_card_mode,omitempty"`
}

func (e *Engine) registerReconcileTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "embedkeeper_reconcile",
		Description: "Run one reconciliation pass over the embed regions under a root node.",
		InputSchema: inputSchema(map[string]any{
			"root":           map[string]any{"type": "integer", "description": "Root node ID (0 = document root)"},
			"force_reload":   map[string]any{"type": "boolean", "description": "Renegotiate nodes already in a terminal state"},
			"lite_card_mode": map[string]any{"type": "boolean", "description": "Substitute lite cards for configured kinds"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*reconcileRequest)
		return e.Reconcile(ctx, dom.NodeID(r.Root), Options{
			ForceReload:  r.ForceReload,
			LiteCardMode: r.LiteCardMode,
		}), nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r reconcileRequest
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
