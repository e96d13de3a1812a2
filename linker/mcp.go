package linker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hiroroworks/gemini-super-linker/kit"
)

// RegisterMCP registers the linker tools on an MCP server.
func (l *Linker) RegisterMCP(srv *mcp.Server) {
	l.registerListTool(srv)
	l.registerSearchTool(srv)
	l.registerRenameTool(srv)
	l.registerDeleteTool(srv)
	l.registerExportTool(srv)
	l.registerTranscriptTool(srv)
}

// ErrActionDisabled is reported by a tool whose action is switched off.
var ErrActionDisabled = errors.New("linker: action disabled")

// toolGuard ties a tool to the action it mirrors: the tool refuses while the
// action is disabled and is bounded by the action timeout.
func (l *Linker) toolGuard(action string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			if info, ok := l.router.Inspect(action); ok && !info.Enabled {
				return nil, fmt.Errorf("%w: %s", ErrActionDisabled, action)
			}
			ctx, cancel := context.WithTimeout(ctx, l.actionTimeout)
			defer cancel()
			return next(ctx, req)
		}
	}
}

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

func decodeArgs[T any](req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var r T
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
	}
	return &kit.MCPDecodeResult{Request: &r}, nil
}

// --- list / search ---

type searchReq struct {
	Query string `json:"query"`
}

func (l *Linker) registerListTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "linker_list_chats",
		Description: "List saved Gemini conversations, most recently seen first.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		recs, err := l.Chats(ctx, "")
		if err != nil {
			return nil, err
		}
		return map[string]any{"chats": recs, "count": len(recs)}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeArgs[struct{}], l.toolGuard(ActionListChats))
}

func (l *Linker) registerSearchTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "linker_search_chats",
		Description: "Search saved conversations by title (case-insensitive substring).",
		InputSchema: inputSchema(map[string]any{
			"query": map[string]any{"type": "string", "description": "Keyword to look for in titles"},
		}, []string{"query"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*searchReq)
		recs, err := l.Chats(ctx, r.Query)
		if err != nil {
			return nil, err
		}
		return map[string]any{"chats": recs, "count": len(recs)}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeArgs[searchReq], l.toolGuard(ActionListChats))
}

// --- rename / delete ---

func (l *Linker) registerRenameTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "linker_rename_chat",
		Description: "Rename a saved conversation. The new title is kept even if the page title changes later.",
		InputSchema: inputSchema(map[string]any{
			"url":   map[string]any{"type": "string", "description": "Conversation URL"},
			"title": map[string]any{"type": "string", "description": "New title"},
		}, []string{"url", "title"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*RenameRequest)
		if err := l.Rename(ctx, r.URL, r.Title); err != nil {
			return nil, err
		}
		return Result{Success: true}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeArgs[RenameRequest], l.toolGuard(ActionRenameChat))
}

type deleteReq struct {
	URL string `json:"url"`
}

func (l *Linker) registerDeleteTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "linker_delete_chat",
		Description: "Remove a conversation from the saved history.",
		InputSchema: inputSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "Conversation URL"},
		}, []string{"url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*deleteReq)
		if err := l.Delete(ctx, r.URL); err != nil {
			return nil, err
		}
		return Result{Success: true}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeArgs[deleteReq], l.toolGuard(ActionDeleteChat))
}

// --- export / transcript ---

func (l *Linker) registerExportTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "linker_export_chats",
		Description: "Export the saved history as the JSON backup file.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return l.Export(ctx)
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeArgs[struct{}], l.toolGuard(ActionExportChats))
}

func (l *Linker) registerTranscriptTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "linker_transcript",
		Description: "Render the conversation currently shown in the page as markdown.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return l.Transcript(ctx)
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeArgs[struct{}], l.toolGuard(ActionDownloadMarkdown))
}
