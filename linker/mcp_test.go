package linker

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hiroroworks/gemini-super-linker/history"
	"github.com/hiroroworks/gemini-super-linker/transcript"
)

var testMCPImpl = &mcp.Implementation{Name: "linker-test", Version: "0.1.0"}

func mcpSession(t *testing.T, l *Linker) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	l.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCallTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text
}

type chatList struct {
	Chats []history.Record `json:"chats"`
	Count int              `json:"count"`
}

func TestMCP_ListAndSearch(t *testing.T) {
	f := newFixture(t, chatURL, chatPage)
	ctx := context.Background()
	f.l.History().Upsert(ctx, "https://gemini.google.com/app/1", "Trip Plan", 100)
	f.l.History().Upsert(ctx, "https://gemini.google.com/app/2", "Budget", 200)
	session := mcpSession(t, f.l)

	var all chatList
	if err := json.Unmarshal([]byte(mcpCallTool(t, session, "linker_list_chats", map[string]any{})), &all); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if all.Count != 2 || all.Chats[0].Title != "Budget" {
		t.Errorf("list: got %+v", all)
	}

	var found chatList
	text := mcpCallTool(t, session, "linker_search_chats", map[string]any{"query": "trip"})
	if err := json.Unmarshal([]byte(text), &found); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if found.Count != 1 || found.Chats[0].URL != "https://gemini.google.com/app/1" {
		t.Errorf("search: got %+v", found)
	}
}

func TestMCP_RenameDelete(t *testing.T) {
	f := newFixture(t, chatURL, chatPage)
	ctx := context.Background()
	f.l.History().Upsert(ctx, chatURL, "Trip Plan", 100)
	session := mcpSession(t, f.l)

	mcpCallTool(t, session, "linker_rename_chat", map[string]any{"url": chatURL, "title": "Kyoto"})
	rec, ok, _ := f.l.History().Get(ctx, chatURL)
	if !ok || rec.Title != "Kyoto" || !rec.IsRenamed {
		t.Errorf("after rename: got %+v", rec)
	}

	mcpCallTool(t, session, "linker_delete_chat", map[string]any{"url": chatURL})
	if _, ok, _ := f.l.History().Get(ctx, chatURL); ok {
		t.Error("record still present after delete")
	}
}

func TestMCP_Export(t *testing.T) {
	f := newFixture(t, chatURL, chatPage)
	f.l.History().Upsert(context.Background(), chatURL, "Trip Plan", 100)
	session := mcpSession(t, f.l)

	var res ExportResult
	if err := json.Unmarshal([]byte(mcpCallTool(t, session, "linker_export_chats", map[string]any{})), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Count != 1 || !strings.Contains(res.Data, chatURL) {
		t.Errorf("export: got %+v", res)
	}
}

func TestMCP_Transcript(t *testing.T) {
	f := newFixture(t, chatURL, chatPage)
	session := mcpSession(t, f.l)

	var tr transcript.Transcript
	if err := json.Unmarshal([]byte(mcpCallTool(t, session, "linker_transcript", map[string]any{})), &tr); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if tr.Messages != 2 || !strings.HasPrefix(tr.Markdown, "# Trip Plan") {
		t.Errorf("transcript: got %+v", tr)
	}
}

func TestMCP_ToolError(t *testing.T) {
	f := newFixture(t, chatURL, `<title>Empty - Gemini</title>`)
	session := mcpSession(t, f.l)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "linker_transcript",
		Arguments: map[string]any{},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !result.IsError {
		t.Error("expected a tool error for a page without messages")
	}
}

func TestMCP_DisabledActionRefused(t *testing.T) {
	f := newFixture(t, chatURL, chatPage)
	ctx := context.Background()
	f.l.History().Upsert(ctx, chatURL, "Trip Plan", 100)
	if _, err := f.l.SetActionEnabled(ActionRenameChat, false); err != nil {
		t.Fatalf("SetActionEnabled: %v", err)
	}
	session := mcpSession(t, f.l)

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "linker_rename_chat",
		Arguments: map[string]any{"url": chatURL, "title": "Kyoto"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected a tool error for a disabled action")
	}
	if rec, _, _ := f.l.History().Get(ctx, chatURL); rec.Title != "Trip Plan" {
		t.Errorf("title changed through a disabled tool: %q", rec.Title)
	}

	// Other tools are unaffected.
	var list chatList
	if err := json.Unmarshal([]byte(mcpCallTool(t, session, "linker_list_chats", map[string]any{})), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if list.Count != 1 {
		t.Errorf("count: got %d, want 1", list.Count)
	}
}
