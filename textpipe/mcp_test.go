package textpipe

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var testMCPImpl = &mcp.Implementation{Name: "salvage-test", Version: "0.1.0"}

func mcpSession(t *testing.T) *mcp.ClientSession {
	t.Helper()
	pipe := New(Config{}, Services{})
	srv := mcp.NewServer(testMCPImpl, nil)
	pipe.RegisterMCP(srv)

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
	if result.IsError {
		t.Fatalf("CallTool(%s) tool error: %v", name, result.Content)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text
}

func mcpCallToolErr(t *testing.T, session *mcp.ClientSession, name string, args any) error {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if !result.IsError {
		t.Fatalf("CallTool(%s): expected tool error", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent error", name)
	}
	return errors.New(tc.Text)
}

// --- salvage_kinds ---

func TestMCP_Kinds(t *testing.T) {
	session := mcpSession(t)

	text := mcpCallTool(t, session, "salvage_kinds", map[string]any{})

	var resp struct {
		Kinds []string `json:"kinds"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	expected := map[string]bool{"pdf": true, "docx": true, "text": true, "image": true, "binary": true}
	if len(resp.Kinds) != len(expected) {
		t.Fatalf("kinds = %v", resp.Kinds)
	}
	for _, k := range resp.Kinds {
		if !expected[k] {
			t.Errorf("unexpected kind %q", k)
		}
	}
}

// --- salvage_detect ---

func TestMCP_Detect(t *testing.T) {
	session := mcpSession(t)

	dir := t.TempDir()
	tests := []struct {
		file string
		data []byte
		kind string
	}{
		{"report.pdf", []byte("%PDF-1.4 payload"), "pdf"},
		{"notes.txt", []byte("plain notes"), "text"},
		{"scan.png", []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A}, "image"},
		{"blob.dat", []byte{0x00, 0x01, 0x02}, "binary"},
	}
	for _, tt := range tests {
		path := filepath.Join(dir, tt.file)
		if err := os.WriteFile(path, tt.data, 0o644); err != nil {
			t.Fatal(err)
		}
		text := mcpCallTool(t, session, "salvage_detect", map[string]any{"path": path})
		var resp struct {
			Kind string `json:"kind"`
		}
		json.Unmarshal([]byte(text), &resp)
		if resp.Kind != tt.kind {
			t.Errorf("detect(%q) = %q, want %q", tt.file, resp.Kind, tt.kind)
		}
	}
}

func TestMCP_Detect_MissingPath(t *testing.T) {
	session := mcpSession(t)
	err := mcpCallToolErr(t, session, "salvage_detect", map[string]any{})
	if !strings.Contains(err.Error(), "path") {
		t.Fatalf("err = %v", err)
	}
}

// --- salvage_extract ---

func TestMCP_Extract_Text(t *testing.T) {
	session := mcpSession(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	os.WriteFile(path, []byte("Hello world\nSecond line"), 0o644)

	text := mcpCallTool(t, session, "salvage_extract", map[string]any{"path": path})

	var res Result
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Meta.Extractor != "text" {
		t.Errorf("extractor = %q", res.Meta.Extractor)
	}
	if res.Text != "Hello world\nSecond line" {
		t.Errorf("text = %q", res.Text)
	}
	if len(res.Meta.Trace) == 0 {
		t.Error("trace empty")
	}
}

func TestMCP_Extract_FileNotFound(t *testing.T) {
	session := mcpSession(t)
	err := mcpCallToolErr(t, session, "salvage_extract", map[string]any{
		"path": filepath.Join(t.TempDir(), "nope.pdf"),
	})
	if !strings.Contains(err.Error(), "nope.pdf") {
		t.Fatalf("err = %v", err)
	}
}
