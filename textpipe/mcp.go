package textpipe

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCP registers extraction tools on an MCP server.
//
// Registered tools:
//
//	salvage_extract — run the full pipeline on a document file
//	salvage_detect  — classify a document file's kind
//	salvage_kinds   — list the kinds the pipeline understands
//
// Uses the SDK's low-level AddTool: arguments arrive as json.RawMessage and
// tool-level failures go through result.SetError, not protocol errors.
func (p *Pipeline) RegisterMCP(srv *mcp.Server) {
	p.registerExtractTool(srv)
	p.registerDetectTool(srv)
	p.registerKindsTool(srv)
}

func inputSchema(properties map[string]any, required []string) json.RawMessage {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	raw, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("textpipe: marshal tool schema: %v", err))
	}
	return raw
}

type pathArgs struct {
	Path string `json:"path"`
}

func decodePathArgs(req *mcp.CallToolRequest) (pathArgs, error) {
	var args pathArgs
	if req.Params.Arguments == nil {
		return args, fmt.Errorf("missing arguments")
	}
	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return args, fmt.Errorf("invalid arguments: %w", err)
	}
	if args.Path == "" {
		return args, fmt.Errorf("path is required")
	}
	return args, nil
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}

func toolJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return toolError(err), nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}

func (p *Pipeline) registerExtractTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "salvage_extract",
		Description: "Extract plain text and layout metadata from a document file (pdf, docx, txt, image).",
		InputSchema: inputSchema(map[string]any{
			"path": map[string]any{"type": "string", "description": "File path to extract"},
		}, []string{"path"}),
	}

	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := decodePathArgs(req)
		if err != nil {
			return toolError(err), nil
		}
		data, err := os.ReadFile(args.Path)
		if err != nil {
			return toolError(fmt.Errorf("read %s: %w", args.Path, err)), nil
		}
		mimeType := mime.TypeByExtension(filepath.Ext(args.Path))
		res, err := p.Extract(ctx, data, filepath.Base(args.Path), mimeType, Options{})
		if err != nil {
			return toolError(err), nil
		}
		return toolJSON(res)
	})
}

func (p *Pipeline) registerDetectTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "salvage_detect",
		Description: "Detect the kind of a document file from its magic bytes, MIME type and extension.",
		InputSchema: inputSchema(map[string]any{
			"path": map[string]any{"type": "string", "description": "File path to classify"},
		}, []string{"path"}),
	}

	srv.AddTool(tool, func(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := decodePathArgs(req)
		if err != nil {
			return toolError(err), nil
		}
		data, err := os.ReadFile(args.Path)
		if err != nil {
			return toolError(fmt.Errorf("read %s: %w", args.Path, err)), nil
		}
		mimeType := mime.TypeByExtension(filepath.Ext(args.Path))
		kind := DetectKind(data, filepath.Base(args.Path), mimeType)
		return toolJSON(map[string]string{"kind": string(kind)})
	})
}

func (p *Pipeline) registerKindsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "salvage_kinds",
		Description: "List the input kinds the extraction pipeline understands.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	srv.AddTool(tool, func(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return toolJSON(map[string]any{
			"kinds": []Kind{KindPDF, KindDocx, KindText, KindImage, KindBinary},
		})
	})
}
