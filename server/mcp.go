package server

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/litsync/litsync/kit"
)

// RegisterMCP registers the sync server's tools on an MCP server, so an
// assistant can build context prompts and look up library docs without
// going through the HTTP API.
func (s *Server) RegisterMCP(srv *mcp.Server) {
	s.registerGeneratePromptTool(srv)
	s.registerSearchDocsTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func (s *Server) registerGeneratePromptTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "litsync_generate_prompt",
		Description: "Build a project-context prompt from a connected workspace: file tree, selected file contents, and optional library documentation.",
		InputSchema: inputSchema(map[string]any{
			"client_id": map[string]any{"type": "string", "description": "Workspace client ID (see /api/clients)"},
			"paths":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Workspace-relative file paths to include"},
			"libraries": map[string]any{
				"type":        "array",
				"description": "Library docs to append",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":     map[string]any{"type": "string", "description": "Library ID (e.g. /go-chi/chi)"},
						"topic":  map[string]any{"type": "string", "description": "Focus topic"},
						"tokens": map[string]any{"type": "integer", "description": "Token budget"},
					},
					"required": []any{"id"},
				},
			},
		}, []string{"client_id", "paths"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.GeneratePrompt(ctx, *req.(*GeneratePromptRequest))
	}

	decode := func(args json.RawMessage) (any, error) {
		var r GeneratePromptRequest
		if err := json.Unmarshal(args, &r); err != nil {
			return nil, err
		}
		return &r, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

type searchDocsRequest struct {
	Query string `json:"query"`
}

func (s *Server) registerSearchDocsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "litsync_search_docs",
		Description: "Search the documentation index for libraries matching a query. Returns library IDs usable with litsync_generate_prompt.",
		InputSchema: inputSchema(map[string]any{
			"query": map[string]any{"type": "string", "description": "Library name or topic"},
		}, []string{"query"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.SearchDocs(ctx, req.(*searchDocsRequest).Query)
	}

	decode := func(args json.RawMessage) (any, error) {
		var r searchDocsRequest
		if err := json.Unmarshal(args, &r); err != nil {
			return nil, err
		}
		return &r, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
