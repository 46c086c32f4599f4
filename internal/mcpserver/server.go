// Package mcpserver exposes read-only snippet tools over the Model Context
// Protocol (stdio transport), so an LLM client can browse the shelf.
//
// There is no identity on this transport, so no tool writes.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sakif/codeshelf/internal/apperror"
	"github.com/sakif/codeshelf/internal/explain"
	"github.com/sakif/codeshelf/internal/query"
	"github.com/sakif/codeshelf/internal/service"
)

// Server wraps the MCP server with codeshelf tools.
type Server struct {
	mcp       *server.MCPServer
	snippets  *service.SnippetService
	explainer explain.Explainer
}

// New creates an MCP server with every tool registered.
func New(snippets *service.SnippetService, explainer explain.Explainer, version string) *Server {
	s := &Server{snippets: snippets, explainer: explainer}

	s.mcp = server.NewMCPServer(
		"codeshelf",
		version,
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(mcp.NewTool("list_snippets",
		mcp.WithDescription("List public code snippets, newest first, optionally filtered and sorted."),
		mcp.WithString("language", mcp.Description("Exact language, e.g. Go")),
		mcp.WithString("framework", mcp.Description("Exact framework, e.g. React")),
		mcp.WithString("tag", mcp.Description("A tag the snippet must carry")),
		mcp.WithString("sort", mcp.Description("newest, oldest, titleAZ or titleZA")),
	), s.listSnippets)

	s.mcp.AddTool(mcp.NewTool("get_snippet",
		mcp.WithDescription("Read one snippet, including its code."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Snippet ID")),
	), s.getSnippet)

	s.mcp.AddTool(mcp.NewTool("list_languages",
		mcp.WithDescription("Every language used by at least one snippet."),
	), s.facetTool(s.snippets.DistinctLanguages))

	s.mcp.AddTool(mcp.NewTool("list_frameworks",
		mcp.WithDescription("Every framework used by at least one snippet."),
	), s.facetTool(s.snippets.DistinctFrameworks))

	s.mcp.AddTool(mcp.NewTool("list_tags",
		mcp.WithDescription("Every tag used by at least one snippet."),
	), s.facetTool(s.snippets.DistinctTags))

	s.mcp.AddTool(mcp.NewTool("explain_snippet",
		mcp.WithDescription("Explain a stored snippet's code in plain language for a beginner."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Snippet ID")),
	), s.explainSnippet)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(out)), nil
}

// toolError reports err to the model. AppError messages are safe to show;
// anything else is replaced so store internals do not leak.
func toolError(err error) *mcp.CallToolResult {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return mcp.NewToolResultError(appErr.Message)
	}
	return mcp.NewToolResultError("request failed")
}

func (s *Server) listSnippets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	d := query.Compose(query.Criteria{
		Language:  req.GetString("language", ""),
		Framework: req.GetString("framework", ""),
		Tag:       req.GetString("tag", ""),
	})

	snippets, err := s.snippets.Snapshot(ctx, d)
	if err != nil {
		return toolError(err), nil
	}

	type summary struct {
		ID        string   `json:"id"`
		Title     string   `json:"title"`
		Language  string   `json:"language"`
		Framework *string  `json:"framework,omitempty"`
		Tags      []string `json:"tags"`
		Author    string   `json:"author"`
	}
	out := make([]summary, 0, len(snippets))
	for _, sn := range query.Sorted(snippets, query.ParseSortKey(req.GetString("sort", ""))) {
		if !sn.IsPublic {
			continue
		}
		out = append(out, summary{
			ID: sn.ID, Title: sn.Title, Language: sn.Language,
			Framework: sn.Framework, Tags: sn.Tags, Author: sn.Author,
		})
	}
	return jsonResult(out)
}

func (s *Server) getSnippet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sn, err := s.snippets.Get(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	if !sn.IsPublic {
		return toolError(apperror.NotFound("snippet", id)), nil
	}
	return jsonResult(sn)
}

func (s *Server) facetTool(read func(context.Context) ([]string, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		values, err := read(ctx)
		if err != nil {
			return toolError(err), nil
		}
		if values == nil {
			values = []string{}
		}
		return jsonResult(values)
	}
}

func (s *Server) explainSnippet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sn, err := s.snippets.Get(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	if !sn.IsPublic {
		return toolError(apperror.NotFound("snippet", id)), nil
	}

	text, err := s.explainer.Explain(ctx, sn.Code, sn.Language)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(text), nil
}
