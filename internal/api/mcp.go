package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/reelrec/internal/catalog"
	"github.com/kalambet/reelrec/internal/metrics"
	"github.com/kalambet/reelrec/internal/recommend"
)

// MCPEngine is the retrieval surface exposed over MCP.
type MCPEngine interface {
	Recommend(title string, k int) (recommend.Result, error)
	Surprise() (string, error)
	Catalog() *catalog.Catalog
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Engine   MCPEngine
	DefaultK int
	Version  string
}

// NewMCPServer creates an MCP server with the read-only retrieval tools.
// MCP calls carry no user identity, so nothing is written to history.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Version == "" {
		deps.Version = "dev"
	}
	s := server.NewMCPServer(
		"reelrec",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("reelrec: movie recommendations from a precomputed similarity index."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("recommend",
			mcp.WithDescription("Return the movies most similar to the given title, best match first."),
			mcp.WithString("title", mcp.Description("Exact catalog title"), mcp.Required()),
			mcp.WithNumber("k", mcp.Description("Number of recommendations (default 5, max 50)")),
		),
		mcpRecommend(deps),
	)

	s.AddTool(
		mcp.NewTool("surprise",
			mcp.WithDescription("Return one movie picked uniformly at random from the catalog."),
		),
		mcpSurprise(deps),
	)

	s.AddTool(
		mcp.NewTool("search_titles",
			mcp.WithDescription("Find catalog titles containing the query (case-insensitive)."),
			mcp.WithString("query", mcp.Description("Substring to match"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpSearchTitles(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"catalog://stats",
			"Catalog Stats",
			mcp.WithResourceDescription("Number of titles in the loaded catalog"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	return s
}

func mcpRecommend(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := req.RequireString("title")
		if err != nil || title == "" {
			return mcpError("title is required"), nil
		}

		k := req.GetInt("k", deps.DefaultK)
		if k <= 0 {
			k = recommend.DefaultK
		}
		if k > 50 {
			k = 50
		}

		res, err := deps.Engine.Recommend(title, k)
		metrics.ObserveRecommendation("recommend", res.Partial, err)
		if errors.Is(err, recommend.ErrNotFound) {
			return mcpError(fmt.Sprintf("title %q is not in the catalog", title)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("recommend failed: %v", err)), nil
		}

		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSurprise(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := deps.Engine.Surprise()
		metrics.ObserveRecommendation("surprise", false, err)
		if err != nil {
			return mcpError(fmt.Sprintf("surprise failed: %v", err)), nil
		}
		return mcpText(title), nil
	}
}

func mcpSearchTitles(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}

		items := deps.Engine.Catalog().Search(query, limit)
		if len(items) == 0 {
			return mcpText("[]"), nil
		}
		b, err := json.Marshal(items)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(map[string]int{"titles": deps.Engine.Catalog().Len()})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal stats: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
