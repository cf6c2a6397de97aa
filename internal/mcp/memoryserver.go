// Package mcp exposes the workspace's hybrid-search memory over MCP, so the
// external turn executor's model can call it as an ordinary tool. It is the
// search tool invocation path spec.md refers to: the only production caller
// of memory.HybridSearch.
package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nextlevelbuilder/assistantd/internal/domain"
	"github.com/nextlevelbuilder/assistantd/internal/memory"
)

// NewMemoryServer builds an MCP server exposing a single search_memory tool
// backed by memory.HybridSearch against store/embedder.
func NewMemoryServer(store memory.Store, embedder memory.Embedder, cfg memory.SearchConfig) *server.MCPServer {
	s := server.NewMCPServer(
		"assistantd-memory",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	searchTool := mcp.NewTool("search_memory",
		mcp.WithDescription("Searches indexed workspace files by hybrid vector+keyword relevance and returns matching snippets with their source path and line range."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural-language or keyword search query"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of results to return; defaults to the configured limit"),
		),
	)

	s.AddTool(searchTool, searchHandler(store, embedder, cfg))
	return s
}

func searchHandler(store memory.Store, embedder memory.Embedder, cfg memory.SearchConfig) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		query, _ := args["query"].(string)

		turnCfg := cfg
		if n, ok := args["max_results"].(float64); ok && n > 0 {
			turnCfg.MaxResults = int(n)
		}

		results, err := memory.HybridSearch(store, embedder, query, turnCfg)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(results) == 0 {
			return mcp.NewToolResultText("no matching memory found"), nil
		}
		return mcp.NewToolResultText(formatResults(results)), nil
	}
}

func formatResults(results []domain.SearchResult) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%s:%d-%d (score %.3f)\n%s", r.Path, r.StartLine, r.EndLine, r.Score, r.Snippet)
	}
	return b.String()
}
