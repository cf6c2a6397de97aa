package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/nextlevelbuilder/assistantd/internal/config"
	"github.com/nextlevelbuilder/assistantd/internal/mcp"
	"github.com/nextlevelbuilder/assistantd/internal/memory"
	"github.com/nextlevelbuilder/assistantd/internal/memory/hashembed"
)

// mcpSearchMemoryCommand is the name serve.go writes into the generated
// --mcp-config file; it must match Use below.
const mcpSearchMemoryCommand = "mcp-search-memory"

func mcpSearchMemoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:    mcpSearchMemoryCommand,
		Short:  "Run the hybrid-search memory MCP server over stdio (invoked by the agent CLI, not by hand)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("mcp-search-memory: load config: %w", err)
			}

			dbPath := filepath.Join(cfg.Security.DataDir, "memory.db")
			store, err := memory.OpenSQLiteStore(dbPath)
			if err != nil {
				return fmt.Errorf("mcp-search-memory: open store: %w", err)
			}
			defer store.Close()

			embedder := hashembed.New(0)
			searchCfg := memory.SearchConfig{
				VectorWeight:  cfg.Memory.HybridWeights.Vector,
				KeywordWeight: cfg.Memory.HybridWeights.Keyword,
				MinScore:      cfg.Memory.MinScore,
				MaxResults:    cfg.Memory.MaxResults,
			}

			s := mcp.NewMemoryServer(store, embedder, searchCfg)
			return mcpserver.ServeStdio(s)
		},
	}
}
