package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/assistantd/internal/agent"
	"github.com/nextlevelbuilder/assistantd/internal/agent/cliexec"
	"github.com/nextlevelbuilder/assistantd/internal/bootstrap"
	"github.com/nextlevelbuilder/assistantd/internal/config"
	"github.com/nextlevelbuilder/assistantd/internal/cron"
	"github.com/nextlevelbuilder/assistantd/internal/dispatch"
	"github.com/nextlevelbuilder/assistantd/internal/domain"
	"github.com/nextlevelbuilder/assistantd/internal/execreg"
	"github.com/nextlevelbuilder/assistantd/internal/heartbeat"
	"github.com/nextlevelbuilder/assistantd/internal/memory"
	"github.com/nextlevelbuilder/assistantd/internal/memory/hashembed"
	"github.com/nextlevelbuilder/assistantd/internal/security"
	"github.com/nextlevelbuilder/assistantd/internal/tracing"
	"github.com/nextlevelbuilder/assistantd/internal/transport/discord"
	"github.com/nextlevelbuilder/assistantd/internal/transport/localws"
	"github.com/nextlevelbuilder/assistantd/internal/transport/telegram"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: transports, dispatch queue, cron, and heartbeat",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func runServe() {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.Security.Workspace, 0o755); err != nil {
		slog.Error("failed to create workspace", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.Security.DataDir, 0o755); err != nil {
		slog.Error("failed to create data dir", "error", err)
		os.Exit(1)
	}

	seeded, err := bootstrap.EnsureWorkspaceFiles(cfg.Security.Workspace, cfg.Security.DataDir)
	if err != nil {
		slog.Warn("bootstrap template seeding failed", "error", err)
	} else if len(seeded) > 0 {
		slog.Info("seeded workspace templates", "files", seeded)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.InitProvider(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("tracing disabled: failed to init exporter", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("tracing shutdown error", "error", err)
		}
	}()

	router := dispatch.NewRouter()

	memStore, memEmbedder, indexer := setupMemory(cfg)
	if memStore != nil {
		defer memStore.Close()
	}

	eventBuffer := heartbeat.NewEventBuffer()
	execRegistry := execreg.NewRegistry(func(sessionID string, session domain.ProcessSession) {
		eventBuffer.Enqueue(heartbeat.NewEvent("exec", fmt.Sprintf("background command %q (session %s) finished", session.Command, sessionID)))
	})

	var mcpServers []string
	if memStore != nil {
		if path, err := writeMemoryMCPConfig(cfg.Security.DataDir, cfgPath); err != nil {
			slog.Warn("memory search tool disabled: failed to write mcp config", "error", err)
		} else {
			mcpServers = []string{path}
		}
	}

	executor := cliexec.New(cliexec.Config{Binary: os.Getenv("ASSISTANTD_AGENT_CLI")})
	runner := agent.NewRunner(
		executor,
		agent.NewSessionCache(),
		cfg.Security.Workspace,
		cfg.Security.DataDir,
		func() string { return loadMemoryContent(cfg.Security.Workspace) },
		mcpServers,
		nil,
	)
	runner.SetSandboxConfig(security.SandboxConfig{
		AllowedCommands:                toSet(cfg.Security.AllowedCommands),
		CommandsNeedingExtraValidation: toSet(cfg.Security.CommandsNeedingExtraValidation),
		WorkspaceDir:                   cfg.Security.Workspace,
		DataDir:                        cfg.Security.DataDir,
		AdditionalReadDirs:             cfg.Security.AdditionalReadDirs,
		AdditionalWriteDirs:            cfg.Security.AdditionalWriteDirs,
	})
	if cfg.Session.CompactionEnabled {
		runner.SetCompactionThreshold(cfg.Session.MaxHistoryMessages)
	}
	runner.SetExecRegistry(execRegistry)

	queue := dispatch.NewQueue(dispatch.Config{
		MaxQueueSize:               cfg.Gateway.MaxQueueSize,
		ProcessingUpdateIntervalMs: cfg.Gateway.ProcessingUpdateIntervalMs,
		HeartbeatDeliverTo:         cfg.Heartbeat.DeliverTo,
	}, runner, router)

	registerTransports(cfg, router, queue)

	if err := cfg.Validate(router); err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}

	cronStore := cron.NewStore(cfg.Security.DataDir)
	cronTimer := cron.NewTimer(cronStore, func(job domain.CronJob) {
		queue.Enqueue(domain.AdapterMessage{
			Source:   domain.SourceCron,
			SourceID: job.ID,
			Text:     job.Payload.Text,
		})
	})
	if err := cronTimer.Start(); err != nil {
		slog.Warn("cron timer failed to start", "error", err)
	}
	defer cronTimer.Stop()

	var heartbeatSched *heartbeat.Scheduler
	if cfg.Heartbeat.Enabled {
		heartbeatSched, err = heartbeat.NewScheduler(heartbeat.Config{
			Enabled:         cfg.Heartbeat.Enabled,
			IntervalMinutes: cfg.Heartbeat.IntervalMinutes,
			ActiveHours:     cfg.Heartbeat.ActiveHours,
			DeliverTo:       cfg.Heartbeat.DeliverTo,
		}, func() {
			events := eventBuffer.Drain()
			prompt := heartbeat.ResolveHeartbeatPrompt(events, time.Now())
			queue.Enqueue(domain.AdapterMessage{
				Source:   domain.SourceHeartbeat,
				SourceID: "heartbeat",
				Text:     prompt,
			})
		})
		if err != nil {
			slog.Warn("heartbeat scheduler disabled: invalid config", "error", err)
		} else {
			heartbeatSched.Start()
			defer heartbeatSched.Stop()
		}
	}

	var watcherStop chan struct{}
	if indexer != nil {
		watcherStop = make(chan struct{})
		go func() {
			if err := memory.WatchWorkspace(cfg.Security.Workspace, indexer, watcherStop); err != nil {
				slog.Warn("memory workspace watcher stopped", "error", err)
			}
		}()
		go runMemorySyncLoop(ctx, cfg.Security.Workspace, indexer)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		if watcherStop != nil {
			close(watcherStop)
		}
		queue.Stop()
		cancel()
	}()

	slog.Info("assistantd starting",
		"version", Version,
		"workspace", cfg.Security.Workspace,
		"memory", memEmbedder != nil,
		"heartbeat", cfg.Heartbeat.Enabled,
	)

	queue.Run(ctx)
	slog.Info("assistantd stopped")
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

func registerTransports(cfg *config.Config, router *dispatch.Router, queue *dispatch.Queue) {
	onText := func(source string) func(sourceID, text, threadID string) {
		return func(sourceID, text, threadID string) {
			result := queue.Enqueue(domain.AdapterMessage{
				Source:   source,
				SourceID: sourceID,
				Text:     text,
				Metadata: map[string]any{"threadId": threadID},
			})
			if !result.Accepted {
				slog.Warn("dispatch: message dropped", "source", source, "reason", result.Reason)
			}
		}
	}

	if cfg.Telegram.Enabled {
		t, err := telegram.New(telegram.Config{
			Token:     cfg.Telegram.Token,
			Proxy:     cfg.Telegram.Proxy,
			AllowFrom: cfg.Telegram.AllowFrom,
		}, onText("telegram"))
		if err != nil {
			slog.Error("telegram transport init failed", "error", err)
		} else {
			router.Register(t)
		}
	}

	if cfg.Discord.Enabled {
		d, err := discord.New(discord.Config{
			Token:     cfg.Discord.Token,
			AllowFrom: cfg.Discord.AllowFrom,
		}, onText("discord"))
		if err != nil {
			slog.Error("discord transport init failed", "error", err)
		} else {
			router.Register(d)
		}
	}

	if cfg.LocalWS.Enabled {
		addr := cfg.LocalWS.Addr
		if addr == "" {
			addr = ":8765"
		}
		l := localws.New(localws.Config{
			Addr:         addr,
			AllowOrigins: cfg.LocalWS.AllowOrigins,
		}, onText("local"))
		router.Register(l)
	}

	startCtx := context.Background()
	for _, name := range []string{"telegram", "discord", "local"} {
		t, ok := router.Get(name)
		if !ok {
			continue
		}
		if err := t.Start(startCtx); err != nil {
			slog.Error("transport failed to start", "transport", name, "error", err)
		} else {
			slog.Info("transport started", "transport", name)
		}
	}
}

// mcpConfigFile is the shape the agent CLI's --mcp-config flag expects: a
// map of server name to stdio launch command.
type mcpConfigFile struct {
	MCPServers map[string]mcpServerEntry `json:"mcpServers"`
}

type mcpServerEntry struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// writeMemoryMCPConfig generates the --mcp-config file that points the agent
// CLI at this same binary's "mcp-search-memory" subcommand, giving the
// model a search_memory tool backed by the already-populated memory store.
func writeMemoryMCPConfig(dataDir, cfgPath string) (string, error) {
	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable path: %w", err)
	}

	doc := mcpConfigFile{MCPServers: map[string]mcpServerEntry{
		"memory": {
			Command: self,
			Args:    []string{mcpSearchMemoryCommand, "--config", cfgPath},
		},
	}}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal mcp config: %w", err)
	}

	path := filepath.Join(dataDir, "mcp-memory.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write mcp config: %w", err)
	}
	return path, nil
}

func setupMemory(cfg *config.Config) (*memory.SQLiteStore, memory.Embedder, *memory.Indexer) {
	dbPath := filepath.Join(cfg.Security.DataDir, "memory.db")
	store, err := memory.OpenSQLiteStore(dbPath)
	if err != nil {
		slog.Warn("memory store disabled: failed to open sqlite store", "error", err)
		return nil, nil, nil
	}
	embedder := hashembed.New(0)
	indexer := memory.NewIndexer(store, embedder, cfg.Memory.ChunkTokens, cfg.Memory.ChunkOverlap)
	return store, embedder, indexer
}

func runMemorySyncLoop(ctx context.Context, workspaceDir string, indexer *memory.Indexer) {
	indexer.MarkDirty()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			paths, err := memory.WalkWorkspaceFiles(workspaceDir)
			if err != nil {
				slog.Warn("memory: failed to walk workspace", "error", err)
				continue
			}
			if err := indexer.SyncIfDirty(paths); err != nil {
				slog.Warn("memory: sync failed", "error", err)
			}
		}
	}
}

func loadMemoryContent(workspaceDir string) string {
	var out string
	for _, name := range []string{bootstrap.AgentsFile, bootstrap.SoulFile, bootstrap.UserFile, bootstrap.MemoryFile} {
		data, err := os.ReadFile(filepath.Join(workspaceDir, name))
		if err != nil {
			continue
		}
		out += fmt.Sprintf("# %s\n\n%s\n\n", name, data)
	}
	return out
}
