package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/assistantd/internal/dispatch"
)

// Default returns a Config with sensible defaults; workspace/dataDir keep
// their leading ~, which Load expands to the home directory.
func Default() *Config {
	return &Config{
		Security: SecurityConfig{
			AllowedCommands: []string{
				"ls", "cat", "grep", "find", "echo", "pwd", "head", "tail",
				"wc", "sort", "uniq", "diff", "mkdir", "mv", "cp", "rm", "touch",
			},
			CommandsNeedingExtraValidation: []string{"rm"},
			Workspace:                      "~/.assistantd/workspace",
			DataDir:                        "~/.assistantd/data",
		},
		Gateway: GatewayConfig{
			MaxQueueSize:               100,
			ProcessingUpdateIntervalMs: 2000,
		},
		Session: SessionConfig{
			MaxHistoryMessages: 50,
			CompactionEnabled:  true,
		},
		Heartbeat: HeartbeatConfig{
			Enabled:         false,
			IntervalMinutes: 15,
			ActiveHours:     "",
			DeliverTo:       "last",
		},
		Memory: MemoryConfig{
			HybridWeights: SearchWeights{Vector: 0.6, Keyword: 0.4},
			MinScore:      0.1,
			MaxResults:    10,
			ChunkTokens:   400,
			ChunkOverlap:  50,
		},
	}
}

// Load reads config from a JSON5 file, falling back to Default (plus env
// overrides) when the file does not exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			cfg.expandPaths()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	cfg.expandPaths()
	return cfg, nil
}

// applyEnvOverrides overlays secret/env-only values onto the config. Env
// vars take precedence over file values for anything that is also a
// secret (bot tokens are never read from the config file).
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("ASSISTANTD_TELEGRAM_TOKEN", &c.Telegram.Token)
	envStr("ASSISTANTD_DISCORD_TOKEN", &c.Discord.Token)

	if c.Telegram.Token != "" {
		c.Telegram.Enabled = true
	}
	if c.Discord.Token != "" {
		c.Discord.Enabled = true
	}

	envStr("ASSISTANTD_WORKSPACE", &c.Security.Workspace)
	envStr("ASSISTANTD_DATA_DIR", &c.Security.DataDir)

	envStr("ASSISTANTD_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	if v := os.Getenv("ASSISTANTD_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
}

// expandPaths resolves a leading ~ in the security workspace/dataDir roots
// to the user's home directory.
func (c *Config) expandPaths() {
	c.Security.Workspace = ExpandHome(c.Security.Workspace)
	c.Security.DataDir = ExpandHome(c.Security.DataDir)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if len(path) > 1 && path[1] == '/' {
		return filepath.Join(home, path[2:])
	}
	return home
}

// Validate checks cross-cutting invariants that can't be expressed as
// field defaults: heartbeat.deliverTo must resolve against the set of
// transports actually registered with router.
func (c *Config) Validate(router *dispatch.Router) error {
	if c.Heartbeat.Enabled {
		if err := dispatch.ValidateDeliverTo(router, c.Heartbeat.DeliverTo); err != nil {
			return err
		}
	}
	if c.Security.Workspace == "" {
		return fmt.Errorf("config: security.workspace must not be empty")
	}
	if c.Security.DataDir == "" {
		return fmt.Errorf("config: security.dataDir must not be empty")
	}
	if c.Gateway.MaxQueueSize <= 0 {
		return fmt.Errorf("config: gateway.maxQueueSize must be positive")
	}
	return nil
}
