package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/assistantd/internal/config"
	"github.com/nextlevelbuilder/assistantd/internal/cron"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("assistantd doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (using defaults, file not found)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Workspace & data:")
	checkDir("Workspace", cfg.Security.Workspace)
	checkDir("Data dir", cfg.Security.DataDir)
	checkFile("Memory store", filepath.Join(cfg.Security.DataDir, "memory.db"))
	checkFile("Cron store", cron.StorePath(cfg.Security.DataDir))

	fmt.Println()
	fmt.Println("  Transports:")
	checkTransport("Telegram", cfg.Telegram.Enabled, cfg.Telegram.Token != "")
	checkTransport("Discord", cfg.Discord.Enabled, cfg.Discord.Token != "")
	checkTransport("Local WS", cfg.LocalWS.Enabled, true)

	fmt.Println()
	fmt.Println("  Heartbeat:")
	if cfg.Heartbeat.Enabled {
		fmt.Printf("    %-20s every %d minutes, active hours %q, delivers to %q\n",
			"Enabled:", cfg.Heartbeat.IntervalMinutes, cfg.Heartbeat.ActiveHours, cfg.Heartbeat.DeliverTo)
	} else {
		fmt.Println("    Disabled")
	}

	fmt.Println()
	fmt.Println("  Security sandbox:")
	fmt.Printf("    %-20s %d commands\n", "Allowed commands:", len(cfg.Security.AllowedCommands))
	fmt.Printf("    %-20s %d directories\n", "Extra read dirs:", len(cfg.Security.AdditionalReadDirs))
	fmt.Printf("    %-20s %d directories\n", "Extra write dirs:", len(cfg.Security.AdditionalWriteDirs))

	fmt.Println()
	fmt.Println("  External tools:")
	checkBinary("claude")
	checkBinary("git")

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkDir(name, path string) {
	if _, err := os.Stat(path); err != nil {
		fmt.Printf("    %-20s %s (NOT FOUND)\n", name+":", path)
	} else {
		fmt.Printf("    %-20s %s (OK)\n", name+":", path)
	}
}

func checkFile(name, path string) {
	if _, err := os.Stat(path); err != nil {
		fmt.Printf("    %-20s %s (not created yet)\n", name+":", path)
	} else {
		fmt.Printf("    %-20s %s (OK)\n", name+":", path)
	}
}

func checkTransport(name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Printf("    %-20s %s\n", name+":", status)
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-20s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-20s %s\n", name+":", path)
	}
}
