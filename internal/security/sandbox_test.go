package security

import (
	"strings"
	"testing"
)

func testConfig(t *testing.T) SandboxConfig {
	return SandboxConfig{
		AllowedCommands: map[string]bool{
			"echo": true, "grep": true, "ls": true, "cat": true,
		},
		CommandsNeedingExtraValidation: map[string]bool{"rm": true, "kill": true},
		WorkspaceDir:                   t.TempDir(),
	}
}

// kill -9 1 must be blocked with a reason mentioning PID 1.
func TestBashGate_KillPID1Blocked(t *testing.T) {
	cfg := testConfig(t)
	cfg.AllowedCommands["kill"] = true

	decision := BashGate("kill -9 1", cfg)
	if !decision.Blocked {
		t.Fatal("expected kill -9 1 to be blocked")
	}
	if !strings.Contains(decision.Reason, "PID 1") {
		t.Errorf("reason %q does not mention PID 1", decision.Reason)
	}
}

// A pipe of allowed commands passes; a disallowed command in the chain blocks.
func TestBashGate_PipeAllowed(t *testing.T) {
	cfg := testConfig(t)
	decision := BashGate("echo hello | grep hello", cfg)
	if decision.Blocked {
		t.Fatalf("expected allowlisted pipe to pass, got block: %s", decision.Reason)
	}
}

func TestBashGate_DisallowedCommandBlocked(t *testing.T) {
	cfg := testConfig(t)
	decision := BashGate("ls && reboot", cfg)
	if !decision.Blocked {
		t.Fatal("expected 'reboot' (not allowlisted) to block the whole chain")
	}
}

func TestBashGate_SudoBlocked(t *testing.T) {
	cfg := testConfig(t)
	decision := BashGate("sudo ls", cfg)
	if !decision.Blocked {
		t.Fatal("expected sudo to be blocked")
	}
}

func TestBashGate_EmptyCommandPasses(t *testing.T) {
	cfg := testConfig(t)
	if decision := BashGate("   ", cfg); decision.Blocked {
		t.Fatal("expected empty/whitespace command to pass")
	}
}

func TestFileToolGate_MissingOptionalPathPasses(t *testing.T) {
	cfg := testConfig(t)
	decision := FileToolGate(ToolGlob, "", false, cfg)
	if decision.Blocked {
		t.Fatal("expected missing optional path to pass")
	}
}

func TestFileToolGate_WriteOutsideWorkspaceBlocked(t *testing.T) {
	cfg := testConfig(t)
	decision := FileToolGate(ToolWrite, "/etc/passwd", true, cfg)
	if !decision.Blocked {
		t.Fatal("expected write outside workspace to be blocked")
	}
}
