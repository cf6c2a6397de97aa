package heartbeat

import (
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/assistantd/internal/domain"
)

func TestResolveHeartbeatPrompt_EmptyEventsGivesStandardPrompt(t *testing.T) {
	prompt := ResolveHeartbeatPrompt(nil, time.Now())
	if !strings.Contains(prompt, "HEARTBEAT.md") {
		t.Errorf("expected standard prompt to reference HEARTBEAT.md, got %q", prompt)
	}
	if !strings.Contains(prompt, HeartbeatOK) {
		t.Errorf("expected standard prompt to instruct the %s sentinel, got %q", HeartbeatOK, prompt)
	}
}

func TestResolveHeartbeatPrompt_ExecWinsOverCron(t *testing.T) {
	events := []domain.SystemEvent{
		{Type: domain.EventCron, Text: "remember to stretch"},
		{Type: domain.EventExec, Text: "build finished"},
	}
	prompt := ResolveHeartbeatPrompt(events, time.Now())
	if !strings.Contains(prompt, "background command") {
		t.Errorf("expected exec-priority prompt, got %q", prompt)
	}
	if !strings.Contains(prompt, "build finished") {
		t.Errorf("expected exec text included, got %q", prompt)
	}
	if strings.Contains(prompt, "stretch") {
		t.Errorf("cron text must not leak when exec events are present, got %q", prompt)
	}
}

func TestResolveHeartbeatPrompt_CronWinsOverStandard(t *testing.T) {
	events := []domain.SystemEvent{{Type: domain.EventCron, Text: "remember to stretch"}}
	prompt := ResolveHeartbeatPrompt(events, time.Now())
	if !strings.Contains(prompt, "scheduled reminder") {
		t.Errorf("expected cron-priority prompt, got %q", prompt)
	}
	if !strings.Contains(prompt, "stretch") {
		t.Errorf("expected cron text included, got %q", prompt)
	}
}

func TestIsHeartbeatOk(t *testing.T) {
	if !IsHeartbeatOk("HEARTBEAT_OK") || !IsHeartbeatOk("  HEARTBEAT_OK  \n") {
		t.Error("expected sentinel to match with surrounding whitespace")
	}
	if IsHeartbeatOk("HEARTBEAT_OK, all good") {
		t.Error("expected non-exact match to fail")
	}
}
