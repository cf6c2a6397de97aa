package heartbeat

import (
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/assistantd/internal/domain"
)

// HeartbeatOK is the literal sentinel the agent replies with when a
// heartbeat turn finds nothing to do.
const HeartbeatOK = "HEARTBEAT_OK"

const standardPrompt = `This is a scheduled heartbeat check. Read HEARTBEAT.md in your workspace for ` +
	`anything you should be doing right now. The current time is %s. If there is nothing to do, reply with ` +
	`exactly "` + HeartbeatOK + `" and nothing else.`

// ResolveHeartbeatPrompt merges pending system events into the prompt sent
// for a heartbeat turn. Exec-type events take priority over cron-type
// events, which take priority over the standard heartbeat prompt (also
// used when events is empty).
func ResolveHeartbeatPrompt(events []domain.SystemEvent, now time.Time) string {
	var execTexts, cronTexts []string
	for _, e := range events {
		switch e.Type {
		case domain.EventExec:
			execTexts = append(execTexts, e.Text)
		case domain.EventCron:
			cronTexts = append(cronTexts, e.Text)
		}
	}

	if len(execTexts) > 0 {
		return "A background command you started has completed:\n" + strings.Join(execTexts, "\n")
	}
	if len(cronTexts) > 0 {
		return "A scheduled reminder is due:\n" + strings.Join(cronTexts, "\n")
	}
	return fmt.Sprintf(standardPrompt, now.Format(time.RFC1123))
}

// IsHeartbeatOk reports whether a reply is the literal heartbeat sentinel.
func IsHeartbeatOk(reply string) bool {
	return strings.TrimSpace(reply) == HeartbeatOK
}
