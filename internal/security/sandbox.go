package security

import (
	"fmt"
	"strings"
)

// HookDecision is the outcome of a PreToolUse gate. A zero value means
// allow; Blocked=true carries the refusal reason back to the turn executor
// as a tool-denied result.
type HookDecision struct {
	Blocked bool
	Reason  string
}

func allow() HookDecision            { return HookDecision{} }
func block(reason string) HookDecision { return HookDecision{Blocked: true, Reason: reason} }

// SandboxConfig is the security.* configuration consumed by the gates.
type SandboxConfig struct {
	AllowedCommands               map[string]bool
	CommandsNeedingExtraValidation map[string]bool
	WorkspaceDir                   string
	DataDir                        string
	AdditionalReadDirs             []string
	AdditionalWriteDirs            []string
}

// BashGate is the PreToolUse gate for the Bash tool.
func BashGate(command string, cfg SandboxConfig) HookDecision {
	if strings.TrimSpace(command) == "" {
		return allow()
	}
	if ContainsSudo(command) {
		return block("sudo is not permitted")
	}

	commands, err := ExtractCommands(command)
	if err != nil {
		return block("could not parse command")
	}

	for _, c := range commands {
		if !cfg.AllowedCommands[c] {
			return block(fmt.Sprintf("command %q is not in the allowed list", c))
		}
	}

	for _, segment := range splitSegments(command) {
		segCommands, err := ExtractCommands(segment)
		if err != nil || len(segCommands) == 0 {
			continue
		}
		name := segCommands[0]
		if !cfg.CommandsNeedingExtraValidation[name] {
			continue
		}
		var verr error
		switch name {
		case "rm":
			verr = ValidateRmCommand(segment)
		case "kill":
			verr = ValidateKillCommand(segment)
		}
		if verr != nil {
			return block(verr.Error())
		}
	}

	paths, err := ExtractFilePathsFromCommand(command)
	if err != nil {
		return block("could not parse command")
	}
	for _, p := range paths {
		res := ValidatePath(p, PathPolicy{
			WorkspaceDir:        cfg.WorkspaceDir,
			AdditionalReadDirs:  cfg.AdditionalReadDirs,
			AdditionalWriteDirs: cfg.AdditionalWriteDirs,
			Operation:           OpWrite,
		})
		if !res.Valid {
			return block(fmt.Sprintf("path %q is not allowed: %s", p, res.Reason))
		}
	}

	return allow()
}

// splitSegments splits a shell string into top-level command segments on
// ; && || | so each can be validated independently by name.
func splitSegments(s string) []string {
	var segments []string
	var cur strings.Builder
	inSingle, inDouble := false, false
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\'' && !inDouble:
			inSingle = !inSingle
			cur.WriteRune(r)
		case r == '"' && !inSingle:
			inDouble = !inDouble
			cur.WriteRune(r)
		case !inSingle && !inDouble && r == ';':
			segments = append(segments, cur.String())
			cur.Reset()
		case !inSingle && !inDouble && r == '|' && i+1 < len(runes) && runes[i+1] != '|':
			segments = append(segments, cur.String())
			cur.Reset()
		case !inSingle && !inDouble && (r == '&' || r == '|') && i+1 < len(runes) && runes[i+1] == r:
			segments = append(segments, cur.String())
			cur.Reset()
			i++
		default:
			cur.WriteRune(r)
		}
	}
	segments = append(segments, cur.String())
	return segments
}

// FileToolKind names the file tools covered by the File-tool gate.
type FileToolKind string

const (
	ToolRead  FileToolKind = "Read"
	ToolGlob  FileToolKind = "Glob"
	ToolGrep  FileToolKind = "Grep"
	ToolWrite FileToolKind = "Write"
	ToolEdit  FileToolKind = "Edit"
)

var fileToolOps = map[FileToolKind]Operation{
	ToolRead:  OpRead,
	ToolGlob:  OpRead,
	ToolGrep:  OpRead,
	ToolWrite: OpWrite,
	ToolEdit:  OpWrite,
}

// fileToolOptional marks tools whose path argument is optional — a
// missing value means "current directory" and passes.
var fileToolOptional = map[FileToolKind]bool{
	ToolGlob: true,
	ToolGrep: true,
}

// FileToolGate is the PreToolUse gate for file tools.
// path is the value of the tool's path argument (file_path for
// Read/Write/Edit, path for Glob/Grep); ok indicates whether the argument
// was present at all.
func FileToolGate(tool FileToolKind, path string, ok bool, cfg SandboxConfig) HookDecision {
	if !ok && fileToolOptional[tool] {
		return allow()
	}

	op, known := fileToolOps[tool]
	if !known {
		return block(fmt.Sprintf("unknown file tool %q", tool))
	}

	policy := PathPolicy{
		WorkspaceDir: cfg.WorkspaceDir,
		Operation:    op,
	}
	if op == OpRead {
		policy.AdditionalReadDirs = append(append(append([]string{}, cfg.AdditionalReadDirs...), cfg.AdditionalWriteDirs...), cfg.DataDir)
	} else {
		policy.AdditionalWriteDirs = cfg.AdditionalWriteDirs
	}

	res := ValidatePath(path, policy)
	if !res.Valid {
		return block(res.Reason)
	}
	return allow()
}
