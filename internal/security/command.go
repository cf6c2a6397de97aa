package security

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrMalformedCommand is returned when the tokenizer cannot make sense of
// the input (e.g. unclosed quotes); callers must fail-safe (block).
var ErrMalformedCommand = fmt.Errorf("malformed shell command")

// shellKeywords are skipped when looking for a command name.
var shellKeywords = map[string]bool{
	"if": true, "then": true, "else": true, "elif": true, "fi": true,
	"for": true, "select": true, "do": true, "done": true,
	"while": true, "until": true, "case": true, "esac": true, "in": true,
	"function": true, "!": true, "{": true, "}": true,
}

var assignmentPattern = func(tok string) bool {
	eq := strings.IndexByte(tok, '=')
	if eq <= 0 {
		return false
	}
	name := tok[:eq]
	for i, r := range name {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (i > 0 && r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}

// tokenize splits a shell command string into words and structural
// separators, honoring single/double quotes, $(...) and `...`
// substitutions (recursed into, nested), and the operators | ; && ||.
// It does not perform any shell semantics beyond this lexical split.
func tokenize(s string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	runes := []rune(s)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case r == '\'':
			j := strings.IndexRune(string(runes[i+1:]), '\'')
			if j < 0 {
				return nil, ErrMalformedCommand
			}
			cur.WriteString(string(runes[i+1 : i+1+j]))
			i = i + 1 + j + 1
		case r == '"':
			end, err := findUnescaped(runes, i+1, '"')
			if err != nil {
				return nil, err
			}
			cur.WriteString(string(runes[i+1 : end]))
			i = end + 1
		case r == '$' && i+1 < len(runes) && runes[i+1] == '(':
			end, err := matchParen(runes, i+2)
			if err != nil {
				return nil, err
			}
			inner := string(runes[i+2 : end])
			cur.WriteString(inner)
			i = end + 1
		case r == '`':
			end, err := findUnescaped(runes, i+1, '`')
			if err != nil {
				return nil, err
			}
			cur.WriteString(string(runes[i+1 : end]))
			i = end + 1
		case r == '|' && i+1 < len(runes) && runes[i+1] == '|':
			flush()
			tokens = append(tokens, "||")
			i += 2
		case r == '&' && i+1 < len(runes) && runes[i+1] == '&':
			flush()
			tokens = append(tokens, "&&")
			i += 2
		case r == '|' || r == ';':
			flush()
			tokens = append(tokens, string(r))
			i++
		case r == ' ' || r == '\t' || r == '\n':
			flush()
			i++
		case r == '(' || r == ')':
			flush()
			i++
		default:
			cur.WriteRune(r)
			i++
		}
	}
	flush()
	return tokens, nil
}

func findUnescaped(runes []rune, start int, target rune) (int, error) {
	for i := start; i < len(runes); i++ {
		if runes[i] == '\\' && i+1 < len(runes) {
			i++
			continue
		}
		if runes[i] == target {
			return i, nil
		}
	}
	return 0, ErrMalformedCommand
}

func matchParen(runes []rune, start int) (int, error) {
	depth := 1
	for i := start; i < len(runes); i++ {
		switch runes[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, ErrMalformedCommand
}

var sudoWordPattern = regexp.MustCompile(`\bsudo\b`)

// ContainsSudo reports whether the raw command string mentions sudo as a
// standalone word anywhere (used by the Bash gate before classification).
func ContainsSudo(s string) bool {
	return sudoWordPattern.MatchString(s)
}

// extractCommands returns the basenames of commands invoked by s,
// considering pipes, sequencers, substitutions, variable-assignment
// prefixes, and shell keywords (skipped). Malformed input returns
// ErrMalformedCommand.
func ExtractCommands(s string) ([]string, error) {
	tokens, err := tokenize(s)
	if err != nil {
		return nil, err
	}

	var commands []string
	atCommandStart := true
	for _, tok := range tokens {
		switch tok {
		case "|", ";", "&&", "||":
			atCommandStart = true
			continue
		}
		if !atCommandStart {
			continue
		}
		if shellKeywords[tok] {
			continue
		}
		if assignmentPattern(tok) {
			continue
		}
		commands = append(commands, baseCommand(tok))
		atCommandStart = false
	}
	return commands, nil
}

func baseCommand(tok string) string {
	if i := strings.LastIndexByte(tok, '/'); i >= 0 {
		return tok[i+1:]
	}
	return tok
}

var fileMutatingCommands = map[string]bool{
	"cp": true, "mv": true, "rm": true, "rmdir": true, "mkdir": true,
	"chmod": true, "touch": true, "ln": true, "tee": true,
}

var outputFlagCommands = map[string]map[string]bool{
	"curl":  {"-o": true, "--output": true},
	"wget":  {"-O": true, "--output-document": true},
	"unzip": {"-d": true},
}

// ExtractFilePathsFromCommand returns paths mentioned by file-mutating
// commands, output-flag commands, and redirection operands.
func ExtractFilePathsFromCommand(s string) ([]string, error) {
	tokens, err := tokenize(s)
	if err != nil {
		return nil, err
	}

	var paths []string
	atCommandStart := true
	var currentCmd string
	var wantOutputFlagValue bool

	for idx := 0; idx < len(tokens); idx++ {
		tok := tokens[idx]
		switch tok {
		case "|", ";", "&&", "||":
			atCommandStart = true
			currentCmd = ""
			wantOutputFlagValue = false
			continue
		}

		if atCommandStart {
			if shellKeywords[tok] || assignmentPattern(tok) {
				continue
			}
			currentCmd = baseCommand(tok)
			atCommandStart = false
			continue
		}

		if wantOutputFlagValue {
			paths = append(paths, tok)
			wantOutputFlagValue = false
			continue
		}

		if flags, ok := outputFlagCommands[currentCmd]; ok && flags[tok] {
			wantOutputFlagValue = true
			continue
		}

		if fileMutatingCommands[currentCmd] && !strings.HasPrefix(tok, "-") {
			paths = append(paths, tok)
		}
	}

	paths = append(paths, extractRedirectionPaths(s)...)
	return paths, nil
}

// extractRedirectionPaths scans the raw string for > >> 2> &> and returns
// the operand word that follows each occurrence.
func extractRedirectionPaths(s string) []string {
	var paths []string
	operators := []string{"&>", "2>", ">>", ">"}
	i := 0
	for i < len(s) {
		matched := ""
		for _, op := range operators {
			if strings.HasPrefix(s[i:], op) {
				matched = op
				break
			}
		}
		if matched == "" {
			i++
			continue
		}
		rest := strings.TrimLeft(s[i+len(matched):], " \t")
		var word strings.Builder
		for _, r := range rest {
			if r == ' ' || r == '\t' || r == '\n' || r == '|' || r == ';' {
				break
			}
			word.WriteRune(r)
		}
		if word.Len() > 0 {
			paths = append(paths, word.String())
		}
		i += len(matched)
	}
	return paths
}

// dangerousRmTargets is the fixed deny list for rm targets.
var dangerousRmTargets = map[string]bool{
	"/": true, "/*": true, "../*": true, ".*": true,
	"/etc": true, "/usr": true, "/home": true, "/bin": true,
	"/sbin": true, "/var": true, "/root": true, "/boot": true,
	"~": true, "~/*": true,
}

var recursiveRmFlags = map[string]bool{"-r": true, "-R": true, "--recursive": true}

// ValidateRmCommand rejects dangerous rm invocations.
func ValidateRmCommand(s string) error {
	tokens, err := tokenize(s)
	if err != nil {
		return ErrMalformedCommand
	}
	if len(tokens) == 0 {
		return fmt.Errorf("rm: no target")
	}

	var targets []string
	recursive := false
	for _, tok := range tokens[1:] {
		if tok == "rm" {
			continue
		}
		if recursiveRmFlags[tok] {
			recursive = true
			continue
		}
		if strings.HasPrefix(tok, "-") && tok != "-" {
			if strings.Contains(tok, "r") || strings.Contains(tok, "R") {
				recursive = true
			}
			continue
		}
		targets = append(targets, tok)
	}

	if len(targets) == 0 {
		return fmt.Errorf("rm: no target specified")
	}

	for _, t := range targets {
		if dangerousRmTargets[t] {
			return fmt.Errorf("rm: refusing dangerous target %q", t)
		}
		if recursive && strings.ContainsAny(t, "*?[") {
			return fmt.Errorf("rm: refusing recursive wildcard target %q", t)
		}
		if recursive && isHiddenGlob(t) {
			return fmt.Errorf("rm: refusing recursive hidden-file glob %q", t)
		}
	}
	return nil
}

func isHiddenGlob(t string) bool {
	base := t
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	return strings.HasPrefix(base, ".") && strings.ContainsAny(base, "*?[")
}

// ValidateKillCommand rejects dangerous kill invocations.
func ValidateKillCommand(s string) error {
	tokens, err := tokenize(s)
	if err != nil {
		return ErrMalformedCommand
	}

	var pids []string
	pastOptions := false
	for _, tok := range tokens[1:] {
		if tok == "kill" {
			continue
		}
		if tok == "-l" || tok == "--list" {
			return nil
		}
		if tok == "--" {
			pastOptions = true
			continue
		}
		if !pastOptions && strings.HasPrefix(tok, "-") {
			// signal flag: -9, -TERM, -s (value follows separately, tolerated)
			continue
		}
		pids = append(pids, tok)
	}

	if len(pids) == 0 {
		return fmt.Errorf("kill: no PID specified")
	}
	for _, p := range pids {
		n, err := strconv.Atoi(p)
		if err != nil {
			continue // not a plain PID (e.g. "SIG" value to -s), tolerated
		}
		if n == 1 {
			return fmt.Errorf("kill: refusing to signal PID 1")
		}
		if n < 0 {
			return fmt.Errorf("kill: refusing to signal process group %d", n)
		}
		if n < 100 {
			return fmt.Errorf("kill: refusing to signal low-numbered PID %d", n)
		}
	}
	return nil
}
