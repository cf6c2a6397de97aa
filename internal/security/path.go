// Package security implements the path validator, shell command classifier,
// and the PreToolUse sandbox gates that combine them.
package security

import (
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"syscall"
)

// Operation is the access mode a path is being validated for.
type Operation string

const (
	OpRead  Operation = "read"
	OpWrite Operation = "write"
)

// PathPolicy is the policy a path is checked against.
type PathPolicy struct {
	WorkspaceDir       string
	AdditionalReadDirs []string
	AdditionalWriteDirs []string
	Operation          Operation
}

// PathResult is the outcome of ValidatePath.
type PathResult struct {
	Valid        bool
	ResolvedPath string
	Reason       string
}

func blocked(reason string) PathResult { return PathResult{Valid: false, Reason: reason} }

// ValidatePath resolves and admits/denies an input path against policy,
// rejecting empty input, escapes outside the allowed roots, mutable
// symlink parents, and hardlinked targets.
func ValidatePath(input string, policy PathPolicy) PathResult {
	if strings.TrimSpace(input) == "" {
		return blocked("path is empty")
	}
	if strings.ContainsRune(input, 0) {
		return blocked("path contains a null byte")
	}

	expanded, err := expandHome(input)
	if err != nil {
		return blocked(fmt.Sprintf("cannot expand home directory: %v", err))
	}

	var candidate string
	if filepath.IsAbs(expanded) {
		candidate = filepath.Clean(expanded)
	} else {
		candidate = filepath.Clean(filepath.Join(policy.WorkspaceDir, expanded))
	}

	resolved, err := resolveSymlinks(candidate)
	if err != nil {
		slog.Warn("security.path_resolve_failed", "path", input, "error", err)
		return blocked("cannot resolve path")
	}

	if hasMutableSymlinkParent(resolved) {
		slog.Warn("security.mutable_symlink_parent", "path", input, "resolved", resolved)
		return blocked("path contains a mutable symlink component")
	}
	if err := checkHardlink(resolved); err != nil {
		return blocked(err.Error())
	}

	wsReal, err := resolveSymlinks(mustAbs(policy.WorkspaceDir))
	if err != nil {
		wsReal = mustAbs(policy.WorkspaceDir)
	}

	if isWithin(resolved, wsReal) {
		return PathResult{Valid: true, ResolvedPath: resolved}
	}

	allowDirs := policy.AdditionalWriteDirs
	if policy.Operation == OpRead {
		allowDirs = append(append([]string{}, policy.AdditionalReadDirs...), policy.AdditionalWriteDirs...)
	}
	for _, dir := range allowDirs {
		dirReal, err := resolveSymlinks(mustAbs(dir))
		if err != nil {
			dirReal = mustAbs(dir)
		}
		if isWithin(resolved, dirReal) {
			return PathResult{Valid: true, ResolvedPath: resolved}
		}
	}

	slog.Warn("security.path_escape", "path", input, "resolved", resolved, "workspace", wsReal)
	return blocked("path outside allowed directories")
}

func mustAbs(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~"+string(filepath.Separator)) {
		return p, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	if p == "~" {
		return u.HomeDir, nil
	}
	return filepath.Join(u.HomeDir, p[2:]), nil
}

// resolveSymlinks resolves symlinks for an existing path, and for a
// non-existent path, resolves through its deepest existing ancestor —
// including through a dangling symlink's target, so that a broken-symlink
// escape attempt is still caught.
func resolveSymlinks(absPath string) (string, error) {
	if real, err := filepath.EvalSymlinks(absPath); err == nil {
		return real, nil
	} else if !os.IsNotExist(err) {
		return "", err
	}

	if linfo, lerr := os.Lstat(absPath); lerr == nil && linfo.Mode()&os.ModeSymlink != 0 {
		target, readErr := os.Readlink(absPath)
		if readErr != nil {
			return "", fmt.Errorf("cannot resolve symlink: %w", readErr)
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(absPath), target)
		}
		return resolveThroughExistingAncestors(filepath.Clean(target))
	}

	return resolveThroughExistingAncestors(absPath)
}

// resolveThroughExistingAncestors canonicalizes the deepest existing
// ancestor of path and rebuilds the remaining (non-existent) components
// on top of it.
func resolveThroughExistingAncestors(path string) (string, error) {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real, nil
	}

	current := path
	var tail []string
	for {
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent

		if realParent, err := filepath.EvalSymlinks(current); err == nil {
			result := realParent
			for _, comp := range tail {
				result = filepath.Join(result, comp)
			}
			return result, nil
		}
	}
	return filepath.Clean(path), nil
}

// isWithin reports whether child is inside or equal to dir, both assumed
// absolute and symlink-resolved. Comparison is separator-terminated so
// "…/pa-evil" never matches directory "…/pa".
func isWithin(child, dir string) bool {
	if child == dir {
		return true
	}
	return strings.HasPrefix(child, dir+string(filepath.Separator))
}

// hasMutableSymlinkParent reports whether any path component is a symlink
// whose parent directory is writable by the current process — a TOCTOU
// rebind risk between validation and use.
func hasMutableSymlinkParent(path string) bool {
	clean := filepath.Clean(path)
	components := strings.Split(clean, string(filepath.Separator))
	current := string(filepath.Separator)
	for _, comp := range components {
		if comp == "" {
			continue
		}
		current = filepath.Join(current, comp)
		info, err := os.Lstat(current)
		if err != nil {
			break
		}
		if info.Mode()&os.ModeSymlink != 0 {
			parentDir := filepath.Dir(current)
			if syscall.Access(parentDir, 0x2) == nil {
				return true
			}
		}
	}
	return false
}

// checkHardlink rejects regular files with nlink > 1.
func checkHardlink(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return nil // non-existent: fails later at actual use
	}
	if info.IsDir() {
		return nil
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if stat.Nlink > 1 {
			slog.Warn("security.hardlink_rejected", "path", path, "nlink", stat.Nlink)
			return fmt.Errorf("hardlinked file not allowed")
		}
	}
	return nil
}
