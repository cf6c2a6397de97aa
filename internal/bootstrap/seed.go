// Package bootstrap seeds a fresh workspace with its default markdown
// identity/memory files and the directory layout the persistence layer
// expects to find.
package bootstrap

import (
	"embed"
	"log/slog"
	"os"
	"path/filepath"
)

//go:embed templates/*.md
var templateFS embed.FS

// templateFiles lists the templates seeded into a workspace, in order.
var templateFiles = []string{
	AgentsFile,
	SoulFile,
	UserFile,
	MemoryFile,
	HeartbeatFile,
}

// ReadTemplate returns the content of an embedded template file.
func ReadTemplate(name string) (string, error) {
	content, err := templateFS.ReadFile(filepath.Join("templates", name))
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// EnsureWorkspaceFiles creates the workspace directory layout
// (daily/, .claude/skills/, and dataDir's sessions/) and seeds the five
// template files, never overwriting one that already exists. Returns the
// list of files that were created.
func EnsureWorkspaceFiles(workspaceDir, dataDir string) ([]string, error) {
	for _, dir := range []string{
		workspaceDir,
		filepath.Join(workspaceDir, "daily"),
		filepath.Join(workspaceDir, ".claude", "skills"),
		filepath.Join(dataDir, "sessions"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	var created []string
	for _, name := range templateFiles {
		ok, err := seedTemplate(workspaceDir, name)
		if err != nil {
			slog.Warn("bootstrap: failed to seed template", "file", name, "error", err)
			continue
		}
		if ok {
			created = append(created, name)
		}
	}
	return created, nil
}

// seedTemplate writes a template file to the workspace if it doesn't
// exist. Returns true if the file was created, false if it already exists.
func seedTemplate(workspaceDir, name string) (bool, error) {
	dstPath := filepath.Join(workspaceDir, name)

	f, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	content, err := templateFS.ReadFile(filepath.Join("templates", name))
	if err != nil {
		os.Remove(dstPath)
		return false, err
	}
	if _, err := f.Write(content); err != nil {
		return false, err
	}
	return true, nil
}
