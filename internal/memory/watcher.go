package memory

import (
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchWorkspace watches root (recursively, at the directories already
// present when it starts) for filesystem changes and marks ix dirty on
// every create/write/remove/rename event, debounced by quiet so a burst of
// edits triggers one resync instead of one per event. It runs until stop
// is closed; callers typically run it in its own goroutine and
// drive ix.SyncIfDirty on a separate timer.
func WatchWorkspace(root string, ix *Indexer, stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	paths, err := WalkWorkspaceFiles(root)
	if err != nil {
		return err
	}
	dirs := map[string]bool{root: true}
	for _, p := range paths {
		dirs[dirName(p)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			slog.Warn("memory: failed to watch directory", "dir", dir, "error", err)
		}
	}

	const quiet = 500 * time.Millisecond
	var debounce *time.Timer

	for {
		select {
		case <-stop:
			if debounce != nil {
				debounce.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Has(fsnotify.Create) {
				if err := watcher.Add(event.Name); err == nil {
					slog.Debug("memory: watching new path", "path", event.Name)
				}
			}
			if debounce == nil {
				debounce = time.AfterFunc(quiet, ix.MarkDirty)
			} else {
				debounce.Reset(quiet)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("memory: watcher error", "error", err)
		}
	}
}

func dirName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
