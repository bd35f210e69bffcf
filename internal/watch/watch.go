// Package watch notifies callers when a repository's reference state
// changes on disk. Branch snapshots returned by the git package are
// stale the moment the ref store changes; the watcher gives callers
// that cache them a push-based invalidation trigger.
package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/reposync/reposync/internal/debounce"
)

const defaultDebounceDelay = 350 * time.Millisecond

// Watcher emits a debounced signal on Events whenever the repository
// changes.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce *debounce.Debouncer
	events   chan struct{}
}

// New starts watching the repository rooted at repoPath. A delay of 0
// uses the default debounce.
func New(repoPath string, delay time.Duration) (*Watcher, error) {
	if delay <= 0 {
		delay = defaultDebounceDelay
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	for _, path := range watchPaths(repoPath) {
		if err := fsw.Add(path); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch %s: %w", path, err)
		}
	}

	w := &Watcher{
		watcher: fsw,
		events:  make(chan struct{}, 1),
	}
	w.debounce = debounce.New(delay, w.notify)
	go w.loop()
	return w, nil
}

// Events delivers one signal per burst of repository changes. The
// channel is never closed while the watcher is open; sends are
// dropped when the receiver has not consumed the previous signal.
func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

func (w *Watcher) Close() error {
	w.debounce.Stop()
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if shouldIgnorePath(ev.Name) {
				continue
			}
			w.debounce.Trigger()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) notify() {
	select {
	case w.events <- struct{}{}:
	default:
	}
}

func watchPaths(root string) []string {
	gitDir := filepath.Join(root, ".git")
	if info, err := os.Stat(gitDir); err == nil && info.IsDir() {
		paths := []string{gitDir}
		for _, sub := range []string{"refs", filepath.Join("refs", "heads"), filepath.Join("refs", "remotes")} {
			p := filepath.Join(gitDir, sub)
			if info, err := os.Stat(p); err == nil && info.IsDir() {
				paths = append(paths, p)
			}
		}
		return paths
	}
	return []string{root}
}

func shouldIgnorePath(name string) bool {
	return strings.ToLower(filepath.Ext(name)) == ".lock"
}
