package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func initGitDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, sub := range []string{
		filepath.Join(".git", "refs", "heads"),
		filepath.Join(".git", "refs", "remotes"),
	} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, sub), 0o755))
	}
	return dir
}

func waitEvent(t *testing.T, w *Watcher) {
	t.Helper()
	select {
	case <-w.Events():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watch event")
	}
}

func TestWatcher_RefChange(t *testing.T) {
	dir := initGitDir(t)

	w, err := New(dir, 10*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	ref := filepath.Join(dir, ".git", "refs", "heads", "master")
	require.NoError(t, os.WriteFile(ref, []byte("0123456789abcdef0123456789abcdef01234567\n"), 0o644))

	waitEvent(t, w)
}

func TestWatcher_DebouncesBurst(t *testing.T) {
	dir := initGitDir(t)

	w, err := New(dir, 50*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	head := filepath.Join(dir, ".git", "HEAD")
	for range 5 {
		require.NoError(t, os.WriteFile(head, []byte("ref: refs/heads/master\n"), 0o644))
		time.Sleep(5 * time.Millisecond)
	}

	waitEvent(t, w)

	// the burst collapsed into a single signal
	select {
	case <-w.Events():
		t.Fatal("expected one event for the burst")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_IgnoresLockFiles(t *testing.T) {
	dir := initGitDir(t)

	w, err := New(dir, 10*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	lock := filepath.Join(dir, ".git", "index.lock")
	require.NoError(t, os.WriteFile(lock, nil, 0o644))

	select {
	case <-w.Events():
		t.Fatal("lock file churn should not signal")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestShouldIgnorePath(t *testing.T) {
	require.True(t, shouldIgnorePath("/repo/.git/index.lock"))
	require.True(t, shouldIgnorePath("/repo/.git/refs/heads/master.LOCK"))
	require.False(t, shouldIgnorePath("/repo/.git/refs/heads/master"))
}

func TestWatchPaths_NoGitDir(t *testing.T) {
	dir := t.TempDir()
	require.Equal(t, []string{dir}, watchPaths(dir))
}
