package git

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	gitlib "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/stretchr/testify/require"
)

// reindex refreshes the packfile index of a long-lived test handle.
// The exported functions under test open the repository fresh, so
// packfiles they write (e.g. via Fetch) are invisible to a handle
// whose index was built earlier.
func reindex(repo *gitlib.Repository) {
	if s, ok := repo.Storer.(*filesystem.Storage); ok {
		s.Reindex()
	}
}

// initRepo creates a repository with a single commit on master.
func initRepo(t *testing.T) (string, *gitlib.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := gitlib.PlainInit(dir, false)
	require.NoError(t, err)
	commitFile(t, repo, dir, "init.txt", "init", "initial commit")
	return dir, repo
}

// initEmptyRepo creates a repository with an unborn HEAD.
func initEmptyRepo(t *testing.T) (string, *gitlib.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := gitlib.PlainInit(dir, false)
	require.NoError(t, err)
	return dir, repo
}

func commitFile(t *testing.T, repo *gitlib.Repository, dir, name, content, message string) plumbing.Hash {
	t.Helper()
	reindex(repo)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(name)
	require.NoError(t, err)
	hash, err := wt.Commit(message, &gitlib.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return hash
}

// commitMerge writes a merge commit on master with the first parent's
// tree and resets the working tree to it.
func commitMerge(t *testing.T, repo *gitlib.Repository, message string, first, second plumbing.Hash) plumbing.Hash {
	t.Helper()
	reindex(repo)
	parent, err := repo.CommitObject(first)
	require.NoError(t, err)
	sig := object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()}
	merge := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message,
		TreeHash:     parent.TreeHash,
		ParentHashes: []plumbing.Hash{first, second},
	}
	obj := repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.CommitObject)
	require.NoError(t, merge.Encode(obj))
	hash, err := repo.Storer.SetEncodedObject(obj)
	require.NoError(t, err)
	require.NoError(t, repo.Storer.SetReference(
		plumbing.NewHashReference(plumbing.NewBranchReferenceName("master"), hash)))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.Reset(&gitlib.ResetOptions{Mode: gitlib.HardReset, Commit: hash}))
	return hash
}

// initOriginPair builds a shared "origin" (bare) with one seed commit
// and returns two working clones of it, both tracking origin/master.
func initOriginPair(t *testing.T) (clone1Dir string, clone1 *gitlib.Repository, clone2Dir string, clone2 *gitlib.Repository) {
	t.Helper()
	bareDir := t.TempDir()
	_, err := gitlib.PlainInit(bareDir, true)
	require.NoError(t, err)

	clone1Dir = t.TempDir()
	clone1, err = gitlib.PlainInit(clone1Dir, false)
	require.NoError(t, err)
	_, err = clone1.CreateRemote(&gitconfig.RemoteConfig{Name: "origin", URLs: []string{bareDir}})
	require.NoError(t, err)
	commitFile(t, clone1, clone1Dir, "test.txt", "test", "commit1")
	pushMaster(t, clone1)
	require.NoError(t, SetUpstream(clone1Dir, "master"))
	_, err = Fetch(clone1Dir, "master", nil, nil)
	require.NoError(t, err)

	clone2Dir = t.TempDir()
	clone2, err = gitlib.PlainClone(clone2Dir, false, &gitlib.CloneOptions{URL: bareDir})
	require.NoError(t, err)
	require.NoError(t, SetUpstream(clone2Dir, "master"))
	return clone1Dir, clone1, clone2Dir, clone2
}

func pushMaster(t *testing.T, repo *gitlib.Repository) {
	t.Helper()
	err := repo.Push(&gitlib.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{"refs/heads/master:refs/heads/master"},
	})
	require.NoError(t, err)
}

func pushBranch(t *testing.T, repo *gitlib.Repository, branch string) {
	t.Helper()
	err := repo.Push(&gitlib.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec("refs/heads/" + branch + ":refs/heads/" + branch)},
	})
	require.NoError(t, err)
}

// commitMessages walks the first-parent chain from HEAD, newest first.
func commitMessages(t *testing.T, repo *gitlib.Repository) []string {
	t.Helper()
	reindex(repo)
	head, err := repo.Head()
	require.NoError(t, err)
	var messages []string
	current, err := repo.CommitObject(head.Hash())
	require.NoError(t, err)
	for {
		messages = append(messages, summary(current.Message))
		if current.NumParents() == 0 {
			return messages
		}
		current, err = current.Parent(0)
		require.NoError(t, err)
	}
}

func readWorktreeFile(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(data)
}

func repoClean(t *testing.T, repo *gitlib.Repository) bool {
	t.Helper()
	reindex(repo)
	clean, err := worktreeClean(repo)
	require.NoError(t, err)
	return clean
}
