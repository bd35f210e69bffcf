// Package git implements local repository synchronization on top of
// go-git: branch and remote management, upstream comparison, guarded
// checkouts, and merging from upstream via rebase.
//
// Every exported function opens the repository at the given path
// fresh; no state is shared between calls. Mutating operations either
// fully succeed or leave the repository as it was before the call.
package git

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func openRepo(repoPath string) (*gitlib.Repository, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, err
	}
	repo, err := gitlib.PlainOpenWithOptions(abs, &gitlib.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	return repo, nil
}

// headCommit returns the commit HEAD resolves to, or ErrNoHead when
// HEAD is unborn.
func headCommit(repo *gitlib.Repository) (*object.Commit, error) {
	ref, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, ErrNoHead
		}
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD commit: %w", err)
	}
	return commit, nil
}

// headTarget returns the branch reference HEAD points to, or "" when
// HEAD is detached or unborn.
func headTarget(repo *gitlib.Repository) plumbing.ReferenceName {
	ref, err := repo.Reference(plumbing.HEAD, false)
	if err != nil || ref.Type() != plumbing.SymbolicReference {
		return ""
	}
	return ref.Target()
}

// signature builds a commit signature from the configured identity. A
// repository without user.name/user.email gets an anonymous signature
// instead of an error, so identity-less setups (CI) keep working.
func signature(repo *gitlib.Repository) object.Signature {
	name, email := "", ""
	if cfg, err := repo.ConfigScoped(config.SystemScope); err == nil {
		name = cfg.User.Name
		email = cfg.User.Email
	}
	if name == "" {
		name = "unknown"
	}
	return object.Signature{Name: name, Email: email, When: time.Now()}
}

// worktreeClean reports whether a full status scan (ignored files
// excluded) finds no tracked or untracked change.
func worktreeClean(repo *gitlib.Repository) (bool, error) {
	wt, err := repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("scan status: %w", err)
	}
	return status.IsClean(), nil
}
