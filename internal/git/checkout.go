package git

import (
	"fmt"
	"strings"

	gitlib "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
)

// CheckoutBranch switches HEAD to branchRef (fully qualified) and
// force-applies the checkout. It refuses when the working tree is not
// clean, and restores HEAD if applying the checkout fails, so the
// switch is all-or-nothing.
func CheckoutBranch(repoPath, branchRef string) error {
	repo, err := openRepo(repoPath)
	if err != nil {
		return err
	}
	clean, err := worktreeClean(repo)
	if err != nil {
		return err
	}
	if !clean {
		return ErrUncommittedChanges
	}

	prev, err := repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return fmt.Errorf("read HEAD: %w", err)
	}
	refName := plumbing.ReferenceName(branchRef)
	target, err := repo.Reference(refName, true)
	if err != nil {
		return fmt.Errorf("find branch %q: %w", branchRef, err)
	}
	return switchHead(repo, prev, refName, target.Hash())
}

// CheckoutRemoteBranch creates a local branch for the given
// remote-tracking branch, sets its upstream, and switches to it with
// the same cleanliness and rollback guarantees as CheckoutBranch.
func CheckoutRemoteBranch(repoPath string, branch BranchInfo) error {
	repo, err := openRepo(repoPath)
	if err != nil {
		return err
	}
	clean, err := worktreeClean(repo)
	if err != nil {
		return err
	}
	if !clean {
		return ErrUncommittedChanges
	}

	prev, err := repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return fmt.Errorf("read HEAD: %w", err)
	}
	if _, err := repo.CommitObject(branch.TopCommit); err != nil {
		return fmt.Errorf("resolve %q top commit: %w", branch.Name, err)
	}

	// "origin/feature" tracks as local branch "feature"
	localName := branch.Name
	if idx := strings.LastIndex(localName, "/"); idx >= 0 {
		localName = localName[idx+1:]
	}
	localRef := plumbing.NewBranchReferenceName(localName)
	if _, err := repo.Reference(localRef, false); err == nil {
		return fmt.Errorf("branch %q already exists", localName)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(localRef, branch.TopCommit)); err != nil {
		return fmt.Errorf("create branch %q: %w", localName, err)
	}

	cfg, err := repo.Config()
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if remote := remoteOfRef(cfg, branch.Name); remote != "" {
		cfg.Branches[localName] = &gitconfig.Branch{
			Name:   localName,
			Remote: remote,
			Merge:  plumbing.NewBranchReferenceName(strings.TrimPrefix(branch.Name, remote+"/")),
		}
		if err := repo.SetConfig(cfg); err != nil {
			return fmt.Errorf("update config: %w", err)
		}
	}

	return switchHead(repo, prev, localRef, branch.TopCommit)
}

// switchHead repoints HEAD and force-resets the working tree,
// restoring the previous HEAD on failure.
func switchHead(repo *gitlib.Repository, prev *plumbing.Reference, refName plumbing.ReferenceName, commit plumbing.Hash) error {
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, refName)); err != nil {
		return fmt.Errorf("repoint HEAD: %w", err)
	}
	wt, err := repo.Worktree()
	if err == nil {
		err = wt.Reset(&gitlib.ResetOptions{Mode: gitlib.HardReset, Commit: commit})
	}
	if err != nil {
		var restore *plumbing.Reference
		if prev.Type() == plumbing.SymbolicReference {
			restore = plumbing.NewSymbolicReference(plumbing.HEAD, prev.Target())
		} else {
			restore = plumbing.NewHashReference(plumbing.HEAD, prev.Hash())
		}
		if restoreErr := repo.Storer.SetReference(restore); restoreErr != nil {
			return fmt.Errorf("apply checkout: %v (restoring HEAD failed: %w)", err, restoreErr)
		}
		return fmt.Errorf("apply checkout: %w", err)
	}
	return nil
}
