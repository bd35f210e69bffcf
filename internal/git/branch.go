package git

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
)

// LocalBranch carries the details only local branches have.
type LocalBranch struct {
	IsHead      bool
	HasUpstream bool
	Remote      string
}

// BranchInfo is a read snapshot of a single branch. It mirrors the
// reference store at enumeration time and is stale as soon as the
// store changes.
type BranchInfo struct {
	Name             string
	Reference        string
	TopCommit        plumbing.Hash
	TopCommitMessage string

	// Local is nil for remote-tracking branches.
	Local *LocalBranch
}

// ListBranches enumerates local or remote-tracking branches, sorted by
// name. Entries whose reference cannot be peeled to a commit (e.g.
// dangling after a partial fetch) are skipped.
func ListBranches(repoPath string, local bool) ([]BranchInfo, error) {
	repo, err := openRepo(repoPath)
	if err != nil {
		return nil, err
	}
	return listBranches(repo, local)
}

func listBranches(repo *gitlib.Repository, local bool) ([]BranchInfo, error) {
	cfg, err := repo.Config()
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	head := headTarget(repo)

	iter, err := repo.References()
	if err != nil {
		return nil, fmt.Errorf("enumerate references: %w", err)
	}
	defer iter.Close()

	var branches []BranchInfo
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name()
		if local && !name.IsBranch() {
			return nil
		}
		if !local && !name.IsRemote() {
			return nil
		}
		hash := ref.Hash()
		if ref.Type() == plumbing.SymbolicReference {
			resolved, err := repo.Reference(name, true)
			if err != nil {
				return nil
			}
			hash = resolved.Hash()
		}
		commit, err := repo.CommitObject(hash)
		if err != nil {
			// dangling reference, skip the entry
			return nil
		}

		info := BranchInfo{
			Name:             name.Short(),
			Reference:        name.String(),
			TopCommit:        hash,
			TopCommitMessage: summary(commit.Message),
		}
		if local {
			short := name.Short()
			details := &LocalBranch{IsHead: name == head}
			if b := cfg.Branches[short]; b != nil && b.Merge != "" {
				details.Remote = b.Remote
				if _, err := upstreamReference(repo, cfg, short); err == nil {
					details.HasUpstream = true
				}
			}
			info.Local = details
		}
		branches = append(branches, info)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(branches, func(i, j int) bool { return branches[i].Name < branches[j].Name })
	return branches, nil
}

// CurrentBranchName returns the name of the branch HEAD points to.
// Fails with ErrNoHead when HEAD is unborn or detached.
func CurrentBranchName(repoPath string) (string, error) {
	repo, err := openRepo(repoPath)
	if err != nil {
		return "", err
	}
	return currentBranchName(repo)
}

func currentBranchName(repo *gitlib.Repository) (string, error) {
	branches, err := listBranches(repo, true)
	if err != nil {
		return "", err
	}
	for _, b := range branches {
		if b.Local != nil && b.Local.IsHead {
			return b.Name, nil
		}
	}
	return "", ErrNoHead
}

// CreateBranch creates a branch at the current HEAD commit and
// repoints HEAD to it.
func CreateBranch(repoPath, name string) error {
	repo, err := openRepo(repoPath)
	if err != nil {
		return err
	}
	head, err := headCommit(repo)
	if err != nil {
		return err
	}
	refName := plumbing.NewBranchReferenceName(name)
	if _, err := repo.Reference(refName, false); err == nil {
		return fmt.Errorf("branch %q already exists", name)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(refName, head.Hash)); err != nil {
		return fmt.Errorf("create branch %q: %w", name, err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, refName)); err != nil {
		return fmt.Errorf("repoint HEAD: %w", err)
	}
	return nil
}

// DeleteBranch removes the branch reference branchRef (fully
// qualified, e.g. "refs/heads/feature"). The branch HEAD points to
// cannot be deleted.
func DeleteBranch(repoPath, branchRef string) error {
	repo, err := openRepo(repoPath)
	if err != nil {
		return err
	}
	refName := plumbing.ReferenceName(branchRef)
	if _, err := repo.Reference(refName, false); err != nil {
		return fmt.Errorf("find branch %q: %w", branchRef, err)
	}
	if headTarget(repo) == refName {
		return ErrCannotDeleteCurrentBranch
	}
	if err := repo.Storer.RemoveReference(refName); err != nil {
		return fmt.Errorf("delete branch %q: %w", branchRef, err)
	}
	// Drop the tracking section as well, if one exists.
	cfg, err := repo.Config()
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	short := refName.Short()
	if _, ok := cfg.Branches[short]; ok {
		delete(cfg.Branches, short)
		if err := repo.SetConfig(cfg); err != nil {
			return fmt.Errorf("update config: %w", err)
		}
	}
	return nil
}

// RenameBranch renames the branch at branchRef to newName, carrying
// its upstream configuration over and repointing HEAD when the
// current branch is the one renamed.
func RenameBranch(repoPath, branchRef, newName string) error {
	repo, err := openRepo(repoPath)
	if err != nil {
		return err
	}
	oldName := plumbing.ReferenceName(branchRef)
	ref, err := repo.Reference(oldName, false)
	if err != nil {
		return fmt.Errorf("find branch %q: %w", branchRef, err)
	}
	newRefName := plumbing.NewBranchReferenceName(newName)
	if _, err := repo.Reference(newRefName, false); err == nil {
		return fmt.Errorf("branch %q already exists", newName)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(newRefName, ref.Hash())); err != nil {
		return fmt.Errorf("create branch %q: %w", newName, err)
	}

	cfg, err := repo.Config()
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	oldShort := oldName.Short()
	if b := cfg.Branches[oldShort]; b != nil {
		cfg.Branches[newName] = &config.Branch{
			Name:   newName,
			Remote: b.Remote,
			Merge:  b.Merge,
		}
		delete(cfg.Branches, oldShort)
		if err := repo.SetConfig(cfg); err != nil {
			return fmt.Errorf("update config: %w", err)
		}
	}

	if headTarget(repo) == oldName {
		if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, newRefName)); err != nil {
			return fmt.Errorf("repoint HEAD: %w", err)
		}
	}
	if err := repo.Storer.RemoveReference(oldName); err != nil {
		return fmt.Errorf("remove old branch %q: %w", branchRef, err)
	}
	return nil
}

// SetUpstream configures "<defaultRemote>/<branchName>" as the
// branch's upstream. No-op when an upstream is already configured.
func SetUpstream(repoPath, branchName string) error {
	repo, err := openRepo(repoPath)
	if err != nil {
		return err
	}
	cfg, err := repo.Config()
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if b := cfg.Branches[branchName]; b != nil && b.Merge != "" {
		return nil
	}
	remote, err := defaultRemote(cfg)
	if err != nil {
		return err
	}
	cfg.Branches[branchName] = &config.Branch{
		Name:   branchName,
		Remote: remote,
		Merge:  plumbing.NewBranchReferenceName(branchName),
	}
	if err := repo.SetConfig(cfg); err != nil {
		return fmt.Errorf("update config: %w", err)
	}
	return nil
}

// ConfigIsPullRebase reports whether pull.rebase is enabled in the
// repository configuration.
func ConfigIsPullRebase(repoPath string) (bool, error) {
	repo, err := openRepo(repoPath)
	if err != nil {
		return false, err
	}
	cfg, err := repo.Config()
	if err != nil {
		return false, fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(cfg.Raw.Section("pull").Option("rebase")) {
	case "true", "yes", "on", "1":
		return true, nil
	default:
		return false, nil
	}
}

// upstreamReference resolves the remote-tracking reference the branch
// is configured to follow.
func upstreamReference(repo *gitlib.Repository, cfg *config.Config, branchName string) (*plumbing.Reference, error) {
	b := cfg.Branches[branchName]
	if b == nil || b.Merge == "" {
		return nil, ErrNoUpstream
	}
	remoteRef := plumbing.NewRemoteReferenceName(b.Remote, b.Merge.Short())
	ref, err := repo.Reference(remoteRef, true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, ErrNoUpstream
		}
		return nil, fmt.Errorf("resolve upstream %q: %w", remoteRef, err)
	}
	return ref, nil
}

func summary(message string) string {
	return strings.SplitN(strings.TrimSpace(message), "\n", 2)[0]
}
