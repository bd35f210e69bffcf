package git

import (
	"fmt"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// BranchCompare is a point-in-time ahead/behind snapshot of a branch
// against its upstream.
type BranchCompare struct {
	Ahead  int
	Behind int
}

// maxGraphWalk bounds the ancestry walks so a corrupt parent chain
// cannot loop forever.
const maxGraphWalk = 1_000_000

// CompareUpstream counts the commits reachable from the branch but not
// its upstream (ahead) and vice versa (behind).
func CompareUpstream(repoPath, branchName string) (BranchCompare, error) {
	repo, err := openRepo(repoPath)
	if err != nil {
		return BranchCompare{}, err
	}
	branchRef, err := repo.Reference(plumbing.NewBranchReferenceName(branchName), true)
	if err != nil {
		return BranchCompare{}, fmt.Errorf("find branch %q: %w", branchName, err)
	}
	cfg, err := repo.Config()
	if err != nil {
		return BranchCompare{}, fmt.Errorf("read config: %w", err)
	}
	upstreamRef, err := upstreamReference(repo, cfg, branchName)
	if err != nil {
		return BranchCompare{}, err
	}
	return graphAheadBehind(repo, branchRef.Hash(), upstreamRef.Hash())
}

// graphAheadBehind partitions the symmetric difference of the two
// commits' ancestor sets by side.
func graphAheadBehind(repo *gitlib.Repository, local, upstream plumbing.Hash) (BranchCompare, error) {
	localSet, err := ancestorSet(repo, local)
	if err != nil {
		return BranchCompare{}, err
	}
	upstreamSet, err := ancestorSet(repo, upstream)
	if err != nil {
		return BranchCompare{}, err
	}
	var cmp BranchCompare
	for h := range localSet {
		if !upstreamSet[h] {
			cmp.Ahead++
		}
	}
	for h := range upstreamSet {
		if !localSet[h] {
			cmp.Behind++
		}
	}
	return cmp, nil
}

// ancestorSet collects the commit and all its ancestors via BFS over
// parent links.
func ancestorSet(repo *gitlib.Repository, start plumbing.Hash) (map[plumbing.Hash]bool, error) {
	seen := map[plumbing.Hash]bool{start: true}
	queue := []plumbing.Hash{start}
	steps := 0
	for len(queue) > 0 {
		steps++
		if steps > maxGraphWalk {
			return nil, fmt.Errorf("commit graph walk exceeded %d steps", maxGraphWalk)
		}
		cur := queue[0]
		queue = queue[1:]
		commit, err := repo.CommitObject(cur)
		if err != nil {
			return nil, fmt.Errorf("read commit %s: %w", cur, err)
		}
		for _, parent := range commit.ParentHashes {
			if !seen[parent] {
				seen[parent] = true
				queue = append(queue, parent)
			}
		}
	}
	return seen, nil
}
