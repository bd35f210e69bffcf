package git

import (
	"fmt"
	"sort"
	"strings"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// rebaseSession drives one rebase: an explicit sequence of commits to
// replay plus a cursor, never an open-ended iterator, so abort logic
// can reason about remaining operations as plain state. Replayed
// commits are staged in the object store only; refs and the working
// tree move at finish, which makes abort a pure drop.
type rebaseSession struct {
	repo      *gitlib.Repository
	branchRef plumbing.ReferenceName
	origTip   plumbing.Hash
	tip       plumbing.Hash
	ops       []*object.Commit
	cursor    int
	sig       object.Signature
}

// MergeUpstreamRebase rebases the checked out branch onto its
// upstream. On success the local-only commits are replayed in their
// original order on top of the upstream tip and the history is
// linear. On conflict the session is aborted, a ConflictError is
// returned, and the branch tip is unchanged.
func MergeUpstreamRebase(repoPath, branchName string) error {
	repo, err := openRepo(repoPath)
	if err != nil {
		return err
	}
	current, err := currentBranchName(repo)
	if err != nil {
		return err
	}
	if current != branchName {
		return fmt.Errorf("can only rebase the checked out branch")
	}
	clean, err := worktreeClean(repo)
	if err != nil {
		return err
	}
	if !clean {
		return ErrUncommittedChanges
	}

	cfg, err := repo.Config()
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	upstreamRef, err := upstreamReference(repo, cfg, branchName)
	if err != nil {
		return err
	}
	upstream, err := repo.CommitObject(upstreamRef.Hash())
	if err != nil {
		return fmt.Errorf("resolve upstream commit: %w", err)
	}
	branchRefName := plumbing.NewBranchReferenceName(branchName)
	branchRef, err := repo.Reference(branchRefName, true)
	if err != nil {
		return fmt.Errorf("find branch %q: %w", branchName, err)
	}
	tip, err := repo.CommitObject(branchRef.Hash())
	if err != nil {
		return fmt.Errorf("resolve branch commit: %w", err)
	}

	session, err := beginRebase(repo, branchRefName, tip, upstream)
	if err != nil {
		return err
	}
	if session == nil {
		// already contains the upstream tip
		return nil
	}

	for {
		op := session.next()
		if op == nil {
			break
		}
		entries, conflicts, err := session.step(op)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			session.abort()
			return &ConflictError{Paths: conflicts}
		}
		if err := session.commit(op, entries); err != nil {
			return err
		}
	}
	return session.finish()
}

// beginRebase anchors a session at the upstream commit. It returns
// nil when the branch already contains the upstream tip.
func beginRebase(repo *gitlib.Repository, branchRef plumbing.ReferenceName, tip, upstream *object.Commit) (*rebaseSession, error) {
	bases, err := tip.MergeBase(upstream)
	if err != nil {
		return nil, fmt.Errorf("find merge base: %w", err)
	}
	if len(bases) > 0 && bases[0].Hash == upstream.Hash {
		return nil, nil
	}
	upstreamSet, err := ancestorSet(repo, upstream.Hash)
	if err != nil {
		return nil, err
	}

	// Collect the commits to replay, oldest first: the first-parent
	// chain from the tip down to the first commit the upstream already
	// contains. Merge commits are not replayed, so the result is
	// linear even when the branch carries earlier pull-via-merge
	// commits.
	var ops []*object.Commit
	current := tip
	for !upstreamSet[current.Hash] {
		if current.NumParents() <= 1 {
			ops = append(ops, current)
		}
		if current.NumParents() == 0 {
			break
		}
		parent, err := current.Parent(0)
		if err != nil {
			return nil, fmt.Errorf("walk commit history: %w", err)
		}
		current = parent
	}
	for i, j := 0, len(ops)-1; i < j; i, j = i+1, j-1 {
		ops[i], ops[j] = ops[j], ops[i]
	}

	return &rebaseSession{
		repo:      repo,
		branchRef: branchRef,
		origTip:   tip.Hash,
		tip:       upstream.Hash,
		ops:       ops,
		sig:       signature(repo),
	}, nil
}

// next advances the cursor and returns the pending operation, or nil
// when none remain.
func (s *rebaseSession) next() *object.Commit {
	if s.cursor >= len(s.ops) {
		return nil
	}
	op := s.ops[s.cursor]
	s.cursor++
	return op
}

// step replays op onto the current tip as a three-way tree merge and
// returns the merged flat tree plus any conflicted paths.
func (s *rebaseSession) step(op *object.Commit) (map[string]object.TreeEntry, []string, error) {
	baseEntries := map[string]object.TreeEntry{}
	if op.NumParents() > 0 {
		parent, err := op.Parent(0)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve parent of %s: %w", op.Hash, err)
		}
		parentTree, err := parent.Tree()
		if err != nil {
			return nil, nil, fmt.Errorf("read parent tree: %w", err)
		}
		if err := flattenTree(parentTree, "", baseEntries); err != nil {
			return nil, nil, err
		}
	}
	theirsTree, err := op.Tree()
	if err != nil {
		return nil, nil, fmt.Errorf("read commit tree: %w", err)
	}
	theirsEntries := map[string]object.TreeEntry{}
	if err := flattenTree(theirsTree, "", theirsEntries); err != nil {
		return nil, nil, err
	}
	oursCommit, err := s.repo.CommitObject(s.tip)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve replay tip: %w", err)
	}
	oursTree, err := oursCommit.Tree()
	if err != nil {
		return nil, nil, fmt.Errorf("read replay tip tree: %w", err)
	}
	merged := map[string]object.TreeEntry{}
	if err := flattenTree(oursTree, "", merged); err != nil {
		return nil, nil, err
	}

	var conflicts []string
	for _, path := range changedPaths(baseEntries, theirsEntries) {
		base, hasBase := baseEntries[path]
		theirs, hasTheirs := theirsEntries[path]
		ours, hasOurs := merged[path]

		switch {
		case !hasTheirs: // deleted by the replayed commit
			switch {
			case !hasOurs:
				// already gone on our side
			case entryEqual(ours, base):
				delete(merged, path)
			default:
				conflicts = append(conflicts, path)
			}

		case !hasBase: // added by the replayed commit
			switch {
			case !hasOurs:
				merged[path] = theirs
			case entryEqual(ours, theirs):
				// both sides added the same content
			default:
				entry, ok, err := s.mergeEntry(path, plumbing.ZeroHash, ours, theirs)
				if err != nil {
					return nil, nil, err
				}
				if !ok {
					conflicts = append(conflicts, path)
					continue
				}
				merged[path] = entry
			}

		default: // modified by the replayed commit
			switch {
			case !hasOurs:
				conflicts = append(conflicts, path)
			case entryEqual(ours, base):
				merged[path] = theirs
			case entryEqual(ours, theirs):
				// both sides made the same change
			default:
				entry, ok, err := s.mergeEntry(path, base.Hash, ours, theirs)
				if err != nil {
					return nil, nil, err
				}
				if !ok {
					conflicts = append(conflicts, path)
					continue
				}
				merged[path] = entry
			}
		}
	}
	sort.Strings(conflicts)
	return merged, conflicts, nil
}

// mergeEntry merges two blob versions of one path line by line.
func (s *rebaseSession) mergeEntry(path string, base plumbing.Hash, ours, theirs object.TreeEntry) (object.TreeEntry, bool, error) {
	if ours.Mode != theirs.Mode {
		return object.TreeEntry{}, false, nil
	}
	content, ok, err := textMerge(s.repo, base, ours.Hash, theirs.Hash)
	if err != nil || !ok {
		return object.TreeEntry{}, false, err
	}
	hash, err := writeBlob(s.repo, content)
	if err != nil {
		return object.TreeEntry{}, false, err
	}
	return object.TreeEntry{Name: path, Mode: theirs.Mode, Hash: hash}, true, nil
}

// commit stores the replayed change, preserving the original author
// and message, and advances the replay tip.
func (s *rebaseSession) commit(op *object.Commit, entries map[string]object.TreeEntry) error {
	treeHash, err := buildTree(s.repo, entries)
	if err != nil {
		return err
	}
	replayed := &object.Commit{
		Author:       op.Author,
		Committer:    s.sig,
		Message:      op.Message,
		TreeHash:     treeHash,
		ParentHashes: []plumbing.Hash{s.tip},
	}
	obj := s.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.CommitObject)
	if err := replayed.Encode(obj); err != nil {
		return fmt.Errorf("encode replayed commit: %w", err)
	}
	hash, err := s.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return fmt.Errorf("store replayed commit: %w", err)
	}
	s.tip = hash
	return nil
}

// finish moves the branch to the last replayed commit and resets the
// working tree to it. The branch tip is restored if the reset fails.
func (s *rebaseSession) finish() error {
	if err := s.repo.Storer.SetReference(plumbing.NewHashReference(s.branchRef, s.tip)); err != nil {
		return fmt.Errorf("update branch: %w", err)
	}
	wt, err := s.repo.Worktree()
	if err == nil {
		err = wt.Reset(&gitlib.ResetOptions{Mode: gitlib.HardReset, Commit: s.tip})
	}
	if err != nil {
		if restoreErr := s.repo.Storer.SetReference(plumbing.NewHashReference(s.branchRef, s.origTip)); restoreErr != nil {
			return fmt.Errorf("checkout rebased tree: %v (restoring branch failed: %w)", err, restoreErr)
		}
		return fmt.Errorf("checkout rebased tree: %w", err)
	}
	return nil
}

// abort discards the session. Replayed objects staged so far are
// unreachable; no reference or worktree state was touched.
func (s *rebaseSession) abort() {
	s.cursor = len(s.ops)
	s.tip = s.origTip
}

// changedPaths lists every path the replayed commit touched relative
// to its parent, sorted.
func changedPaths(base, theirs map[string]object.TreeEntry) []string {
	seen := map[string]bool{}
	for path, entry := range theirs {
		if b, ok := base[path]; !ok || !entryEqual(b, entry) {
			seen[path] = true
		}
	}
	for path := range base {
		if _, ok := theirs[path]; !ok {
			seen[path] = true
		}
	}
	paths := make([]string, 0, len(seen))
	for path := range seen {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func entryEqual(a, b object.TreeEntry) bool {
	return a.Hash == b.Hash && a.Mode == b.Mode
}

// flattenTree collects all file entries into a flat map keyed by the
// full path.
func flattenTree(tree *object.Tree, prefix string, entries map[string]object.TreeEntry) error {
	for _, entry := range tree.Entries {
		path := entry.Name
		if prefix != "" {
			path = prefix + "/" + entry.Name
		}
		if entry.Mode == filemode.Dir {
			subtree, err := tree.Tree(entry.Name)
			if err != nil {
				return fmt.Errorf("read subtree %q: %w", path, err)
			}
			if err := flattenTree(subtree, path, entries); err != nil {
				return err
			}
			continue
		}
		entries[path] = object.TreeEntry{Name: path, Mode: entry.Mode, Hash: entry.Hash}
	}
	return nil
}

type treeNode struct {
	entries  []object.TreeEntry
	children map[string]*treeNode
}

// buildTree stores the nested tree objects for a flat path map and
// returns the root tree hash.
func buildTree(repo *gitlib.Repository, entries map[string]object.TreeEntry) (plumbing.Hash, error) {
	root := &treeNode{children: map[string]*treeNode{}}

	paths := make([]string, 0, len(entries))
	for path := range entries {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		entry := entries[path]
		parts := strings.Split(path, "/")
		node := root
		for _, dir := range parts[:len(parts)-1] {
			child, ok := node.children[dir]
			if !ok {
				child = &treeNode{children: map[string]*treeNode{}}
				node.children[dir] = child
			}
			node = child
		}
		node.entries = append(node.entries, object.TreeEntry{
			Name: parts[len(parts)-1],
			Mode: entry.Mode,
			Hash: entry.Hash,
		})
	}
	return storeTree(repo, root)
}

func storeTree(repo *gitlib.Repository, node *treeNode) (plumbing.Hash, error) {
	names := make([]string, 0, len(node.children))
	for name := range node.children {
		names = append(names, name)
	}
	sort.Strings(names)

	all := make([]object.TreeEntry, 0, len(names)+len(node.entries))
	for _, name := range names {
		hash, err := storeTree(repo, node.children[name])
		if err != nil {
			return plumbing.ZeroHash, err
		}
		all = append(all, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: hash})
	}
	all = append(all, node.entries...)

	// git orders tree entries with directories sorting as "name/"
	sort.Slice(all, func(i, j int) bool {
		ni, nj := all[i].Name, all[j].Name
		if all[i].Mode == filemode.Dir {
			ni += "/"
		}
		if all[j].Mode == filemode.Dir {
			nj += "/"
		}
		return ni < nj
	})

	tree := &object.Tree{Entries: all}
	obj := repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.TreeObject)
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode tree: %w", err)
	}
	hash, err := repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("store tree: %w", err)
	}
	return hash, nil
}

func writeBlob(repo *gitlib.Repository, content []byte) (plumbing.Hash, error) {
	obj := repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	writer, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write blob: %w", err)
	}
	if _, err := writer.Write(content); err != nil {
		writer.Close()
		return plumbing.ZeroHash, fmt.Errorf("write blob: %w", err)
	}
	if err := writer.Close(); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write blob: %w", err)
	}
	hash, err := repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("store blob: %w", err)
	}
	return hash, nil
}
