package git

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds surfaced by this package. Callers match them with
// errors.Is / errors.As; everything else is a wrapped go-git error.
var (
	// ErrNoHead means HEAD is unborn or does not point to a branch.
	ErrNoHead = errors.New("no head branch found")

	// ErrNoDefaultRemote means the remote set is inconclusive: more
	// than one remote and none of them named "origin".
	ErrNoDefaultRemote = errors.New("no default remote found")

	// ErrNoUpstream means the branch has no (resolvable) upstream
	// tracking branch configured.
	ErrNoUpstream = errors.New("branch has no upstream")

	// ErrUncommittedChanges means the working tree is not clean.
	ErrUncommittedChanges = errors.New("uncommitted changes in working tree")

	// ErrCannotDeleteCurrentBranch means the branch to delete is the
	// one HEAD points to; switch away first.
	ErrCannotDeleteCurrentBranch = errors.New("cannot delete the checked out branch")
)

// ConflictError reports a rebase that was aborted because replaying a
// commit conflicted with upstream content. The repository is left
// untouched when this is returned.
type ConflictError struct {
	Paths []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicts while merging: %s", strings.Join(e.Paths, ", "))
}
