package git

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	gitlib "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// DefaultRemoteName is preferred whenever a remote of that name exists.
const DefaultRemoteName = "origin"

// Credentials are optional basic-auth credentials for network
// operations.
type Credentials struct {
	Username string
	Password string
}

// FetchProgress is a transfer-progress notification. Delivery is
// best-effort: notifications are dropped when the receiver lags.
type FetchProgress struct {
	// ReceivedBytes is the cumulative sideband byte count.
	ReceivedBytes int
	// Message is the most recent progress line from the remote.
	Message string
}

// ListRemotes returns the configured remote names in alphabetical
// order.
func ListRemotes(repoPath string) ([]string, error) {
	repo, err := openRepo(repoPath)
	if err != nil {
		return nil, err
	}
	cfg, err := repo.Config()
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	names := make([]string, 0, len(cfg.Remotes))
	for name := range cfg.Remotes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// DefaultRemote resolves the remote to use when none is named
// explicitly: "origin" if it exists, else the only configured remote,
// else ErrNoDefaultRemote.
func DefaultRemote(repoPath string) (string, error) {
	repo, err := openRepo(repoPath)
	if err != nil {
		return "", err
	}
	cfg, err := repo.Config()
	if err != nil {
		return "", fmt.Errorf("read config: %w", err)
	}
	return defaultRemote(cfg)
}

func defaultRemote(cfg *gitconfig.Config) (string, error) {
	if _, ok := cfg.Remotes[DefaultRemoteName]; ok {
		return DefaultRemoteName, nil
	}
	if len(cfg.Remotes) == 1 {
		for name := range cfg.Remotes {
			return name, nil
		}
	}
	return "", ErrNoDefaultRemote
}

// remoteOfRef finds the configured remote whose name is the longest
// prefix of the remote-tracking branch name (e.g. "origin/feature/x"
// resolves to "origin").
func remoteOfRef(cfg *gitconfig.Config, branchName string) string {
	best := ""
	for name := range cfg.Remotes {
		if strings.HasPrefix(branchName, name+"/") && len(name) > len(best) {
			best = name
		}
	}
	return best
}

// Fetch downloads branch from the default remote and returns the
// number of progress bytes received. progress may be nil.
func Fetch(repoPath, branch string, creds *Credentials, progress chan<- FetchProgress) (int, error) {
	repo, err := openRepo(repoPath)
	if err != nil {
		return 0, err
	}
	cfg, err := repo.Config()
	if err != nil {
		return 0, fmt.Errorf("read config: %w", err)
	}
	remoteName, err := defaultRemote(cfg)
	if err != nil {
		return 0, err
	}
	remote, err := repo.Remote(remoteName)
	if err != nil {
		return 0, fmt.Errorf("find remote %q: %w", remoteName, err)
	}

	writer := &progressWriter{ch: progress}
	opts := &gitlib.FetchOptions{
		RemoteName: remoteName,
		RefSpecs: []gitconfig.RefSpec{
			gitconfig.RefSpec(fmt.Sprintf("+%s:%s",
				plumbing.NewBranchReferenceName(branch),
				plumbing.NewRemoteReferenceName(remoteName, branch))),
		},
		Progress: writer,
		Tags:     gitlib.NoTags,
	}
	if creds != nil {
		opts.Auth = &githttp.BasicAuth{Username: creds.Username, Password: creds.Password}
	}

	if err := remote.Fetch(opts); err != nil && !errors.Is(err, gitlib.NoErrAlreadyUpToDate) {
		return 0, fmt.Errorf("fetch %q from %q: %w", branch, remoteName, err)
	}
	return writer.total, nil
}

// progressWriter receives the sideband progress stream and forwards
// notifications without ever blocking the transfer.
type progressWriter struct {
	ch    chan<- FetchProgress
	total int
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.total += len(p)
	if w.ch != nil {
		notification := FetchProgress{
			ReceivedBytes: w.total,
			Message:       strings.TrimRight(string(p), "\r\n"),
		}
		select {
		case w.ch <- notification:
		default:
		}
	}
	return len(p), nil
}
