package git

import (
	"testing"

	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/require"
)

func addRemote(t *testing.T, dir, name string) {
	t.Helper()
	repo, err := openRepo(dir)
	require.NoError(t, err)
	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{Name: name, URLs: []string{"https://example.com/" + name + ".git"}})
	require.NoError(t, err)
}

func TestListRemotes(t *testing.T) {
	dir, _ := initRepo(t)
	addRemote(t, dir, "second")
	addRemote(t, dir, "origin")

	remotes, err := ListRemotes(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"origin", "second"}, remotes)
}

func TestDefaultRemote_Origin(t *testing.T) {
	dir, _ := initRepo(t)
	addRemote(t, dir, "origin")
	addRemote(t, dir, "second")

	name, err := DefaultRemote(dir)
	require.NoError(t, err)
	require.Equal(t, "origin", name)
}

func TestDefaultRemote_Single(t *testing.T) {
	dir, _ := initRepo(t)
	addRemote(t, dir, "alternate")

	name, err := DefaultRemote(dir)
	require.NoError(t, err)
	require.Equal(t, "alternate", name)
}

func TestDefaultRemote_Inconclusive(t *testing.T) {
	dir, _ := initRepo(t)
	addRemote(t, dir, "alternate")
	addRemote(t, dir, "someremote")

	_, err := DefaultRemote(dir)
	require.ErrorIs(t, err, ErrNoDefaultRemote)
}

func TestDefaultRemote_None(t *testing.T) {
	dir, _ := initRepo(t)

	_, err := DefaultRemote(dir)
	require.ErrorIs(t, err, ErrNoDefaultRemote)
}

func TestFetch_UpdatesTrackingRef(t *testing.T) {
	clone1Dir, clone1, clone2Dir, clone2 := initOriginPair(t)

	commit2 := commitFile(t, clone2, clone2Dir, "test2.txt", "test", "commit2")
	pushMaster(t, clone2)

	_, err := Fetch(clone1Dir, "master", nil, nil)
	require.NoError(t, err)

	ref, err := clone1.Reference(plumbing.NewRemoteReferenceName("origin", "master"), true)
	require.NoError(t, err)
	require.Equal(t, commit2, ref.Hash())
}

func TestFetch_AlreadyUpToDate(t *testing.T) {
	clone1Dir, _, _, _ := initOriginPair(t)

	received, err := Fetch(clone1Dir, "master", nil, nil)
	require.NoError(t, err)
	require.Zero(t, received)
}

func TestProgressWriter_NeverBlocks(t *testing.T) {
	ch := make(chan FetchProgress, 1)
	w := &progressWriter{ch: ch}

	// first notification fills the buffer, the rest are dropped
	for range 10 {
		_, err := w.Write([]byte("Receiving objects: 42%\r"))
		require.NoError(t, err)
	}
	require.Equal(t, 10*len("Receiving objects: 42%\r"), w.total)

	notification := <-ch
	require.Equal(t, "Receiving objects: 42%", notification.Message)
	require.Positive(t, notification.ReceivedBytes)
}

func TestRemoteOfRef(t *testing.T) {
	cfg := gitconfig.NewConfig()
	cfg.Remotes["origin"] = &gitconfig.RemoteConfig{Name: "origin"}
	cfg.Remotes["origin/nested"] = &gitconfig.RemoteConfig{Name: "origin/nested"}

	require.Equal(t, "origin", remoteOfRef(cfg, "origin/feature"))
	require.Equal(t, "origin/nested", remoteOfRef(cfg, "origin/nested/feature"))
	require.Equal(t, "", remoteOfRef(cfg, "elsewhere/feature"))
}
