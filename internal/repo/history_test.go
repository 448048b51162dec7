package repo

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commitAt(t *testing.T, r *git.Repository, dir, name string, when time.Time) plumbing.Hash {
	t.Helper()
	w, err := r.Worktree()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(when.String()), 0o644))
	_, err = w.Add(name)
	require.NoError(t, err)

	hash, err := w.Commit("commit "+name, &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: when},
	})
	require.NoError(t, err)
	return hash
}

func date(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

// setupHistoryRepo builds an upstream line published as template/main and an
// unrelated downstream root commit checked out as HEAD.
func setupHistoryRepo(t *testing.T) (string, []plumbing.Hash) {
	t.Helper()
	dir := t.TempDir()
	r, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	h1 := commitAt(t, r, dir, "a.txt", date("2022-12-01T00:00:00Z"))
	h2 := commitAt(t, r, dir, "b.txt", date("2023-02-01T00:00:00Z"))
	h3 := commitAt(t, r, dir, "c.txt", date("2023-03-01T00:00:00Z"))

	require.NoError(t, r.Storer.SetReference(
		plumbing.NewHashReference(plumbing.NewRemoteReferenceName("template", "main"), h3)))
	require.NoError(t, r.Storer.SetReference(
		plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("downstream"))))

	commitAt(t, r, dir, "own.txt", date("2023-01-01T00:00:00Z"))
	commitAt(t, r, dir, "own2.txt", date("2023-04-01T00:00:00Z"))

	return dir, []plumbing.Hash{h1, h2, h3}
}

func TestFirstCommitTime(t *testing.T) {
	dir, _ := setupHistoryRepo(t)

	first, err := NewHistory(dir).FirstCommitTime(context.Background())
	require.NoError(t, err)
	assert.True(t, first.Equal(date("2023-01-01T00:00:00Z")), "got %s", first)
}

func TestFirstCommitTimeEmptyRepository(t *testing.T) {
	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	_, err = NewHistory(dir).FirstCommitTime(context.Background())
	assert.ErrorIs(t, err, ErrNoHistory)
}

func TestFirstCommitTimeNotARepository(t *testing.T) {
	_, err := NewHistory(t.TempDir()).FirstCommitTime(context.Background())
	assert.Error(t, err)
}

func TestUpstreamHistoryOrderedOldestFirst(t *testing.T) {
	dir, hashes := setupHistoryRepo(t)

	records, err := NewHistory(dir).UpstreamHistory(context.Background(), "template", "main")
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, h := range hashes {
		assert.Equal(t, h.String(), records[i].Hash)
	}
	assert.True(t, records[0].Timestamp.Before(records[1].Timestamp))
	assert.True(t, records[1].Timestamp.Before(records[2].Timestamp))
}

func TestUpstreamHistoryMissingRemote(t *testing.T) {
	dir, _ := setupHistoryRepo(t)

	_, err := NewHistory(dir).UpstreamHistory(context.Background(), "nope", "main")
	assert.Error(t, err)
}

func TestRemoteHead(t *testing.T) {
	dir, hashes := setupHistoryRepo(t)

	head, err := NewHistory(dir).RemoteHead("template", "main")
	require.NoError(t, err)
	assert.Equal(t, hashes[2].String(), head)
}

func TestAddRemote(t *testing.T) {
	dir, _ := setupHistoryRepo(t)
	h := NewHistory(dir)

	require.NoError(t, h.AddRemote("template", "https://example.com/template.git"))
	assert.ErrorIs(t, h.AddRemote("template", "https://example.com/other.git"), ErrRemoteExists)
	assert.ErrorIs(t, h.AddRemote("-bad", "https://example.com/x.git"), ErrInvalidRemoteName)

	r, err := git.PlainOpen(dir)
	require.NoError(t, err)
	remote, err := r.Remote("template")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/template.git"}, remote.Config().URLs)
}
