package repo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// CommitRecord is a commit hash with its author timestamp.
type CommitRecord struct {
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
}

// History reads commits and refs through go-git. The repository is opened on
// every call so refs written by an external `git fetch` are always visible.
type History struct {
	root string
}

// NewHistory creates a History for the repository at root
func NewHistory(root string) *History {
	return &History{root: root}
}

func (h *History) open() (*git.Repository, error) {
	r, err := git.PlainOpen(h.root)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository at %s: %w", h.root, err)
	}
	return r, nil
}

// FirstCommitTime returns the timestamp of the oldest commit reachable from HEAD.
func (h *History) FirstCommitTime(ctx context.Context) (time.Time, error) {
	r, err := h.open()
	if err != nil {
		return time.Time{}, err
	}
	head, err := r.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return time.Time{}, ErrNoHistory
		}
		return time.Time{}, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	records, err := h.collect(ctx, r, head.Hash())
	if err != nil {
		return time.Time{}, err
	}
	if len(records) == 0 {
		return time.Time{}, ErrNoHistory
	}
	return records[0].Timestamp, nil
}

// UpstreamHistory returns every commit reachable from <remote>/<branch>, oldest first.
func (h *History) UpstreamHistory(ctx context.Context, remote, branch string) ([]CommitRecord, error) {
	r, err := h.open()
	if err != nil {
		return nil, err
	}
	ref, err := r.Reference(plumbing.NewRemoteReferenceName(remote, branch), true)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s/%s: %w", remote, branch, err)
	}
	return h.collect(ctx, r, ref.Hash())
}

// collect walks history from tip and sorts it by timestamp ascending. Commits
// with equal timestamps keep their walk order reversed (parents first).
func (h *History) collect(ctx context.Context, r *git.Repository, tip plumbing.Hash) ([]CommitRecord, error) {
	iter, err := r.Log(&git.LogOptions{From: tip})
	if err != nil {
		return nil, fmt.Errorf("failed to read history from %s: %w", tip, err)
	}
	defer iter.Close()

	var records []CommitRecord
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		records = append(records, CommitRecord{Hash: c.Hash.String(), Timestamp: c.Author.When})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}

	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	return records, nil
}

// RemoteHead resolves <remote>/<branch> to a commit hash.
func (h *History) RemoteHead(remote, branch string) (string, error) {
	r, err := h.open()
	if err != nil {
		return "", err
	}
	ref, err := r.Reference(plumbing.NewRemoteReferenceName(remote, branch), true)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s/%s: %w", remote, branch, err)
	}
	return ref.Hash().String(), nil
}

// AddRemote configures a new remote. An existing remote of the same name
// yields ErrRemoteExists and is left untouched.
func (h *History) AddRemote(name, url string) error {
	if err := ValidateRemoteName(name); err != nil {
		return err
	}
	r, err := h.open()
	if err != nil {
		return err
	}
	_, err = r.CreateRemote(&config.RemoteConfig{Name: name, URLs: []string{url}})
	if errors.Is(err, git.ErrRemoteExists) {
		return ErrRemoteExists
	}
	if err != nil {
		return fmt.Errorf("failed to add remote %s: %w", name, err)
	}
	return nil
}
