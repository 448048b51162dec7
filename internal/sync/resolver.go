package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tmplsync/template_sync/internal/repo"
)

// FallbackCommit is the oldest template commit the sync is known to work from.
// It anchors the diff when the downstream history predates every template commit.
const FallbackCommit = "159692443c7a196d86c2612f752ae1d0786b004b"

// HistoryReader reads the commit history needed to guess a base commit.
type HistoryReader interface {
	FirstCommitTime(ctx context.Context) (time.Time, error)
	UpstreamHistory(ctx context.Context, remote, branch string) ([]repo.CommitRecord, error)
}

// BaseCommitResolver determines the template commit the downstream repository
// last agreed with.
type BaseCommitResolver struct {
	root    string
	history HistoryReader
	remote  string
	branch  string
}

// NewBaseCommitResolver creates a resolver reading history of remote/branch
func NewBaseCommitResolver(root string, history HistoryReader, remote, branch string) *BaseCommitResolver {
	return &BaseCommitResolver{root: root, history: history, remote: remote, branch: branch}
}

// Resolve returns explicitRef when given, else the marker file contents, else
// the earliest template commit not older than the first downstream commit.
func (r *BaseCommitResolver) Resolve(ctx context.Context, explicitRef, markerFile string) (string, error) {
	if ref := strings.TrimSpace(explicitRef); ref != "" {
		logrus.WithField("base", ref).Debug("Using explicit base commit")
		return ref, nil
	}

	if marker, ok := r.readMarker(markerFile); ok {
		logrus.WithFields(logrus.Fields{
			"base":   marker,
			"marker": markerFile,
		}).Debug("Using base commit from marker file")
		return marker, nil
	}

	return r.fromHistory(ctx)
}

func (r *BaseCommitResolver) readMarker(markerFile string) (string, bool) {
	if markerFile == "" {
		return "", false
	}
	path := markerFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.root, markerFile)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logrus.WithError(err).WithField("marker", markerFile).Warn("Marker file unreadable, guessing base commit")
		}
		return "", false
	}
	marker := strings.TrimSpace(string(data))
	return marker, marker != ""
}

func (r *BaseCommitResolver) fromHistory(ctx context.Context) (string, error) {
	var (
		first    time.Time
		upstream []repo.CommitRecord
		noLocal  bool
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		t, err := r.history.FirstCommitTime(egCtx)
		if errors.Is(err, repo.ErrNoHistory) {
			noLocal = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read first commit date: %w", err)
		}
		first = t
		return nil
	})
	eg.Go(func() error {
		h, err := r.history.UpstreamHistory(egCtx, r.remote, r.branch)
		if err != nil {
			return fmt.Errorf("failed to read %s/%s history: %w", r.remote, r.branch, err)
		}
		upstream = h
		return nil
	})
	if err := eg.Wait(); err != nil {
		return "", err
	}

	if noLocal {
		logrus.Warn("Repository has no commits, using fallback base commit")
		return FallbackCommit, nil
	}

	if hash, ok := earliestSince(upstream, first); ok {
		logrus.WithFields(logrus.Fields{
			"base":         hash,
			"first_commit": first.Format(time.RFC3339),
		}).Info("Guessed base commit from history")
		return hash, nil
	}

	logrus.WithField("first_commit", first.Format(time.RFC3339)).Warn("No template commit after first commit, using fallback base commit")
	return FallbackCommit, nil
}

// earliestSince returns the oldest commit whose timestamp is at or after since.
func earliestSince(history []repo.CommitRecord, since time.Time) (string, bool) {
	var (
		best  repo.CommitRecord
		found bool
	)
	for _, c := range history {
		if c.Timestamp.Before(since) {
			continue
		}
		if !found || c.Timestamp.Before(best.Timestamp) {
			best, found = c, true
		}
	}
	return best.Hash, found
}
