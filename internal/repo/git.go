package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tmplsync/template_sync/internal/retry"
	"github.com/tmplsync/template_sync/internal/runner"
)

// Git runs git porcelain commands rooted at a repository directory.
type Git struct {
	root   string
	runner runner.Runner
}

// NewGit creates a Git bound to root
func NewGit(root string, r runner.Runner) *Git {
	return &Git{root: root, runner: r}
}

// Root returns the repository root the commands run in
func (g *Git) Root() string {
	return g.root
}

// IsClean reports whether the worktree and the index have no changes against
// HEAD. Untracked files are ignored.
func (g *Git) IsClean(ctx context.Context) (bool, error) {
	var worktreeDirty, indexDirty bool

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() (err error) {
		worktreeDirty, err = g.quietDiff(ctx, "diff", "--quiet")
		return err
	})
	eg.Go(func() (err error) {
		indexDirty, err = g.quietDiff(ctx, "diff", "--cached", "--quiet")
		return err
	})
	if err := eg.Wait(); err != nil {
		return false, err
	}
	return !worktreeDirty && !indexDirty, nil
}

// quietDiff runs a `git diff --quiet` variant; exit status 1 means differences.
func (g *Git) quietDiff(ctx context.Context, args ...string) (bool, error) {
	_, err := g.runner.Run(ctx, g.root, "git", args...)
	if err == nil {
		return false, nil
	}
	var exitErr *runner.ExitError
	if errors.As(err, &exitErr) && exitErr.Result.ExitCode == 1 {
		return true, nil
	}
	return false, fmt.Errorf("failed to check working tree: %w", err)
}

// Fetch fetches the remote, retrying transient failures with backoff.
func (g *Git) Fetch(ctx context.Context, remote string) error {
	if err := ValidateRemoteName(remote); err != nil {
		return err
	}
	_, err := retry.Command(ctx, retry.FetchDefaults(), "git fetch", func(ctx context.Context) (*runner.Result, error) {
		return g.runner.Run(ctx, g.root, "git", "fetch", remote)
	})
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", remote, err)
	}
	logrus.WithField("remote", remote).Debug("Fetched latest changes")
	return nil
}

// Diff returns the unified diff between base and head restricted by pathspecs.
// The trailing "." keeps negative pathspecs meaningful.
func (g *Git) Diff(ctx context.Context, base, head string, pathspecs []string) (string, error) {
	if err := ValidateRef(base); err != nil {
		return "", err
	}
	if err := ValidateRef(head); err != nil {
		return "", err
	}
	args := make([]string, 0, len(pathspecs)+6)
	args = append(args, "diff", "--binary", base, head, "--")
	args = append(args, pathspecs...)
	args = append(args, ".")

	result, err := g.runner.Run(ctx, g.root, "git", args...)
	if err != nil {
		return "", fmt.Errorf("failed to diff %s..%s: %w", base, head, err)
	}
	return result.Stdout, nil
}

// Apply applies a patch file with a whitespace-tolerant three-way merge. The
// returned error keeps the captured stderr reachable through runner.Stderr.
func (g *Git) Apply(ctx context.Context, patchFile string) (*runner.Result, error) {
	return g.runner.Run(ctx, g.root, "git", "apply", "--3way", "--ignore-space-change", "--ignore-whitespace", patchFile)
}
