package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmplsync/template_sync/internal/config"
	"github.com/tmplsync/template_sync/internal/runner"
)

// fakeApplier returns patch from Diff and calls apply for every Apply.
type fakeApplier struct {
	patch     string
	diffErr   error
	apply     func(attempt int) (*runner.Result, error)
	pathspecs [][]string
	applies   int
}

func (f *fakeApplier) Diff(_ context.Context, _, _ string, pathspecs []string) (string, error) {
	f.pathspecs = append(f.pathspecs, append([]string(nil), pathspecs...))
	return f.patch, f.diffErr
}

func (f *fakeApplier) Apply(context.Context, string) (*runner.Result, error) {
	f.applies++
	if f.apply == nil {
		return &runner.Result{}, nil
	}
	return f.apply(f.applies)
}

func applyFailure(stderr string) (*runner.Result, error) {
	res := &runner.Result{Stderr: stderr, ExitCode: 1}
	return res, &runner.ExitError{Command: "git apply", Result: res, Err: errors.New("exit status 1")}
}

const samplePatch = "diff --git a/x b/x\n"

func TestParseApplyErrors(t *testing.T) {
	stderr := `Checking patch packages/ui/src/index.ts...
error: patch failed: packages/ui/src/index.ts:12
error: packages/ui/src/index.ts: patch does not apply
error: apps/web/next.config.js: does not exist in index
error: could not build fake ancestor
warning: something else: ignored
error: patch failed: C:weird:path.txt:7
`
	got := parseApplyErrors(stderr)
	assert.Equal(t, []string{"packages/ui/src/index.ts", "apps/web/next.config.js", "C:weird:path.txt"}, got)
}

func TestParseConflicted(t *testing.T) {
	stderr := "Applied patch to 'package.json' with conflicts.\nU package.json\nU packages/ui/package.json\n"
	assert.Equal(t, []string{"package.json", "packages/ui/package.json"}, parseConflicted(stderr))
}

func TestApplySucceedsFirstTime(t *testing.T) {
	root := t.TempDir()
	git := &fakeApplier{patch: samplePatch}
	errLog := NewErrorLog("run")

	res, err := NewApplyEngine(git, root, 3).Run(context.Background(), "base", "head", NewExclusionSet("docs"), errLog)
	require.NoError(t, err)
	assert.Equal(t, Succeeded, res.Outcome)
	assert.Equal(t, 1, res.Attempts)
	assert.Zero(t, errLog.Len())

	written, err := os.ReadFile(filepath.Join(root, config.PatchFile))
	require.NoError(t, err)
	assert.Equal(t, samplePatch, string(written))
}

func TestApplyEmptyPatchIsNoop(t *testing.T) {
	git := &fakeApplier{patch: "  \n"}
	res, err := NewApplyEngine(git, t.TempDir(), 3).Run(context.Background(), "h", "h", NewExclusionSet(), NewErrorLog("run"))
	require.NoError(t, err)
	assert.Equal(t, Succeeded, res.Outcome)
	assert.True(t, res.Empty)
	assert.Zero(t, git.applies)
}

func TestApplyRetryWidensExclusions(t *testing.T) {
	git := &fakeApplier{
		patch: samplePatch,
		apply: func(attempt int) (*runner.Result, error) {
			if attempt == 1 {
				return applyFailure("error: src/a.ts: patch does not apply\n")
			}
			return &runner.Result{}, nil
		},
	}
	excl := NewExclusionSet("docs", "lib")
	errLog := NewErrorLog("run")

	res, err := NewApplyEngine(git, t.TempDir(), 3).Run(context.Background(), "base", "head", excl, errLog)
	require.NoError(t, err)

	assert.Equal(t, Succeeded, res.Outcome)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 3, excl.Len())
	require.Len(t, git.pathspecs, 2)
	assert.Len(t, git.pathspecs[1], len(git.pathspecs[0])+1)
	assert.Contains(t, git.pathspecs[1], ":!src/a.ts")

	require.Equal(t, 1, errLog.Len())
	entry := errLog.Entries()[0]
	assert.Equal(t, 0, entry.Round)
	assert.Equal(t, []string{"src/a.ts"}, entry.FailingPaths)
	assert.Equal(t, []string{"docs", "lib", "src/a.ts"}, entry.Exclusions)
}

func TestApplyGivesUpAfterMaxRetries(t *testing.T) {
	git := &fakeApplier{
		patch: samplePatch,
		apply: func(attempt int) (*runner.Result, error) {
			return applyFailure(fmt.Sprintf("error: file%d.ts: patch does not apply\n", attempt))
		},
	}
	excl := NewExclusionSet()
	errLog := NewErrorLog("run")

	res, err := NewApplyEngine(git, t.TempDir(), 2).Run(context.Background(), "base", "head", excl, errLog)
	require.NoError(t, err)

	assert.Equal(t, GaveUp, res.Outcome)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, git.applies)
	assert.Equal(t, 3, errLog.Len())
	assert.Equal(t, []string{"file1.ts", "file2.ts", "file3.ts"}, excl.Paths())
}

func TestApplySamePathTerminates(t *testing.T) {
	git := &fakeApplier{
		patch: samplePatch,
		apply: func(int) (*runner.Result, error) {
			return applyFailure("error: patch failed: same.ts:3\n")
		},
	}
	excl := NewExclusionSet()
	errLog := NewErrorLog("run")

	res, err := NewApplyEngine(git, t.TempDir(), 4).Run(context.Background(), "base", "head", excl, errLog)
	require.NoError(t, err)

	assert.Equal(t, GaveUp, res.Outcome)
	assert.Equal(t, 5, git.applies)
	assert.Equal(t, 1, excl.Len())
	assert.Equal(t, 5, errLog.Len())
}

func TestApplyZeroRetries(t *testing.T) {
	git := &fakeApplier{
		patch: samplePatch,
		apply: func(int) (*runner.Result, error) {
			return applyFailure("error: a.ts: patch does not apply\n")
		},
	}
	res, err := NewApplyEngine(git, t.TempDir(), 0).Run(context.Background(), "base", "head", NewExclusionSet(), NewErrorLog("run"))
	require.NoError(t, err)
	assert.Equal(t, GaveUp, res.Outcome)
	assert.Equal(t, 1, git.applies)
}

func TestApplyUnparseableFailureGivesUp(t *testing.T) {
	git := &fakeApplier{
		patch: samplePatch,
		apply: func(int) (*runner.Result, error) {
			return applyFailure("fatal: corrupt patch at line 4\n")
		},
	}
	errLog := NewErrorLog("run")

	res, err := NewApplyEngine(git, t.TempDir(), 3).Run(context.Background(), "base", "head", NewExclusionSet(), errLog)
	require.NoError(t, err)
	assert.Equal(t, GaveUp, res.Outcome)
	assert.Equal(t, 1, git.applies)
	require.Equal(t, 1, errLog.Len())
	assert.Equal(t, "fatal: corrupt patch at line 4", errLog.Entries()[0].Message)
	assert.Empty(t, errLog.Entries()[0].FailingPaths)
}

func TestApplyConflictsCountAsSuccess(t *testing.T) {
	git := &fakeApplier{
		patch: samplePatch,
		apply: func(int) (*runner.Result, error) {
			return applyFailure("error: patch failed: package.json:5\nFalling back to three-way merge...\nApplied patch to 'package.json' with conflicts.\nU package.json\n")
		},
	}
	excl := NewExclusionSet()
	errLog := NewErrorLog("run")

	res, err := NewApplyEngine(git, t.TempDir(), 3).Run(context.Background(), "base", "head", excl, errLog)
	require.NoError(t, err)
	assert.Equal(t, Succeeded, res.Outcome)
	assert.Equal(t, []string{"package.json"}, res.Conflicted)
	assert.Zero(t, excl.Len())
	assert.Zero(t, errLog.Len())
}

func TestApplyFatalErrors(t *testing.T) {
	t.Run("diff failure", func(t *testing.T) {
		git := &fakeApplier{diffErr: errors.New("bad revision")}
		_, err := NewApplyEngine(git, t.TempDir(), 3).Run(context.Background(), "base", "head", NewExclusionSet(), NewErrorLog("run"))
		assert.ErrorContains(t, err, "bad revision")
	})

	t.Run("git missing", func(t *testing.T) {
		git := &fakeApplier{
			patch: samplePatch,
			apply: func(int) (*runner.Result, error) {
				return &runner.Result{ExitCode: -1}, errors.New("executable file not found")
			},
		}
		_, err := NewApplyEngine(git, t.TempDir(), 3).Run(context.Background(), "base", "head", NewExclusionSet(), NewErrorLog("run"))
		assert.ErrorContains(t, err, "executable file not found")
	})
}
