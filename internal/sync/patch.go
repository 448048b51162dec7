package sync

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/tmplsync/template_sync/internal/config"
	"github.com/tmplsync/template_sync/internal/runner"
)

// Outcome is the terminal state of an apply run
type Outcome int

const (
	// Succeeded means the patch applied, possibly after retries and possibly
	// leaving three-way conflict markers behind.
	Succeeded Outcome = iota
	// GaveUp means the retry budget ran out or the failure could not be parsed.
	GaveUp
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case GaveUp:
		return "gave_up"
	default:
		return "unknown"
	}
}

// PatchApplier generates and applies diffs in the working tree.
type PatchApplier interface {
	Diff(ctx context.Context, base, head string, pathspecs []string) (string, error)
	Apply(ctx context.Context, patchFile string) (*runner.Result, error)
}

// ApplyResult describes how an apply run ended.
type ApplyResult struct {
	Outcome  Outcome
	Attempts int
	// Empty is set when the diff had no content.
	Empty bool
	// Conflicted lists files left with conflict markers by the three-way merge.
	Conflicted []string
}

// ApplyEngine applies the template diff, widening the exclusion set each time
// a file fails to apply.
type ApplyEngine struct {
	git        PatchApplier
	root       string
	patchFile  string
	maxRetries int
}

// NewApplyEngine creates an engine writing the scratch patch under root.
// maxRetries counts retries, so at most maxRetries+1 attempts are made.
func NewApplyEngine(git PatchApplier, root string, maxRetries int) *ApplyEngine {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &ApplyEngine{git: git, root: root, patchFile: config.PatchFile, maxRetries: maxRetries}
}

// Run applies the diff base..head. Failing files are added to excl and every
// failed attempt is recorded in errLog. Only diff, write and spawn failures are
// returned as errors.
func (e *ApplyEngine) Run(ctx context.Context, base, head string, excl *ExclusionSet, errLog *ErrorLog) (*ApplyResult, error) {
	result := &ApplyResult{}

	for retries := 0; ; retries++ {
		result.Attempts++
		logger := logrus.WithFields(logrus.Fields{
			"attempt":    result.Attempts,
			"exclusions": excl.Len(),
		})

		patch, err := e.git.Diff(ctx, base, head, excl.Pathspecs())
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(e.root, e.patchFile), []byte(patch), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write patch: %w", err)
		}
		logger.WithField("size", humanize.Bytes(uint64(len(patch)))).Debug("Generated patch")

		if strings.TrimSpace(patch) == "" {
			logger.Info("No changes to apply")
			result.Outcome = Succeeded
			result.Empty = true
			return result, nil
		}

		_, err = e.git.Apply(ctx, e.patchFile)
		if err == nil {
			logger.Info("Applied template changes")
			result.Outcome = Succeeded
			return result, nil
		}
		stderr, ok := runner.Stderr(err)
		if !ok {
			return nil, fmt.Errorf("failed to apply patch: %w", err)
		}

		conflicted := parseConflicted(stderr)
		failing := withoutPaths(parseApplyErrors(stderr), conflicted)
		if len(failing) == 0 {
			if len(conflicted) > 0 {
				logger.WithField("conflicted", len(conflicted)).Warn("Applied template changes with conflicts")
				result.Outcome = Succeeded
				result.Conflicted = conflicted
				return result, nil
			}
			errLog.Add(Entry{
				Round:      retries,
				Exclusions: excl.Paths(),
				Message:    strings.TrimSpace(stderr),
			})
			logger.WithField("stderr", strings.TrimSpace(stderr)).Error("Patch failed without a file to exclude")
			result.Outcome = GaveUp
			return result, nil
		}

		for _, p := range failing {
			if excl.Add(p) {
				logger.WithField("path", p).Debug("Excluding failing file")
			}
		}
		errLog.Add(Entry{
			Round:        retries,
			FailingPaths: failing,
			Exclusions:   excl.Paths(),
		})

		if retries >= e.maxRetries {
			logger.WithField("max_retries", e.maxRetries).Warn("Retry budget exhausted, some files were not updated")
			result.Outcome = GaveUp
			return result, nil
		}
		logger.WithField("failing", failing).Warn("Patch failed, retrying without failing files")
	}
}

const (
	errorPrefix       = "error: "
	patchFailedPrefix = "patch failed: "
)

// parseApplyErrors extracts the file paths from git apply "error:" lines in
// order of first appearance.
func parseApplyErrors(stderr string) []string {
	var paths []string
	seen := mapset.NewThreadUnsafeSet[string]()

	scanner := bufio.NewScanner(strings.NewReader(stderr))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		rest, ok := strings.CutPrefix(line, errorPrefix)
		if !ok {
			continue
		}

		var path string
		if failed, ok := strings.CutPrefix(rest, patchFailedPrefix); ok {
			path = stripLineNumber(failed)
		} else if before, _, found := strings.Cut(rest, ": "); found {
			path = before
		}
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if seen.Add(path) {
			paths = append(paths, path)
		}
	}
	return paths
}

// withoutPaths drops from paths every entry of skip. Older git versions print
// "error: patch failed" before falling back to a three-way merge, so files
// that ended up merged with conflicts are not failures.
func withoutPaths(paths, skip []string) []string {
	if len(skip) == 0 {
		return paths
	}
	drop := mapset.NewThreadUnsafeSet(skip...)
	var kept []string
	for _, p := range paths {
		if !drop.Contains(p) {
			kept = append(kept, p)
		}
	}
	return kept
}

// stripLineNumber turns "path/to/file:12" into "path/to/file".
func stripLineNumber(s string) string {
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return s
	}
	if _, err := strconv.Atoi(s[i+1:]); err != nil {
		return s
	}
	return s[:i]
}

// parseConflicted extracts the "U <path>" lines git apply --3way prints for
// files merged with conflicts.
func parseConflicted(stderr string) []string {
	var paths []string
	seen := mapset.NewThreadUnsafeSet[string]()

	scanner := bufio.NewScanner(strings.NewReader(stderr))
	for scanner.Scan() {
		path, ok := strings.CutPrefix(scanner.Text(), "U ")
		path = strings.TrimSpace(path)
		if ok && path != "" && seen.Add(path) {
			paths = append(paths, path)
		}
	}
	return paths
}
