// Package sync brings template changes into a downstream repository. It
// resolves the base commit, builds the exclusion set, applies the restricted
// diff with adaptive retries and settles manifest conflicts.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tmplsync/template_sync/internal/config"
	"github.com/tmplsync/template_sync/internal/manifest"
	"github.com/tmplsync/template_sync/internal/repo"
	"github.com/tmplsync/template_sync/internal/runner"
)

// ErrDirtyTree is returned when the working tree has uncommitted changes.
var ErrDirtyTree = errors.New("working tree has uncommitted changes")

// Workflows that reference the marker file and must not keep doing so downstream
var scrubbedWorkflows = []string{
	".github/workflows/upgrade.yml",
	".github/workflows/docs.yml",
}

// Leftovers removed by the cleanup step in addition to the backup dir and patch
var cleanupPaths = []string{".logs", ".logs2"}

// GitClient is the porcelain the Service drives through the git binary.
type GitClient interface {
	PatchApplier
	IsClean(ctx context.Context) (bool, error)
	Fetch(ctx context.Context, remote string) error
}

// Metadata reads and updates repository metadata without the git binary.
type Metadata interface {
	HistoryReader
	RemoteHead(remote, branch string) (string, error)
	AddRemote(name, url string) error
}

// Report summarizes a sync run
type Report struct {
	RunID   string
	Base    string
	Head    string
	DryRun  bool
	Preview string
	Apply   *ApplyResult
	// Manifests holds one report per manifest policy that ran.
	Manifests       []*manifest.Report
	MarkerWritten   bool
	InstallFailed   bool
	ErrorLogWritten bool
	Failures        int
}

// Degraded reports soft failures: files skipped after retries or a failed reinstall.
func (r *Report) Degraded() bool {
	return r.InstallFailed || (r.Apply != nil && r.Apply.Outcome == GaveUp)
}

// Service orchestrates one template sync run
type Service struct {
	opts    config.Options
	git     GitClient
	meta    Metadata
	runner  runner.Runner
	out     io.Writer
	confirm func(question string) bool
	runID   string
}

// ServiceOption customizes a Service
type ServiceOption func(*Service)

// WithOutput sets where the dry-run preview is printed
func WithOutput(w io.Writer) ServiceOption {
	return func(s *Service) { s.out = w }
}

// WithConfirm enables interactive questions such as the cleanup prompt.
func WithConfirm(fn func(question string) bool) ServiceOption {
	return func(s *Service) { s.confirm = fn }
}

// WithRunID overrides the generated run id
func WithRunID(id string) ServiceOption {
	return func(s *Service) { s.runID = id }
}

// NewService creates a new sync service
func NewService(opts config.Options, git GitClient, meta Metadata, r runner.Runner, options ...ServiceOption) *Service {
	s := &Service{
		opts:   opts,
		git:    git,
		meta:   meta,
		runner: r,
		out:    os.Stdout,
		runID:  uuid.NewString(),
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Run performs the sync. Fatal failures are returned as errors; soft failures
// are reported through the Report and the error log.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: s.runID, DryRun: s.opts.DryRun}
	logger := logrus.WithField("run", s.runID)

	if err := repo.ValidateRemoteName(s.opts.RemoteName); err != nil {
		return report, err
	}

	if !s.opts.SkipCleanCheck {
		clean, err := s.git.IsClean(ctx)
		if err != nil {
			return report, err
		}
		if !clean {
			return report, ErrDirtyTree
		}
	}

	if !s.opts.DryRun {
		if err := os.RemoveAll(s.path(s.opts.BackupDir)); err != nil {
			return report, fmt.Errorf("failed to reset backup dir: %w", err)
		}
	}

	if err := s.meta.AddRemote(s.opts.RemoteName, s.opts.TemplateURL); err != nil {
		if !errors.Is(err, repo.ErrRemoteExists) {
			return report, err
		}
		logger.WithField("remote", s.opts.RemoteName).Debug("Remote already exists")
	}

	logger.WithField("remote", s.opts.RemoteName).Info("Fetching template")
	if err := s.git.Fetch(ctx, s.opts.RemoteName); err != nil {
		return report, err
	}

	head, err := s.meta.RemoteHead(s.opts.RemoteName, s.opts.Branch)
	if err != nil {
		return report, fmt.Errorf("failed to resolve template head: %w", err)
	}
	report.Head = head

	resolver := NewBaseCommitResolver(s.opts.Root, s.meta, s.opts.RemoteName, s.opts.Branch)
	base, err := resolver.Resolve(ctx, s.opts.From, s.opts.LastCommitFile)
	if err != nil {
		return report, err
	}
	report.Base = base
	logger = logger.WithFields(logrus.Fields{"base": base, "head": head})

	excl, err := NewExclusionSetBuilder(s.opts.Root, s.opts.LastCommitFile).Build(ctx, s.opts.ExcludePaths)
	if err != nil {
		return report, err
	}
	logger.WithField("exclusions", excl.Len()).Debug("Built exclusion set")

	if s.opts.DryRun {
		return report, s.preview(ctx, report, base, head, excl)
	}

	errLog := NewErrorLog(s.runID)
	defer func() {
		report.Failures = errLog.Len()
		written, err := errLog.Write(s.opts.Root, config.ErrorLogFile)
		if err != nil {
			logger.WithError(err).Error("Failed to write error log")
		}
		report.ErrorLogWritten = written
	}()

	engine := NewApplyEngine(s.git, s.opts.Root, s.opts.MaxRetries)
	result, err := engine.Run(ctx, base, head, excl, errLog)
	if err != nil {
		return report, err
	}
	report.Apply = result

	if err := s.writeMarker(head); err != nil {
		return report, err
	}
	report.MarkerWritten = true

	if len(result.Conflicted) > 0 {
		for _, cfg := range ManifestPolicies(s.opts.Root, s.opts.BackupDir, result.Conflicted) {
			mr, err := manifest.Resolve(ctx, cfg)
			if mr != nil {
				report.Manifests = append(report.Manifests, mr)
			}
			if err != nil {
				return report, fmt.Errorf("failed to resolve manifest conflicts: %w", err)
			}
		}
	}

	if !s.opts.SkipInstall {
		if err := s.reinstall(ctx); err != nil {
			logger.WithError(err).Warn("Dependency reinstall failed")
			report.InstallFailed = true
		}
	}

	s.scrubWorkflows()

	if s.opts.Cleanup || (s.confirm != nil && s.confirm("Remove backup and log files?")) {
		s.cleanup()
	}

	logger.WithField("outcome", result.Outcome).Info("Template sync finished")
	return report, nil
}

func (s *Service) path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(s.opts.Root, filepath.FromSlash(rel))
}

func (s *Service) preview(ctx context.Context, report *Report, base, head string, excl *ExclusionSet) error {
	patch, err := s.git.Diff(ctx, base, head, excl.Pathspecs())
	if err != nil {
		return err
	}
	report.Preview = patch
	if strings.TrimSpace(patch) == "" {
		_, err = fmt.Fprintln(s.out, "No changes to apply")
		return err
	}
	_, err = io.WriteString(s.out, patch)
	return err
}

func (s *Service) writeMarker(head string) error {
	if err := os.WriteFile(s.path(s.opts.LastCommitFile), []byte(head), 0o644); err != nil {
		return fmt.Errorf("failed to write marker file: %w", err)
	}
	return nil
}

func (s *Service) reinstall(ctx context.Context) error {
	args := strings.Fields(s.opts.InstallCommand)
	if len(args) == 0 {
		return nil
	}
	logrus.WithField("command", s.opts.InstallCommand).Info("Reinstalling dependencies")
	_, err := s.runner.Run(ctx, s.opts.Root, args[0], args[1:]...)
	return err
}

// scrubWorkflows removes lines naming the marker file from the template's
// upgrade workflows. Failures are logged only.
func (s *Service) scrubWorkflows() {
	marker := filepath.Base(s.opts.LastCommitFile)
	for _, rel := range scrubbedWorkflows {
		path := s.path(rel)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			logrus.WithError(err).WithField("file", rel).Warn("Failed to read workflow")
			continue
		}

		lines := strings.SplitAfter(string(data), "\n")
		kept := lines[:0]
		for _, line := range lines {
			if !strings.Contains(line, marker) {
				kept = append(kept, line)
			}
		}
		if len(kept) == len(lines) {
			continue
		}
		if err := os.WriteFile(path, []byte(strings.Join(kept, "")), 0o644); err != nil {
			logrus.WithError(err).WithField("file", rel).Warn("Failed to update workflow")
			continue
		}
		logrus.WithField("file", rel).Debug("Removed marker references from workflow")
	}
}

func (s *Service) cleanup() {
	paths := append([]string{s.opts.BackupDir, config.PatchFile}, cleanupPaths...)
	for _, rel := range paths {
		if err := os.RemoveAll(s.path(rel)); err != nil {
			logrus.WithError(err).WithField("path", rel).Warn("Failed to clean up")
		}
	}
	logrus.Debug("Removed backup and log files")
}
