package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultExclusions are never synced from the template.
var DefaultExclusions = []string{
	".tkb",
	"CHANGELOG.md",
	"README.md",
	"**/CHANGELOG.md",
	"**/FUNDING.md",
	"SECURITY.md",
	"TODO.md",
	"FEATURED.md",
	"docs",
	"lib",
	"scripts/rebrand.config.json",
	"pnpm-lock.yaml",
	".lst",
	".vscode/settings.json",
}

// OptionalPaths are template features a downstream repository may delete.
// Missing ones are excluded so the sync does not bring them back.
var OptionalPaths = []string{
	".github/workflows/docs.yml",
	"scripts/templates",
	"examples/express",
	"examples/nextjs/src/app/button.tsx",
	"examples/nextjs/src/app/button.module.css",
	"examples/remix",
	"packages/logger",
	"packages/jest-presets",
	"tsconfig.docs.json",
	"typedoc.config.js",
}

// ConditionalRule excludes Dependents when none of Probes exist.
type ConditionalRule struct {
	Probes     []string
	Dependents []string
}

// ConditionalRules tie generator and doc scripts to the feature they serve.
var ConditionalRules = []ConditionalRule{
	{
		Probes:     []string{"scripts/templates"},
		Dependents: []string{"component-generator.md", "plopfile.js", "scripts/rc.ts", "scripts/hook.ts"},
	},
	{
		Probes:     []string{"docs"},
		Dependents: []string{"scripts/add-frontmatter.mjs", "scripts/add-frontmatter.ts", "scripts/doc.js", "scripts/doc.ts"},
	},
	{
		Probes:     []string{"scripts/lite.js"},
		Dependents: []string{"scripts/lite.js", "scripts/lite.ts"},
	},
	{
		Probes:     []string{"scripts/rebrand.js", "scripts/rebrand.ts"},
		Dependents: []string{"scripts/rebrander.js", "scripts/rebrander.ts", "scripts/rebrand.js", "scripts/rebrand.ts"},
	},
}

const maxConcurrentProbes = 8

// ProbeFunc reports whether path exists in the downstream repository.
type ProbeFunc func(ctx context.Context, path string) (bool, error)

// StatProbe probes paths relative to root on the local filesystem.
func StatProbe(root string) ProbeFunc {
	return func(ctx context.Context, path string) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		_, err := os.Stat(filepath.Join(root, filepath.FromSlash(path)))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, os.ErrNotExist):
			return false, nil
		default:
			return false, err
		}
	}
}

// ExclusionSet is the ordered list of paths withheld from the diff. It only
// grows during a run.
type ExclusionSet struct {
	paths []string
	seen  mapset.Set[string]
}

// NewExclusionSet creates a set holding paths in order, duplicates included.
func NewExclusionSet(paths ...string) *ExclusionSet {
	s := &ExclusionSet{seen: mapset.NewThreadUnsafeSet[string]()}
	for _, p := range paths {
		s.paths = append(s.paths, p)
		s.seen.Add(p)
	}
	return s
}

// Add appends path unless it is already excluded and reports whether it was added.
func (s *ExclusionSet) Add(path string) bool {
	if !s.seen.Add(path) {
		return false
	}
	s.paths = append(s.paths, path)
	return true
}

// Contains reports whether path is excluded
func (s *ExclusionSet) Contains(path string) bool {
	return s.seen.Contains(path)
}

// Len is the number of entries, duplicates included
func (s *ExclusionSet) Len() int {
	return len(s.paths)
}

// Paths returns a snapshot of the excluded paths
func (s *ExclusionSet) Paths() []string {
	return append([]string(nil), s.paths...)
}

// Pathspecs renders every entry as a git exclude pathspec.
func (s *ExclusionSet) Pathspecs() []string {
	specs := make([]string, len(s.paths))
	for i, p := range s.paths {
		specs[i] = ":!" + p
	}
	return specs
}

// ExclusionSetBuilder computes the exclusion set of a run.
type ExclusionSetBuilder struct {
	Static      []string
	Optional    []string
	Conditional []ConditionalRule
	Probe       ProbeFunc
}

// NewExclusionSetBuilder returns a builder with the default rules for the
// repository at root. markerFile is always excluded.
func NewExclusionSetBuilder(root, markerFile string) *ExclusionSetBuilder {
	static := append([]string(nil), DefaultExclusions...)
	if markerFile != "" {
		static = append(static, markerFile)
	}
	return &ExclusionSetBuilder{
		Static:      static,
		Optional:    OptionalPaths,
		Conditional: ConditionalRules,
		Probe:       StatProbe(root),
	}
}

// Build returns static exclusions, then callerExcludes verbatim, then every
// optional path that is missing, then dependents of conditional rules whose
// probes are all missing.
func (b *ExclusionSetBuilder) Build(ctx context.Context, callerExcludes []string) (*ExclusionSet, error) {
	var probes []string
	probes = append(probes, b.Optional...)
	for _, rule := range b.Conditional {
		probes = append(probes, rule.Probes...)
	}

	exists, err := b.probeAll(ctx, probes)
	if err != nil {
		return nil, err
	}

	set := NewExclusionSet(b.Static...)
	for _, p := range callerExcludes {
		set.paths = append(set.paths, p)
		set.seen.Add(p)
	}
	for _, p := range b.Optional {
		if !exists[p] {
			logrus.WithField("path", p).Debug("Optional path missing, excluding")
			set.Add(p)
		}
	}
	for _, rule := range b.Conditional {
		if anyExists(exists, rule.Probes) {
			continue
		}
		for _, dep := range rule.Dependents {
			set.Add(dep)
		}
	}
	return set, nil
}

func anyExists(exists map[string]bool, paths []string) bool {
	for _, p := range paths {
		if exists[p] {
			return true
		}
	}
	return false
}

// probeAll runs the probes concurrently and returns existence by path.
func (b *ExclusionSetBuilder) probeAll(ctx context.Context, paths []string) (map[string]bool, error) {
	results := make([]bool, len(paths))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(maxConcurrentProbes)
	for i, p := range paths {
		eg.Go(func() error {
			ok, err := b.Probe(egCtx, p)
			if err != nil {
				return fmt.Errorf("failed to probe %s: %w", p, err)
			}
			results[i] = ok
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	exists := make(map[string]bool, len(paths))
	for i, p := range paths {
		exists[p] = exists[p] || results[i]
	}
	return exists, nil
}
