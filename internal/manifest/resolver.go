// Package manifest resolves conflict markers left in JSON manifest files by a
// three-way apply. Each conflicted file is split into its two sides, both are
// parsed into ordered trees, and differing key paths are settled by a
// declarative list of strategies.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnresolved is returned when no strategy settles a key path.
	ErrUnresolved = errors.New("unresolved manifest conflict")
	// ErrUnknownStrategy is returned for a strategy name that is neither built in nor custom.
	ErrUnknownStrategy = errors.New("unknown merge strategy")
)

// Rule overrides the default strategies for key paths matching Path, a dot
// separated pattern such as "devDependencies.typedoc*".
type Rule struct {
	Path       string
	Strategies []string
}

// Config selects manifest files and the policy applied to them.
type Config struct {
	Root    string
	Include []string
	Exclude []string
	// Files restricts candidates to these slash separated paths instead of
	// walking Root. Nil means walk.
	Files            []string
	DefaultStrategy  []string
	Rules            []Rule
	CustomStrategies map[string]StrategyFunc
	// BackupDir receives the conflicted originals before they are rewritten.
	// Relative paths are taken from Root. Empty disables backups.
	BackupDir string
}

// Report lists what happened to every candidate file.
type Report struct {
	Resolved []string
	Skipped  []string
	Failed   []string
}

// Resolve rewrites every conflicted candidate file of cfg. Files that fail are
// left untouched and reported; the returned error joins their causes.
func Resolve(ctx context.Context, cfg Config) (*Report, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	files, err := cfg.candidates()
	if err != nil {
		return nil, err
	}

	report := &Report{}
	var errs []error
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		logger := logrus.WithField("file", rel)

		resolved, err := cfg.resolveFile(ctx, rel)
		switch {
		case err != nil:
			logger.WithError(err).Error("Failed to resolve manifest conflict")
			report.Failed = append(report.Failed, rel)
			errs = append(errs, fmt.Errorf("%s: %w", rel, err))
		case resolved:
			logger.Info("Resolved manifest conflict")
			report.Resolved = append(report.Resolved, rel)
		default:
			logger.Debug("No conflict markers")
			report.Skipped = append(report.Skipped, rel)
		}
	}
	return report, errors.Join(errs...)
}

func (cfg Config) validate() error {
	names := append([]string(nil), cfg.DefaultStrategy...)
	for _, r := range cfg.Rules {
		names = append(names, r.Strategies...)
	}
	for _, name := range names {
		if name == StrategyMerge {
			continue
		}
		if _, ok := cfg.strategy(name); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
		}
	}
	return nil
}

func (cfg Config) strategy(name string) (StrategyFunc, bool) {
	if fn, ok := cfg.CustomStrategies[name]; ok {
		return fn, true
	}
	fn, ok := builtins[name]
	return fn, ok
}

func (cfg Config) selected(rel string) bool {
	return matchAny(cfg.Include, rel) && !matchAny(cfg.Exclude, rel)
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

func (cfg Config) candidates() ([]string, error) {
	found := mapset.NewThreadUnsafeSet[string]()

	if cfg.Files != nil {
		for _, f := range cfg.Files {
			rel := path.Clean(filepath.ToSlash(f))
			if cfg.selected(rel) {
				found.Add(rel)
			}
		}
		return mapset.Sorted(found), nil
	}

	fsys := os.DirFS(cfg.Root)
	for _, pattern := range cfg.Include {
		err := doublestar.GlobWalk(fsys, pattern, func(p string, d fs.DirEntry) error {
			if !d.IsDir() && !matchAny(cfg.Exclude, p) {
				found.Add(p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to glob %q: %w", pattern, err)
		}
	}
	return mapset.Sorted(found), nil
}

func (cfg Config) resolveFile(ctx context.Context, rel string) (bool, error) {
	full := filepath.Join(cfg.Root, filepath.FromSlash(rel))
	data, err := os.ReadFile(full)
	if err != nil {
		return false, err
	}

	oursData, theirsData, conflicted, err := SplitConflict(data)
	if err != nil || !conflicted {
		return false, err
	}
	ours, err := Parse(oursData)
	if err != nil {
		return false, fmt.Errorf("ours: %w", err)
	}
	theirs, err := Parse(theirsData)
	if err != nil {
		return false, fmt.Errorf("theirs: %w", err)
	}

	m := &merger{cfg: cfg, file: rel}
	merged, err := m.resolve(ctx, nil, ours, theirs)
	if err != nil {
		return false, err
	}
	if merged == nil {
		return false, fmt.Errorf("%w: document root dropped", ErrUnresolved)
	}
	out, err := Encode(merged)
	if err != nil {
		return false, err
	}

	if err := cfg.backup(rel, data); err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(full, out, info.Mode().Perm()); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", rel, err)
	}
	return true, nil
}

func (cfg Config) backup(rel string, data []byte) error {
	if cfg.BackupDir == "" {
		return nil
	}
	dir := cfg.BackupDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(cfg.Root, dir)
	}
	dst := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create backup dir: %w", err)
	}
	return os.WriteFile(dst, data, 0o644)
}

type merger struct {
	cfg  Config
	file string
}

func (m *merger) strategiesFor(keyPath []string) []string {
	for _, r := range m.cfg.Rules {
		if matchPath(r.Path, keyPath) {
			return r.Strategies
		}
	}
	return m.cfg.DefaultStrategy
}

// resolve returns the merged value of one key path; nil means the key is dropped.
func (m *merger) resolve(ctx context.Context, keyPath []string, ours, theirs *Node) (*Node, error) {
	if ours.Equal(theirs) {
		return ours, nil
	}

	var nested error
	for _, name := range m.strategiesFor(keyPath) {
		if name == StrategyMerge {
			v, ok, err := m.merge(ctx, keyPath, ours, theirs)
			if err != nil {
				nested = err
				continue
			}
			if ok {
				return v, nil
			}
			continue
		}
		fn, _ := m.cfg.strategy(name)
		v, ok := fn(ctx, Conflict{Root: m.cfg.Root, File: m.file, Path: keyPath, Ours: ours, Theirs: theirs})
		if ok {
			return v, nil
		}
	}
	if nested != nil {
		return nil, nested
	}
	return nil, fmt.Errorf("%w: %s", ErrUnresolved, displayPath(keyPath))
}

// merge recurses into two objects and keeps one-sided keys. ok is false when
// the sides are not both objects.
func (m *merger) merge(ctx context.Context, keyPath []string, ours, theirs *Node) (*Node, bool, error) {
	switch {
	case ours == nil:
		return theirs, true, nil
	case theirs == nil:
		return ours, true, nil
	case ours.Kind != Object || theirs.Kind != Object:
		return nil, false, nil
	}

	out := NewObject()
	keys := append([]string(nil), ours.Keys...)
	for _, k := range theirs.Keys {
		if _, ok := ours.Fields[k]; !ok {
			keys = append(keys, k)
		}
	}
	for _, k := range keys {
		child := append(keyPath[:len(keyPath):len(keyPath)], k)
		v, err := m.resolve(ctx, child, ours.Get(k), theirs.Get(k))
		if err != nil {
			return nil, false, err
		}
		if v != nil {
			out.Set(k, v)
		}
	}
	return out, true, nil
}

func displayPath(keyPath []string) string {
	if len(keyPath) == 0 {
		return "<root>"
	}
	return strings.Join(keyPath, ".")
}
