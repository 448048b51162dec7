package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

// ErrInvalidConfig is returned when the config file exists but cannot be decoded.
var ErrInvalidConfig = errors.New("invalid config file")

// ErrConfigExists is returned by WriteDefault when the target file is present.
var ErrConfigExists = errors.New("config file already exists")

// Load reads the config file name (relative to root unless absolute). A missing
// file yields an empty File and no error.
func Load(root, name string) (File, error) {
	if name == "" {
		name = DefaultConfigFile
	}
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, name)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return File{}, nil
	}
	if err != nil {
		return File{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("%w %s: %v", ErrInvalidConfig, path, err)
	}

	logrus.WithField("path", path).Debug("Loaded config file")
	return f, nil
}

// WriteDefault writes a config file populated with the default settings and
// returns its path. Existing files are never overwritten.
func WriteDefault(root, name string) (string, error) {
	if name == "" {
		name = DefaultConfigFile
	}
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, name)
	}

	opts := Resolve(root, File{})
	defaults := File{
		Debug:           &opts.Debug,
		DryRun:          &opts.DryRun,
		TemplateURL:     &opts.TemplateURL,
		ExcludePaths:    []string{},
		SkipInstall:     &opts.SkipInstall,
		InstallCommand:  &opts.InstallCommand,
		RemoteName:      &opts.RemoteName,
		Branch:          &opts.Branch,
		MaxPatchRetries: &opts.MaxRetries,
		SkipCleanCheck:  &opts.SkipCleanCheck,
		LastCommitFile:  &opts.LastCommitFile,
		BackupDir:       &opts.BackupDir,
	}
	data, err := json.MarshalIndent(defaultDocument(defaults), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode default config: %w", err)
	}

	fh, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return path, fmt.Errorf("%w: %s", ErrConfigExists, path)
	}
	if err != nil {
		return path, fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer fh.Close()

	if _, err := fh.Write(append(data, '\n')); err != nil {
		return path, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

// defaultDocument keeps false flags and the empty exclude list visible in the
// generated file so users can see every knob.
func defaultDocument(f File) map[string]any {
	return map[string]any{
		"debug":           *f.Debug,
		"dryRun":          *f.DryRun,
		"templateUrl":     *f.TemplateURL,
		"excludePaths":    f.ExcludePaths,
		"skipInstall":     *f.SkipInstall,
		"installCommand":  *f.InstallCommand,
		"remoteName":      *f.RemoteName,
		"branch":          *f.Branch,
		"maxPatchRetries": *f.MaxPatchRetries,
		"skipCleanCheck":  *f.SkipCleanCheck,
		"lastCommitFile":  *f.LastCommitFile,
		"backupDir":       *f.BackupDir,
	}
}
