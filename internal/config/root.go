package config

import (
	"errors"
	"os"
	"path/filepath"
)

// ErrRootNotFound is returned when no ancestor directory holds the workspace markers.
var ErrRootNotFound = errors.New("repository root not found")

// RootMarkers must all exist in a directory for it to be the workspace root.
var RootMarkers = []string{"pnpm-lock.yaml", "pnpm-workspace.yaml"}

// FindRoot walks up from start until a directory containing every RootMarkers
// entry is found. When none is found it returns start and ErrRootNotFound.
func FindRoot(start string) (string, error) {
	start, err := filepath.Abs(start)
	if err != nil {
		return start, err
	}
	for dir := start; ; {
		if hasAll(dir, RootMarkers) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start, ErrRootNotFound
		}
		dir = parent
	}
}

func hasAll(dir string, names []string) bool {
	for _, name := range names {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	return true
}
