// Package repo wraps the git operations the sync engine needs. Porcelain that
// go-git cannot express (pathspec-restricted diff, three-way apply, fetch with
// the user's credential helpers) goes through the git binary; history and ref
// reads go through go-git.
package repo

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrRemoteExists is returned by AddRemote when the remote is already configured.
var ErrRemoteExists = errors.New("remote already exists")

// ErrInvalidRemoteName is returned when a remote name contains characters git
// would reject or that could be read as a command-line option.
var ErrInvalidRemoteName = errors.New("invalid remote name")

// ErrInvalidRef is returned for revision arguments that could be read as options.
var ErrInvalidRef = errors.New("invalid reference")

// ErrNoHistory is returned when the repository has no commits to inspect.
var ErrNoHistory = errors.New("repository has no commits")

var remoteNamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_-]*$`)

// ValidateRemoteName accepts letters, digits, underscore and hyphen, not leading with '-'.
func ValidateRemoteName(name string) error {
	if !remoteNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q may only contain letters, numbers, underscore and hyphen, and cannot start with '-'", ErrInvalidRemoteName, name)
	}
	return nil
}

// ValidateRef rejects empty refs and refs that start with '-'.
func ValidateRef(ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return fmt.Errorf("%w: empty revision", ErrInvalidRef)
	}
	if strings.HasPrefix(ref, "-") {
		return fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return nil
}
