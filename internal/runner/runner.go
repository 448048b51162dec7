// Package runner executes external commands and captures their output.
// It has no retry logic of its own; callers decide what a failure means.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// Result holds the output of a command execution
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExitError is returned when a command ran but exited with a non-zero status.
type ExitError struct {
	Command string
	Result  *Result
	Err     error
}

func (e *ExitError) Error() string {
	stderr := strings.TrimSpace(e.Result.Stderr)
	if stderr == "" {
		return fmt.Sprintf("%s: exit status %d", e.Command, e.Result.ExitCode)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.Result.ExitCode, stderr)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Runner runs a program with arguments inside a working directory.
type Runner interface {
	Run(ctx context.Context, dir string, program string, args ...string) (*Result, error)
}

// Options configures command execution behavior
type Options struct {
	// Env is appended to the current process environment.
	Env map[string]string

	// Console mirrors stdout/stderr to the terminal while capturing.
	Console bool
}

// Option is a function that modifies Options
type Option func(*Options)

// WithEnvVar adds a single environment variable
func WithEnvVar(key, value string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = make(map[string]string)
		}
		o.Env[key] = value
	}
}

// WithConsole mirrors command output to the process stdout/stderr.
func WithConsole() Option {
	return func(o *Options) {
		o.Console = true
	}
}

// ExecRunner implements Runner on top of os/exec.
type ExecRunner struct {
	options Options
}

// New creates an ExecRunner
func New(opts ...Option) *ExecRunner {
	r := &ExecRunner{}
	for _, opt := range opts {
		opt(&r.options)
	}
	return r
}

// Run executes program and waits for it to finish. A non-zero exit status is
// reported as *ExitError together with the captured output.
func (r *ExecRunner) Run(ctx context.Context, dir string, program string, args ...string) (*Result, error) {
	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Dir = dir

	if len(r.options.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range r.options.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	if r.options.Console {
		cmd.Stdout = io.MultiWriter(&stdoutBuf, os.Stdout)
		cmd.Stderr = io.MultiWriter(&stderrBuf, os.Stderr)
	} else {
		cmd.Stdout = &stdoutBuf
		cmd.Stderr = &stderrBuf
	}

	commandLine := program + " " + strings.Join(args, " ")
	logrus.WithFields(logrus.Fields{
		"command": commandLine,
		"dir":     dir,
	}).Debug("Running command")

	err := cmd.Run()
	result := &Result{
		Stdout: stdoutBuf.String(),
		Stderr: stderrBuf.String(),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
		return result, nil
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		return result, &ExitError{Command: commandLine, Result: result, Err: err}
	default:
		result.ExitCode = -1
		return result, fmt.Errorf("failed to run %s: %w", program, err)
	}
}

// Stderr extracts the captured stderr from an error returned by Run, if any.
func Stderr(err error) (string, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Result.Stderr, true
	}
	return "", false
}
