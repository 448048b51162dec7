// Package retry provides retry logic with exponential backoff for network-bound git operations.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"

	"github.com/tmplsync/template_sync/internal/runner"
)

// Config holds the backoff schedule for one kind of command
type Config struct {
	MaxAttempts   uint64
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterPercent uint64
}

// FetchDefaults returns defaults for fetching from the template remote
func FetchDefaults() *Config {
	return &Config{
		MaxAttempts:   3,
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		JitterPercent: 10,
	}
}

// NotStarted reports errors where the command never ran, such as a missing
// binary. Retrying those cannot help.
func NotStarted(err error) bool {
	var exitErr *runner.ExitError
	return err != nil && !errors.As(err, &exitErr)
}

// Command retries a runner invocation. Non-zero exits are retried; failures
// to start the command are returned at once.
func Command(ctx context.Context, config *Config, command string, run func(ctx context.Context) (*runner.Result, error)) (*runner.Result, error) {
	var result *runner.Result
	err := WithOperation(ctx, config, func() error {
		var err error
		result, err = run(ctx)
		return err
	}, command, NotStarted)
	return result, err
}

// WithOperation runs operation until it succeeds or the backoff is spent.
// Errors for which permanent returns true are returned immediately.
func WithOperation(ctx context.Context, config *Config, operation func() error, operationName string, permanent ...func(error) bool) error {
	attempt := 0
	return retry.Do(ctx, config.Backoff(), func(ctx context.Context) error {
		attempt++
		err := operation()
		if err == nil {
			return nil
		}
		for _, isPermanent := range permanent {
			if isPermanent(err) {
				return err
			}
		}
		logrus.WithError(err).WithFields(logrus.Fields{
			"command": operationName,
			"attempt": attempt,
		}).Warn("Command failed, backing off")
		return retry.RetryableError(err)
	})
}

// Backoff builds a fresh exponential schedule, capped and jittered per config.
func (c *Config) Backoff() retry.Backoff {
	b := retry.NewExponential(c.BaseDelay)
	b = retry.WithMaxRetries(c.MaxAttempts, b)
	b = retry.WithCappedDuration(c.MaxDelay, b)
	return retry.WithJitterPercent(c.JitterPercent, b)
}
