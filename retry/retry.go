/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package retry runs requests against flaky remote services with
// exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/chainguard-dev/clog"
)

// Config controls how often and how patiently an operation is retried.
type Config struct {
	// MaxRetries is the number of attempts after the first. Zero disables
	// retries.
	MaxRetries int
	// BaseBackoff is the wait before the first retry. It doubles on each
	// subsequent retry.
	BaseBackoff time.Duration
	// MaxBackoff caps the doubled wait. Zero leaves it uncapped.
	MaxBackoff time.Duration
	// MaxJitter bounds the random extra wait added to every backoff.
	MaxJitter time.Duration
}

// Validate rejects negative fields.
func (c Config) Validate() error {
	var errs []error
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}
	if c.BaseBackoff < 0 {
		errs = append(errs, errors.New("base backoff cannot be negative"))
	}
	if c.MaxBackoff < 0 {
		errs = append(errs, errors.New("max backoff cannot be negative"))
	}
	if c.MaxJitter < 0 {
		errs = append(errs, errors.New("max jitter cannot be negative"))
	}
	return errors.Join(errs...)
}

// Backoff returns the wait before retry number n, counting from zero,
// without jitter.
func (c Config) Backoff(n int) time.Duration {
	d := c.BaseBackoff
	for range n {
		if c.MaxBackoff > 0 && d >= c.MaxBackoff/2 {
			return c.MaxBackoff
		}
		d *= 2
	}
	if c.MaxBackoff > 0 {
		return min(d, c.MaxBackoff)
	}
	return d
}

func (c Config) jitter() time.Duration {
	if c.MaxJitter <= 0 {
		return 0
	}
	return rand.N(c.MaxJitter)
}

// DefaultConfig returns a configuration suitable for polling a Fossil server.
// A poll that still fails after these retries is picked up by the next one.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  3,
		BaseBackoff: 2 * time.Second,
		MaxBackoff:  30 * time.Second,
		MaxJitter:   250 * time.Millisecond,
	}
}

// NoRetry is a Config that runs the operation exactly once.
var NoRetry = Config{}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do calls fn until it succeeds, fails with an error isRetryable rejects, or
// the retries run out. With MaxRetries zero the error from the single attempt
// is returned as is.
func Do[T any](ctx context.Context, cfg Config, operation string, isRetryable func(error) bool, fn func(context.Context) (T, error)) (T, error) {
	log := clog.FromContext(ctx).With("operation", operation)

	for n := 0; ; n++ {
		result, err := fn(ctx)
		switch {
		case err == nil:
			return result, nil
		case !isRetryable(err):
			return result, err
		case cfg.MaxRetries == 0:
			return result, err
		case n == cfg.MaxRetries:
			return result, &ExhaustedError{Operation: operation, Attempts: n + 1, Err: err}
		}

		wait := cfg.Backoff(n) + cfg.jitter()
		log.With("attempt", n+1).With("wait", wait).With("error", err.Error()).
			Warn("Transient failure, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		case <-timer.C:
		}
	}
}
