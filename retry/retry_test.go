/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"chainguard.dev/fossilci/retry"
	"github.com/stretchr/testify/require"
)

var fast = retry.Config{
	MaxRetries:  3,
	BaseBackoff: time.Millisecond,
	MaxBackoff:  4 * time.Millisecond,
	MaxJitter:   time.Millisecond,
}

func retryAll(error) bool { return true }

// flaky fails with err for the first n calls.
func flaky(n int, err error) (func(context.Context) (string, error), *int) {
	calls := 0
	return func(context.Context) (string, error) {
		calls++
		if calls <= n {
			return "", err
		}
		return "body", nil
	}, &calls
}

func TestDo(t *testing.T) {
	unavailable := errors.New("503 Service Unavailable")

	tests := map[string]struct {
		cfg       retry.Config
		failures  int
		retryable func(error) bool
		wantCalls int
		wantErr   bool
		exhausted bool
	}{
		"first try":         {cfg: fast, failures: 0, retryable: retryAll, wantCalls: 1},
		"recovers":          {cfg: fast, failures: 2, retryable: retryAll, wantCalls: 3},
		"recovers on last":  {cfg: fast, failures: 3, retryable: retryAll, wantCalls: 4},
		"exhausted":         {cfg: fast, failures: 10, retryable: retryAll, wantCalls: 4, wantErr: true, exhausted: true},
		"permanent":         {cfg: fast, failures: 10, retryable: func(error) bool { return false }, wantCalls: 1, wantErr: true},
		"retries disabled":  {cfg: retry.NoRetry, failures: 10, retryable: retryAll, wantCalls: 1, wantErr: true},
		"single retry left": {cfg: retry.Config{MaxRetries: 1}, failures: 10, retryable: retryAll, wantCalls: 2, wantErr: true, exhausted: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			fn, calls := flaky(tc.failures, unavailable)
			got, err := retry.Do(context.Background(), tc.cfg, "GET /timeline.rss", tc.retryable, fn)
			require.Equal(t, tc.wantCalls, *calls)
			if !tc.wantErr {
				require.NoError(t, err)
				require.Equal(t, "body", got)
				return
			}
			require.ErrorIs(t, err, unavailable)

			var ex *retry.ExhaustedError
			require.Equal(t, tc.exhausted, errors.As(err, &ex))
			if tc.exhausted {
				require.Equal(t, tc.wantCalls, ex.Attempts)
				require.Equal(t, "GET /timeline.rss", ex.Operation)
				require.ErrorContains(t, err, "gave up after")
			}
		})
	}
}

func TestDoCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := retry.Config{MaxRetries: 3, BaseBackoff: time.Hour, MaxBackoff: time.Hour}

	calls := 0
	_, err := retry.Do(ctx, cfg, "op", retryAll, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("connection reset by peer")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestBackoff(t *testing.T) {
	cfg := retry.Config{BaseBackoff: 2 * time.Second, MaxBackoff: 30 * time.Second}
	var got []time.Duration
	for n := range 6 {
		got = append(got, cfg.Backoff(n))
	}
	require.Equal(t, []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second,
	}, got)
}

func TestValidate(t *testing.T) {
	require.NoError(t, retry.DefaultConfig().Validate())
	require.NoError(t, retry.NoRetry.Validate())
	for _, cfg := range []retry.Config{
		{MaxRetries: -1},
		{BaseBackoff: -1},
		{MaxBackoff: -1},
		{MaxJitter: -1},
	} {
		require.Error(t, cfg.Validate(), "%+v", cfg)
	}
}
