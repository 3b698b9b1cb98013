/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package fossilpoller

import (
	"net/http"
	"time"

	"chainguard.dev/fossilci/changesink"
	"chainguard.dev/fossilci/retry"
	"chainguard.dev/fossilci/statestore"
)

const defaultPollInterval = 10 * time.Minute

// Option configures the Poller.
type Option func(*Poller)

// WithRSS reads the RSS timeline instead of the JSON API.
func WithRSS() Option {
	return func(p *Poller) {
		p.rss = true
	}
}

// WithName sets the poller's name, which also scopes its persisted state.
// The default is the repository URL.
func WithName(name string) Option {
	return func(p *Poller) {
		p.name = name
	}
}

// WithPollInterval sets the time between polls. The default is 10 minutes.
func WithPollInterval(d time.Duration) Option {
	return func(p *Poller) {
		p.interval = d
	}
}

// WithPollAtLaunch controls whether Run polls immediately. The default is true.
func WithPollAtLaunch(b bool) Option {
	return func(p *Poller) {
		p.atLaunch = b
	}
}

// WithRandomDelay delays each poll by a random duration in [lo, hi].
func WithRandomDelay(lo, hi time.Duration) Option {
	return func(p *Poller) {
		p.delayMin, p.delayMax = lo, hi
	}
}

// WithHTTPClient sets the client used to reach the server.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Poller) {
		p.client = c
	}
}

// WithStateStore persists the poller's state in b. The default keeps state
// in memory only.
func WithStateStore(b statestore.Backend) Option {
	return func(p *Poller) {
		p.backend = b
	}
}

// WithSink sets where new changes are delivered. The default logs them.
func WithSink(s changesink.Sink) Option {
	return func(p *Poller) {
		p.sink = s
	}
}

// WithRetry sets the retry policy for requests that fail in transit or
// with a 5xx status.
func WithRetry(cfg retry.Config) Option {
	return func(p *Poller) {
		p.retry = cfg
	}
}
