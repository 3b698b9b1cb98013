/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package fossilpoller watches a Fossil server for new check-ins.
//
// The Poller reads the server's timeline either through the JSON API
// (/json/timeline/checkin) or, for servers built without it, the RSS feed
// (/timeline.rss). Each poll remembers the revisions it saw, and only
// revisions missing from the previous poll are passed to the changesink.
// The seen set is persisted in a statestore so restarts do not replay the
// timeline.
//
// When the JSON API refuses an unauthenticated timeline request, the
// Poller logs in anonymously, keeps the login cookie in the state store and
// retries once.
//
// Usage:
//
//	p, err := fossilpoller.New("https://fossil.example.com/repo",
//	    fossilpoller.WithStateStore(backend),
//	    fossilpoller.WithSink(changesink.Log{}),
//	)
//	if err != nil { ... }
//	if err := p.Activate(ctx); err != nil { ... }
//	return p.Run(ctx)
package fossilpoller
