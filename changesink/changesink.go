/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package changesink delivers source changes found by pollers to whatever
// schedules builds for them.
package changesink

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
)

// Change is one check-in found on a repository.
type Change struct {
	Revision   string    `json:"revision"`
	Author     string    `json:"author"`
	Comments   string    `json:"comments"`
	When       time.Time `json:"when"`
	Branch     string    `json:"branch,omitempty"`
	Files      []string  `json:"files,omitempty"`
	Revlink    string    `json:"revlink"`
	Repository string    `json:"repository"`
	Project    string    `json:"project,omitempty"`
}

// Sink receives new changes, oldest first.
type Sink interface {
	AddChange(ctx context.Context, ch Change) error
}

// Log is a Sink that only logs each change.
type Log struct{}

// AddChange implements Sink.
func (Log) AddChange(ctx context.Context, ch Change) error {
	clog.FromContext(ctx).With("repository", ch.Repository).
		Infof("new change %s by %s on %q", ch.Revision, ch.Author, ch.Branch)
	return nil
}

// Memory is a Sink that keeps every change it receives.
type Memory struct {
	mu      sync.Mutex
	changes []Change
}

// AddChange implements Sink.
func (m *Memory) AddChange(_ context.Context, ch Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes = append(m.changes, ch)
	return nil
}

// Changes returns the changes received so far, in order.
func (m *Memory) Changes() []Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.changes)
}

// Multi delivers each change to every sink in order and joins their errors.
type Multi []Sink

// AddChange implements Sink.
func (m Multi) AddChange(ctx context.Context, ch Change) error {
	var errs []error
	for _, s := range m {
		if err := s.AddChange(ctx, ch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
