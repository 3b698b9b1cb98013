/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package statestore persists small pieces of component state, such as a
// poller's last fetched revisions, across restarts.
//
// State is namespaced by component so several pollers can share a backend:
//
//	backend, err := statestore.NewFile("state.yaml")
//	...
//	st := statestore.Scoped(backend, "FossilPoller:https://fossil.example.com/repo")
//	var seen []string
//	found, err := st.Get(ctx, "last_fetch", &seen)
package statestore

import (
	"context"
	"errors"
)

// ErrEmptyKey is returned for an empty component or key.
var ErrEmptyKey = errors.New("state key cannot be empty")

// Store reads and writes the state of a single component.
type Store interface {
	// Get decodes the value stored under key into into. It reports false,
	// leaving into untouched, when nothing is stored.
	Get(ctx context.Context, key string, into any) (bool, error)
	// Set replaces the value stored under key.
	Set(ctx context.Context, key string, value any) error
}

// Backend stores state for any number of components.
type Backend interface {
	Get(ctx context.Context, component, key string, into any) (bool, error)
	Set(ctx context.Context, component, key string, value any) error
}

// Scoped returns a Store for component on base.
func Scoped(base Backend, component string) Store {
	return &scoped{base: base, component: component}
}

type scoped struct {
	base      Backend
	component string
}

func (s *scoped) Get(ctx context.Context, key string, into any) (bool, error) {
	if s.component == "" || key == "" {
		return false, ErrEmptyKey
	}
	return s.base.Get(ctx, s.component, key, into)
}

func (s *scoped) Set(ctx context.Context, key string, value any) error {
	if s.component == "" || key == "" {
		return ErrEmptyKey
	}
	return s.base.Set(ctx, s.component, key, value)
}
