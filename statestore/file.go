/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package statestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// File is a Backend kept in a single YAML document, keyed by component and
// then by key. Every Set rewrites the whole file.
type File struct {
	path string

	mu    sync.Mutex
	state map[string]map[string]yaml.Node
}

var _ Backend = (*File)(nil)

// NewFile loads the state file at path. A missing file is an empty state.
func NewFile(path string) (*File, error) {
	f := &File{path: path, state: make(map[string]map[string]yaml.Node)}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("reading state file: %w", err)
	}
	if err := yaml.Unmarshal(data, &f.state); err != nil {
		return nil, fmt.Errorf("parsing state file %s: %w", path, err)
	}
	if f.state == nil {
		f.state = make(map[string]map[string]yaml.Node)
	}
	return f, nil
}

// Get implements Backend.
func (f *File) Get(_ context.Context, component, key string, into any) (bool, error) {
	f.mu.Lock()
	node, ok := f.state[component][key]
	f.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := node.Decode(into); err != nil {
		return false, fmt.Errorf("decoding %s/%s: %w", component, key, err)
	}
	return true, nil
}

// Set implements Backend.
func (f *File) Set(_ context.Context, component, key string, value any) error {
	var node yaml.Node
	if err := node.Encode(value); err != nil {
		return fmt.Errorf("encoding %s/%s: %w", component, key, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state[component] == nil {
		f.state[component] = make(map[string]yaml.Node)
	}
	f.state[component][key] = node
	return f.flush()
}

// flush writes the state next to the file and renames it into place so a
// crash never leaves a truncated file. Callers hold mu.
func (f *File) flush() error {
	data, err := yaml.Marshal(f.state)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}
