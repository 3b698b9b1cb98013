/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Memory is an in-process Backend. Values are stored JSON-encoded so callers
// never share memory with the store.
type Memory struct {
	mu    sync.RWMutex
	state map[string]map[string][]byte
}

var _ Backend = (*Memory)(nil)

// NewMemory returns an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{state: make(map[string]map[string][]byte)}
}

// Get implements Backend.
func (m *Memory) Get(_ context.Context, component, key string, into any) (bool, error) {
	m.mu.RLock()
	data, ok := m.state[component][key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, into); err != nil {
		return false, fmt.Errorf("decoding %s/%s: %w", component, key, err)
	}
	return true, nil
}

// Set implements Backend.
func (m *Memory) Set(_ context.Context, component, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", component, key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state[component] == nil {
		m.state[component] = make(map[string][]byte)
	}
	m.state[component][key] = data
	return nil
}
