// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-hsm.
//
// go-hsm is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package keystore

import (
	"fmt"
	"sync"
)

// MemoryBackend is an in-memory Backend for tests and ephemeral vaults.
// Nothing survives process teardown.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string][]byte
	closed  bool
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty in-memory store
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string][]byte),
	}
}

// Get retrieves the blob stored under name
func (b *MemoryBackend) Get(name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	data, ok := b.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Put stores a copy of the blob under name
func (b *MemoryBackend) Put(name string, data []byte) error {
	if err := validateName(name); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	b.entries[name] = stored
	return nil
}

// Delete removes the entry stored under name
func (b *MemoryBackend) Delete(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if _, ok := b.entries[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(b.entries, name)
	return nil
}

// List returns the names of all stored entries
func (b *MemoryBackend) List() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	names := make([]string, 0, len(b.entries))
	for name := range b.entries {
		names = append(names, name)
	}
	return names, nil
}

// Exists reports whether an entry is stored under name
func (b *MemoryBackend) Exists(name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false, ErrClosed
	}
	_, ok := b.entries[name]
	return ok, nil
}

// Close marks the backend closed and drops all entries
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = nil
	b.closed = true
	return nil
}
