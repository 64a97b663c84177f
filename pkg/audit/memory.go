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

package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultMaxEntries bounds the in-memory log when no cap is configured.
const DefaultMaxEntries = 100000

// MemoryRecorder keeps the audit log in memory and writes it out as one
// indented JSON array at flush time. When the entry cap is reached the
// oldest entries are evicted first.
type MemoryRecorder struct {
	mu         sync.RWMutex
	entries    []Entry
	path       string
	maxEntries int
	closed     bool
}

var _ Recorder = (*MemoryRecorder)(nil)

// NewMemoryRecorder creates a recorder that flushes to path. A
// maxEntries of zero or less applies DefaultMaxEntries.
func NewMemoryRecorder(path string, maxEntries int) *MemoryRecorder {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryRecorder{
		path:       path,
		maxEntries: maxEntries,
	}
}

// Record appends an entry, evicting the oldest entry once the cap is hit
func (r *MemoryRecorder) Record(entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if len(r.entries) >= r.maxEntries {
		r.entries = r.entries[1:]
	}
	r.entries = append(r.entries, entry)
}

// Entries returns a snapshot copy of the recorded entries in order
func (r *MemoryRecorder) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of entries currently held
func (r *MemoryRecorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Flush writes the log to the configured path as a single JSON array.
// The write goes through a temp file and rename so a crash mid-flush
// never leaves a truncated log.
func (r *MemoryRecorder) Flush() error {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrClosed
	}
	data, err := json.MarshalIndent(r.entries, "", "  ")
	r.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to serialize audit log: %w", err)
	}
	return atomicWrite(r.path, data)
}

// Close flushes the log and drops the recorder. Subsequent records are
// ignored.
func (r *MemoryRecorder) Close() error {
	err := r.Flush()
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return err
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create audit log directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".audit-*")
	if err != nil {
		return fmt.Errorf("failed to create audit temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set audit log permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync audit log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close audit log: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to publish audit log: %w", err)
	}
	return nil
}
