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

// Package audit records one entry per vault operation attempt. Entries
// accumulate in memory and are flushed to the configured log file as a
// single JSON array when the vault shuts down; an unclean termination
// loses unflushed entries.
package audit

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Entry is one audit record. Entries are append-only and never mutated.
type Entry struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Operation    string    `json:"operation"`
	KeyID        string    `json:"key_id,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// NewEntry creates an entry stamped with a fresh ID and the current time.
func NewEntry(operation string) Entry {
	return Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Operation: operation,
	}
}

// Recorder receives one entry per operation attempt.
// Implementations must be safe for concurrent use.
type Recorder interface {
	// Record appends an entry to the log. Records after Close are dropped.
	Record(entry Entry)

	// Entries returns a snapshot copy of the recorded entries in order.
	Entries() []Entry

	// Flush writes the current log to durable storage.
	Flush() error

	// Close flushes the log and releases the recorder.
	Close() error
}

// ErrClosed is returned when flushing an already-closed recorder.
var ErrClosed = errors.New("audit: closed")
