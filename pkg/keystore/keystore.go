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

// Package keystore provides the persistence layer for the vault: the sealed
// master-key blob and the per-key envelopes. Backends are deliberately dumb
// byte stores; sealing and serialization happen above them.
package keystore

// Backend is the storage contract for vault artifacts.
// All implementations must be thread-safe.
type Backend interface {
	// Get retrieves the blob stored under name.
	// Returns ErrNotFound if no such entry exists.
	Get(name string) ([]byte, error)

	// Put stores the blob under name, overwriting any existing entry.
	Put(name string, data []byte) error

	// Delete removes the entry stored under name.
	// Returns ErrNotFound if no such entry exists.
	Delete(name string) error

	// List returns the names of all stored entries.
	List() ([]string, error)

	// Exists reports whether an entry is stored under name.
	Exists(name string) (bool, error)

	// Close releases any resources held by the backend.
	Close() error
}
