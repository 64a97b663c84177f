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

import "errors"

var (
	// ErrClosed is returned when attempting to use a closed backend.
	ErrClosed = errors.New("keystore: closed")

	// ErrNotFound is returned when the named entry does not exist.
	ErrNotFound = errors.New("keystore: not found")

	// ErrInvalidName is returned when an entry name is empty or would
	// escape the store directory.
	ErrInvalidName = errors.New("keystore: invalid name")
)
