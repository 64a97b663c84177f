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

// Package password provides secure passphrase handling for the vault.
//
// Passphrases protect the master key and exported key material. They are
// held as byte slices so they can be zeroed once a derivation or
// serialization step no longer needs them.
package password

import (
	"crypto/subtle"
	"errors"
)

var (
	// ErrEmptyPassword is returned when an empty passphrase is provided.
	ErrEmptyPassword = errors.New("password cannot be empty")

	// ErrPasswordZeroed is returned when the passphrase has been zeroed.
	ErrPasswordZeroed = errors.New("password has been zeroed")
)

// Password is sensitive byte material that can be zeroed after use.
type Password interface {
	// Bytes returns the passphrase as a byte slice
	Bytes() []byte

	// String returns the passphrase as a string
	String() (string, error)

	// Clear zeros out the passphrase from memory
	Clear()
}

// ClearPassword stores a passphrase in memory as cleartext.
//
// While stored in cleartext, the data can be securely zeroed when no
// longer needed.
type ClearPassword struct {
	password []byte
}

// NewClearPassword creates a new cleartext passphrase stored in memory.
//
// The provided byte slice is copied to prevent external modification.
// Returns an error if the passphrase is empty.
func NewClearPassword(password []byte) (Password, error) {
	if len(password) == 0 {
		return nil, ErrEmptyPassword
	}
	p := make([]byte, len(password))
	copy(p, password)
	return &ClearPassword{password: p}, nil
}

// NewClearPasswordFromString creates a new cleartext passphrase from a
// string. Returns an error if the passphrase is empty.
func NewClearPasswordFromString(password string) (Password, error) {
	if len(password) == 0 {
		return nil, ErrEmptyPassword
	}
	return &ClearPassword{password: []byte(password)}, nil
}

// String returns the passphrase as a string.
//
// Note: strings cannot be zeroed. Prefer Bytes when the caller can wipe
// the material itself.
func (p *ClearPassword) String() (string, error) {
	if p.password == nil {
		return "", ErrPasswordZeroed
	}
	return string(p.password), nil
}

// Bytes returns the passphrase as a byte slice.
//
// The returned slice is a copy to prevent external modification of the
// internal data.
func (p *ClearPassword) Bytes() []byte {
	if p.password == nil {
		return nil
	}
	result := make([]byte, len(p.password))
	copy(result, p.password)
	return result
}

// Clear securely clears the passphrase from memory.
//
// After calling Clear, the passphrase cannot be retrieved and any
// subsequent calls to String or Bytes will return an error or nil.
// This operation is irreversible.
func (p *ClearPassword) Clear() {
	if p.password != nil {
		for i := range p.password {
			p.password[i] = 0
		}
		// ConstantTimeCopy keeps the compiler from optimizing the wipe away
		subtle.ConstantTimeCopy(1, p.password, make([]byte, len(p.password)))
		p.password = nil
	}
}

// Equal compares two passphrases in constant time to prevent timing
// attacks.
func Equal(a, b Password) (bool, error) {
	aBytes := a.Bytes()
	if aBytes == nil {
		return false, ErrPasswordZeroed
	}
	defer func() {
		for i := range aBytes {
			aBytes[i] = 0
		}
	}()

	bBytes := b.Bytes()
	if bBytes == nil {
		return false, ErrPasswordZeroed
	}
	defer func() {
		for i := range bBytes {
			bBytes[i] = 0
		}
	}()

	return subtle.ConstantTimeCompare(aBytes, bBytes) == 1, nil
}

// Verify interface compliance at compile time
var _ Password = (*ClearPassword)(nil)
