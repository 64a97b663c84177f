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

package kdf

import (
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDF implements Deriver using HKDF (RFC 5869). The vault uses it to
// expand the high-entropy master key into per-key wrapping subkeys, with
// the key identifier bound in through Info.
type HKDF struct{}

// NewHKDF creates a new HKDF deriver
func NewHKDF() *HKDF {
	return &HKDF{}
}

// DeriveKey derives a key using HKDF
func (h *HKDF) DeriveKey(secret []byte, params *Params) ([]byte, error) {
	if err := h.ValidateParams(params); err != nil {
		return nil, err
	}
	if len(secret) == 0 {
		return nil, ErrInvalidSecret
	}
	r := hkdf.New(params.Hash.New, secret, params.Salt, params.Info)
	key := make([]byte, params.KeyLength)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Algorithm returns AlgorithmHKDF
func (h *HKDF) Algorithm() Algorithm {
	return AlgorithmHKDF
}

// ValidateParams validates HKDF parameters. The salt is optional per RFC
// 5869 so only the output length and hash are checked.
func (h *HKDF) ValidateParams(params *Params) error {
	if params == nil || params.KeyLength <= 0 {
		return ErrInvalidKeyLength
	}
	if params.Algorithm != AlgorithmHKDF {
		return ErrUnsupportedAlgorithm
	}
	if params.Hash == 0 || params.Hash.Size() == 0 {
		return ErrInvalidHash
	}
	if params.KeyLength > 255*params.Hash.Size() {
		return ErrInvalidKeyLength
	}
	return nil
}
