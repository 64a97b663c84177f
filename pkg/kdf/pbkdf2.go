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
	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 implements Deriver using PBKDF2 (RFC 2898). It is the vault's
// default for deriving the wrapping key from the operator passphrase.
type PBKDF2 struct{}

// NewPBKDF2 creates a new PBKDF2 deriver
func NewPBKDF2() *PBKDF2 {
	return &PBKDF2{}
}

// DeriveKey derives a key using PBKDF2
func (p *PBKDF2) DeriveKey(secret []byte, params *Params) ([]byte, error) {
	if err := p.ValidateParams(params); err != nil {
		return nil, err
	}
	if len(secret) == 0 {
		return nil, ErrInvalidSecret
	}
	return pbkdf2.Key(secret, params.Salt, params.Iterations, params.KeyLength, params.Hash.New), nil
}

// Algorithm returns AlgorithmPBKDF2
func (p *PBKDF2) Algorithm() Algorithm {
	return AlgorithmPBKDF2
}

// ValidateParams validates PBKDF2 parameters
func (p *PBKDF2) ValidateParams(params *Params) error {
	if params == nil || params.KeyLength <= 0 {
		return ErrInvalidKeyLength
	}
	if params.Algorithm != AlgorithmPBKDF2 {
		return ErrUnsupportedAlgorithm
	}
	if len(params.Salt) < MinSaltLength {
		return ErrInvalidSalt
	}
	if params.Iterations < MinIterations {
		return ErrInvalidIterations
	}
	if params.Hash == 0 || params.Hash.Size() == 0 {
		return ErrInvalidHash
	}
	return nil
}
