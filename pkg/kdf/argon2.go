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
	"golang.org/x/crypto/argon2"
)

const (
	// MinArgon2Memory is the minimum memory cost in KiB
	MinArgon2Memory = 8 * 1024 // 8 MiB

	// MinArgon2Time is the minimum time cost
	MinArgon2Time = 1
)

// Argon2id implements Deriver using the Argon2id variant. Memory-hard
// derivation for deployments where GPU resistance matters more than the
// derivation latency at vault startup.
type Argon2id struct{}

// NewArgon2id creates a new Argon2id deriver
func NewArgon2id() *Argon2id {
	return &Argon2id{}
}

// DeriveKey derives a key using Argon2id
func (a *Argon2id) DeriveKey(secret []byte, params *Params) ([]byte, error) {
	if err := a.ValidateParams(params); err != nil {
		return nil, err
	}
	if len(secret) == 0 {
		return nil, ErrInvalidSecret
	}
	key := argon2.IDKey(
		secret,
		params.Salt,
		params.Time,
		params.Memory,
		params.Threads,
		uint32(params.KeyLength),
	)
	return key, nil
}

// Algorithm returns AlgorithmArgon2id
func (a *Argon2id) Algorithm() Algorithm {
	return AlgorithmArgon2id
}

// ValidateParams validates Argon2id parameters
func (a *Argon2id) ValidateParams(params *Params) error {
	if params == nil || params.KeyLength <= 0 {
		return ErrInvalidKeyLength
	}
	if params.Algorithm != AlgorithmArgon2id {
		return ErrUnsupportedAlgorithm
	}
	if len(params.Salt) < MinSaltLength {
		return ErrInvalidSalt
	}
	if params.Memory < MinArgon2Memory {
		return ErrInvalidMemory
	}
	if params.Time < MinArgon2Time {
		return ErrInvalidTime
	}
	if params.Threads == 0 {
		return ErrInvalidThreads
	}
	return nil
}
