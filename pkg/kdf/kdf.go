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

// Package kdf provides the key derivation functions used to turn the vault
// passphrase into wrapping key material. PBKDF2 is the default; Argon2id is
// available for deployments that want memory-hard derivation, and HKDF covers
// expansion of already-high-entropy secrets such as the master key.
package kdf

import (
	"crypto"
	"errors"
	"fmt"
	"strings"
)

// Algorithm identifies a supported key derivation function.
type Algorithm string

const (
	// AlgorithmPBKDF2 is Password-Based Key Derivation Function 2 (RFC 2898)
	AlgorithmPBKDF2 Algorithm = "PBKDF2"

	// AlgorithmArgon2id is the hybrid Argon2 variant (RFC 9106)
	AlgorithmArgon2id Algorithm = "Argon2id"

	// AlgorithmHKDF is HMAC-based Extract-and-Expand Key Derivation (RFC 5869)
	AlgorithmHKDF Algorithm = "HKDF"
)

// String returns the string representation of the algorithm
func (a Algorithm) String() string {
	return string(a)
}

// ParseAlgorithm maps a configuration value to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pbkdf2", "":
		return AlgorithmPBKDF2, nil
	case "argon2id", "argon2":
		return AlgorithmArgon2id, nil
	case "hkdf":
		return AlgorithmHKDF, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s)
	}
}

// Params contains parameters for key derivation.
type Params struct {
	// Algorithm selects the KDF
	Algorithm Algorithm

	// Salt is the derivation salt. The vault uses a fixed application
	// salt so the wrapping key re-derives identically across restarts.
	Salt []byte

	// Info is additional context bound into the output (HKDF only)
	Info []byte

	// Iterations is the work factor (PBKDF2 only)
	Iterations int

	// Memory is the memory cost in KiB (Argon2id only)
	Memory uint32

	// Time is the time cost (Argon2id only)
	Time uint32

	// Threads is the parallelism degree (Argon2id only)
	Threads uint8

	// KeyLength is the desired output length in bytes
	KeyLength int

	// Hash is the underlying hash function (PBKDF2 and HKDF)
	Hash crypto.Hash
}

// Deriver derives key material from a secret and a parameter set.
type Deriver interface {
	// DeriveKey derives KeyLength bytes from the secret
	DeriveKey(secret []byte, params *Params) ([]byte, error)

	// Algorithm returns the algorithm this deriver implements
	Algorithm() Algorithm

	// ValidateParams rejects parameter sets this deriver cannot honor
	ValidateParams(params *Params) error
}

const (
	// MinSaltLength is the shortest accepted salt in bytes. The vault's
	// fixed application salt is 8 bytes.
	MinSaltLength = 8

	// MinIterations is the PBKDF2 iteration floor
	MinIterations = 1000
)

var (
	// ErrInvalidSalt indicates the salt is nil or too short
	ErrInvalidSalt = errors.New("kdf: invalid salt")

	// ErrInvalidKeyLength indicates the requested key length is invalid
	ErrInvalidKeyLength = errors.New("kdf: invalid key length")

	// ErrInvalidIterations indicates the iteration count is below the floor
	ErrInvalidIterations = errors.New("kdf: invalid iterations")

	// ErrInvalidMemory indicates the Argon2id memory cost is invalid
	ErrInvalidMemory = errors.New("kdf: invalid memory cost")

	// ErrInvalidTime indicates the Argon2id time cost is invalid
	ErrInvalidTime = errors.New("kdf: invalid time cost")

	// ErrInvalidThreads indicates the Argon2id parallelism degree is invalid
	ErrInvalidThreads = errors.New("kdf: invalid threads")

	// ErrInvalidHash indicates the hash function is missing or not linked
	ErrInvalidHash = errors.New("kdf: invalid or unsupported hash function")

	// ErrInvalidSecret indicates the input secret is empty
	ErrInvalidSecret = errors.New("kdf: invalid input secret")

	// ErrUnsupportedAlgorithm indicates no deriver implements the algorithm
	ErrUnsupportedAlgorithm = errors.New("kdf: unsupported algorithm")
)

// ForAlgorithm returns the deriver implementing the given algorithm.
func ForAlgorithm(algorithm Algorithm) (Deriver, error) {
	switch algorithm {
	case AlgorithmPBKDF2:
		return NewPBKDF2(), nil
	case AlgorithmArgon2id:
		return NewArgon2id(), nil
	case AlgorithmHKDF:
		return NewHKDF(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algorithm)
	}
}

// DefaultParams returns the vault's derivation defaults for an algorithm.
func DefaultParams(algorithm Algorithm) *Params {
	switch algorithm {
	case AlgorithmPBKDF2:
		return &Params{
			Algorithm:  AlgorithmPBKDF2,
			Iterations: 100000,
			KeyLength:  32,
			Hash:       crypto.SHA256,
		}
	case AlgorithmArgon2id:
		return &Params{
			Algorithm: AlgorithmArgon2id,
			Memory:    64 * 1024, // 64 MiB
			Time:      3,
			Threads:   4,
			KeyLength: 32,
		}
	case AlgorithmHKDF:
		return &Params{
			Algorithm: AlgorithmHKDF,
			KeyLength: 32,
			Hash:      crypto.SHA256,
		}
	default:
		return nil
	}
}
