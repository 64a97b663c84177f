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

package hsm

import (
	"fmt"
	"strings"
	"time"
)

// KeyType identifies the kind and size of a stored key.
type KeyType string

const (
	KeyTypeRSA2048 KeyType = "RSA-2048"
	KeyTypeRSA4096 KeyType = "RSA-4096"
	KeyTypeEd25519 KeyType = "Ed25519"
	KeyTypeAES256  KeyType = "AES-256"
	KeyTypeHMAC256 KeyType = "HMAC-256"
)

// String returns the string representation of the key type
func (t KeyType) String() string {
	return string(t)
}

// ParseKeyType maps a string to a KeyType.
func ParseKeyType(s string) (KeyType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rsa-2048", "rsa2048":
		return KeyTypeRSA2048, nil
	case "rsa-4096", "rsa4096":
		return KeyTypeRSA4096, nil
	case "ed25519":
		return KeyTypeEd25519, nil
	case "aes-256", "aes256", "symmetric":
		return KeyTypeAES256, nil
	case "hmac-256", "hmac256", "hmac":
		return KeyTypeHMAC256, nil
	default:
		return "", fmt.Errorf("unknown key type: %q", s)
	}
}

// KeyPurpose records what a key was provisioned for. Informational; the
// engine gates operations on key kind, not purpose.
type KeyPurpose string

const (
	PurposeSigning        KeyPurpose = "Signing"
	PurposeEncryption     KeyPurpose = "Encryption"
	PurposeKeyWrapping    KeyPurpose = "KeyWrapping"
	PurposeAuthentication KeyPurpose = "Authentication"
	PurposeGeneral        KeyPurpose = "General"
)

// HashAlgorithm selects the message digest applied before signing.
type HashAlgorithm string

const (
	HashSHA256 HashAlgorithm = "SHA-256"
	HashSHA512 HashAlgorithm = "SHA-512"
	HashBLAKE3 HashAlgorithm = "BLAKE3"
)

// String returns the string representation of the hash algorithm
func (h HashAlgorithm) String() string {
	return string(h)
}

// ParseHashAlgorithm maps a string to a HashAlgorithm.
func ParseHashAlgorithm(s string) (HashAlgorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sha-256", "sha256", "":
		return HashSHA256, nil
	case "sha-512", "sha512":
		return HashSHA512, nil
	case "blake3":
		return HashBLAKE3, nil
	default:
		return "", fmt.Errorf("unknown hash algorithm: %q", s)
	}
}

// KeyMetadata is the bookkeeping record kept for every stored key.
// Timestamps are Unix epoch seconds.
type KeyMetadata struct {
	KeyID      string     `json:"key_id"`
	KeyType    KeyType    `json:"key_type"`
	CreatedAt  int64      `json:"created_at"`
	LastUsed   int64      `json:"last_used"`
	UsageCount uint64     `json:"usage_count"`
	Purpose    KeyPurpose `json:"purpose"`
	ExpiresAt  *int64     `json:"expires_at,omitempty"`
}

// Expired reports whether the key's expiry is set and has passed.
func (m *KeyMetadata) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && now.Unix() > *m.ExpiresAt
}

// EncryptedData is the result of an Encrypt call. The authentication tag
// is carried separately from the ciphertext; Decrypt reassembles them.
type EncryptedData struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
	Tag        []byte `json:"tag"`
	Algorithm  string `json:"algorithm"`
}

// SignatureData is the result of a Sign call.
type SignatureData struct {
	Signature []byte `json:"signature"`
	Algorithm string `json:"algorithm"`
}

// Metrics is a point-in-time snapshot of the vault's operation counters.
// ActiveSessions and KeysStored are recomputed from the live tables at
// snapshot time.
type Metrics struct {
	TotalOperations         uint64 `json:"total_operations"`
	SuccessfulOperations    uint64 `json:"successful_operations"`
	FailedOperations        uint64 `json:"failed_operations"`
	ActiveSessions          int    `json:"active_sessions"`
	KeysStored              int    `json:"keys_stored"`
	EncryptionOperations    uint64 `json:"encryption_operations"`
	DecryptionOperations    uint64 `json:"decryption_operations"`
	SigningOperations       uint64 `json:"signing_operations"`
	VerificationOperations  uint64 `json:"verification_operations"`
	KeyGenerationOperations uint64 `json:"key_generation_operations"`
	MACOperations           uint64 `json:"mac_operations"`
}

// Status describes the vault's health for callers that embed it.
type Status struct {
	State          string `json:"state"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	KeysStored     int    `json:"keys_stored"`
	ActiveSessions int    `json:"active_sessions"`
	AuditEntries   int    `json:"audit_entries"`
}

// Vault states reported by Status.
const (
	StateReady  = "ready"
	StateClosed = "closed"
)

// KeyOption customizes key generation.
type KeyOption func(*keyOptions)

type keyOptions struct {
	expiresAt *int64
}

// WithExpiresAt sets an expiry on the generated key. Operations on the
// key fail with ErrKeyExpired once the expiry passes.
func WithExpiresAt(t time.Time) KeyOption {
	return func(o *keyOptions) {
		epoch := t.Unix()
		o.expiresAt = &epoch
	}
}
