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

import "errors"

var (
	// ErrSessionNotFound is returned when the session ID is unknown.
	ErrSessionNotFound = errors.New("hsm: session not found")

	// ErrSessionExpired is returned when the session's inactivity window
	// has elapsed. Expired sessions cannot be re-activated.
	ErrSessionExpired = errors.New("hsm: session expired")

	// ErrSessionNotAuthenticated is returned when the session exists but
	// is not authenticated.
	ErrSessionNotAuthenticated = errors.New("hsm: session not authenticated")

	// ErrMaxSessionsExceeded is returned when the session table is full
	// after expired sessions have been evicted.
	ErrMaxSessionsExceeded = errors.New("hsm: maximum sessions exceeded")

	// ErrRateLimited is returned when a user exceeds the session
	// creation rate.
	ErrRateLimited = errors.New("hsm: session creation rate limited")

	// ErrPermissionDenied is returned when the session's permission set
	// does not include the attempted operation.
	ErrPermissionDenied = errors.New("hsm: permission denied")

	// ErrKeyNotFound is returned when no key of the required kind exists
	// under the given identifier.
	ErrKeyNotFound = errors.New("hsm: key not found")

	// ErrKeyIDConflict is returned when generating a key whose identifier
	// is already taken. Existing material is never overwritten.
	ErrKeyIDConflict = errors.New("hsm: key id already exists")

	// ErrInvalidKeyID is returned for key identifiers that are empty or
	// unusable as a persistence name.
	ErrInvalidKeyID = errors.New("hsm: invalid key id")

	// ErrInvalidUserID is returned for user identifiers that are empty or
	// contain unsafe characters.
	ErrInvalidUserID = errors.New("hsm: invalid user id")

	// ErrKeyExpired is returned when operating on a key whose expiry has
	// passed.
	ErrKeyExpired = errors.New("hsm: key expired")

	// ErrUnsupportedKeySize is returned for RSA sizes other than 2048
	// and 4096.
	ErrUnsupportedKeySize = errors.New("hsm: unsupported key size")

	// ErrInvalidNonceLength is returned when a decrypt nonce is not
	// exactly 12 bytes.
	ErrInvalidNonceLength = errors.New("hsm: invalid nonce length")

	// ErrInvalidSignatureLength is returned when a signature is not
	// exactly 64 bytes.
	ErrInvalidSignatureLength = errors.New("hsm: invalid signature length")

	// ErrEncryptionFailed is returned when the AEAD seal fails.
	ErrEncryptionFailed = errors.New("hsm: encryption failed")

	// ErrDecryptionFailed is returned when AEAD authentication fails.
	// Tag mismatch and key errors are deliberately not distinguished.
	ErrDecryptionFailed = errors.New("hsm: decryption failed")

	// ErrSerializationFailed is returned when key material or metadata
	// cannot be encoded or decoded.
	ErrSerializationFailed = errors.New("hsm: serialization failed")

	// ErrStorageIO is returned for persistence failures on the key store.
	ErrStorageIO = errors.New("hsm: storage failure")

	// ErrInvalidConfig is returned when the configuration fails validation.
	ErrInvalidConfig = errors.New("hsm: invalid configuration")

	// ErrClosed is returned when operating on a closed vault.
	ErrClosed = errors.New("hsm: closed")
)

// errorType maps an error to a stable identifier for metrics labels.
func errorType(err error) string {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, ErrSessionNotAuthenticated):
		return "session_not_authenticated"
	case errors.Is(err, ErrMaxSessionsExceeded):
		return "max_sessions_exceeded"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrKeyNotFound):
		return "key_not_found"
	case errors.Is(err, ErrKeyIDConflict):
		return "key_id_conflict"
	case errors.Is(err, ErrInvalidKeyID):
		return "invalid_key_id"
	case errors.Is(err, ErrInvalidUserID):
		return "invalid_user_id"
	case errors.Is(err, ErrKeyExpired):
		return "key_expired"
	case errors.Is(err, ErrUnsupportedKeySize):
		return "unsupported_key_size"
	case errors.Is(err, ErrInvalidNonceLength):
		return "invalid_nonce_length"
	case errors.Is(err, ErrInvalidSignatureLength):
		return "invalid_signature_length"
	case errors.Is(err, ErrEncryptionFailed):
		return "encryption_failed"
	case errors.Is(err, ErrDecryptionFailed):
		return "decryption_failed"
	case errors.Is(err, ErrSerializationFailed):
		return "serialization_failed"
	case errors.Is(err, ErrStorageIO):
		return "storage_failure"
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "internal"
	}
}
