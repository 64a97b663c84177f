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
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"io"
	"time"

	"lukechampine.com/blake3"

	"github.com/jeremyhahn/go-hsm/pkg/validation"
)

const (
	symmetricKeySize = 32
	nonceSize        = 12
	tagSize          = 16
	signatureSize    = ed25519.SignatureSize

	algorithmAESGCM = "AES-256-GCM"
)

// Encrypt encrypts plaintext under an AES-256 key with AES-256-GCM and
// a fresh random nonce. The 16-byte authentication tag is returned
// separately from the ciphertext. aad is authenticated but not
// encrypted and may be nil.
func (h *HSM) Encrypt(ctx context.Context, sessionID, keyID string, plaintext, aad []byte) (*EncryptedData, error) {
	start := time.Now()
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	if err := h.sessions.validate(sessionID, OpEncrypt); err != nil {
		h.recordFailure(OpEncrypt, keyID, sessionID, start, err)
		return nil, err
	}

	entry, err := h.cryptoEntry(keyID)
	if err != nil {
		h.recordFailure(OpEncrypt, keyID, sessionID, start, err)
		return nil, err
	}
	sym, ok := entry.material.(*symmetricKey)
	if !ok {
		err := fmt.Errorf("%w: %s is not an encryption key", ErrKeyNotFound, keyID)
		h.recordFailure(OpEncrypt, keyID, sessionID, start, err)
		return nil, err
	}

	release, err := h.acquireCompute(ctx)
	if err != nil {
		h.recordFailure(OpEncrypt, keyID, sessionID, start, err)
		return nil, err
	}
	defer release()

	gcm, err := newGCM(sym.key)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
		h.recordFailure(OpEncrypt, keyID, sessionID, start, err)
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		err = fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
		h.recordFailure(OpEncrypt, keyID, sessionID, start, err)
		return nil, err
	}

	sealed := gcm.Seal(nil, nonce, plaintext, aad)
	split := len(sealed) - gcm.Overhead()

	h.keys.touch(keyID, time.Now())
	h.recordSuccess(OpEncrypt, keyID, sessionID, start)
	return &EncryptedData{
		Ciphertext: sealed[:split],
		Nonce:      nonce,
		Tag:        sealed[split:],
		Algorithm:  algorithmAESGCM,
	}, nil
}

// Decrypt reverses Encrypt. The nonce must be exactly 12 bytes; the tag
// is appended back onto the ciphertext before the GCM open. Every
// authentication or primitive failure comes back as ErrDecryptionFailed
// with no further detail.
func (h *HSM) Decrypt(ctx context.Context, sessionID, keyID string, ciphertext, nonce, tag, aad []byte) ([]byte, error) {
	start := time.Now()
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	if err := h.sessions.validate(sessionID, OpDecrypt); err != nil {
		h.recordFailure(OpDecrypt, keyID, sessionID, start, err)
		return nil, err
	}

	entry, err := h.cryptoEntry(keyID)
	if err != nil {
		h.recordFailure(OpDecrypt, keyID, sessionID, start, err)
		return nil, err
	}
	sym, ok := entry.material.(*symmetricKey)
	if !ok {
		err := fmt.Errorf("%w: %s is not an encryption key", ErrKeyNotFound, keyID)
		h.recordFailure(OpDecrypt, keyID, sessionID, start, err)
		return nil, err
	}
	if len(nonce) != nonceSize {
		err := fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidNonceLength, len(nonce), nonceSize)
		h.recordFailure(OpDecrypt, keyID, sessionID, start, err)
		return nil, err
	}

	release, err := h.acquireCompute(ctx)
	if err != nil {
		h.recordFailure(OpDecrypt, keyID, sessionID, start, err)
		return nil, err
	}
	defer release()

	gcm, err := newGCM(sym.key)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
		h.recordFailure(OpDecrypt, keyID, sessionID, start, err)
		return nil, err
	}
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, aad)
	if err != nil {
		err = fmt.Errorf("%w: authentication failed", ErrDecryptionFailed)
		h.recordFailure(OpDecrypt, keyID, sessionID, start, err)
		return nil, err
	}

	h.keys.touch(keyID, time.Now())
	h.recordSuccess(OpDecrypt, keyID, sessionID, start)
	return plaintext, nil
}

// Sign digests message with the selected hash and signs the digest with
// an Ed25519 key. The signature covers the digest, not the raw message,
// so Verify must be given the same hash.
func (h *HSM) Sign(ctx context.Context, sessionID, keyID string, message []byte, hash HashAlgorithm) (*SignatureData, error) {
	start := time.Now()
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	if err := h.sessions.validate(sessionID, OpSign); err != nil {
		h.recordFailure(OpSign, keyID, sessionID, start, err)
		return nil, err
	}

	entry, err := h.cryptoEntry(keyID)
	if err != nil {
		h.recordFailure(OpSign, keyID, sessionID, start, err)
		return nil, err
	}
	pair, ok := entry.material.(*ed25519KeyPair)
	if !ok {
		err := fmt.Errorf("%w: %s is not a signing key", ErrKeyNotFound, keyID)
		h.recordFailure(OpSign, keyID, sessionID, start, err)
		return nil, err
	}

	release, err := h.acquireCompute(ctx)
	if err != nil {
		h.recordFailure(OpSign, keyID, sessionID, start, err)
		return nil, err
	}
	defer release()

	digest, algorithm, err := digestMessage(hash, message)
	if err != nil {
		h.recordFailure(OpSign, keyID, sessionID, start, err)
		return nil, err
	}
	signature := ed25519.Sign(pair.private, digest)

	h.keys.touch(keyID, time.Now())
	h.recordSuccess(OpSign, keyID, sessionID, start)
	return &SignatureData{Signature: signature, Algorithm: algorithm}, nil
}

// Verify recomputes the digest and checks the Ed25519 signature. A
// mismatched signature is not an error: the call returns (false, nil),
// the audit entry records the outcome, and the key's usage statistics
// stay untouched.
func (h *HSM) Verify(ctx context.Context, sessionID, keyID string, message, signature []byte, hash HashAlgorithm) (bool, error) {
	start := time.Now()
	if err := h.checkOpen(); err != nil {
		return false, err
	}
	if err := h.sessions.validate(sessionID, OpVerify); err != nil {
		h.recordFailure(OpVerify, keyID, sessionID, start, err)
		return false, err
	}

	entry, err := h.cryptoEntry(keyID)
	if err != nil {
		h.recordFailure(OpVerify, keyID, sessionID, start, err)
		return false, err
	}
	pair, ok := entry.material.(*ed25519KeyPair)
	if !ok {
		err := fmt.Errorf("%w: %s is not a signing key", ErrKeyNotFound, keyID)
		h.recordFailure(OpVerify, keyID, sessionID, start, err)
		return false, err
	}
	if len(signature) != signatureSize {
		err := fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidSignatureLength, len(signature), signatureSize)
		h.recordFailure(OpVerify, keyID, sessionID, start, err)
		return false, err
	}

	release, err := h.acquireCompute(ctx)
	if err != nil {
		h.recordFailure(OpVerify, keyID, sessionID, start, err)
		return false, err
	}
	defer release()

	digest, _, err := digestMessage(hash, message)
	if err != nil {
		h.recordFailure(OpVerify, keyID, sessionID, start, err)
		return false, err
	}
	public := pair.private.Public().(ed25519.PublicKey)
	valid := ed25519.Verify(public, digest, signature)

	if valid {
		h.keys.touch(keyID, time.Now())
	}
	h.recordVerify(OpVerify, keyID, sessionID, start, valid)
	return valid, nil
}

// ComputeMAC computes an HMAC-SHA256 authentication code over message
// with an HMAC-256 key.
func (h *HSM) ComputeMAC(ctx context.Context, sessionID, keyID string, message []byte) ([]byte, error) {
	start := time.Now()
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	if err := h.sessions.validate(sessionID, OpComputeMAC); err != nil {
		h.recordFailure(OpComputeMAC, keyID, sessionID, start, err)
		return nil, err
	}

	entry, err := h.cryptoEntry(keyID)
	if err != nil {
		h.recordFailure(OpComputeMAC, keyID, sessionID, start, err)
		return nil, err
	}
	mk, ok := entry.material.(*hmacKey)
	if !ok {
		err := fmt.Errorf("%w: %s is not a MAC key", ErrKeyNotFound, keyID)
		h.recordFailure(OpComputeMAC, keyID, sessionID, start, err)
		return nil, err
	}

	mac := computeHMAC(mk.key, message)

	h.keys.touch(keyID, time.Now())
	h.recordSuccess(OpComputeMAC, keyID, sessionID, start)
	return mac, nil
}

// VerifyMAC checks an HMAC-SHA256 code in constant time. Like Verify, a
// mismatch returns (false, nil) and is recorded as the operation's
// outcome rather than an error.
func (h *HSM) VerifyMAC(ctx context.Context, sessionID, keyID string, message, mac []byte) (bool, error) {
	start := time.Now()
	if err := h.checkOpen(); err != nil {
		return false, err
	}
	if err := h.sessions.validate(sessionID, OpVerifyMAC); err != nil {
		h.recordFailure(OpVerifyMAC, keyID, sessionID, start, err)
		return false, err
	}

	entry, err := h.cryptoEntry(keyID)
	if err != nil {
		h.recordFailure(OpVerifyMAC, keyID, sessionID, start, err)
		return false, err
	}
	mk, ok := entry.material.(*hmacKey)
	if !ok {
		err := fmt.Errorf("%w: %s is not a MAC key", ErrKeyNotFound, keyID)
		h.recordFailure(OpVerifyMAC, keyID, sessionID, start, err)
		return false, err
	}

	valid := hmac.Equal(computeHMAC(mk.key, message), mac)

	if valid {
		h.keys.touch(keyID, time.Now())
	}
	h.recordVerify(OpVerifyMAC, keyID, sessionID, start, valid)
	return valid, nil
}

// cryptoEntry looks up a key for a cryptographic operation, enforcing
// existence and expiry. Expiry gates crypto use only; management
// operations still reach expired keys.
func (h *HSM) cryptoEntry(keyID string) (*keyEntry, error) {
	entry, ok := h.keys.get(keyID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, validation.SanitizeForLog(keyID))
	}
	if entry.meta.Expired(time.Now()) {
		return nil, fmt.Errorf("%w: %s", ErrKeyExpired, keyID)
	}
	return entry, nil
}

// digestMessage hashes message with the selected algorithm and returns
// the digest plus the composite algorithm tag reported in signatures.
func digestMessage(hash HashAlgorithm, message []byte) ([]byte, string, error) {
	if hash == "" {
		hash = HashSHA256
	}
	switch hash {
	case HashSHA256:
		sum := sha256.Sum256(message)
		return sum[:], "Ed25519-" + hash.String(), nil
	case HashSHA512:
		sum := sha512.Sum512(message)
		return sum[:], "Ed25519-" + hash.String(), nil
	case HashBLAKE3:
		sum := blake3.Sum256(message)
		return sum[:], "Ed25519-" + hash.String(), nil
	default:
		return nil, "", fmt.Errorf("hsm: unsupported hash algorithm %q", hash)
	}
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func computeHMAC(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}
