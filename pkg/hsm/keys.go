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
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jeremyhahn/go-hsm/internal/encoding"
	"github.com/jeremyhahn/go-hsm/internal/password"
	"github.com/jeremyhahn/go-hsm/pkg/keystore"
	"github.com/jeremyhahn/go-hsm/pkg/validation"
)

// keyFileExt is the extension for persisted key envelopes.
const keyFileExt = ".key"

// GenerateRSA generates an RSA key pair under keyID. Only 2048 and 4096
// bit sizes are accepted. The private material is wrapped with the
// master key before persistence when encryption-at-rest is on.
func (h *HSM) GenerateRSA(ctx context.Context, sessionID, keyID string, bits int, opts ...KeyOption) (string, error) {
	start := time.Now()
	if err := h.checkOpen(); err != nil {
		return "", err
	}
	if err := h.sessions.validate(sessionID, OpGenerateRSA); err != nil {
		h.recordFailure(OpGenerateRSA, keyID, sessionID, start, err)
		return "", err
	}

	var keyType KeyType
	switch bits {
	case 2048:
		keyType = KeyTypeRSA2048
	case 4096:
		keyType = KeyTypeRSA4096
	default:
		err := fmt.Errorf("%w: RSA-%d", ErrUnsupportedKeySize, bits)
		h.recordFailure(OpGenerateRSA, keyID, sessionID, start, err)
		return "", err
	}

	generate := func() (keyMaterial, error) {
		release, err := h.acquireCompute(ctx)
		if err != nil {
			return nil, err
		}
		defer release()
		private, err := rsa.GenerateKey(rand.Reader, bits)
		if err != nil {
			return nil, fmt.Errorf("hsm: rsa generation: %w", err)
		}
		return &rsaKeyPair{private: private}, nil
	}

	return h.generateKey(OpGenerateRSA, sessionID, keyID, keyType, PurposeGeneral, generate, opts, start)
}

// GenerateEd25519 generates an Ed25519 signing key pair under keyID.
func (h *HSM) GenerateEd25519(ctx context.Context, sessionID, keyID string, opts ...KeyOption) (string, error) {
	start := time.Now()
	if err := h.checkOpen(); err != nil {
		return "", err
	}
	if err := h.sessions.validate(sessionID, OpGenerateEd25519); err != nil {
		h.recordFailure(OpGenerateEd25519, keyID, sessionID, start, err)
		return "", err
	}

	generate := func() (keyMaterial, error) {
		release, err := h.acquireCompute(ctx)
		if err != nil {
			return nil, err
		}
		defer release()
		_, private, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("hsm: ed25519 generation: %w", err)
		}
		return &ed25519KeyPair{private: private}, nil
	}

	return h.generateKey(OpGenerateEd25519, sessionID, keyID, KeyTypeEd25519, PurposeSigning, generate, opts, start)
}

// GenerateSymmetric generates a 32-byte AES-256 key under keyID.
func (h *HSM) GenerateSymmetric(ctx context.Context, sessionID, keyID string, opts ...KeyOption) (string, error) {
	start := time.Now()
	if err := h.checkOpen(); err != nil {
		return "", err
	}
	if err := h.sessions.validate(sessionID, OpGenerateSymmetric); err != nil {
		h.recordFailure(OpGenerateSymmetric, keyID, sessionID, start, err)
		return "", err
	}

	generate := func() (keyMaterial, error) {
		key := make([]byte, symmetricKeySize)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, fmt.Errorf("hsm: symmetric generation: %w", err)
		}
		return &symmetricKey{key: key}, nil
	}

	return h.generateKey(OpGenerateSymmetric, sessionID, keyID, KeyTypeAES256, PurposeEncryption, generate, opts, start)
}

// GenerateHMAC generates a 32-byte HMAC-SHA256 key under keyID for the
// ComputeMAC and VerifyMAC operations.
func (h *HSM) GenerateHMAC(ctx context.Context, sessionID, keyID string, opts ...KeyOption) (string, error) {
	start := time.Now()
	if err := h.checkOpen(); err != nil {
		return "", err
	}
	if err := h.sessions.validate(sessionID, OpGenerateHMAC); err != nil {
		h.recordFailure(OpGenerateHMAC, keyID, sessionID, start, err)
		return "", err
	}

	generate := func() (keyMaterial, error) {
		key := make([]byte, symmetricKeySize)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, fmt.Errorf("hsm: hmac generation: %w", err)
		}
		return &hmacKey{key: key}, nil
	}

	return h.generateKey(OpGenerateHMAC, sessionID, keyID, KeyTypeHMAC256, PurposeAuthentication, generate, opts, start)
}

// generateKey runs the shared generation path: identifier checks, the
// kind-specific generator, insertion, and persistence. A persistence
// failure rolls the insertion back so failed generations never mutate
// the key table.
func (h *HSM) generateKey(op, sessionID, keyID string, keyType KeyType, purpose KeyPurpose,
	generate func() (keyMaterial, error), opts []KeyOption, start time.Time) (string, error) {

	if err := validateKeyID(keyID); err != nil {
		h.recordFailure(op, keyID, sessionID, start, err)
		return "", err
	}
	if h.keys.exists(keyID) {
		err := fmt.Errorf("%w: %s", ErrKeyIDConflict, keyID)
		h.recordFailure(op, keyID, sessionID, start, err)
		return "", err
	}

	material, err := generate()
	if err != nil {
		h.recordFailure(op, keyID, sessionID, start, err)
		return "", err
	}

	entry := &keyEntry{
		meta:     newMetadata(keyID, keyType, purpose, opts),
		material: material,
	}
	if err := h.keys.insert(entry); err != nil {
		h.recordFailure(op, keyID, sessionID, start, err)
		return "", err
	}
	if err := h.persistKey(entry); err != nil {
		h.keys.remove(keyID)
		h.recordFailure(op, keyID, sessionID, start, err)
		return "", err
	}

	h.updateKeyGauges()
	h.recordSuccess(op, keyID, sessionID, start)
	h.log.Info("generated key", "key_id", keyID, "key_type", keyType.String())
	return keyID, nil
}

// ListKeys returns the metadata of every stored key, any kind.
func (h *HSM) ListKeys(ctx context.Context, sessionID string) ([]KeyMetadata, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	if err := h.sessions.validate(sessionID, OpListKeys); err != nil {
		return nil, err
	}
	return h.keys.list(), nil
}

// GetPublicKey returns the serialized public key for an RSA or Ed25519
// identifier: PKIX DER for RSA, the raw 32-byte verifying key for
// Ed25519. Symmetric and HMAC identifiers fail with ErrKeyNotFound; the
// vault never discloses secret material.
func (h *HSM) GetPublicKey(ctx context.Context, sessionID, keyID string) ([]byte, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	if err := h.sessions.validate(sessionID, OpGetPublicKey); err != nil {
		return nil, err
	}

	entry, ok := h.keys.get(keyID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, validation.SanitizeForLog(keyID))
	}
	switch k := entry.material.(type) {
	case *rsaKeyPair:
		der, err := encoding.EncodePublicKey(&k.private.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
		}
		return der, nil
	case *ed25519KeyPair:
		public := k.private.Public().(ed25519.PublicKey)
		out := make([]byte, len(public))
		copy(out, public)
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s has no public key", ErrKeyNotFound, validation.SanitizeForLog(keyID))
	}
}

// DeleteKey removes the key and its persisted envelope. The material on
// any external backups remains until removed out of band.
func (h *HSM) DeleteKey(ctx context.Context, sessionID, keyID string) error {
	start := time.Now()
	if err := h.checkOpen(); err != nil {
		return err
	}
	if err := h.sessions.validate(sessionID, OpDeleteKey); err != nil {
		h.recordFailure(OpDeleteKey, keyID, sessionID, start, err)
		return err
	}

	if !h.keys.exists(keyID) {
		err := fmt.Errorf("%w: %s", ErrKeyNotFound, validation.SanitizeForLog(keyID))
		h.recordFailure(OpDeleteKey, keyID, sessionID, start, err)
		return err
	}
	if err := h.store.Delete(keyID + keyFileExt); err != nil && !errors.Is(err, keystore.ErrNotFound) {
		err = fmt.Errorf("%w: %v", ErrStorageIO, err)
		h.recordFailure(OpDeleteKey, keyID, sessionID, start, err)
		return err
	}
	h.keys.remove(keyID)

	h.updateKeyGauges()
	h.recordSuccess(OpDeleteKey, keyID, sessionID, start)
	h.log.Info("deleted key", "key_id", keyID)
	return nil
}

// ExportKey returns the private material of an RSA or Ed25519 key as
// passphrase-encrypted PKCS#8 DER. Secret-key kinds cannot be exported.
// An empty passphrase is refused; plaintext export is not offered.
func (h *HSM) ExportKey(ctx context.Context, sessionID, keyID string, passphrase []byte) ([]byte, error) {
	start := time.Now()
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	if err := h.sessions.validate(sessionID, OpExportKey); err != nil {
		h.recordFailure(OpExportKey, keyID, sessionID, start, err)
		return nil, err
	}

	pwd, err := password.NewClearPassword(passphrase)
	if err != nil {
		err = fmt.Errorf("%w: export passphrase required", ErrSerializationFailed)
		h.recordFailure(OpExportKey, keyID, sessionID, start, err)
		return nil, err
	}
	defer pwd.Clear()

	entry, ok := h.keys.get(keyID)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrKeyNotFound, validation.SanitizeForLog(keyID))
		h.recordFailure(OpExportKey, keyID, sessionID, start, err)
		return nil, err
	}

	var private any
	switch k := entry.material.(type) {
	case *rsaKeyPair:
		private = k.private
	case *ed25519KeyPair:
		private = k.private
	default:
		err := fmt.Errorf("%w: %s is not exportable", ErrKeyNotFound, validation.SanitizeForLog(keyID))
		h.recordFailure(OpExportKey, keyID, sessionID, start, err)
		return nil, err
	}

	der, err := encoding.EncodePrivateKey(private, pwd)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrSerializationFailed, err)
		h.recordFailure(OpExportKey, keyID, sessionID, start, err)
		return nil, err
	}

	h.recordSuccess(OpExportKey, keyID, sessionID, start)
	return der, nil
}

// persistKey writes the key's envelope to the key store, sealing the
// material under the master key when encryption-at-rest is on.
func (h *HSM) persistKey(entry *keyEntry) error {
	raw, err := encodeMaterial(entry.material)
	if err != nil {
		return err
	}
	material := raw
	sealed := false
	if h.cfg.EncryptKeysAtRest {
		material, err = h.master.wrap(entry.meta.KeyID, raw)
		if err != nil {
			return err
		}
		sealed = true
	}
	data, err := json.Marshal(keyEnvelope{
		Metadata: entry.meta,
		Material: material,
		Sealed:   sealed,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	if err := h.store.Put(entry.meta.KeyID+keyFileExt, data); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageIO, err)
	}
	return nil
}

// loadExistingKeys restores every persisted envelope at construction.
// A corrupt or unreadable envelope fails construction rather than
// silently dropping a key.
func (h *HSM) loadExistingKeys() error {
	names, err := h.store.List()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageIO, err)
	}
	loaded := 0
	for _, name := range names {
		if name == masterKeyFile || !strings.HasSuffix(name, keyFileExt) {
			continue
		}
		data, err := h.store.Get(name)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStorageIO, err)
		}
		var env keyEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return fmt.Errorf("%w: envelope %s: %v", ErrSerializationFailed, name, err)
		}
		raw := env.Material
		if env.Sealed {
			raw, err = h.master.unwrap(env.Metadata.KeyID, env.Material)
			if err != nil {
				return err
			}
		}
		material, err := decodeMaterial(env.Metadata.KeyType, raw)
		if err != nil {
			return err
		}
		if err := h.keys.insert(&keyEntry{meta: env.Metadata, material: material}); err != nil {
			return err
		}
		loaded++
	}
	if loaded > 0 {
		h.log.Info("loaded existing keys", "count", loaded)
	}
	return nil
}

// validateKeyID rejects identifiers that cannot serve as envelope file
// names. "master" is reserved for the sealed master key.
func validateKeyID(keyID string) error {
	if err := validation.ValidateKeyID(keyID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKeyID, err)
	}
	if keyID == "master" {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidKeyID, keyID)
	}
	return nil
}

func newMetadata(keyID string, keyType KeyType, purpose KeyPurpose, opts []KeyOption) KeyMetadata {
	var o keyOptions
	for _, opt := range opts {
		opt(&o)
	}
	now := time.Now().Unix()
	return KeyMetadata{
		KeyID:     keyID,
		KeyType:   keyType,
		CreatedAt: now,
		LastUsed:  now,
		Purpose:   purpose,
		ExpiresAt: o.expiresAt,
	}
}
