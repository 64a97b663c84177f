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
	"crypto"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/awnumar/memguard"

	"github.com/jeremyhahn/go-hsm/internal/password"
	"github.com/jeremyhahn/go-hsm/pkg/kdf"
	"github.com/jeremyhahn/go-hsm/pkg/keystore"
	"github.com/jeremyhahn/go-hsm/pkg/logging"
)

const (
	// masterKeyFile is the sealed master key blob in the key store.
	masterKeyFile = "master.key"

	// masterKeySize is the raw master key length in bytes.
	masterKeySize = 32

	// wrapInfo namespaces the HKDF expansion of the master key into
	// per-key wrapping subkeys. Changing it invalidates every sealed
	// envelope on disk.
	wrapInfo = "go-hsm/key-wrap/v1/"
)

// masterKeySalt is the fixed application salt for passphrase derivation.
// Fixed so the wrapping key re-derives identically across restarts.
var masterKeySalt = []byte("hsm_salt")

// masterKey holds the vault's wrapping key inside a memguard enclave.
// The raw key exists in plaintext memory only while a wrap or unwrap is
// in flight, and is never returned to callers.
type masterKey struct {
	enclave *memguard.Enclave
}

// loadOrCreateMasterKey restores the master key from the key store, or
// generates and seals a new one on first run.
//
// The passphrase is stretched into a key-encryption key with the
// configured KDF and the fixed salt. The master key itself is 32 random
// bytes sealed under that KEK; the raw master key never touches disk.
// On later runs the same KEK re-derives deterministically and unseals
// the stored blob, so a wrong passphrase surfaces as a decryption
// failure at construction time.
func loadOrCreateMasterKey(cfg *Config, store keystore.Backend, log *logging.Logger) (*masterKey, error) {
	alg, err := kdf.ParseAlgorithm(cfg.KDFAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	deriver, err := kdf.ForAlgorithm(alg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	params := kdf.DefaultParams(alg)
	params.Salt = masterKeySalt
	if alg == kdf.AlgorithmPBKDF2 {
		params.Iterations = cfg.PBKDF2Iterations
	}

	pwd, err := password.NewClearPasswordFromString(cfg.MasterPassphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: master passphrase required", ErrInvalidConfig)
	}
	defer pwd.Clear()
	passphrase := pwd.Bytes()
	defer memguard.WipeBytes(passphrase)

	kek, err := deriver.DeriveKey(passphrase, params)
	if err != nil {
		return nil, fmt.Errorf("%w: key derivation: %v", ErrInvalidConfig, err)
	}
	defer memguard.WipeBytes(kek)

	exists, err := store.Exists(masterKeyFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageIO, err)
	}

	if exists {
		sealed, err := store.Get(masterKeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageIO, err)
		}
		raw, err := aeadOpen(kek, sealed)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to unseal master key", ErrDecryptionFailed)
		}
		if len(raw) != masterKeySize {
			return nil, fmt.Errorf("%w: malformed master key", ErrDecryptionFailed)
		}
		log.Debug("loaded existing master key")
		return &masterKey{enclave: memguard.NewEnclave(raw)}, nil
	}

	raw := make([]byte, masterKeySize)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return nil, fmt.Errorf("%w: entropy: %v", ErrEncryptionFailed, err)
	}
	sealed, err := aeadSeal(kek, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to seal master key", ErrEncryptionFailed)
	}
	if err := store.Put(masterKeyFile, sealed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageIO, err)
	}
	log.Info("generated new master key", "path", masterKeyFile)
	return &masterKey{enclave: memguard.NewEnclave(raw)}, nil
}

// check verifies the enclave still opens to a well-formed master key.
func (m *masterKey) check() error {
	buf, err := m.enclave.Open()
	if err != nil {
		return fmt.Errorf("master key unavailable: %v", err)
	}
	defer buf.Destroy()
	if buf.Size() != masterKeySize {
		return fmt.Errorf("malformed master key")
	}
	return nil
}

// wrapSubkey expands the master key into the wrapping subkey for keyID.
func (m *masterKey) wrapSubkey(keyID string) ([]byte, error) {
	buf, err := m.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: master key unavailable: %v", ErrEncryptionFailed, err)
	}
	defer buf.Destroy()

	subkey, err := kdf.NewHKDF().DeriveKey(buf.Bytes(), &kdf.Params{
		Algorithm: kdf.AlgorithmHKDF,
		Salt:      masterKeySalt,
		Info:      []byte(wrapInfo + keyID),
		KeyLength: masterKeySize,
		Hash:      crypto.SHA256,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: subkey derivation: %v", ErrEncryptionFailed, err)
	}
	return subkey, nil
}

// wrap seals private material for keyID under the master key.
func (m *masterKey) wrap(keyID string, plaintext []byte) ([]byte, error) {
	subkey, err := m.wrapSubkey(keyID)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(subkey)
	sealed, err := aeadSeal(subkey, plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: wrap %s", ErrEncryptionFailed, keyID)
	}
	return sealed, nil
}

// unwrap opens sealed material for keyID.
func (m *masterKey) unwrap(keyID string, sealed []byte) ([]byte, error) {
	subkey, err := m.wrapSubkey(keyID)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(subkey)
	raw, err := aeadOpen(subkey, sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap %s", ErrDecryptionFailed, keyID)
	}
	return raw, nil
}

// aeadSeal encrypts plaintext with AES-256-GCM and a fresh random nonce,
// returning nonce || ciphertext || tag.
func aeadSeal(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// aeadOpen reverses aeadSeal.
func aeadOpen(key, blob []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(blob) < gcm.NonceSize() {
		return nil, fmt.Errorf("sealed blob too short")
	}
	nonce, ciphertext := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
