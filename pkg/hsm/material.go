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
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"sort"
	"sync"
	"time"
)

// keyMaterial is the tagged union over the key kinds the vault stores.
// One map entry per key identifier makes uniqueness structural; a key
// cannot exist as two kinds at once.
type keyMaterial interface {
	isKeyMaterial()
}

type rsaKeyPair struct {
	private *rsa.PrivateKey
}

type ed25519KeyPair struct {
	private ed25519.PrivateKey
}

type symmetricKey struct {
	key []byte
}

type hmacKey struct {
	key []byte
}

func (*rsaKeyPair) isKeyMaterial()     {}
func (*ed25519KeyPair) isKeyMaterial() {}
func (*symmetricKey) isKeyMaterial()   {}
func (*hmacKey) isKeyMaterial()        {}

// keyEntry pairs a key's metadata with its material.
type keyEntry struct {
	meta     KeyMetadata
	material keyMaterial
}

// encodeMaterial serializes private material for persistence: PKCS#8 DER
// for asymmetric keys, raw bytes for secret keys.
func encodeMaterial(m keyMaterial) ([]byte, error) {
	switch k := m.(type) {
	case *rsaKeyPair:
		der, err := x509.MarshalPKCS8PrivateKey(k.private)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
		}
		return der, nil
	case *ed25519KeyPair:
		der, err := x509.MarshalPKCS8PrivateKey(k.private)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
		}
		return der, nil
	case *symmetricKey:
		out := make([]byte, len(k.key))
		copy(out, k.key)
		return out, nil
	case *hmacKey:
		out := make([]byte, len(k.key))
		copy(out, k.key)
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown key material", ErrSerializationFailed)
	}
}

// decodeMaterial reverses encodeMaterial using the metadata key type as
// the tag.
func decodeMaterial(t KeyType, data []byte) (keyMaterial, error) {
	switch t {
	case KeyTypeRSA2048, KeyTypeRSA4096:
		parsed, err := x509.ParsePKCS8PrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
		}
		private, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: material is not an RSA key", ErrSerializationFailed)
		}
		return &rsaKeyPair{private: private}, nil
	case KeyTypeEd25519:
		parsed, err := x509.ParsePKCS8PrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
		}
		private, ok := parsed.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: material is not an Ed25519 key", ErrSerializationFailed)
		}
		return &ed25519KeyPair{private: private}, nil
	case KeyTypeAES256:
		if len(data) != symmetricKeySize {
			return nil, fmt.Errorf("%w: bad symmetric key length %d", ErrSerializationFailed, len(data))
		}
		key := make([]byte, len(data))
		copy(key, data)
		return &symmetricKey{key: key}, nil
	case KeyTypeHMAC256:
		if len(data) != symmetricKeySize {
			return nil, fmt.Errorf("%w: bad hmac key length %d", ErrSerializationFailed, len(data))
		}
		key := make([]byte, len(data))
		copy(key, data)
		return &hmacKey{key: key}, nil
	default:
		return nil, fmt.Errorf("%w: unknown key type %q", ErrSerializationFailed, t)
	}
}

// keyEnvelope is the on-disk form of one key: metadata plus material,
// sealed under the master key when encryption-at-rest is on.
type keyEnvelope struct {
	Metadata KeyMetadata `json:"metadata"`
	Material []byte      `json:"material"`
	Sealed   bool        `json:"sealed"`
}

// keyTable is the single map from key identifier to entry, guarded by
// its own lock so key operations never contend with the session table.
type keyTable struct {
	mu      sync.RWMutex
	entries map[string]*keyEntry
}

func newKeyTable() *keyTable {
	return &keyTable{
		entries: make(map[string]*keyEntry),
	}
}

// get returns the entry for id.
func (t *keyTable) get(id string) (*keyEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	return e, ok
}

// exists reports whether id is taken by any key kind.
func (t *keyTable) exists(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[id]
	return ok
}

// insert adds a new entry, failing on an identifier conflict without
// touching the existing entry.
func (t *keyTable) insert(e *keyEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[e.meta.KeyID]; ok {
		return fmt.Errorf("%w: %s", ErrKeyIDConflict, e.meta.KeyID)
	}
	t.entries[e.meta.KeyID] = e
	return nil
}

// remove deletes the entry for id.
func (t *keyTable) remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; !ok {
		return false
	}
	delete(t.entries, id)
	return true
}

// list returns a copy of all metadata rows ordered by key identifier.
func (t *keyTable) list() []KeyMetadata {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]KeyMetadata, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].KeyID < out[j].KeyID })
	return out
}

// touch bumps the usage statistics after a successful operation.
func (t *keyTable) touch(id string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[id]; ok {
		e.meta.UsageCount++
		e.meta.LastUsed = now.Unix()
	}
}

// count returns the number of stored keys.
func (t *keyTable) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// countByType returns per-type key counts for the metrics gauges.
func (t *keyTable) countByType() map[KeyType]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[KeyType]int)
	for _, e := range t.entries {
		out[e.meta.KeyType]++
	}
	return out
}
