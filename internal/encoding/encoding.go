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

// Package encoding provides key encoding and decoding for the vault.
//
// It supports PEM and DER formats for public and private keys, with
// passphrase-protected private keys using PKCS#8. The vault holds RSA
// and Ed25519 keys from the standard library.
package encoding

import (
	"bytes"
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/youmark/pkcs8"

	"github.com/jeremyhahn/go-hsm/internal/password"
)

var (
	// ErrInvalidEncodingPEM is returned when PEM decoding fails.
	ErrInvalidEncodingPEM = errors.New("invalid PEM encoding")

	// ErrInvalidPassword is returned when the passphrase is incorrect.
	ErrInvalidPassword = errors.New("invalid password")

	// ErrInvalidKeyType is returned when an unsupported key type is provided.
	ErrInvalidKeyType = errors.New("invalid key type")
)

// EncodePrivateKey encodes a private key to ASN.1 DER PKCS#8 format.
//
// If a passphrase is provided, the key will be encrypted using PKCS#8.
// If pwd is nil, the key will be encoded without encryption.
func EncodePrivateKey(privateKey crypto.PrivateKey, pwd password.Password) ([]byte, error) {
	if privateKey == nil {
		return nil, errors.New("private key cannot be nil")
	}

	var passwordBytes []byte
	if pwd != nil {
		passwordBytes = pwd.Bytes()
		if passwordBytes == nil {
			return nil, password.ErrPasswordZeroed
		}
		defer func() {
			for i := range passwordBytes {
				passwordBytes[i] = 0
			}
		}()
	}

	pkcs8Data, err := pkcs8.MarshalPrivateKey(privateKey, passwordBytes, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	return pkcs8Data, nil
}

// EncodePrivateKeyPEM encodes a private key to PEM format.
//
// Encrypted keys use the "ENCRYPTED PRIVATE KEY" block type,
// unencrypted keys use "PRIVATE KEY".
func EncodePrivateKeyPEM(privateKey crypto.PrivateKey, pwd password.Password) ([]byte, error) {
	der, err := EncodePrivateKey(privateKey, pwd)
	if err != nil {
		return nil, err
	}

	blockType := "PRIVATE KEY"
	if pwd != nil {
		blockType = "ENCRYPTED PRIVATE KEY"
	}

	buf := new(bytes.Buffer)
	if err := pem.Encode(buf, &pem.Block{
		Type:  blockType,
		Bytes: der,
	}); err != nil {
		return nil, fmt.Errorf("failed to encode PEM: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodePrivateKey decodes an ASN.1 DER PKCS#8 private key.
//
// The passphrase is required for encrypted keys and should be nil for
// unencrypted keys. Returns ErrInvalidPassword when the passphrase is
// incorrect.
func DecodePrivateKey(der []byte, pwd password.Password) (crypto.PrivateKey, error) {
	if len(der) == 0 {
		return nil, errors.New("DER data cannot be empty")
	}

	var passwordBytes []byte
	if pwd != nil {
		passwordBytes = pwd.Bytes()
		if passwordBytes == nil {
			return nil, password.ErrPasswordZeroed
		}
		defer func() {
			for i := range passwordBytes {
				passwordBytes[i] = 0
			}
		}()
	}

	key, err := pkcs8.ParsePKCS8PrivateKey(der, passwordBytes)
	if err != nil {
		if strings.Contains(err.Error(), "pkcs8: incorrect password") {
			return nil, ErrInvalidPassword
		}
		// The PKCS8 package doesn't always return "incorrect password",
		// sometimes this ASN.1 error is given when it fails to parse the
		// private key because it's encrypted and the password is incorrect.
		if strings.Contains(err.Error(), "asn1: structure error: tags don't match") {
			return nil, ErrInvalidPassword
		}
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return key, nil
}

// DecodePrivateKeyPEM decodes a PEM encoded private key.
func DecodePrivateKeyPEM(pemData []byte, pwd password.Password) (crypto.PrivateKey, error) {
	if len(pemData) == 0 {
		return nil, errors.New("PEM data cannot be empty")
	}

	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, ErrInvalidEncodingPEM
	}

	return DecodePrivateKey(block.Bytes, pwd)
}

// EncodePublicKey encodes a public key to ASN.1 DER PKIX format.
func EncodePublicKey(publicKey crypto.PublicKey) ([]byte, error) {
	if publicKey == nil {
		return nil, errors.New("public key cannot be nil")
	}

	der, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	return der, nil
}

// EncodePublicKeyPEM encodes a public key to PEM format.
func EncodePublicKeyPEM(publicKey crypto.PublicKey) ([]byte, error) {
	der, err := EncodePublicKey(publicKey)
	if err != nil {
		return nil, err
	}
	return EncodeDERToPEM(der)
}

// EncodeDERToPEM wraps DER encoded public key data in a PEM block.
func EncodeDERToPEM(der []byte) ([]byte, error) {
	if len(der) == 0 {
		return nil, errors.New("DER data cannot be empty")
	}

	buf := new(bytes.Buffer)
	if err := pem.Encode(buf, &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: der,
	}); err != nil {
		return nil, fmt.Errorf("failed to encode PEM: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodePublicKeyPEM decodes a PEM encoded public key.
func DecodePublicKeyPEM(pemData []byte) (crypto.PublicKey, error) {
	if len(pemData) == 0 {
		return nil, errors.New("PEM data cannot be empty")
	}

	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, ErrInvalidEncodingPEM
	}

	publicKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	return publicKey, nil
}

// ExtractPublicKey extracts the public key from a private key.
func ExtractPublicKey(privateKey crypto.PrivateKey) (crypto.PublicKey, error) {
	if privateKey == nil {
		return nil, errors.New("private key cannot be nil")
	}

	switch key := privateKey.(type) {
	case *rsa.PrivateKey:
		return &key.PublicKey, nil
	case ed25519.PrivateKey:
		return key.Public(), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidKeyType, key)
	}
}
