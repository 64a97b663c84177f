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

//go:build integration

package hsm

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-hsm/internal/encoding"
	"github.com/jeremyhahn/go-hsm/internal/password"
	"github.com/jeremyhahn/go-hsm/pkg/audit"
	"github.com/jeremyhahn/go-hsm/pkg/health"
	"github.com/jeremyhahn/go-hsm/pkg/hsm"
	"github.com/jeremyhahn/go-hsm/pkg/logging"
)

const integrationPassphrase = "integration-test-passphrase"

// integrationConfig returns a vault configuration backed by real files
// under a per-test temporary directory.
func integrationConfig(t *testing.T) *hsm.Config {
	t.Helper()

	cfg := hsm.DefaultConfig()
	cfg.MasterPassphrase = integrationPassphrase
	cfg.KeyStorePath = filepath.Join(t.TempDir(), "keys")
	cfg.AuditLogPath = filepath.Join(t.TempDir(), "audit.log")
	cfg.PBKDF2Iterations = 10000
	cfg.SessionsPerSecond = 0
	cfg.Logger = logging.NewLoggerWithWriter(io.Discard, false)
	return cfg
}

// TestVaultLifecycleIntegration exercises a full vault workflow on the
// real filesystem: open, authenticate, generate every key kind, run the
// cryptographic operations end to end and shut down cleanly.
func TestVaultLifecycleIntegration(t *testing.T) {
	cfg := integrationConfig(t)
	vault, err := hsm.New(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	sid, err := vault.CreateSession(ctx, "lifecycle-user")
	require.NoError(t, err)

	// Provision one key of every kind
	_, err = vault.GenerateRSA(ctx, sid, "app-rsa", 2048)
	require.NoError(t, err)
	_, err = vault.GenerateEd25519(ctx, sid, "app-signing")
	require.NoError(t, err)
	_, err = vault.GenerateSymmetric(ctx, sid, "app-data")
	require.NoError(t, err)
	_, err = vault.GenerateHMAC(ctx, sid, "app-auth")
	require.NoError(t, err)

	keys, err := vault.ListKeys(ctx, sid)
	require.NoError(t, err)
	require.Len(t, keys, 4)

	// Key files must exist on disk alongside the sealed master key
	entries, err := os.ReadDir(cfg.KeyStorePath)
	require.NoError(t, err)
	assert.Len(t, entries, 5, "expected 4 key envelopes plus master.key")

	// Encrypt and decrypt with associated data
	plaintext := []byte("the vault holds what the vault is told")
	aad := []byte("record-42")
	enc, err := vault.Encrypt(ctx, sid, "app-data", plaintext, aad)
	require.NoError(t, err)
	assert.Equal(t, "AES-256-GCM", enc.Algorithm)

	decrypted, err := vault.Decrypt(ctx, sid, "app-data", enc.Ciphertext, enc.Nonce, enc.Tag, aad)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)

	// Sign and verify with each supported digest
	message := []byte("signed release artifact")
	for _, hash := range []hsm.HashAlgorithm{hsm.HashSHA256, hsm.HashSHA512, hsm.HashBLAKE3} {
		sig, err := vault.Sign(ctx, sid, "app-signing", message, hash)
		require.NoError(t, err, "sign with %s", hash)

		valid, err := vault.Verify(ctx, sid, "app-signing", message, sig.Signature, hash)
		require.NoError(t, err)
		assert.True(t, valid, "signature with %s should verify", hash)
	}

	// MAC round trip
	mac, err := vault.ComputeMAC(ctx, sid, "app-auth", message)
	require.NoError(t, err)
	valid, err := vault.VerifyMAC(ctx, sid, "app-auth", message, mac)
	require.NoError(t, err)
	assert.True(t, valid)

	// Snapshot counters before shutdown
	m := vault.Metrics()
	assert.Equal(t, m.TotalOperations, m.SuccessfulOperations)
	assert.Zero(t, m.FailedOperations)
	assert.Equal(t, 4, m.KeysStored)
	assert.Equal(t, 1, m.ActiveSessions)

	status := vault.Status()
	assert.Equal(t, hsm.StateReady, status.State)
	assert.Equal(t, 4, status.KeysStored)

	require.NoError(t, vault.CloseSession(ctx, sid))
	require.NoError(t, vault.Close())

	// Shutdown flushes the audit log to disk
	_, err = os.Stat(cfg.AuditLogPath)
	assert.NoError(t, err, "audit log should be written on close")
}

// TestVaultPersistenceIntegration verifies keys generated in one vault
// process survive a restart and remain usable from disk.
func TestVaultPersistenceIntegration(t *testing.T) {
	cfg := integrationConfig(t)
	ctx := context.Background()

	vault, err := hsm.New(cfg)
	require.NoError(t, err)

	sid, err := vault.CreateSession(ctx, "persist-user")
	require.NoError(t, err)

	_, err = vault.GenerateSymmetric(ctx, sid, "durable-aes")
	require.NoError(t, err)
	_, err = vault.GenerateEd25519(ctx, sid, "durable-ed")
	require.NoError(t, err)

	plaintext := []byte("must survive restart")
	enc, err := vault.Encrypt(ctx, sid, "durable-aes", plaintext, nil)
	require.NoError(t, err)

	message := []byte("signed before restart")
	sig, err := vault.Sign(ctx, sid, "durable-ed", message, hsm.HashSHA256)
	require.NoError(t, err)

	require.NoError(t, vault.Close())

	// Reopen against the same key store directory
	reopened, err := hsm.New(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	sid2, err := reopened.CreateSession(ctx, "persist-user")
	require.NoError(t, err)

	keys, err := reopened.ListKeys(ctx, sid2)
	require.NoError(t, err)
	require.Len(t, keys, 2)

	decrypted, err := reopened.Decrypt(ctx, sid2, "durable-aes", enc.Ciphertext, enc.Nonce, enc.Tag, nil)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)

	valid, err := reopened.Verify(ctx, sid2, "durable-ed", message, sig.Signature, hsm.HashSHA256)
	require.NoError(t, err)
	assert.True(t, valid, "pre-restart signature should verify after restart")

	t.Run("WrongPassphrase", func(t *testing.T) {
		require.NoError(t, reopened.Close())

		bad := *cfg
		bad.MasterPassphrase = "not-the-passphrase"
		_, err := hsm.New(&bad)
		require.Error(t, err)
		assert.ErrorIs(t, err, hsm.ErrDecryptionFailed)
	})
}

// TestVaultAuditTrailIntegration verifies the flushed audit log is a
// parseable record of the operations performed.
func TestVaultAuditTrailIntegration(t *testing.T) {
	cfg := integrationConfig(t)
	vault, err := hsm.New(cfg)
	require.NoError(t, err)
	defer vault.Close()

	ctx := context.Background()
	sid, err := vault.CreateSession(ctx, "audit-user")
	require.NoError(t, err)

	_, err = vault.GenerateSymmetric(ctx, sid, "audited-key")
	require.NoError(t, err)
	_, err = vault.Encrypt(ctx, sid, "audited-key", []byte("payload"), nil)
	require.NoError(t, err)

	// Failed operations are recorded too
	_, err = vault.Encrypt(ctx, sid, "no-such-key", []byte("payload"), nil)
	require.Error(t, err)

	require.NoError(t, vault.FlushAuditLog())

	data, err := os.ReadFile(cfg.AuditLogPath)
	require.NoError(t, err)

	var entries []audit.Entry
	require.NoError(t, json.Unmarshal(data, &entries))
	require.Len(t, entries, 4)

	ops := make([]string, len(entries))
	for i, e := range entries {
		ops[i] = e.Operation
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	}
	assert.Equal(t, []string{
		hsm.OpCreateSession,
		hsm.OpGenerateSymmetric,
		hsm.OpEncrypt,
		hsm.OpEncrypt,
	}, ops)

	assert.True(t, entries[0].Success)
	assert.Equal(t, "audit-user", entries[0].UserID)
	assert.Equal(t, "audited-key", entries[1].KeyID)
	assert.False(t, entries[3].Success)
	assert.NotEmpty(t, entries[3].ErrorMessage)

	// Flushing again rewrites the same log without duplication
	require.NoError(t, vault.FlushAuditLog())
	data, err = os.ReadFile(cfg.AuditLogPath)
	require.NoError(t, err)
	var again []audit.Entry
	require.NoError(t, json.Unmarshal(data, &again))
	assert.Len(t, again, 4)
}

// TestVaultHealthEndpointIntegration wires the vault's health report
// into Kubernetes-style probe endpoints.
func TestVaultHealthEndpointIntegration(t *testing.T) {
	cfg := integrationConfig(t)
	vault, err := hsm.New(cfg)
	require.NoError(t, err)
	defer vault.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		results, err := vault.HealthCheck(r.Context())
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if health.AggregateStatus(results) == health.StatusHealthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(results)
	})

	req := httptest.NewRequest("GET", "/readyz", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var results []health.CheckResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&results))
	require.Len(t, results, 3)

	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.Name
		assert.Equal(t, health.StatusHealthy, r.Status)
	}
	assert.Equal(t, []string{"crypto", "keystore", "master_key"}, names)

	// A closed vault reports unavailable
	require.NoError(t, vault.Close())
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// TestVaultConcurrentWorkloadIntegration runs a mixed workload across
// many sessions and verifies the vault stays consistent.
func TestVaultConcurrentWorkloadIntegration(t *testing.T) {
	cfg := integrationConfig(t)
	vault, err := hsm.New(cfg)
	require.NoError(t, err)
	defer vault.Close()

	ctx := context.Background()
	sid, err := vault.CreateSession(ctx, "setup")
	require.NoError(t, err)
	_, err = vault.GenerateSymmetric(ctx, sid, "shared-aes")
	require.NoError(t, err)
	_, err = vault.GenerateEd25519(ctx, sid, "shared-ed")
	require.NoError(t, err)
	_, err = vault.GenerateHMAC(ctx, sid, "shared-mac")
	require.NoError(t, err)

	const workers = 8
	const iterations = 25

	var wg sync.WaitGroup
	errCh := make(chan error, workers)

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(worker int) {
			defer wg.Done()

			wsid, err := vault.CreateSession(ctx, "worker")
			if err != nil {
				errCh <- err
				return
			}

			payload := []byte("worker payload")
			for j := 0; j < iterations; j++ {
				enc, err := vault.Encrypt(ctx, wsid, "shared-aes", payload, nil)
				if err != nil {
					errCh <- err
					return
				}
				if _, err := vault.Decrypt(ctx, wsid, "shared-aes", enc.Ciphertext, enc.Nonce, enc.Tag, nil); err != nil {
					errCh <- err
					return
				}
				sig, err := vault.Sign(ctx, wsid, "shared-ed", payload, hsm.HashSHA256)
				if err != nil {
					errCh <- err
					return
				}
				valid, err := vault.Verify(ctx, wsid, "shared-ed", payload, sig.Signature, hsm.HashSHA256)
				if err != nil || !valid {
					errCh <- err
					return
				}
				if _, err := vault.ComputeMAC(ctx, wsid, "shared-mac", payload); err != nil {
					errCh <- err
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		require.NoError(t, err)
	}

	m := vault.Metrics()
	assert.Zero(t, m.FailedOperations)
	assert.Equal(t, uint64(workers*iterations), m.EncryptionOperations)
	assert.Equal(t, uint64(workers*iterations), m.DecryptionOperations)
	assert.Equal(t, uint64(workers*iterations), m.SigningOperations)
	assert.Equal(t, uint64(workers*iterations), m.VerificationOperations)
	assert.Equal(t, uint64(workers*iterations), m.MACOperations)
	assert.Equal(t, workers+1, m.ActiveSessions)
}

// TestVaultSessionEnforcementIntegration verifies session expiry and
// rate limiting against real clocks.
func TestVaultSessionEnforcementIntegration(t *testing.T) {
	t.Run("Expiry", func(t *testing.T) {
		cfg := integrationConfig(t)
		cfg.SessionTimeout = time.Second
		vault, err := hsm.New(cfg)
		require.NoError(t, err)
		defer vault.Close()

		ctx := context.Background()
		sid, err := vault.CreateSession(ctx, "short-lived")
		require.NoError(t, err)
		require.NoError(t, vault.ValidateSession(ctx, sid))

		time.Sleep(2100 * time.Millisecond)

		err = vault.ValidateSession(ctx, sid)
		assert.ErrorIs(t, err, hsm.ErrSessionExpired)
	})

	t.Run("RateLimit", func(t *testing.T) {
		cfg := integrationConfig(t)
		cfg.SessionsPerSecond = 1
		cfg.SessionBurst = 3
		vault, err := hsm.New(cfg)
		require.NoError(t, err)
		defer vault.Close()

		ctx := context.Background()
		for i := 0; i < 3; i++ {
			_, err := vault.CreateSession(ctx, "bursty")
			require.NoError(t, err, "burst request %d", i+1)
		}

		_, err = vault.CreateSession(ctx, "bursty")
		assert.ErrorIs(t, err, hsm.ErrRateLimited)

		// Tokens refill at one per second
		time.Sleep(1100 * time.Millisecond)
		_, err = vault.CreateSession(ctx, "bursty")
		assert.NoError(t, err, "request should pass after refill")
	})
}

// TestVaultExportedKeyInteropIntegration verifies an exported signing
// key interoperates with the standard library outside the vault.
func TestVaultExportedKeyInteropIntegration(t *testing.T) {
	cfg := integrationConfig(t)
	vault, err := hsm.New(cfg)
	require.NoError(t, err)
	defer vault.Close()

	ctx := context.Background()
	sid, err := vault.CreateSession(ctx, "export-user")
	require.NoError(t, err)

	_, err = vault.GenerateEd25519(ctx, sid, "portable")
	require.NoError(t, err)

	exportPass := []byte("export-wrapping-passphrase")
	der, err := vault.ExportKey(ctx, sid, "portable", exportPass)
	require.NoError(t, err)

	pwd, err := password.NewClearPassword(exportPass)
	require.NoError(t, err)
	decoded, err := encoding.DecodePrivateKey(der, pwd)
	require.NoError(t, err)
	priv, ok := decoded.(ed25519.PrivateKey)
	require.True(t, ok, "exported key should decode as Ed25519")

	// The exported public half matches what the vault reports
	vaultPub, err := vault.GetPublicKey(ctx, sid, "portable")
	require.NoError(t, err)
	assert.True(t, bytes.Equal(vaultPub, priv.Public().(ed25519.PublicKey)))

	// A signature produced outside the vault verifies inside it
	message := []byte("signed outside the vault")
	digest := sha256.Sum256(message)
	outsideSig := ed25519.Sign(priv, digest[:])

	valid, err := vault.Verify(ctx, sid, "portable", message, outsideSig, hsm.HashSHA256)
	require.NoError(t, err)
	assert.True(t, valid, "externally produced signature should verify")

	// And vault signatures verify outside against the exported key
	sig, err := vault.Sign(ctx, sid, "portable", message, hsm.HashSHA256)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(priv.Public().(ed25519.PublicKey), digest[:], sig.Signature))
}
