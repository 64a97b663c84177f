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
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/jeremyhahn/go-hsm/pkg/audit"
	"github.com/jeremyhahn/go-hsm/pkg/health"
	"github.com/jeremyhahn/go-hsm/pkg/keystore"
	"github.com/jeremyhahn/go-hsm/pkg/logging"
)

const testPassphrase = "correct-horse-battery-staple"

// testConfig returns a vault configuration backed by an in-memory key
// store, with rate limiting off and a reduced KDF work factor so tests
// stay fast.
func testConfig(tb testing.TB) *Config {
	tb.Helper()
	cfg := DefaultConfig()
	cfg.MasterPassphrase = testPassphrase
	cfg.KeyStorePath = tb.TempDir()
	cfg.Backend = keystore.NewMemoryBackend()
	cfg.AuditLogPath = filepath.Join(tb.TempDir(), "audit.log")
	cfg.PBKDF2Iterations = 10000
	cfg.SessionsPerSecond = 0
	cfg.Logger = logging.NewLoggerWithWriter(io.Discard, false)
	return cfg
}

// newTestVault constructs a vault from testConfig and opens one session.
func newTestVault(tb testing.TB) (*HSM, string) {
	tb.Helper()
	return newTestVaultWithConfig(tb, testConfig(tb))
}

func newTestVaultWithConfig(tb testing.TB, cfg *Config) (*HSM, string) {
	tb.Helper()
	vault, err := New(cfg)
	if err != nil {
		tb.Fatalf("New() error = %v", err)
	}
	tb.Cleanup(func() { vault.Close() })

	sessionID, err := vault.CreateSession(context.Background(), "tester")
	if err != nil {
		tb.Fatalf("CreateSession() error = %v", err)
	}
	return vault, sessionID
}

// fileBackend builds a key store over fsys so tests can survive a vault
// restart without touching the host filesystem.
func fileBackend(tb testing.TB, fsys afero.Fs) keystore.Backend {
	tb.Helper()
	store, err := keystore.NewFileBackend(fsys, "/vault")
	if err != nil {
		tb.Fatalf("NewFileBackend() error = %v", err)
	}
	return store
}

func TestNew(t *testing.T) {
	vault, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer vault.Close()

	status := vault.Status()
	if status.State != StateReady {
		t.Errorf("State = %q, want %q", status.State, StateReady)
	}
	if status.KeysStored != 0 {
		t.Errorf("KeysStored = %d, want 0", status.KeysStored)
	}
	if status.ActiveSessions != 0 {
		t.Errorf("ActiveSessions = %d, want 0", status.ActiveSessions)
	}
}

func TestNewConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing passphrase", func(c *Config) { c.MasterPassphrase = "" }},
		{"missing key store", func(c *Config) { c.Backend = nil; c.KeyStorePath = "" }},
		{"zero max sessions", func(c *Config) { c.MaxSessions = 0 }},
		{"negative max sessions", func(c *Config) { c.MaxSessions = -1 }},
		{"zero session timeout", func(c *Config) { c.SessionTimeout = 0 }},
		{"audit enabled without path", func(c *Config) { c.EnableAuditLog = true; c.AuditLogPath = "" }},
		{"negative iterations", func(c *Config) { c.PBKDF2Iterations = -1 }},
		{"unknown kdf algorithm", func(c *Config) { c.KDFAlgorithm = "scrypt" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := New(cfg)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("New() error = %v, want ErrInvalidConfig", err)
			}
		})
	}

	t.Run("nil config", func(t *testing.T) {
		if _, err := New(nil); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("New(nil) error = %v, want ErrInvalidConfig", err)
		}
	})
}

func TestNewWrongPassphrase(t *testing.T) {
	fsys := afero.NewMemMapFs()

	cfg := testConfig(t)
	cfg.Backend = fileBackend(t, fsys)
	vault, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := vault.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopen := testConfig(t)
	reopen.MasterPassphrase = "not-the-passphrase"
	reopen.Backend = fileBackend(t, fsys)
	if _, err := New(reopen); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("New() with wrong passphrase error = %v, want ErrDecryptionFailed", err)
	}
}

func TestClose(t *testing.T) {
	vault, sessionID := newTestVault(t)
	ctx := context.Background()

	if err := vault.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := vault.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close() error = %v, want ErrClosed", err)
	}

	if _, err := vault.CreateSession(ctx, "late"); !errors.Is(err, ErrClosed) {
		t.Errorf("CreateSession() after close error = %v, want ErrClosed", err)
	}
	if err := vault.ValidateSession(ctx, sessionID); !errors.Is(err, ErrClosed) {
		t.Errorf("ValidateSession() after close error = %v, want ErrClosed", err)
	}
	if _, err := vault.GenerateSymmetric(ctx, sessionID, "late-key"); !errors.Is(err, ErrClosed) {
		t.Errorf("GenerateSymmetric() after close error = %v, want ErrClosed", err)
	}
	if _, err := vault.ListKeys(ctx, sessionID); !errors.Is(err, ErrClosed) {
		t.Errorf("ListKeys() after close error = %v, want ErrClosed", err)
	}
	if _, err := vault.Encrypt(ctx, sessionID, "late-key", []byte("data"), nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Encrypt() after close error = %v, want ErrClosed", err)
	}
	if err := vault.FlushAuditLog(); !errors.Is(err, ErrClosed) {
		t.Errorf("FlushAuditLog() after close error = %v, want ErrClosed", err)
	}
	if _, err := vault.HealthCheck(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("HealthCheck() after close error = %v, want ErrClosed", err)
	}

	if got := vault.Status().State; got != StateClosed {
		t.Errorf("State = %q, want %q", got, StateClosed)
	}
}

func TestSessionLifecycle(t *testing.T) {
	vault, _ := newTestVault(t)
	ctx := context.Background()

	sessionID, err := vault.CreateSession(ctx, "alice")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if !strings.HasPrefix(sessionID, "session_") {
		t.Errorf("session id = %q, want session_ prefix", sessionID)
	}

	if err := vault.ValidateSession(ctx, sessionID); err != nil {
		t.Errorf("ValidateSession() error = %v", err)
	}
	if err := vault.CloseSession(ctx, sessionID); err != nil {
		t.Errorf("CloseSession() error = %v", err)
	}
	if err := vault.ValidateSession(ctx, sessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("ValidateSession() after close error = %v, want ErrSessionNotFound", err)
	}
	if err := vault.CloseSession(ctx, sessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("CloseSession() twice error = %v, want ErrSessionNotFound", err)
	}
}

func TestCreateSessionInvalidUser(t *testing.T) {
	vault, _ := newTestVault(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		userID string
	}{
		{"empty", ""},
		{"newline", "alice\nbob"},
		{"null byte", "alice\x00"},
		{"too long", strings.Repeat("u", 256)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := vault.CreateSession(ctx, tt.userID); !errors.Is(err, ErrInvalidUserID) {
				t.Errorf("CreateSession(%q) error = %v, want ErrInvalidUserID", tt.userID, err)
			}
		})
	}
}

func TestSessionPermissions(t *testing.T) {
	vault, _ := newTestVault(t)
	ctx := context.Background()

	t.Run("restricted session", func(t *testing.T) {
		sessionID, err := vault.CreateSessionWithPermissions(ctx, "reader", []string{OpListKeys})
		if err != nil {
			t.Fatalf("CreateSessionWithPermissions() error = %v", err)
		}
		if _, err := vault.ListKeys(ctx, sessionID); err != nil {
			t.Errorf("ListKeys() error = %v", err)
		}
		if _, err := vault.GenerateSymmetric(ctx, sessionID, "denied-key"); !errors.Is(err, ErrPermissionDenied) {
			t.Errorf("GenerateSymmetric() error = %v, want ErrPermissionDenied", err)
		}
	})

	t.Run("empty permissions grant nothing", func(t *testing.T) {
		sessionID, err := vault.CreateSessionWithPermissions(ctx, "noone", []string{})
		if err != nil {
			t.Fatalf("CreateSessionWithPermissions() error = %v", err)
		}
		// Bare liveness still passes
		if err := vault.ValidateSession(ctx, sessionID); err != nil {
			t.Errorf("ValidateSession() error = %v", err)
		}
		if _, err := vault.ListKeys(ctx, sessionID); !errors.Is(err, ErrPermissionDenied) {
			t.Errorf("ListKeys() error = %v, want ErrPermissionDenied", err)
		}
	})

	t.Run("nil permissions grant defaults", func(t *testing.T) {
		sessionID, err := vault.CreateSessionWithPermissions(ctx, "admin", nil)
		if err != nil {
			t.Fatalf("CreateSessionWithPermissions() error = %v", err)
		}
		if _, err := vault.GenerateSymmetric(ctx, sessionID, "default-perm-key"); err != nil {
			t.Errorf("GenerateSymmetric() error = %v", err)
		}
	})
}

func TestDefaultPermissions(t *testing.T) {
	perms := DefaultPermissions()
	want := []string{
		OpGenerateRSA, OpGenerateEd25519, OpGenerateSymmetric, OpGenerateHMAC,
		OpListKeys, OpGetPublicKey, OpDeleteKey, OpExportKey,
		OpEncrypt, OpDecrypt, OpSign, OpVerify, OpComputeMAC, OpVerifyMAC,
	}
	if len(perms) != len(want) {
		t.Fatalf("DefaultPermissions() returned %d operations, want %d", len(perms), len(want))
	}
	granted := make(map[string]bool, len(perms))
	for _, p := range perms {
		granted[p] = true
	}
	for _, op := range want {
		if !granted[op] {
			t.Errorf("DefaultPermissions() missing %q", op)
		}
	}
}

func TestSessionCapacity(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxSessions = 2
	vault, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer vault.Close()
	ctx := context.Background()

	first, err := vault.CreateSession(ctx, "alice")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if _, err := vault.CreateSession(ctx, "bob"); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if _, err := vault.CreateSession(ctx, "carol"); !errors.Is(err, ErrMaxSessionsExceeded) {
		t.Errorf("CreateSession() at capacity error = %v, want ErrMaxSessionsExceeded", err)
	}

	// Closing one frees a slot
	if err := vault.CloseSession(ctx, first); err != nil {
		t.Fatalf("CloseSession() error = %v", err)
	}
	if _, err := vault.CreateSession(ctx, "carol"); err != nil {
		t.Errorf("CreateSession() after close error = %v", err)
	}
}

func TestSessionExpiry(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxSessions = 1
	cfg.SessionTimeout = 1 * time.Second
	vault, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer vault.Close()
	ctx := context.Background()

	stale, err := vault.CreateSession(ctx, "alice")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	time.Sleep(2100 * time.Millisecond)

	// Expired but not yet evicted
	if err := vault.ValidateSession(ctx, stale); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("ValidateSession() error = %v, want ErrSessionExpired", err)
	}

	// Creation evicts the expired session and reuses its slot
	fresh, err := vault.CreateSession(ctx, "bob")
	if err != nil {
		t.Fatalf("CreateSession() after expiry error = %v", err)
	}
	if err := vault.ValidateSession(ctx, fresh); err != nil {
		t.Errorf("ValidateSession() error = %v", err)
	}
	if err := vault.ValidateSession(ctx, stale); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("ValidateSession() after eviction error = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.SessionsPerSecond = 1
	cfg.SessionBurst = 2
	vault, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer vault.Close()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := vault.CreateSession(ctx, "alice"); err != nil {
			t.Fatalf("CreateSession() %d error = %v", i+1, err)
		}
	}
	if _, err := vault.CreateSession(ctx, "alice"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("CreateSession() over budget error = %v, want ErrRateLimited", err)
	}

	// Rate limits are per user
	if _, err := vault.CreateSession(ctx, "bob"); err != nil {
		t.Errorf("CreateSession() for other user error = %v", err)
	}
}

func TestMetrics(t *testing.T) {
	vault, sessionID := newTestVault(t)
	ctx := context.Background()

	aesKey, err := vault.GenerateSymmetric(ctx, sessionID, "metrics-aes")
	if err != nil {
		t.Fatalf("GenerateSymmetric() error = %v", err)
	}
	sealed, err := vault.Encrypt(ctx, sessionID, aesKey, []byte("counted"), nil)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := vault.Decrypt(ctx, sessionID, aesKey, sealed.Ciphertext, sealed.Nonce, sealed.Tag, nil); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}

	edKey, err := vault.GenerateEd25519(ctx, sessionID, "metrics-ed")
	if err != nil {
		t.Fatalf("GenerateEd25519() error = %v", err)
	}
	sig, err := vault.Sign(ctx, sessionID, edKey, []byte("counted"), HashSHA256)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if _, err := vault.Verify(ctx, sessionID, edKey, []byte("counted"), sig.Signature, HashSHA256); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	macKey, err := vault.GenerateHMAC(ctx, sessionID, "metrics-mac")
	if err != nil {
		t.Fatalf("GenerateHMAC() error = %v", err)
	}
	mac, err := vault.ComputeMAC(ctx, sessionID, macKey, []byte("counted"))
	if err != nil {
		t.Fatalf("ComputeMAC() error = %v", err)
	}
	if _, err := vault.VerifyMAC(ctx, sessionID, macKey, []byte("counted"), mac); err != nil {
		t.Fatalf("VerifyMAC() error = %v", err)
	}

	// One failed attempt
	if _, err := vault.Encrypt(ctx, sessionID, "ghost", []byte("counted"), nil); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Encrypt() on unknown key error = %v, want ErrKeyNotFound", err)
	}

	m := vault.Metrics()
	if m.TotalOperations != 11 {
		t.Errorf("TotalOperations = %d, want 11", m.TotalOperations)
	}
	if m.SuccessfulOperations != 10 {
		t.Errorf("SuccessfulOperations = %d, want 10", m.SuccessfulOperations)
	}
	if m.FailedOperations != 1 {
		t.Errorf("FailedOperations = %d, want 1", m.FailedOperations)
	}
	if m.KeyGenerationOperations != 3 {
		t.Errorf("KeyGenerationOperations = %d, want 3", m.KeyGenerationOperations)
	}
	if m.EncryptionOperations != 2 {
		t.Errorf("EncryptionOperations = %d, want 2", m.EncryptionOperations)
	}
	if m.DecryptionOperations != 1 {
		t.Errorf("DecryptionOperations = %d, want 1", m.DecryptionOperations)
	}
	if m.SigningOperations != 1 {
		t.Errorf("SigningOperations = %d, want 1", m.SigningOperations)
	}
	if m.VerificationOperations != 1 {
		t.Errorf("VerificationOperations = %d, want 1", m.VerificationOperations)
	}
	if m.MACOperations != 2 {
		t.Errorf("MACOperations = %d, want 2", m.MACOperations)
	}
	if m.ActiveSessions != 1 {
		t.Errorf("ActiveSessions = %d, want 1", m.ActiveSessions)
	}
	if m.KeysStored != 3 {
		t.Errorf("KeysStored = %d, want 3", m.KeysStored)
	}
}

func TestStatus(t *testing.T) {
	vault, sessionID := newTestVault(t)
	ctx := context.Background()

	if _, err := vault.GenerateSymmetric(ctx, sessionID, "status-key"); err != nil {
		t.Fatalf("GenerateSymmetric() error = %v", err)
	}

	status := vault.Status()
	if status.State != StateReady {
		t.Errorf("State = %q, want %q", status.State, StateReady)
	}
	if status.KeysStored != 1 {
		t.Errorf("KeysStored = %d, want 1", status.KeysStored)
	}
	if status.ActiveSessions != 1 {
		t.Errorf("ActiveSessions = %d, want 1", status.ActiveSessions)
	}
	if status.AuditEntries == 0 {
		t.Error("AuditEntries = 0, want > 0")
	}
	if status.UptimeSeconds < 0 {
		t.Errorf("UptimeSeconds = %d, want >= 0", status.UptimeSeconds)
	}
}

func TestAuditTrail(t *testing.T) {
	cfg := testConfig(t)
	vault, sessionID := newTestVaultWithConfig(t, cfg)
	ctx := context.Background()

	keyID, err := vault.GenerateSymmetric(ctx, sessionID, "audited-key")
	if err != nil {
		t.Fatalf("GenerateSymmetric() error = %v", err)
	}
	if _, err := vault.Encrypt(ctx, sessionID, "ghost", []byte("data"), nil); err == nil {
		t.Fatal("Encrypt() on unknown key should fail")
	}

	entries := vault.AuditEntries()
	if len(entries) != 3 {
		t.Fatalf("AuditEntries() returned %d entries, want 3", len(entries))
	}

	created := entries[0]
	if created.Operation != OpCreateSession {
		t.Errorf("entries[0].Operation = %q, want %q", created.Operation, OpCreateSession)
	}
	if !created.Success {
		t.Error("entries[0].Success = false, want true")
	}
	if created.UserID != "tester" {
		t.Errorf("entries[0].UserID = %q, want %q", created.UserID, "tester")
	}
	if created.SessionID != sessionID {
		t.Errorf("entries[0].SessionID = %q, want %q", created.SessionID, sessionID)
	}

	generated := entries[1]
	if generated.Operation != OpGenerateSymmetric {
		t.Errorf("entries[1].Operation = %q, want %q", generated.Operation, OpGenerateSymmetric)
	}
	if generated.KeyID != keyID {
		t.Errorf("entries[1].KeyID = %q, want %q", generated.KeyID, keyID)
	}

	failed := entries[2]
	if failed.Operation != OpEncrypt {
		t.Errorf("entries[2].Operation = %q, want %q", failed.Operation, OpEncrypt)
	}
	if failed.Success {
		t.Error("entries[2].Success = true, want false")
	}
	if failed.ErrorMessage == "" {
		t.Error("entries[2].ErrorMessage is empty, want the failure reason")
	}

	// Flush writes the full trail as one JSON array
	if err := vault.FlushAuditLog(); err != nil {
		t.Fatalf("FlushAuditLog() error = %v", err)
	}
	data, err := os.ReadFile(cfg.AuditLogPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var flushed []audit.Entry
	if err := json.Unmarshal(data, &flushed); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(flushed) != len(entries) {
		t.Errorf("flushed %d entries, want %d", len(flushed), len(entries))
	}
}

func TestAuditDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.EnableAuditLog = false
	vault, sessionID := newTestVaultWithConfig(t, cfg)
	ctx := context.Background()

	if _, err := vault.GenerateSymmetric(ctx, sessionID, "silent-key"); err != nil {
		t.Fatalf("GenerateSymmetric() error = %v", err)
	}
	if got := vault.AuditEntries(); len(got) != 0 {
		t.Errorf("AuditEntries() returned %d entries, want 0", len(got))
	}
	if err := vault.FlushAuditLog(); err != nil {
		t.Errorf("FlushAuditLog() error = %v", err)
	}
	if _, err := os.Stat(cfg.AuditLogPath); !os.IsNotExist(err) {
		t.Errorf("audit log file exists, want none")
	}
}

func TestHealthCheck(t *testing.T) {
	vault, _ := newTestVault(t)

	results, err := vault.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("HealthCheck() returned %d results, want 3", len(results))
	}

	wantNames := []string{"crypto", "keystore", "master_key"}
	for i, result := range results {
		if result.Name != wantNames[i] {
			t.Errorf("results[%d].Name = %q, want %q", i, result.Name, wantNames[i])
		}
		if result.Status != health.StatusHealthy {
			t.Errorf("%s status = %q, want %q (%s)", result.Name, result.Status, health.StatusHealthy, result.Error)
		}
	}

	entries := vault.AuditEntries()
	last := entries[len(entries)-1]
	if last.Operation != OpHealthCheck {
		t.Errorf("last audit operation = %q, want %q", last.Operation, OpHealthCheck)
	}
	if !last.Success {
		t.Error("health check audit entry not marked successful")
	}
}

func TestConcurrentOperations(t *testing.T) {
	vault, sessionID := newTestVault(t)
	ctx := context.Background()

	keyID, err := vault.GenerateSymmetric(ctx, sessionID, "shared-key")
	if err != nil {
		t.Fatalf("GenerateSymmetric() error = %v", err)
	}

	const goroutines = 10
	const iterations = 20

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			plaintext := []byte(strings.Repeat("x", worker+1))
			for i := 0; i < iterations; i++ {
				sealed, err := vault.Encrypt(ctx, sessionID, keyID, plaintext, nil)
				if err != nil {
					t.Errorf("worker %d: Encrypt() error = %v", worker, err)
					return
				}
				got, err := vault.Decrypt(ctx, sessionID, keyID, sealed.Ciphertext, sealed.Nonce, sealed.Tag, nil)
				if err != nil {
					t.Errorf("worker %d: Decrypt() error = %v", worker, err)
					return
				}
				if string(got) != string(plaintext) {
					t.Errorf("worker %d: round trip = %q, want %q", worker, got, plaintext)
					return
				}
			}
		}(g)
	}

	// Listings and metrics reads race against the crypto loops
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			if _, err := vault.ListKeys(ctx, sessionID); err != nil {
				t.Errorf("ListKeys() error = %v", err)
				return
			}
			vault.Metrics()
		}
	}()
	wg.Wait()

	m := vault.Metrics()
	want := uint64(goroutines * iterations)
	if m.EncryptionOperations != want {
		t.Errorf("EncryptionOperations = %d, want %d", m.EncryptionOperations, want)
	}
	if m.DecryptionOperations != want {
		t.Errorf("DecryptionOperations = %d, want %d", m.DecryptionOperations, want)
	}
	if m.FailedOperations != 0 {
		t.Errorf("FailedOperations = %d, want 0", m.FailedOperations)
	}
}

func TestConcurrentSessions(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxSessions = 1000
	vault, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer vault.Close()
	ctx := context.Background()

	const goroutines = 20
	sessions := make(chan string, goroutines)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			sessionID, err := vault.CreateSession(ctx, "worker")
			if err != nil {
				t.Errorf("worker %d: CreateSession() error = %v", worker, err)
				return
			}
			sessions <- sessionID
		}(g)
	}
	wg.Wait()
	close(sessions)

	seen := make(map[string]bool)
	for sessionID := range sessions {
		if seen[sessionID] {
			t.Errorf("duplicate session id %q", sessionID)
		}
		seen[sessionID] = true
	}
	if len(seen) != goroutines {
		t.Errorf("created %d unique sessions, want %d", len(seen), goroutines)
	}
	if got := vault.Metrics().ActiveSessions; got != goroutines {
		t.Errorf("ActiveSessions = %d, want %d", got, goroutines)
	}
}
