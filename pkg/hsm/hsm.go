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

// Package hsm implements a software vault for cryptographic keys. It
// provides master-key custody, key generation and storage with
// encryption at rest, capacity-bounded sessions, and the
// encrypt/decrypt/sign/verify operation surface, with every sensitive
// operation audited.
//
// A vault is constructed once with New and shared by handle:
//
//	vault, err := hsm.New(cfg)
//	if err != nil {
//		return err
//	}
//	defer vault.Close()
//
//	sessionID, err := vault.CreateSession(ctx, "alice")
//	keyID, err := vault.GenerateSymmetric(ctx, sessionID, "backup-key")
//	sealed, err := vault.Encrypt(ctx, sessionID, keyID, plaintext, nil)
package hsm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/semaphore"

	"github.com/jeremyhahn/go-hsm/pkg/audit"
	"github.com/jeremyhahn/go-hsm/pkg/health"
	"github.com/jeremyhahn/go-hsm/pkg/keystore"
	"github.com/jeremyhahn/go-hsm/pkg/logging"
	"github.com/jeremyhahn/go-hsm/pkg/metrics"
	"github.com/jeremyhahn/go-hsm/pkg/ratelimit"
)

// resourceInterval is how often the runtime resource gauges refresh.
const resourceInterval = 30 * time.Second

// HSM is the software vault. All methods are safe for concurrent use.
type HSM struct {
	cfg       *Config
	log       *logging.Logger
	store     keystore.Backend
	master    *masterKey
	sessions  *sessionManager
	keys      *keyTable
	recorder  audit.Recorder
	limiter   *ratelimit.Limiter
	compute   *semaphore.Weighted
	collector *metrics.ResourceCollector
	checker   *health.Checker

	counters opCounters
	started  time.Time
	closed   atomic.Bool
}

// New constructs a vault from cfg. The key store directory is created
// if missing, the master key is derived or unsealed, and every
// persisted key envelope is restored. A wrong passphrase or a corrupt
// envelope fails construction.
func New(cfg *Config) (*HSM, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger

	store := cfg.Backend
	if store == nil {
		var err error
		store, err = keystore.NewFileBackend(afero.NewOsFs(), cfg.KeyStorePath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageIO, err)
		}
	}

	master, err := loadOrCreateMasterKey(cfg, store, log)
	if err != nil {
		store.Close()
		return nil, err
	}

	var recorder audit.Recorder
	if cfg.EnableAuditLog {
		recorder = audit.NewMemoryRecorder(cfg.AuditLogPath, cfg.MaxAuditEntries)
	} else {
		recorder = audit.NewNopRecorder()
	}

	limiter := ratelimit.New(&ratelimit.Config{
		Enabled:   cfg.SessionsPerSecond > 0,
		PerSecond: cfg.SessionsPerSecond,
		Burst:     cfg.SessionBurst,
	})

	h := &HSM{
		cfg:      cfg,
		log:      log,
		store:    store,
		master:   master,
		sessions: newSessionManager(cfg.SessionTimeout, cfg.MaxSessions, limiter),
		keys:     newKeyTable(),
		recorder: recorder,
		limiter:  limiter,
		compute:  semaphore.NewWeighted(int64(cfg.MaxParallelOps)),
		checker:  health.NewChecker(),
		started:  time.Now(),
	}
	if err := h.loadExistingKeys(); err != nil {
		limiter.Stop()
		store.Close()
		return nil, err
	}
	h.registerHealthChecks()

	h.collector = metrics.NewResourceCollector(context.Background(), resourceInterval)
	go h.collector.Start()
	h.updateKeyGauges()

	log.Info("vault ready",
		"keys", h.keys.count(),
		"max_sessions", cfg.MaxSessions,
		"encrypt_at_rest", cfg.EncryptKeysAtRest)
	return h, nil
}

// Close flushes the audit log and releases the vault's resources. The
// vault is unusable afterwards; a second Close returns ErrClosed.
func (h *HSM) Close() error {
	if h.closed.Swap(true) {
		return ErrClosed
	}
	h.collector.Stop()
	h.limiter.Stop()

	var errs []error
	if err := h.recorder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("audit flush: %w", err))
	}
	if err := h.store.Close(); err != nil {
		errs = append(errs, err)
	}
	h.log.Info("vault closed")
	return errors.Join(errs...)
}

// CreateSession opens a session for userID with the default permission
// set. The returned identifier authorizes subsequent operations until
// the session is closed or its inactivity window elapses.
func (h *HSM) CreateSession(ctx context.Context, userID string) (string, error) {
	return h.CreateSessionWithPermissions(ctx, userID, nil)
}

// CreateSessionWithPermissions opens a session restricted to the given
// operations. A nil permission slice grants the default set; an empty
// non-nil slice grants nothing.
func (h *HSM) CreateSessionWithPermissions(ctx context.Context, userID string, permissions []string) (string, error) {
	start := time.Now()
	if err := h.checkOpen(); err != nil {
		return "", err
	}
	sessionID, err := h.sessions.create(userID, permissions)
	if err != nil {
		h.record(OpCreateSession, "", "", userID, start, false, err)
		return "", err
	}
	h.record(OpCreateSession, "", sessionID, userID, start, true, nil)
	h.log.Debug("session created", "session_id", sessionID, "user_id", userID)
	return sessionID, nil
}

// ValidateSession checks that a session exists, is authenticated, and
// has not expired, refreshing its activity window on success.
func (h *HSM) ValidateSession(ctx context.Context, sessionID string) error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	return h.sessions.validate(sessionID, "")
}

// CloseSession removes a session. Operations presented with its
// identifier afterwards fail with ErrSessionNotFound.
func (h *HSM) CloseSession(ctx context.Context, sessionID string) error {
	start := time.Now()
	if err := h.checkOpen(); err != nil {
		return err
	}
	userID := h.sessions.user(sessionID)
	if err := h.sessions.close(sessionID); err != nil {
		h.record(OpCloseSession, "", sessionID, userID, start, false, err)
		return err
	}
	h.record(OpCloseSession, "", sessionID, userID, start, true, nil)
	h.log.Debug("session closed", "session_id", sessionID)
	return nil
}

// Metrics returns a snapshot of the vault's operation counters. Session
// and key counts are recomputed from the live tables.
func (h *HSM) Metrics() Metrics {
	return Metrics{
		TotalOperations:         h.counters.total.Load(),
		SuccessfulOperations:    h.counters.successful.Load(),
		FailedOperations:        h.counters.failed.Load(),
		ActiveSessions:          h.sessions.count(),
		KeysStored:              h.keys.count(),
		EncryptionOperations:    h.counters.encryption.Load(),
		DecryptionOperations:    h.counters.decryption.Load(),
		SigningOperations:       h.counters.signing.Load(),
		VerificationOperations:  h.counters.verification.Load(),
		KeyGenerationOperations: h.counters.keyGeneration.Load(),
		MACOperations:           h.counters.mac.Load(),
	}
}

// Status reports the vault's health for embedding callers.
func (h *HSM) Status() Status {
	state := StateReady
	if h.closed.Load() {
		state = StateClosed
	}
	return Status{
		State:          state,
		UptimeSeconds:  int64(time.Since(h.started).Seconds()),
		KeysStored:     h.keys.count(),
		ActiveSessions: h.sessions.count(),
		AuditEntries:   h.auditLen(),
	}
}

// AuditEntries returns a copy of the recorded audit entries.
func (h *HSM) AuditEntries() []audit.Entry {
	return h.recorder.Entries()
}

// FlushAuditLog writes the audit log to its destination without closing
// the vault.
func (h *HSM) FlushAuditLog() error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	return h.recorder.Flush()
}

// checkOpen fails every operation once the vault is closed.
func (h *HSM) checkOpen() error {
	if h.closed.Load() {
		return ErrClosed
	}
	return nil
}

// acquireCompute takes a slot on the CPU-bound operation semaphore,
// honoring ctx cancellation while waiting. The returned func releases
// the slot.
func (h *HSM) acquireCompute(ctx context.Context) (func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := h.compute.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("hsm: compute slot: %w", err)
	}
	return func() { h.compute.Release(1) }, nil
}

// record books one finished operation: counters, the audit entry, and
// the Prometheus series.
func (h *HSM) record(op, keyID, sessionID, userID string, start time.Time, success bool, opErr error) {
	h.counters.bump(op, success)

	entry := audit.NewEntry(op)
	entry.KeyID = keyID
	entry.SessionID = sessionID
	entry.UserID = userID
	entry.Success = success
	if opErr != nil {
		entry.ErrorMessage = opErr.Error()
	}
	h.recorder.Record(entry)

	status := metrics.StatusSuccess
	if !success {
		status = metrics.StatusError
	}
	metrics.RecordOperation(op, status, time.Since(start).Seconds())
	if opErr != nil {
		metrics.RecordError(op, errorType(opErr))
	}
	metrics.SetActiveSessions(float64(h.sessions.count()))
	metrics.SetAuditEntries(float64(h.auditLen()))
}

func (h *HSM) recordSuccess(op, keyID, sessionID string, start time.Time) {
	h.record(op, keyID, sessionID, h.sessions.user(sessionID), start, true, nil)
}

func (h *HSM) recordFailure(op, keyID, sessionID string, start time.Time, err error) {
	h.record(op, keyID, sessionID, h.sessions.user(sessionID), start, false, err)
}

// recordVerify books a verification outcome. An invalid signature or
// MAC is a failed operation in the counters, but the audit entry
// records the outcome rather than an error.
func (h *HSM) recordVerify(op, keyID, sessionID string, start time.Time, valid bool) {
	h.record(op, keyID, sessionID, h.sessions.user(sessionID), start, valid, nil)
}

func (h *HSM) auditLen() int {
	if r, ok := h.recorder.(interface{ Len() int }); ok {
		return r.Len()
	}
	return 0
}

// updateKeyGauges refreshes the per-type stored key gauges, zeroing
// types whose last key was deleted.
func (h *HSM) updateKeyGauges() {
	counts := h.keys.countByType()
	for _, t := range []KeyType{KeyTypeRSA2048, KeyTypeRSA4096, KeyTypeEd25519, KeyTypeAES256, KeyTypeHMAC256} {
		metrics.SetKeysTotal(t.String(), float64(counts[t]))
	}
}

// opCounters are the vault's lifetime operation counters, reported by
// Metrics. Lock-free so the hot crypto paths never serialize on them.
type opCounters struct {
	total         atomic.Uint64
	successful    atomic.Uint64
	failed        atomic.Uint64
	encryption    atomic.Uint64
	decryption    atomic.Uint64
	signing       atomic.Uint64
	verification  atomic.Uint64
	keyGeneration atomic.Uint64
	mac           atomic.Uint64
}

func (c *opCounters) bump(op string, success bool) {
	c.total.Add(1)
	if success {
		c.successful.Add(1)
	} else {
		c.failed.Add(1)
	}
	switch op {
	case OpEncrypt:
		c.encryption.Add(1)
	case OpDecrypt:
		c.decryption.Add(1)
	case OpSign:
		c.signing.Add(1)
	case OpVerify:
		c.verification.Add(1)
	case OpGenerateRSA, OpGenerateEd25519, OpGenerateSymmetric, OpGenerateHMAC:
		c.keyGeneration.Add(1)
	case OpComputeMAC, OpVerifyMAC:
		c.mac.Add(1)
	}
}
