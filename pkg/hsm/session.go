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
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-hsm/pkg/ratelimit"
	"github.com/jeremyhahn/go-hsm/pkg/validation"
)

// SecuritySession is a time-bounded authorization handle. A session is
// usable only while it is authenticated and its inactivity window has
// not elapsed; there is no path from expired back to active.
type SecuritySession struct {
	SessionID     string   `json:"session_id"`
	CreatedAt     int64    `json:"created_at"`
	LastActivity  int64    `json:"last_activity"`
	Authenticated bool     `json:"authenticated"`
	Permissions   []string `json:"permissions"`
	UserID        string   `json:"user_id"`
}

// can reports whether the session's permission set covers op. The empty
// operation is a bare liveness check and always passes.
func (s *SecuritySession) can(op string) bool {
	if op == "" {
		return true
	}
	return slices.Contains(s.Permissions, op)
}

// DefaultPermissions returns the permission set granted to sessions
// created without an explicit one: every session-gated operation.
func DefaultPermissions() []string {
	return []string{
		OpGenerateRSA,
		OpGenerateEd25519,
		OpGenerateSymmetric,
		OpGenerateHMAC,
		OpListKeys,
		OpGetPublicKey,
		OpDeleteKey,
		OpExportKey,
		OpEncrypt,
		OpDecrypt,
		OpSign,
		OpVerify,
		OpComputeMAC,
		OpVerifyMAC,
	}
}

// sessionManager owns the session table. Expired entries are evicted
// opportunistically when a session is created, never by a background
// sweep; until then they occupy capacity.
type sessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*SecuritySession
	timeout  time.Duration
	max      int
	limiter  *ratelimit.Limiter
}

func newSessionManager(timeout time.Duration, max int, limiter *ratelimit.Limiter) *sessionManager {
	return &sessionManager{
		sessions: make(map[string]*SecuritySession),
		timeout:  timeout,
		max:      max,
		limiter:  limiter,
	}
}

// create evicts expired sessions, enforces the capacity cap and the
// per-user creation rate, then inserts an authenticated session.
func (sm *sessionManager) create(userID string, permissions []string) (string, error) {
	if err := validation.ValidateUserID(userID); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidUserID, err)
	}
	if !sm.limiter.Allow(userID) {
		return "", fmt.Errorf("%w: user %s", ErrRateLimited, validation.SanitizeForLog(userID))
	}

	now := time.Now()
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.evictExpiredLocked(now)
	if len(sm.sessions) >= sm.max {
		return "", ErrMaxSessionsExceeded
	}

	if permissions == nil {
		permissions = DefaultPermissions()
	}
	sessionID := "session_" + uuid.NewString()
	sm.sessions[sessionID] = &SecuritySession{
		SessionID:     sessionID,
		CreatedAt:     now.Unix(),
		LastActivity:  now.Unix(),
		Authenticated: true,
		Permissions:   permissions,
		UserID:        userID,
	}
	return sessionID, nil
}

// validate checks the session for op and refreshes its activity window.
// Failure order: unknown, expired, unauthenticated, then permission.
func (sm *sessionManager) validate(sessionID, op string) error {
	now := time.Now()
	sm.mu.Lock()
	defer sm.mu.Unlock()

	s, ok := sm.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if now.Unix()-s.LastActivity > int64(sm.timeout.Seconds()) {
		return fmt.Errorf("%w: %s", ErrSessionExpired, sessionID)
	}
	if !s.Authenticated {
		return fmt.Errorf("%w: %s", ErrSessionNotAuthenticated, sessionID)
	}
	if !s.can(op) {
		return fmt.Errorf("%w: %s on %s", ErrPermissionDenied, op, sessionID)
	}
	s.LastActivity = now.Unix()
	return nil
}

// user returns the owning user of a session, if it exists.
func (sm *sessionManager) user(sessionID string) string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if s, ok := sm.sessions[sessionID]; ok {
		return s.UserID
	}
	return ""
}

// close removes the session from the table.
func (sm *sessionManager) close(sessionID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if _, ok := sm.sessions[sessionID]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	delete(sm.sessions, sessionID)
	return nil
}

// count returns the number of table entries, including expired sessions
// that have not yet been evicted.
func (sm *sessionManager) count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// evictExpiredLocked removes sessions whose inactivity window elapsed.
// Caller holds the write lock.
func (sm *sessionManager) evictExpiredLocked(now time.Time) {
	for id, s := range sm.sessions {
		if now.Unix()-s.LastActivity > int64(sm.timeout.Seconds()) {
			delete(sm.sessions, id)
		}
	}
}
