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

// Package ratelimit provides per-user token-bucket rate limiting for
// session creation, so one caller cannot exhaust the vault's session
// capacity by churning sessions.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter implements a token bucket rate limiter with per-user tracking.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	enabled  bool

	cleanupInterval time.Duration
	maxIdle         time.Duration
	lastSeen        map[string]time.Time
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// Config holds rate limiter configuration.
type Config struct {
	// Enabled controls whether rate limiting is active.
	Enabled bool

	// PerSecond sets the sustained rate limit per user.
	PerSecond float64

	// Burst allows short bursts above the sustained rate.
	// If not set, defaults to the sustained rate rounded up.
	Burst int

	// CleanupInterval controls how often idle users are removed.
	// Defaults to 10 minutes.
	CleanupInterval time.Duration

	// MaxIdle is how long a user can be idle before cleanup.
	// Defaults to 30 minutes.
	MaxIdle time.Duration
}

// New creates a new rate limiter with the given configuration.
func New(config *Config) *Limiter {
	if config == nil {
		config = &Config{Enabled: false}
	}

	burst := config.Burst
	if burst == 0 {
		burst = int(config.PerSecond)
		if burst == 0 {
			burst = 1
		}
	}

	cleanupInterval := config.CleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = 10 * time.Minute
	}

	maxIdle := config.MaxIdle
	if maxIdle == 0 {
		maxIdle = 30 * time.Minute
	}

	l := &Limiter{
		limiters:        make(map[string]*rate.Limiter),
		lastSeen:        make(map[string]time.Time),
		rate:            rate.Limit(config.PerSecond),
		burst:           burst,
		enabled:         config.Enabled,
		cleanupInterval: cleanupInterval,
		maxIdle:         maxIdle,
		stopCleanup:     make(chan struct{}),
	}

	if config.Enabled {
		go l.cleanupWorker()
	}

	return l
}

// getLimiter returns the rate limiter for a given user, creating one if
// this is the first time the user is seen.
func (l *Limiter) getLimiter(userID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[userID]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[userID] = limiter
	}

	l.lastSeen[userID] = time.Now()
	return limiter
}

// Allow checks if a request from the given user should be allowed.
func (l *Limiter) Allow(userID string) bool {
	if !l.enabled {
		return true
	}
	return l.getLimiter(userID).Allow()
}

// Wait blocks until the rate limit allows the request or the context is
// cancelled.
func (l *Limiter) Wait(ctx context.Context, userID string) error {
	if !l.enabled {
		return nil
	}
	return l.getLimiter(userID).Wait(ctx)
}

// cleanupWorker periodically removes idle users from memory.
func (l *Limiter) cleanupWorker() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

// cleanup removes users that haven't created sessions recently.
func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for userID, lastSeen := range l.lastSeen {
		if now.Sub(lastSeen) > l.maxIdle {
			delete(l.limiters, userID)
			delete(l.lastSeen, userID)
		}
	}
}

// Stop stops the cleanup worker. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCleanup)
	})
}

// Stats reports the limiter's current state.
type Stats struct {
	Enabled     bool    `json:"enabled"`
	ActiveUsers int     `json:"active_users"`
	PerSecond   float64 `json:"per_second"`
	Burst       int     `json:"burst"`
}

// Stats returns current rate limiter statistics.
func (l *Limiter) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return Stats{
		Enabled:     l.enabled,
		ActiveUsers: len(l.limiters),
		PerSecond:   float64(l.rate),
		Burst:       l.burst,
	}
}
