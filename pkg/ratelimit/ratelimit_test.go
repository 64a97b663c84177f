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

package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	config := &Config{
		Enabled:   true,
		PerSecond: 10,
		Burst:     5,
	}

	limiter := New(config)
	if limiter == nil {
		t.Fatal("Expected limiter to be created")
	}
	defer limiter.Stop()

	if !limiter.enabled {
		t.Error("Expected limiter to be enabled")
	}

	stats := limiter.Stats()
	if !stats.Enabled {
		t.Error("Expected enabled to be true in stats")
	}
	if stats.PerSecond != 10 {
		t.Errorf("Expected per second 10, got %v", stats.PerSecond)
	}
	if stats.Burst != 5 {
		t.Errorf("Expected burst 5, got %d", stats.Burst)
	}
}

func TestNewNilConfig(t *testing.T) {
	limiter := New(nil)
	if limiter == nil {
		t.Fatal("Expected limiter to be created")
	}

	// Nil config disables limiting
	for i := 0; i < 100; i++ {
		if !limiter.Allow("anyone") {
			t.Fatal("nil-config limiter should allow all requests")
		}
	}
}

func TestBurstDefaults(t *testing.T) {
	tests := []struct {
		name      string
		perSecond float64
		burst     int
		wantBurst int
	}{
		{"explicit burst", 10, 20, 20},
		{"burst defaults to rate", 10, 0, 10},
		{"burst floor of one", 0, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(&Config{Enabled: true, PerSecond: tt.perSecond, Burst: tt.burst})
			defer limiter.Stop()
			if limiter.burst != tt.wantBurst {
				t.Errorf("burst = %d, want %d", limiter.burst, tt.wantBurst)
			}
		})
	}
}

func TestAllow(t *testing.T) {
	config := &Config{
		Enabled:   true,
		PerSecond: 1,
		Burst:     5,
	}

	limiter := New(config)
	defer limiter.Stop()

	userID := "test-user"

	// First 5 requests should succeed (burst)
	for i := 0; i < 5; i++ {
		if !limiter.Allow(userID) {
			t.Errorf("Request %d should be allowed (burst)", i+1)
		}
	}

	// Next request should be denied (burst exhausted)
	if limiter.Allow(userID) {
		t.Error("Request should be denied after burst exhausted")
	}

	// Wait for 1 second, 1 token should be available
	time.Sleep(1100 * time.Millisecond)
	if !limiter.Allow(userID) {
		t.Error("Request should be allowed after waiting")
	}
}

func TestDisabledLimiter(t *testing.T) {
	config := &Config{
		Enabled:   false,
		PerSecond: 1,
	}

	limiter := New(config)

	userID := "test-user"

	// All requests should be allowed when disabled
	for i := 0; i < 100; i++ {
		if !limiter.Allow(userID) {
			t.Error("Disabled limiter should allow all requests")
		}
	}
}

func TestPerUserLimiting(t *testing.T) {
	config := &Config{
		Enabled:   true,
		PerSecond: 1,
		Burst:     1,
	}

	limiter := New(config)
	defer limiter.Stop()

	user1 := "alice"
	user2 := "bob"

	// Exhaust alice's budget
	if !limiter.Allow(user1) {
		t.Error("First request for alice should be allowed")
	}
	if limiter.Allow(user1) {
		t.Error("Second request for alice should be denied")
	}

	// Bob should still have budget
	if !limiter.Allow(user2) {
		t.Error("First request for bob should be allowed")
	}
}

func TestWait(t *testing.T) {
	config := &Config{
		Enabled:   true,
		PerSecond: 100,
		Burst:     1,
	}

	limiter := New(config)
	defer limiter.Stop()

	ctx := context.Background()
	if err := limiter.Wait(ctx, "waiter"); err != nil {
		t.Errorf("First Wait() error = %v", err)
	}

	// Second wait must block briefly for a token
	start := time.Now()
	if err := limiter.Wait(ctx, "waiter"); err != nil {
		t.Errorf("Second Wait() error = %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Wait() blocked far longer than the refill interval")
	}
}

func TestWaitCancelled(t *testing.T) {
	config := &Config{
		Enabled:   true,
		PerSecond: 0.001, // Effectively never refills
		Burst:     1,
	}

	limiter := New(config)
	defer limiter.Stop()

	// Exhaust the budget
	if !limiter.Allow("cancelled-user") {
		t.Fatal("First request should be allowed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx, "cancelled-user"); err == nil {
		t.Error("Wait() with exhausted budget should fail when context expires")
	}
}

func TestCleanup(t *testing.T) {
	config := &Config{
		Enabled:         true,
		PerSecond:       10,
		CleanupInterval: 100 * time.Millisecond,
		MaxIdle:         200 * time.Millisecond,
	}

	limiter := New(config)
	defer limiter.Stop()

	// Create a limiter entry
	limiter.Allow("idle-user")

	// Check it exists
	limiter.mu.RLock()
	if len(limiter.limiters) != 1 {
		t.Errorf("Expected 1 limiter, got %d", len(limiter.limiters))
	}
	limiter.mu.RUnlock()

	// Wait for cleanup
	time.Sleep(400 * time.Millisecond)

	// Check it was cleaned up
	limiter.mu.RLock()
	if len(limiter.limiters) != 0 {
		t.Errorf("Expected 0 limiters after cleanup, got %d", len(limiter.limiters))
	}
	limiter.mu.RUnlock()
}

func TestStats(t *testing.T) {
	config := &Config{
		Enabled:   true,
		PerSecond: 50,
		Burst:     100,
	}

	limiter := New(config)
	defer limiter.Stop()

	// Add some users
	limiter.Allow("alice")
	limiter.Allow("bob")

	stats := limiter.Stats()

	if !stats.Enabled {
		t.Error("Expected enabled to be true")
	}
	if stats.ActiveUsers != 2 {
		t.Errorf("Expected 2 active users, got %d", stats.ActiveUsers)
	}
	if stats.PerSecond != 50 {
		t.Errorf("Expected per second 50, got %v", stats.PerSecond)
	}
	if stats.Burst != 100 {
		t.Errorf("Expected burst 100, got %d", stats.Burst)
	}
}

func TestStopIdempotent(t *testing.T) {
	limiter := New(&Config{Enabled: true, PerSecond: 10})
	limiter.Stop()
	limiter.Stop() // Must not panic
}
