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
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"github.com/jeremyhahn/go-hsm/pkg/health"
)

// HealthCheck runs the vault's component self-tests: key store
// reachability, master key integrity, and a crypto engine round trip.
// The run is recorded in the audit trail; a failing component marks the
// audit entry failed but the results are still returned.
func (h *HSM) HealthCheck(ctx context.Context) ([]health.CheckResult, error) {
	start := time.Now()
	if err := h.checkOpen(); err != nil {
		return nil, err
	}

	results := h.checker.Run(ctx)
	healthy := health.AggregateStatus(results) == health.StatusHealthy

	var opErr error
	if !healthy {
		opErr = fmt.Errorf("hsm: health check failed")
	}
	h.record(OpHealthCheck, "", "", "", start, healthy, opErr)
	return results, nil
}

// registerHealthChecks wires the vault's components into the checker.
func (h *HSM) registerHealthChecks() {
	h.checker.RegisterCheck("keystore", h.checkKeystore)
	h.checker.RegisterCheck("master_key", h.checkMasterKey)
	h.checker.RegisterCheck("crypto", h.checkCrypto)
}

func (h *HSM) checkKeystore(ctx context.Context) health.CheckResult {
	names, err := h.store.List()
	if err != nil {
		return health.CheckResult{
			Name:   "keystore",
			Status: health.StatusUnhealthy,
			Error:  err.Error(),
		}
	}
	return health.CheckResult{
		Name:    "keystore",
		Status:  health.StatusHealthy,
		Message: fmt.Sprintf("%d objects reachable", len(names)),
	}
}

func (h *HSM) checkMasterKey(ctx context.Context) health.CheckResult {
	if err := h.master.check(); err != nil {
		return health.CheckResult{
			Name:   "master_key",
			Status: health.StatusUnhealthy,
			Error:  err.Error(),
		}
	}
	return health.CheckResult{
		Name:    "master_key",
		Status:  health.StatusHealthy,
		Message: "unseals to a well-formed key",
	}
}

// checkCrypto exercises the signing and encryption primitives with
// throwaway material: generate, sign, verify, then an AEAD round trip.
// Nothing touches the key table or the key store.
func (h *HSM) checkCrypto(ctx context.Context) health.CheckResult {
	unhealthy := func(stage string, err error) health.CheckResult {
		return health.CheckResult{
			Name:   "crypto",
			Status: health.StatusUnhealthy,
			Error:  fmt.Sprintf("%s: %v", stage, err),
		}
	}

	testData := []byte("hsm health check test data")

	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return unhealthy("key generation", err)
	}
	digest := sha256.Sum256(testData)
	signature := ed25519.Sign(private, digest[:])
	if !ed25519.Verify(public, digest[:], signature) {
		return unhealthy("verification", fmt.Errorf("signature mismatch"))
	}

	key := make([]byte, symmetricKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return unhealthy("entropy", err)
	}
	sealed, err := aeadSeal(key, testData)
	if err != nil {
		return unhealthy("encryption", err)
	}
	opened, err := aeadOpen(key, sealed)
	if err != nil {
		return unhealthy("decryption", err)
	}
	if !bytes.Equal(opened, testData) {
		return unhealthy("decryption", fmt.Errorf("plaintext mismatch"))
	}

	return health.CheckResult{
		Name:    "crypto",
		Status:  health.StatusHealthy,
		Message: "sign, verify and AEAD round trip passed",
	}
}
