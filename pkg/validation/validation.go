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

// Package validation provides centralized input validation for the vault.
// The vault validates every caller-supplied identifier through these
// functions, preventing path traversal and injection across all entry
// points.
package validation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// keyIDPattern matches safe key identifiers
var keyIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-\.]+$`)

// ValidateKeyID validates a key identifier.
// Prevents path traversal, injection, and other attacks by:
// - Rejecting empty strings
// - Rejecting null bytes
// - Rejecting absolute paths
// - Rejecting parent directory references (..)
// - Allowing only safe characters
// - Enforcing length limits
func ValidateKeyID(keyID string) error {
	if keyID == "" {
		return fmt.Errorf("key ID cannot be empty")
	}

	// Check for null bytes (can bypass some path checks)
	if strings.Contains(keyID, "\x00") {
		return fmt.Errorf("key ID contains null byte")
	}

	// Check length before other validations (prevent ReDoS)
	if len(keyID) > 255 {
		return fmt.Errorf("key ID too long (max 255 characters)")
	}

	// Check for absolute paths
	if filepath.IsAbs(keyID) {
		return fmt.Errorf("key ID cannot be an absolute path")
	}

	// Check for path traversal attempts
	cleaned := filepath.Clean(keyID)
	if strings.HasPrefix(cleaned, "..") || strings.Contains(cleaned, string(filepath.Separator)+"..") {
		return fmt.Errorf("key ID contains path traversal attempt")
	}

	// Check for control characters
	for _, r := range keyID {
		if r < 32 || r == 127 {
			return fmt.Errorf("key ID contains control characters")
		}
	}

	// Only allow safe characters
	if !keyIDPattern.MatchString(keyID) {
		return fmt.Errorf("key ID contains invalid characters (allowed: a-z, A-Z, 0-9, -, _, .)")
	}

	return nil
}

// ValidateUserID validates a user identifier recorded in sessions and
// the audit trail.
func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("user ID cannot be empty")
	}

	// Check for null bytes
	if strings.Contains(userID, "\x00") {
		return fmt.Errorf("user ID contains null byte")
	}

	// Check length
	if len(userID) > 255 {
		return fmt.Errorf("user ID too long (max 255 characters)")
	}

	// Check for control characters
	for _, r := range userID {
		if r < 32 || r == 127 {
			return fmt.Errorf("user ID contains control characters")
		}
	}

	return nil
}

// SanitizeForLog sanitizes a string for safe logging (prevents log injection).
func SanitizeForLog(s string) string {
	// Remove control characters and null bytes
	s = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)

	// Limit length to prevent log flooding
	if len(s) > 1000 {
		s = s[:1000] + "...[truncated]"
	}

	return s
}
