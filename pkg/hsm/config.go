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
	"runtime"
	"time"

	"github.com/jeremyhahn/go-hsm/pkg/kdf"
	"github.com/jeremyhahn/go-hsm/pkg/keystore"
	"github.com/jeremyhahn/go-hsm/pkg/logging"
)

// Config holds the vault's construction-time settings. All fields are
// fixed once New returns; there is no dynamic reconfiguration.
type Config struct {
	// KeyStorePath is the directory for the sealed master key and the
	// per-key envelope files.
	KeyStorePath string `yaml:"key_store_path" mapstructure:"key_store_path"`

	// EncryptKeysAtRest wraps private material with the master key
	// before any persistence.
	EncryptKeysAtRest bool `yaml:"encrypt_keys_at_rest" mapstructure:"encrypt_keys_at_rest"`

	// MaxSessions is the hard cap on concurrent sessions.
	MaxSessions int `yaml:"max_sessions" mapstructure:"max_sessions"`

	// SessionTimeout is the inactivity window after which a session is
	// invalid.
	SessionTimeout time.Duration `yaml:"session_timeout" mapstructure:"session_timeout"`

	// EnableAuditLog gates whether audit entries are recorded and
	// flushed at shutdown.
	EnableAuditLog bool `yaml:"enable_audit_log" mapstructure:"enable_audit_log"`

	// AuditLogPath is the destination file for the flushed audit log.
	AuditLogPath string `yaml:"audit_log_path" mapstructure:"audit_log_path"`

	// PBKDF2Iterations is the work factor for master-key derivation.
	PBKDF2Iterations int `yaml:"pbkdf2_iterations" mapstructure:"pbkdf2_iterations"`

	// MasterPassphrase is the secret the wrapping key is derived from.
	// Sourced from the environment or an upstream secret manager; the
	// vault refuses to start without one.
	MasterPassphrase string `yaml:"-" mapstructure:"master_passphrase"`

	// KDFAlgorithm selects the passphrase derivation function:
	// "pbkdf2" (default) or "argon2id".
	KDFAlgorithm string `yaml:"kdf_algorithm" mapstructure:"kdf_algorithm"`

	// MaxParallelOps bounds concurrently executing CPU-heavy crypto
	// operations. Defaults to GOMAXPROCS.
	MaxParallelOps int `yaml:"max_parallel_ops" mapstructure:"max_parallel_ops"`

	// SessionsPerSecond is the per-user sustained session creation rate.
	// Zero disables rate limiting.
	SessionsPerSecond float64 `yaml:"sessions_per_second" mapstructure:"sessions_per_second"`

	// SessionBurst allows short bursts above the sustained rate.
	SessionBurst int `yaml:"session_burst" mapstructure:"session_burst"`

	// MaxAuditEntries caps the in-memory audit log; the oldest entries
	// are evicted beyond it.
	MaxAuditEntries int `yaml:"max_audit_entries" mapstructure:"max_audit_entries"`

	// Logger overrides the default logger.
	Logger *logging.Logger `yaml:"-" mapstructure:"-"`

	// Backend overrides the default file-backed key store. Tests inject
	// an in-memory backend here.
	Backend keystore.Backend `yaml:"-" mapstructure:"-"`
}

// DefaultConfig returns the vault defaults. The master passphrase has no
// default and must be supplied by the caller.
func DefaultConfig() *Config {
	return &Config{
		KeyStorePath:      "./hsm_keys",
		EncryptKeysAtRest: true,
		MaxSessions:       100,
		SessionTimeout:    time.Hour,
		EnableAuditLog:    true,
		AuditLogPath:      "./hsm_audit.log",
		PBKDF2Iterations:  100000,
		KDFAlgorithm:      "pbkdf2",
		MaxParallelOps:    runtime.GOMAXPROCS(0),
		SessionsPerSecond: 50,
		SessionBurst:      100,
		MaxAuditEntries:   100000,
	}
}

// normalize fills zero-valued optional fields with their defaults.
func (c *Config) normalize() {
	if c.KDFAlgorithm == "" {
		c.KDFAlgorithm = "pbkdf2"
	}
	if c.MaxParallelOps <= 0 {
		c.MaxParallelOps = runtime.GOMAXPROCS(0)
	}
	if c.MaxAuditEntries <= 0 {
		c.MaxAuditEntries = 100000
	}
	if c.Logger == nil {
		c.Logger = logging.DefaultLogger()
	}
}

// Validate checks the configuration for construction.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if c.KeyStorePath == "" && c.Backend == nil {
		return fmt.Errorf("%w: key store path required", ErrInvalidConfig)
	}
	if c.MasterPassphrase == "" {
		return fmt.Errorf("%w: master passphrase required", ErrInvalidConfig)
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("%w: max sessions must be positive", ErrInvalidConfig)
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("%w: session timeout must be positive", ErrInvalidConfig)
	}
	if c.EnableAuditLog && c.AuditLogPath == "" {
		return fmt.Errorf("%w: audit log path required", ErrInvalidConfig)
	}
	if c.PBKDF2Iterations <= 0 {
		return fmt.Errorf("%w: pbkdf2 iterations must be positive", ErrInvalidConfig)
	}
	if _, err := kdf.ParseAlgorithm(c.KDFAlgorithm); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
