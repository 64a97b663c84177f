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

// Package config loads the vault configuration from a YAML file, the
// environment, and built-in defaults, in that order of increasing
// precedence for the environment. The master passphrase is never read
// from the config file; it comes from HSM_MASTER_PASSPHRASE or the
// --passphrase flag.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-hsm/pkg/hsm"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// HSM_KEY_STORE_PATH, HSM_MASTER_PASSPHRASE.
const EnvPrefix = "HSM"

// Load builds an hsm.Config from cfgFile (or the default search paths
// when empty), environment variables, and defaults. The returned config
// is not yet validated; hsm.New validates at construction.
func Load(cfgFile string) (*hsm.Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hsm")
		v.SetConfigType("yaml")
		v.SetConfigName(".hsm")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: %w", err)
		}
		// No config file is fine; defaults and environment apply.
	}

	cfg := &hsm.Config{
		KeyStorePath:      v.GetString("key_store_path"),
		EncryptKeysAtRest: v.GetBool("encrypt_keys_at_rest"),
		MaxSessions:       v.GetInt("max_sessions"),
		SessionTimeout:    v.GetDuration("session_timeout"),
		EnableAuditLog:    v.GetBool("enable_audit_log"),
		AuditLogPath:      v.GetString("audit_log_path"),
		PBKDF2Iterations:  v.GetInt("pbkdf2_iterations"),
		MasterPassphrase:  v.GetString("master_passphrase"),
		KDFAlgorithm:      v.GetString("kdf_algorithm"),
		MaxParallelOps:    v.GetInt("max_parallel_ops"),
		SessionsPerSecond: v.GetFloat64("sessions_per_second"),
		SessionBurst:      v.GetInt("session_burst"),
		MaxAuditEntries:   v.GetInt("max_audit_entries"),
	}
	return cfg, nil
}

// setDefaults registers every key with its default so environment
// overrides resolve even without a config file.
func setDefaults(v *viper.Viper) {
	defaults := hsm.DefaultConfig()
	v.SetDefault("key_store_path", defaults.KeyStorePath)
	v.SetDefault("encrypt_keys_at_rest", defaults.EncryptKeysAtRest)
	v.SetDefault("max_sessions", defaults.MaxSessions)
	v.SetDefault("session_timeout", defaults.SessionTimeout)
	v.SetDefault("enable_audit_log", defaults.EnableAuditLog)
	v.SetDefault("audit_log_path", defaults.AuditLogPath)
	v.SetDefault("pbkdf2_iterations", defaults.PBKDF2Iterations)
	v.SetDefault("master_passphrase", "")
	v.SetDefault("kdf_algorithm", defaults.KDFAlgorithm)
	v.SetDefault("max_parallel_ops", defaults.MaxParallelOps)
	v.SetDefault("sessions_per_second", defaults.SessionsPerSecond)
	v.SetDefault("session_burst", defaults.SessionBurst)
	v.SetDefault("max_audit_entries", defaults.MaxAuditEntries)
}

// FileTemplate is the commented starter configuration written by
// `hsm config init`.
const FileTemplate = `# go-hsm vault configuration.
#
# Every key can be overridden from the environment with the HSM_ prefix,
# e.g. HSM_KEY_STORE_PATH. The master passphrase is intentionally not a
# config file key: set HSM_MASTER_PASSPHRASE or pass --passphrase.

# Directory for the sealed master key and per-key envelope files.
key_store_path: ./hsm_keys

# Wrap private key material with the master key before writing it.
encrypt_keys_at_rest: true

# Hard cap on concurrent sessions.
max_sessions: 100

# Inactivity window after which a session is invalid.
session_timeout: 1h

# Record an audit entry for every sensitive operation and flush the log
# to audit_log_path when the vault closes.
enable_audit_log: true
audit_log_path: ./hsm_audit.log

# Cap on in-memory audit entries; the oldest are evicted beyond it.
max_audit_entries: 100000

# Passphrase stretching for the master key-encryption key.
# kdf_algorithm: pbkdf2 | argon2id
kdf_algorithm: pbkdf2
pbkdf2_iterations: 100000

# Concurrent CPU-heavy crypto operations. 0 means GOMAXPROCS.
max_parallel_ops: 0

# Per-user session creation rate. 0 disables rate limiting.
sessions_per_second: 50
session_burst: 100
`
