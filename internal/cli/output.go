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

package cli

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-hsm/pkg/audit"
	"github.com/jeremyhahn/go-hsm/pkg/health"
	"github.com/jeremyhahn/go-hsm/pkg/hsm"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
	OutputFormatYAML OutputFormat = "yaml"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON, OutputFormatYAML:
		return p.printStructured(map[string]interface{}{
			"status":  "success",
			"message": message,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON, OutputFormatYAML:
		return p.printStructured(map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintKeyList prints the metadata of every stored key
func (p *Printer) PrintKeyList(keys []hsm.KeyMetadata) error {
	switch p.format {
	case OutputFormatJSON, OutputFormatYAML:
		list := make([]map[string]interface{}, len(keys))
		for i, key := range keys {
			list[i] = keyMap(key)
		}
		return p.printStructured(map[string]interface{}{"keys": list})
	case OutputFormatText:
		if len(keys) == 0 {
			fmt.Fprintln(p.writer, "No keys found")
			return nil
		}
		fmt.Fprintln(p.writer, "Keys:")
		for _, key := range keys {
			fmt.Fprintf(p.writer, "  - %s (%s, %s, used %d times)\n",
				key.KeyID, key.KeyType, key.Purpose, key.UsageCount)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintKeyInfo prints detailed key information
func (p *Printer) PrintKeyInfo(key hsm.KeyMetadata) error {
	switch p.format {
	case OutputFormatJSON, OutputFormatYAML:
		return p.printStructured(keyMap(key))
	case OutputFormatText:
		fmt.Fprintln(p.writer, "Key Information:")
		fmt.Fprintf(p.writer, "  ID:          %s\n", key.KeyID)
		fmt.Fprintf(p.writer, "  Type:        %s\n", key.KeyType)
		fmt.Fprintf(p.writer, "  Purpose:     %s\n", key.Purpose)
		fmt.Fprintf(p.writer, "  Created:     %s\n", formatEpoch(key.CreatedAt))
		fmt.Fprintf(p.writer, "  Last Used:   %s\n", formatEpoch(key.LastUsed))
		fmt.Fprintf(p.writer, "  Usage Count: %d\n", key.UsageCount)
		if key.ExpiresAt != nil {
			fmt.Fprintf(p.writer, "  Expires:     %s\n", formatEpoch(*key.ExpiresAt))
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintPublicKey prints serialized public key material (base64 encoded)
func (p *Printer) PrintPublicKey(keyID string, der []byte) error {
	encoded := base64.StdEncoding.EncodeToString(der)
	switch p.format {
	case OutputFormatJSON, OutputFormatYAML:
		return p.printStructured(map[string]interface{}{
			"key_id":     keyID,
			"public_key": encoded,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, encoded)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintExportedKey prints an exported private key (encrypted PKCS#8 DER,
// base64 encoded)
func (p *Printer) PrintExportedKey(keyID string, der []byte) error {
	encoded := base64.StdEncoding.EncodeToString(der)
	switch p.format {
	case OutputFormatJSON, OutputFormatYAML:
		return p.printStructured(map[string]interface{}{
			"key_id": keyID,
			"pkcs8":  encoded,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, encoded)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintEncryptedData prints encrypted data (ciphertext, nonce, tag all base64 encoded)
func (p *Printer) PrintEncryptedData(data *hsm.EncryptedData) error {
	switch p.format {
	case OutputFormatJSON, OutputFormatYAML:
		return p.printStructured(map[string]interface{}{
			"ciphertext": base64.StdEncoding.EncodeToString(data.Ciphertext),
			"nonce":      base64.StdEncoding.EncodeToString(data.Nonce),
			"tag":        base64.StdEncoding.EncodeToString(data.Tag),
			"algorithm":  data.Algorithm,
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Ciphertext: %s\n", base64.StdEncoding.EncodeToString(data.Ciphertext))
		fmt.Fprintf(p.writer, "Nonce:      %s\n", base64.StdEncoding.EncodeToString(data.Nonce))
		fmt.Fprintf(p.writer, "Tag:        %s\n", base64.StdEncoding.EncodeToString(data.Tag))
		fmt.Fprintf(p.writer, "Algorithm:  %s\n", data.Algorithm)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintDecryptedData prints decrypted data (base64 encoded)
func (p *Printer) PrintDecryptedData(plaintext string) error {
	switch p.format {
	case OutputFormatJSON, OutputFormatYAML:
		return p.printStructured(map[string]interface{}{
			"plaintext": plaintext,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, plaintext)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSignature prints a signature and its algorithm tag
func (p *Printer) PrintSignature(sig *hsm.SignatureData) error {
	encoded := base64.StdEncoding.EncodeToString(sig.Signature)
	switch p.format {
	case OutputFormatJSON, OutputFormatYAML:
		return p.printStructured(map[string]interface{}{
			"signature": encoded,
			"algorithm": sig.Algorithm,
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Signature: %s\n", encoded)
		fmt.Fprintf(p.writer, "Algorithm: %s\n", sig.Algorithm)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintVerifyResult prints a signature or MAC verification outcome
func (p *Printer) PrintVerifyResult(valid bool) error {
	switch p.format {
	case OutputFormatJSON, OutputFormatYAML:
		return p.printStructured(map[string]interface{}{
			"valid": valid,
		})
	case OutputFormatText:
		if valid {
			fmt.Fprintln(p.writer, "valid")
		} else {
			fmt.Fprintln(p.writer, "INVALID")
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintMAC prints an authentication code (base64 encoded)
func (p *Printer) PrintMAC(mac []byte) error {
	encoded := base64.StdEncoding.EncodeToString(mac)
	switch p.format {
	case OutputFormatJSON, OutputFormatYAML:
		return p.printStructured(map[string]interface{}{
			"mac": encoded,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, encoded)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSessionInfo prints session details
func (p *Printer) PrintSessionInfo(sessionID, userID string, permissions []string) error {
	switch p.format {
	case OutputFormatJSON, OutputFormatYAML:
		return p.printStructured(map[string]interface{}{
			"session_id":  sessionID,
			"user_id":     userID,
			"permissions": permissions,
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Session: %s\n", sessionID)
		fmt.Fprintf(p.writer, "User:    %s\n", userID)
		fmt.Fprintln(p.writer, "Permissions:")
		for _, perm := range permissions {
			fmt.Fprintf(p.writer, "  - %s\n", perm)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintAuditEntries prints the audit trail
func (p *Printer) PrintAuditEntries(entries []audit.Entry) error {
	switch p.format {
	case OutputFormatJSON, OutputFormatYAML:
		list := make([]map[string]interface{}, len(entries))
		for i, e := range entries {
			m := map[string]interface{}{
				"id":        e.ID,
				"timestamp": e.Timestamp.Format(time.RFC3339),
				"operation": e.Operation,
				"success":   e.Success,
			}
			if e.KeyID != "" {
				m["key_id"] = e.KeyID
			}
			if e.SessionID != "" {
				m["session_id"] = e.SessionID
			}
			if e.UserID != "" {
				m["user_id"] = e.UserID
			}
			if e.ErrorMessage != "" {
				m["error"] = e.ErrorMessage
			}
			list[i] = m
		}
		return p.printStructured(map[string]interface{}{"entries": list})
	case OutputFormatText:
		if len(entries) == 0 {
			fmt.Fprintln(p.writer, "No audit entries")
			return nil
		}
		for _, e := range entries {
			outcome := "ok"
			if !e.Success {
				outcome = "FAILED"
			}
			fmt.Fprintf(p.writer, "%s  %-22s %-8s key=%s user=%s",
				e.Timestamp.Format(time.RFC3339), e.Operation, outcome, orDash(e.KeyID), orDash(e.UserID))
			if e.ErrorMessage != "" {
				fmt.Fprintf(p.writer, "  error=%q", e.ErrorMessage)
			}
			fmt.Fprintln(p.writer)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintMetrics prints the vault's operation counters
func (p *Printer) PrintMetrics(m hsm.Metrics) error {
	switch p.format {
	case OutputFormatJSON, OutputFormatYAML:
		return p.printStructured(map[string]interface{}{
			"total_operations":          m.TotalOperations,
			"successful_operations":     m.SuccessfulOperations,
			"failed_operations":         m.FailedOperations,
			"active_sessions":           m.ActiveSessions,
			"keys_stored":               m.KeysStored,
			"encryption_operations":     m.EncryptionOperations,
			"decryption_operations":     m.DecryptionOperations,
			"signing_operations":        m.SigningOperations,
			"verification_operations":   m.VerificationOperations,
			"key_generation_operations": m.KeyGenerationOperations,
			"mac_operations":            m.MACOperations,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, "Vault Metrics:")
		fmt.Fprintf(p.writer, "  Total Operations:      %d\n", m.TotalOperations)
		fmt.Fprintf(p.writer, "  Successful:            %d\n", m.SuccessfulOperations)
		fmt.Fprintf(p.writer, "  Failed:                %d\n", m.FailedOperations)
		fmt.Fprintf(p.writer, "  Active Sessions:       %d\n", m.ActiveSessions)
		fmt.Fprintf(p.writer, "  Keys Stored:           %d\n", m.KeysStored)
		fmt.Fprintf(p.writer, "  Encryptions:           %d\n", m.EncryptionOperations)
		fmt.Fprintf(p.writer, "  Decryptions:           %d\n", m.DecryptionOperations)
		fmt.Fprintf(p.writer, "  Signatures:            %d\n", m.SigningOperations)
		fmt.Fprintf(p.writer, "  Verifications:         %d\n", m.VerificationOperations)
		fmt.Fprintf(p.writer, "  Key Generations:       %d\n", m.KeyGenerationOperations)
		fmt.Fprintf(p.writer, "  MAC Operations:        %d\n", m.MACOperations)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintStatus prints the vault's health summary
func (p *Printer) PrintStatus(s hsm.Status) error {
	switch p.format {
	case OutputFormatJSON, OutputFormatYAML:
		return p.printStructured(map[string]interface{}{
			"state":           s.State,
			"uptime_seconds":  s.UptimeSeconds,
			"keys_stored":     s.KeysStored,
			"active_sessions": s.ActiveSessions,
			"audit_entries":   s.AuditEntries,
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "State:           %s\n", s.State)
		fmt.Fprintf(p.writer, "Keys Stored:     %d\n", s.KeysStored)
		fmt.Fprintf(p.writer, "Active Sessions: %d\n", s.ActiveSessions)
		fmt.Fprintf(p.writer, "Audit Entries:   %d\n", s.AuditEntries)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintHealth prints component self-test results
func (p *Printer) PrintHealth(results []health.CheckResult) error {
	overall := health.AggregateStatus(results)
	switch p.format {
	case OutputFormatJSON, OutputFormatYAML:
		list := make([]map[string]interface{}, len(results))
		for i, r := range results {
			m := map[string]interface{}{
				"name":    r.Name,
				"status":  string(r.Status),
				"latency": r.Latency.String(),
			}
			if r.Message != "" {
				m["message"] = r.Message
			}
			if r.Error != "" {
				m["error"] = r.Error
			}
			list[i] = m
		}
		return p.printStructured(map[string]interface{}{
			"status": string(overall),
			"checks": list,
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Health: %s\n", overall)
		for _, r := range results {
			fmt.Fprintf(p.writer, "  %-12s %-10s %s\n", r.Name, r.Status, r.Message)
			if r.Error != "" {
				fmt.Fprintf(p.writer, "  %-12s %-10s %s\n", "", "", r.Error)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintConfig prints the effective configuration with the passphrase
// redacted
func (p *Printer) PrintConfig(cfg *hsm.Config) error {
	m := map[string]interface{}{
		"key_store_path":       cfg.KeyStorePath,
		"encrypt_keys_at_rest": cfg.EncryptKeysAtRest,
		"max_sessions":         cfg.MaxSessions,
		"session_timeout":      cfg.SessionTimeout.String(),
		"enable_audit_log":     cfg.EnableAuditLog,
		"audit_log_path":       cfg.AuditLogPath,
		"max_audit_entries":    cfg.MaxAuditEntries,
		"kdf_algorithm":        cfg.KDFAlgorithm,
		"pbkdf2_iterations":    cfg.PBKDF2Iterations,
		"max_parallel_ops":     cfg.MaxParallelOps,
		"sessions_per_second":  cfg.SessionsPerSecond,
		"session_burst":        cfg.SessionBurst,
		"master_passphrase":    redacted(cfg.MasterPassphrase),
	}
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(m)
	case OutputFormatYAML, OutputFormatText:
		return p.printYAML(m)
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// printStructured routes to JSON or YAML encoding
func (p *Printer) printStructured(data interface{}) error {
	if p.format == OutputFormatYAML {
		return p.printYAML(data)
	}
	return p.printJSON(data)
}

// printJSON prints data as JSON
func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// printYAML prints data as YAML
func (p *Printer) printYAML(data interface{}) error {
	encoder := yaml.NewEncoder(p.writer)
	encoder.SetIndent(2)
	defer encoder.Close()
	return encoder.Encode(data)
}

func keyMap(key hsm.KeyMetadata) map[string]interface{} {
	m := map[string]interface{}{
		"key_id":      key.KeyID,
		"key_type":    key.KeyType.String(),
		"purpose":     string(key.Purpose),
		"created_at":  formatEpoch(key.CreatedAt),
		"last_used":   formatEpoch(key.LastUsed),
		"usage_count": key.UsageCount,
	}
	if key.ExpiresAt != nil {
		m["expires_at"] = formatEpoch(*key.ExpiresAt)
	}
	return m
}

func formatEpoch(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func redacted(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	return "(set)"
}
