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
	"os"

	"github.com/spf13/cobra"
)

var auditTail int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit trail",
	Long: `Inspect the audit trail of vault operations.

Entries accumulate in memory and flush to the audit log file when the
vault closes; this command shows the entries recorded so far in the
current invocation plus whatever the flush target already holds.`,
}

var auditShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show audit entries from this invocation",
	RunE: withVault(func(cmd *cobra.Command, args []string) error {
		entries := vault.AuditEntries()
		if auditTail > 0 && len(entries) > auditTail {
			entries = entries[len(entries)-auditTail:]
		}
		printer := NewPrinter(outputFormat, os.Stdout)
		return printer.PrintAuditEntries(entries)
	}),
}

var auditFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Flush buffered audit entries to the log file",
	RunE: withVault(func(cmd *cobra.Command, args []string) error {
		if err := vault.FlushAuditLog(); err != nil {
			return err
		}
		printer := NewPrinter(outputFormat, os.Stdout)
		return printer.PrintSuccess("Audit log flushed")
	}),
}

func init() {
	auditCmd.AddCommand(auditShowCmd)
	auditCmd.AddCommand(auditFlushCmd)

	auditShowCmd.Flags().IntVar(&auditTail, "tail", 0, "Show only the last N entries (0 = all)")
}
