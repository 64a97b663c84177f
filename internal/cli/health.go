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

	"github.com/jeremyhahn/go-hsm/pkg/health"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run component self-tests",
	Long: `Run the vault's component self-tests: key store reachability, master
key unsealing, and a sign/verify plus AEAD round trip on throwaway
material. Exits non-zero when any check fails.`,
	RunE: withVault(func(cmd *cobra.Command, args []string) error {
		results, err := vault.HealthCheck(cmd.Context())
		if err != nil {
			return err
		}
		if health.AggregateStatus(results) != health.StatusHealthy {
			exitCode = 1
		}
		printer := NewPrinter(outputFormat, os.Stdout)
		return printer.PrintHealth(results)
	}),
}
