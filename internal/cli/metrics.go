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

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show operation counters",
	RunE: withVault(func(cmd *cobra.Command, args []string) error {
		printer := NewPrinter(outputFormat, os.Stdout)
		return printer.PrintMetrics(vault.Metrics())
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault status",
	RunE: withVault(func(cmd *cobra.Command, args []string) error {
		printer := NewPrinter(outputFormat, os.Stdout)
		return printer.PrintStatus(vault.Status())
	}),
}
