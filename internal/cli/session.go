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

	"github.com/jeremyhahn/go-hsm/pkg/hsm"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect vault sessions",
	Long: `Inspect the session created for this invocation.

Sessions live in vault memory and end when the process exits; every
command opens one automatically for the current user.`,
}

var sessionOpenCmd = &cobra.Command{
	Use:   "open",
	Short: "Open a session and print its details",
	RunE: withVault(func(cmd *cobra.Command, args []string) error {
		if err := vault.ValidateSession(cmd.Context(), sessionID); err != nil {
			return err
		}
		printer := NewPrinter(outputFormat, os.Stdout)
		return printer.PrintSessionInfo(sessionID, currentUser(), hsm.DefaultPermissions())
	}),
}

var sessionCloseCmd = &cobra.Command{
	Use:   "close",
	Short: "Close the current session",
	RunE: withVault(func(cmd *cobra.Command, args []string) error {
		if err := vault.CloseSession(cmd.Context(), sessionID); err != nil {
			return err
		}
		printer := NewPrinter(outputFormat, os.Stdout)
		return printer.PrintSuccess("Session closed")
	}),
}

func init() {
	sessionCmd.AddCommand(sessionOpenCmd)
	sessionCmd.AddCommand(sessionCloseCmd)
}
