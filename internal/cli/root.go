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

// Package cli implements the hsm command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-hsm/internal/config"
	"github.com/jeremyhahn/go-hsm/pkg/hsm"
	"github.com/jeremyhahn/go-hsm/pkg/logging"
)

var (
	cfgFile      string
	keyStorePath string
	passphrase   string
	userFlag     string
	outputFormat string
	debug        bool

	// Set by openVault for the duration of one command.
	vault     *hsm.HSM
	sessionID string

	// Non-zero when a command succeeded but its result warrants a
	// failing exit status, e.g. an invalid signature.
	exitCode int
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "hsm",
	Short: "go-hsm - software vault for cryptographic keys",
	Long: `go-hsm is a software vault providing master-key custody, key
lifecycle management, session-gated cryptographic operations, and audit
logging.

Keys are stored as envelopes sealed under a master key that is itself
derived from a passphrase. Set the passphrase with HSM_MASTER_PASSPHRASE
or the --passphrase flag; every other setting can live in a config file
(see "hsm config init") or an HSM_ environment variable.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code, so
// main can purge locked memory before exiting.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		printer := NewPrinter(outputFormat, os.Stderr)
		_ = printer.PrintError(err)
		return 1
	}
	return exitCode
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is $HOME/.hsm.yaml)")
	rootCmd.PersistentFlags().StringVar(&keyStorePath, "key-store", "",
		"key store directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&passphrase, "passphrase", "",
		"master passphrase (or use HSM_MASTER_PASSPHRASE)")
	rootCmd.PersistentFlags().StringVar(&userFlag, "user", "",
		"user identity recorded in the audit trail (default: current OS user)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text",
		"output format (text, json, yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false,
		"debug output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(encryptCmd)
	rootCmd.AddCommand(decryptCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(macCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(healthCmd)
}

// withVault opens the vault and an ephemeral session before fn runs and
// closes the vault afterwards, so the audit log flushes even when fn
// fails.
func withVault(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		if err := openVault(); err != nil {
			return err
		}
		defer func() {
			if cerr := closeVault(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		return fn(cmd, args)
	}
}

// openVault builds the config from file/env/flags, constructs the
// vault, and opens a session for the invoking user.
func openVault() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if keyStorePath != "" {
		cfg.KeyStorePath = keyStorePath
	}
	if passphrase != "" {
		cfg.MasterPassphrase = passphrase
	}
	if cfg.MasterPassphrase == "" {
		return fmt.Errorf("master passphrase required: set HSM_MASTER_PASSPHRASE or use --passphrase")
	}
	cfg.Logger = logging.NewLogger(debug)

	v, err := hsm.New(cfg)
	if err != nil {
		return err
	}

	sid, err := v.CreateSession(context.Background(), currentUser())
	if err != nil {
		_ = v.Close()
		return err
	}
	vault = v
	sessionID = sid
	printVerbose("opened vault session %s", sessionID)
	return nil
}

func closeVault() error {
	if vault == nil {
		return nil
	}
	if sessionID != "" {
		// Tolerate sessions already closed by the session command.
		if err := vault.CloseSession(context.Background(), sessionID); err != nil &&
			!errors.Is(err, hsm.ErrSessionNotFound) {
			printVerbose("session close: %v", err)
		}
	}
	err := vault.Close()
	vault = nil
	sessionID = ""
	return err
}

// currentUser resolves the identity recorded in the audit trail.
func currentUser() string {
	if userFlag != "" {
		return userFlag
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	if env := os.Getenv("USER"); env != "" {
		return env
	}
	return "unknown_user"
}

// printVerbose prints a message if debug mode is enabled
func printVerbose(format string, args ...interface{}) {
	if debug {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}
