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
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-hsm/pkg/hsm"
)

var (
	keyType          string
	keyExpiresIn     time.Duration
	exportPassphrase string
	exportOutFile    string
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage cryptographic keys",
	Long:  `Generate, inspect, export and delete keys held by the vault.`,
}

var keyGenCmd = &cobra.Command{
	Use:   "gen <key-id>",
	Short: "Generate a new key",
	Long: `Generate a new key inside the vault.

Supported types: rsa-2048, rsa-4096, ed25519, symmetric, hmac.
Private and secret material never leaves the vault; asymmetric keys
expose their public half through 'key pubkey'.`,
	Args: cobra.ExactArgs(1),
	RunE: withVault(func(cmd *cobra.Command, args []string) error {
		keyID := args[0]

		parsed, err := hsm.ParseKeyType(keyType)
		if err != nil {
			return err
		}

		var opts []hsm.KeyOption
		if keyExpiresIn > 0 {
			opts = append(opts, hsm.WithExpiresAt(time.Now().Add(keyExpiresIn)))
		}

		ctx := cmd.Context()
		switch parsed {
		case hsm.KeyTypeRSA2048:
			_, err = vault.GenerateRSA(ctx, sessionID, keyID, 2048, opts...)
		case hsm.KeyTypeRSA4096:
			_, err = vault.GenerateRSA(ctx, sessionID, keyID, 4096, opts...)
		case hsm.KeyTypeEd25519:
			_, err = vault.GenerateEd25519(ctx, sessionID, keyID, opts...)
		case hsm.KeyTypeAES256:
			_, err = vault.GenerateSymmetric(ctx, sessionID, keyID, opts...)
		case hsm.KeyTypeHMAC256:
			_, err = vault.GenerateHMAC(ctx, sessionID, keyID, opts...)
		default:
			err = fmt.Errorf("unsupported key type: %s", parsed)
		}
		if err != nil {
			return err
		}

		printer := NewPrinter(outputFormat, os.Stdout)
		return printer.PrintSuccess(fmt.Sprintf("Generated %s key %q", parsed, keyID))
	}),
}

var keyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all keys",
	RunE: withVault(func(cmd *cobra.Command, args []string) error {
		keys, err := vault.ListKeys(cmd.Context(), sessionID)
		if err != nil {
			return err
		}
		printer := NewPrinter(outputFormat, os.Stdout)
		return printer.PrintKeyList(keys)
	}),
}

var keyInfoCmd = &cobra.Command{
	Use:   "info <key-id>",
	Short: "Show key metadata",
	Args:  cobra.ExactArgs(1),
	RunE: withVault(func(cmd *cobra.Command, args []string) error {
		keys, err := vault.ListKeys(cmd.Context(), sessionID)
		if err != nil {
			return err
		}
		for _, key := range keys {
			if key.KeyID == args[0] {
				printer := NewPrinter(outputFormat, os.Stdout)
				return printer.PrintKeyInfo(key)
			}
		}
		return fmt.Errorf("key not found: %s", args[0])
	}),
}

var keyDeleteCmd = &cobra.Command{
	Use:   "delete <key-id>",
	Short: "Delete a key",
	Long:  `Delete a key and its stored material. This cannot be undone.`,
	Args:  cobra.ExactArgs(1),
	RunE: withVault(func(cmd *cobra.Command, args []string) error {
		if err := vault.DeleteKey(cmd.Context(), sessionID, args[0]); err != nil {
			return err
		}
		printer := NewPrinter(outputFormat, os.Stdout)
		return printer.PrintSuccess(fmt.Sprintf("Deleted key %q", args[0]))
	}),
}

var keyPubkeyCmd = &cobra.Command{
	Use:   "pubkey <key-id>",
	Short: "Print a key's public half",
	Long: `Print the public half of an asymmetric key.

RSA keys are serialized as DER-encoded SubjectPublicKeyInfo, Ed25519
keys as raw 32-byte public key material. Output is base64 encoded.`,
	Args: cobra.ExactArgs(1),
	RunE: withVault(func(cmd *cobra.Command, args []string) error {
		der, err := vault.GetPublicKey(cmd.Context(), sessionID, args[0])
		if err != nil {
			return err
		}
		printer := NewPrinter(outputFormat, os.Stdout)
		return printer.PrintPublicKey(args[0], der)
	}),
}

var keyExportCmd = &cobra.Command{
	Use:   "export <key-id>",
	Short: "Export an asymmetric private key",
	Long: `Export an asymmetric private key as encrypted PKCS#8 DER.

The export passphrase protects the serialized key and is independent
of the vault's master passphrase. Symmetric and HMAC keys are not
exportable.`,
	Args: cobra.ExactArgs(1),
	RunE: withVault(func(cmd *cobra.Command, args []string) error {
		if exportPassphrase == "" {
			return fmt.Errorf("export passphrase required: use --export-passphrase")
		}

		der, err := vault.ExportKey(cmd.Context(), sessionID, args[0], []byte(exportPassphrase))
		if err != nil {
			return err
		}

		if exportOutFile != "" {
			if err := os.WriteFile(exportOutFile, der, 0600); err != nil {
				return fmt.Errorf("failed to write %s: %w", exportOutFile, err)
			}
			printer := NewPrinter(outputFormat, os.Stdout)
			return printer.PrintSuccess(fmt.Sprintf("Exported key %q to %s", args[0], exportOutFile))
		}

		printer := NewPrinter(outputFormat, os.Stdout)
		return printer.PrintExportedKey(args[0], der)
	}),
}

func init() {
	keyCmd.AddCommand(keyGenCmd)
	keyCmd.AddCommand(keyListCmd)
	keyCmd.AddCommand(keyInfoCmd)
	keyCmd.AddCommand(keyDeleteCmd)
	keyCmd.AddCommand(keyPubkeyCmd)
	keyCmd.AddCommand(keyExportCmd)

	keyGenCmd.Flags().StringVarP(&keyType, "type", "t", "symmetric", "Key type (rsa-2048, rsa-4096, ed25519, symmetric, hmac)")
	keyGenCmd.Flags().DurationVar(&keyExpiresIn, "expires-in", 0, "Expire the key after this duration (0 = never)")

	keyExportCmd.Flags().StringVar(&exportPassphrase, "export-passphrase", "", "Passphrase protecting the exported key")
	keyExportCmd.Flags().StringVar(&exportOutFile, "out", "", "Write the exported key to a file instead of stdout")
}
