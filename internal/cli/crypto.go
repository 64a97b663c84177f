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
	"os"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-hsm/pkg/hsm"
)

var (
	aadString     string
	cipherB64     string
	nonceB64      string
	tagB64        string
	encryptedFile string
	hashName      string
	signatureB64  string
	macB64        string
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt <key-id> [data]",
	Short: "Encrypt data with a symmetric key",
	Long: `Encrypt data with AES-256-GCM under a symmetric vault key.

Data comes from the second argument or stdin. The optional additional
authenticated data (--aad) is bound to the ciphertext and must be
supplied again to decrypt.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: withVault(func(cmd *cobra.Command, args []string) error {
		plaintext, err := readInput(args, 1)
		if err != nil {
			return err
		}

		data, err := vault.Encrypt(cmd.Context(), sessionID, args[0], plaintext, aadBytes())
		if err != nil {
			return err
		}

		printer := NewPrinter(outputFormat, os.Stdout)
		return printer.PrintEncryptedData(data)
	}),
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt <key-id>",
	Short: "Decrypt data with a symmetric key",
	Long: `Decrypt AES-256-GCM data produced by the encrypt command.

Supply --ciphertext, --nonce and --tag as base64, or --in with a JSON
file written by "encrypt -o json". Decryption fails if the ciphertext,
tag or additional authenticated data was tampered with.`,
	Args: cobra.ExactArgs(1),
	RunE: withVault(func(cmd *cobra.Command, args []string) error {
		data, err := loadEncryptedData()
		if err != nil {
			return err
		}

		plaintext, err := vault.Decrypt(cmd.Context(), sessionID, args[0],
			data.Ciphertext, data.Nonce, data.Tag, aadBytes())
		if err != nil {
			return err
		}

		printer := NewPrinter(outputFormat, os.Stdout)
		return printer.PrintDecryptedData(string(plaintext))
	}),
}

var signCmd = &cobra.Command{
	Use:   "sign <key-id> [data]",
	Short: "Sign data with an Ed25519 key",
	Long: `Sign data with an Ed25519 vault key.

The message is digested with --hash (sha-256, sha-512 or blake3)
before signing. Data comes from the second argument or stdin.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: withVault(func(cmd *cobra.Command, args []string) error {
		message, err := readInput(args, 1)
		if err != nil {
			return err
		}

		hash, err := hsm.ParseHashAlgorithm(hashName)
		if err != nil {
			return err
		}

		sig, err := vault.Sign(cmd.Context(), sessionID, args[0], message, hash)
		if err != nil {
			return err
		}

		printer := NewPrinter(outputFormat, os.Stdout)
		return printer.PrintSignature(sig)
	}),
}

var verifyCmd = &cobra.Command{
	Use:   "verify <key-id> [data]",
	Short: "Verify an Ed25519 signature",
	Long: `Verify an Ed25519 signature over data.

A mismatched signature is reported as invalid, not as an error; the
command exits non-zero so scripts can branch on the result.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: withVault(func(cmd *cobra.Command, args []string) error {
		message, err := readInput(args, 1)
		if err != nil {
			return err
		}

		signature, err := base64.StdEncoding.DecodeString(signatureB64)
		if err != nil {
			return fmt.Errorf("invalid signature encoding: %w", err)
		}

		hash, err := hsm.ParseHashAlgorithm(hashName)
		if err != nil {
			return err
		}

		valid, err := vault.Verify(cmd.Context(), sessionID, args[0], message, signature, hash)
		if err != nil {
			return err
		}

		printer := NewPrinter(outputFormat, os.Stdout)
		if err := printer.PrintVerifyResult(valid); err != nil {
			return err
		}
		if !valid {
			exitCode = 1
		}
		return nil
	}),
}

var macCmd = &cobra.Command{
	Use:   "mac",
	Short: "Compute and verify authentication codes",
}

var macComputeCmd = &cobra.Command{
	Use:   "compute <key-id> [data]",
	Short: "Compute an HMAC-SHA256 authentication code",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withVault(func(cmd *cobra.Command, args []string) error {
		message, err := readInput(args, 1)
		if err != nil {
			return err
		}

		mac, err := vault.ComputeMAC(cmd.Context(), sessionID, args[0], message)
		if err != nil {
			return err
		}

		printer := NewPrinter(outputFormat, os.Stdout)
		return printer.PrintMAC(mac)
	}),
}

var macVerifyCmd = &cobra.Command{
	Use:   "verify <key-id> [data]",
	Short: "Verify an HMAC-SHA256 authentication code",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withVault(func(cmd *cobra.Command, args []string) error {
		message, err := readInput(args, 1)
		if err != nil {
			return err
		}

		mac, err := base64.StdEncoding.DecodeString(macB64)
		if err != nil {
			return fmt.Errorf("invalid mac encoding: %w", err)
		}

		valid, err := vault.VerifyMAC(cmd.Context(), sessionID, args[0], message, mac)
		if err != nil {
			return err
		}

		printer := NewPrinter(outputFormat, os.Stdout)
		if err := printer.PrintVerifyResult(valid); err != nil {
			return err
		}
		if !valid {
			exitCode = 1
		}
		return nil
	}),
}

func init() {
	encryptCmd.Flags().StringVar(&aadString, "aad", "", "Additional authenticated data")

	decryptCmd.Flags().StringVar(&aadString, "aad", "", "Additional authenticated data")
	decryptCmd.Flags().StringVar(&cipherB64, "ciphertext", "", "Ciphertext (base64)")
	decryptCmd.Flags().StringVar(&nonceB64, "nonce", "", "Nonce (base64)")
	decryptCmd.Flags().StringVar(&tagB64, "tag", "", "Authentication tag (base64)")
	decryptCmd.Flags().StringVar(&encryptedFile, "in", "", "JSON file written by 'encrypt -o json'")

	signCmd.Flags().StringVar(&hashName, "hash", "sha-256", "Digest algorithm (sha-256, sha-512, blake3)")

	verifyCmd.Flags().StringVar(&hashName, "hash", "sha-256", "Digest algorithm (sha-256, sha-512, blake3)")
	verifyCmd.Flags().StringVar(&signatureB64, "signature", "", "Signature to verify (base64)")
	_ = verifyCmd.MarkFlagRequired("signature")

	macCmd.AddCommand(macComputeCmd)
	macCmd.AddCommand(macVerifyCmd)
	macVerifyCmd.Flags().StringVar(&macB64, "mac", "", "Authentication code to verify (base64)")
	_ = macVerifyCmd.MarkFlagRequired("mac")
}

// readInput returns args[idx] as bytes, or stdin when the argument is
// absent.
func readInput(args []string, idx int) ([]byte, error) {
	if len(args) > idx {
		return []byte(args[idx]), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to read stdin: %w", err)
	}
	return data, nil
}

func aadBytes() []byte {
	if aadString == "" {
		return nil
	}
	return []byte(aadString)
}

// loadEncryptedData assembles ciphertext, nonce and tag from --in or
// the individual base64 flags.
func loadEncryptedData() (*hsm.EncryptedData, error) {
	if encryptedFile != "" {
		raw, err := os.ReadFile(encryptedFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", encryptedFile, err)
		}
		var data hsm.EncryptedData
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", encryptedFile, err)
		}
		return &data, nil
	}

	if cipherB64 == "" || nonceB64 == "" || tagB64 == "" {
		return nil, fmt.Errorf("decrypt requires --in or all of --ciphertext, --nonce and --tag")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(cipherB64)
	if err != nil {
		return nil, fmt.Errorf("invalid ciphertext encoding: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce encoding: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(tagB64)
	if err != nil {
		return nil, fmt.Errorf("invalid tag encoding: %w", err)
	}
	return &hsm.EncryptedData{Ciphertext: ciphertext, Nonce: nonce, Tag: tag}, nil
}
