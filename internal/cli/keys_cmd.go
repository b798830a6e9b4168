// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// keys_cmd.go - Key pair generation.

package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jeranaias/chatvault/internal/security"
)

var validKeyBits = map[int]bool{2048: true, 3072: true, 4096: true}

func newKeygenCmd(a *app) *cobra.Command {
	var (
		bits           int
		outDir         string
		passphraseFile string
		prompt         bool
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the RSA key pair that exports are encrypted for",
		Long: `Generate an RSA key pair. private_key.pem stays on the trusted device;
copy public_key.pem to the host that runs chatvault.

Protect the private key with --prompt or --passphrase-file. Without a
passphrase the key is written in the clear.`,
		Example: `  chatvault keygen --out ./keys --prompt
  chatvault keygen --bits 4096 --passphrase-file pass.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !validKeyBits[bits] {
				return &ValidationError{Field: "bits", Value: strconv.Itoa(bits), Reason: "must be 2048, 3072 or 4096"}
			}
			if prompt && passphraseFile != "" {
				return NewValidationError("passphrase", "", "use either --prompt or --passphrase-file")
			}

			var passphrase []byte
			switch {
			case passphraseFile != "":
				p, err := readPassphraseFile(passphraseFile)
				if err != nil {
					return err
				}
				passphrase = p
			case prompt:
				p, err := promptPassphrase(cmd.ErrOrStderr(), "Private key passphrase: ", true)
				if err != nil {
					return err
				}
				passphrase = p
			}
			defer security.ZeroBytes(passphrase)

			priv, err := security.GenerateKeyPair(bits)
			if err != nil {
				return err
			}
			privPath, pubPath, err := security.WriteKeyPair(outDir, priv, passphrase)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, RenderConditional(TitleStyle, "Key pair generated"))
			fmt.Fprintln(out, RenderField("Private key", privPath))
			fmt.Fprintln(out, RenderField("Public key", pubPath))
			fmt.Fprintln(out, RenderField("Modulus", fmt.Sprintf("%d bits", bits)))
			if len(passphrase) == 0 {
				a.log().Warn("private key written without passphrase", "path", privPath)
				fmt.Fprintln(out, RenderStatus("warn")+" private key is not passphrase protected")
			} else {
				fmt.Fprintln(out, RenderField("Protection", "PKCS#8 PBES2 (PBKDF2-SHA256, AES-256-CBC)"))
			}
			fmt.Fprintln(out, RenderConditional(DimStyle, "Keep the private key off the application host."))
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&bits, "bits", security.DefaultRSABits, "RSA modulus size (2048, 3072, 4096)")
	f.StringVarP(&outDir, "out", "o", ".", "directory for private_key.pem and public_key.pem")
	f.StringVar(&passphraseFile, "passphrase-file", "", "read the private key passphrase from a file")
	f.BoolVar(&prompt, "prompt", false, "prompt for a private key passphrase")
	return cmd
}
