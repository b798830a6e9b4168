// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// export_cmd.go - Producing and reading chat_history.enc.

package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jeranaias/chatvault/internal/envelope"
	"github.com/jeranaias/chatvault/internal/export"
	"github.com/jeranaias/chatvault/internal/security"
	"github.com/jeranaias/chatvault/internal/util"
)

// =============================================================================
// EXPORT
// =============================================================================

func newExportCmd(a *app) *cobra.Command {
	var (
		identifier string
		outDir     string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a user's encrypted chat history to disk",
		Example: `  chatvault export --user alice
  chatvault export --user alice --out /tmp/exports`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			user, err := a.resolveUser(ctx, st, identifier)
			if err != nil {
				return err
			}

			art, err := a.exporter(st, a.keyProvider(), nil).Export(ctx, user.ID)
			if err != nil {
				return err
			}
			if outDir == "" {
				outDir = a.cfg.Export.OutputDir
			}
			path, err := export.WriteArtifact(art, outDir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, RenderStatus("ok")+" "+RenderConditional(TitleStyle, "Export written"))
			fmt.Fprintln(out, RenderField("File", path))
			fmt.Fprintln(out, RenderField("Size", humanize.IBytes(uint64(len(art.Data)))))
			fmt.Fprintln(out, RenderField("Threads", strconv.Itoa(art.Threads)))
			fmt.Fprintln(out, RenderField("Steps", strconv.Itoa(art.Steps)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&identifier, "user", "u", "", "user identifier to export")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (default export.output_dir)")
	return cmd
}

// =============================================================================
// DECRYPT
// =============================================================================

func newDecryptCmd(a *app) *cobra.Command {
	var (
		keyPath        string
		inPath         string
		outPath        string
		format         string
		passphraseFile string
		prompt         bool
	)

	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt chat_history.enc with the private key",
		Long: `Decrypt an export on the trusted device. The output is the canonical JSON
archive, or a readable Markdown rendering with --format markdown.`,
		Example: `  chatvault decrypt --key private_key.pem --in chat_history.enc
  chatvault decrypt --in chat_history.enc --format markdown --out history.md`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "markdown" {
				return &ValidationError{Field: "format", Value: format, Reason: "must be json or markdown"}
			}

			var passphrase []byte
			if passphraseFile != "" {
				p, err := readPassphraseFile(passphraseFile)
				if err != nil {
					return err
				}
				passphrase = p
			}
			defer func() { security.ZeroBytes(passphrase) }()

			priv, err := security.LoadPrivateKey(keyPath, passphrase)
			if errors.Is(err, security.ErrPassphraseRequired) && (prompt || IsTTY()) {
				passphrase, err = promptPassphrase(cmd.ErrOrStderr(), "Private key passphrase: ", false)
				if err != nil {
					return err
				}
				priv, err = security.LoadPrivateKey(keyPath, passphrase)
			}
			if err != nil {
				return err
			}

			blob, err := os.ReadFile(inPath)
			if err != nil {
				return fmt.Errorf("read artifact: %w", err)
			}
			plain, err := export.OpenRaw(priv, blob)
			if err != nil {
				return err
			}
			defer security.ZeroBytes(plain)

			data := plain
			if format == "markdown" {
				archive, err := export.Deserialize(plain)
				if err != nil {
					return err
				}
				data = export.RenderMarkdown(archive, nil)
			}

			if outPath != "" {
				if err := util.AtomicWriteFile(outPath, data, 0600); err != nil {
					return fmt.Errorf("write output: %w", err)
				}
				a.log().Info("export decrypted", "in", inPath, "out", outPath, "format", format)
				fmt.Fprintln(cmd.ErrOrStderr(), RenderStatus("ok")+" wrote "+outPath)
				return nil
			}

			out := cmd.OutOrStdout()
			if format == "markdown" && isTerminalWriter(out) {
				if rendered, err := renderMarkdown(string(data)); err == nil {
					fmt.Fprint(out, rendered)
					return nil
				}
			}
			_, err = out.Write(data)
			if err == nil && format == "json" {
				fmt.Fprintln(out)
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVarP(&keyPath, "key", "k", security.PrivateKeyFile, "recipient private key (PEM)")
	f.StringVarP(&inPath, "in", "i", export.DefaultArtifactName, "encrypted artifact")
	f.StringVarP(&outPath, "out", "o", "", "write the result to a file instead of stdout")
	f.StringVarP(&format, "format", "f", "json", "output format: json or markdown")
	f.StringVar(&passphraseFile, "passphrase-file", "", "read the private key passphrase from a file")
	f.BoolVar(&prompt, "prompt", false, "prompt for the private key passphrase")
	return cmd
}

// =============================================================================
// INSPECT
// =============================================================================

func newInspectCmd(a *app) *cobra.Command {
	var inPath string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the framing of an artifact without decrypting it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := os.ReadFile(inPath)
			if err != nil {
				return fmt.Errorf("read artifact: %w", err)
			}
			env, err := envelope.Decode(blob)
			if err != nil {
				return err
			}
			info, err := security.InspectToken(env.Ciphertext)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, RenderConditional(TitleStyle, inPath))
			fmt.Fprintln(out, RenderField("Total size", humanize.IBytes(uint64(len(blob)))))
			fmt.Fprintln(out, RenderField("Key length", strconv.Itoa(len(env.WrappedKey))+" bytes"))
			fmt.Fprintln(out, RenderField("RSA modulus", fmt.Sprintf("%d bits", len(env.WrappedKey)*8)))
			fmt.Fprintln(out, RenderField("Ciphertext", humanize.IBytes(uint64(len(env.Ciphertext)))))
			fmt.Fprintln(out, RenderField("Token version", fmt.Sprintf("0x%02x", info.Version)))
			fmt.Fprintln(out, RenderField("Encrypted at",
				info.IssuedAt.Format(time.RFC3339)+" ("+humanize.Time(info.IssuedAt)+")"))
			fmt.Fprintln(out, RenderConditional(DimStyle, "Header values are unauthenticated."))
			return nil
		},
	}

	cmd.Flags().StringVarP(&inPath, "in", "i", export.DefaultArtifactName, "encrypted artifact")
	return cmd
}

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// renderMarkdown renders markdown for terminal display.
func renderMarkdown(content string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(GetTerminalWidth()-4),
	)
	if err != nil {
		return "", err
	}
	return r.Render(content)
}
