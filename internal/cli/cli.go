// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Root command and shared wiring for chatvault commands.

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jeranaias/chatvault/internal/config"
	"github.com/jeranaias/chatvault/internal/export"
	"github.com/jeranaias/chatvault/internal/logging"
	"github.com/jeranaias/chatvault/internal/model"
	"github.com/jeranaias/chatvault/internal/security"
	"github.com/jeranaias/chatvault/internal/store"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
)

// =============================================================================
// APPLICATION STATE
// =============================================================================

// app is the state shared by every command of one invocation.
type app struct {
	cfgPath  string
	logLevel string
	jsonErr  bool

	cfg    *config.Config
	logger *logging.Logger
}

// log returns the configured logger, or a discarding one before setup.
func (a *app) log() *slog.Logger {
	if a.logger == nil {
		return logging.Discard()
	}
	return a.logger.Logger
}

func (a *app) setup(cmd *cobra.Command) error {
	var (
		cfg *config.Config
		err error
	)
	if a.cfgPath != "" {
		cfg, err = config.LoadFromPath(a.cfgPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return &ConfigError{Err: err}
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	config.SetGlobal(cfg)
	a.cfg = cfg

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Sink)
	if err != nil {
		return &ConfigError{Err: err}
	}
	a.logger = logger
	logger.Debug("config loaded", "path", a.cfgPath, "db", cfg.Database.Path)
	return nil
}

func (a *app) teardown() {
	if a.logger != nil {
		a.logger.Close()
	}
}

// openStore opens the configured database.
func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	return store.Open(ctx, a.cfg.Database.Path)
}

// resolveUser looks up identifier in st.
func (a *app) resolveUser(ctx context.Context, st *store.Store, identifier string) (*model.User, error) {
	if identifier == "" {
		return nil, NewValidationError("user", "", "an identifier is required (--user)")
	}
	return st.UserByIdentifier(ctx, identifier)
}

// keyProvider returns a provider for the configured recipient key.
func (a *app) keyProvider() *security.KeyProvider {
	return security.NewKeyProvider(a.cfg.Export.PublicKeyPath, a.cfg.Export.MinRSABits, a.log())
}

// exporter builds the export pipeline over st. reg may be nil.
func (a *app) exporter(st *store.Store, keys security.PublicKeySource, reg prometheus.Registerer) *export.Exporter {
	var metrics *export.Metrics
	if reg != nil {
		metrics = export.NewMetrics(reg)
	}
	return export.New(st, keys, &export.Options{
		ArtifactName: a.cfg.Export.ArtifactName,
		OutputDir:    a.cfg.Export.OutputDir,
		Logger:       a.log(),
		Metrics:      metrics,
	})
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

// NewRootCmd builds the chatvault command tree.
func NewRootCmd() *cobra.Command {
	root, _ := newRootCmd()
	return root
}

// newRootCmd also returns the app state so the caller can release it after
// the command finishes, whether or not it failed.
func newRootCmd() (*cobra.Command, *app) {
	a := &app{}

	root := &cobra.Command{
		Use:   "chatvault",
		Short: "Chat with a local model and export encrypted chat history",
		Long: `chatvault stores conversations with a local language model and exports a
user's complete history as chat_history.enc, encrypted for an offline RSA key.

Generate the key pair on the trusted device with "chatvault keygen", copy only
public_key.pem to the host, and read exports with "chatvault decrypt".`,
		Version:       fmt.Sprintf("%s (commit: %s, %s)", Version, GitCommit, runtime.Version()),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &ValidationError{Field: "flags", Reason: err.Error(), Example: cmd.UseLine()}
	})

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgPath, "config", "c", "", "config file (default ~/.chatvault/config.toml)")
	pf.StringVar(&a.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	pf.BoolVar(&a.jsonErr, "json-errors", false, "print errors as JSON")

	root.AddCommand(
		newKeygenCmd(a),
		newExportCmd(a),
		newDecryptCmd(a),
		newInspectCmd(a),
		newHistoryCmd(a),
		newSchemaCmd(a),
		newUserCmd(a),
		newChatCmd(a),
		newServeCmd(a),
		newTokenCmd(a),
		newConfigCmd(a),
	)
	return root, a
}

// Execute runs the command tree with os.Args and returns the exit code.
func Execute() int {
	root, a := newRootCmd()
	return run(context.Background(), root, a, os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, root *cobra.Command, a *app, args []string, out, errOut io.Writer) int {
	defer a.teardown()

	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	jsonMode, _ := root.PersistentFlags().GetBool("json-errors")
	DisplayError(errOut, err, jsonMode)
	return GetExitCode(err)
}
