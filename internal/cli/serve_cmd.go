// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve_cmd.go - HTTP delivery of exports and bearer token minting.

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/jeranaias/chatvault/internal/config"
	"github.com/jeranaias/chatvault/internal/offline"
	"github.com/jeranaias/chatvault/internal/server"
)

// errNoSecret is returned when a command needs server.jwt_secret.
var errNoSecret = errors.New("server.jwt_secret is not set (config file or CHATVAULT_JWT_SECRET)")

func (a *app) tokenConfig(ttl time.Duration) (server.TokenConfig, error) {
	if a.cfg.Server.JWTSecret == "" {
		return server.TokenConfig{}, &ConfigError{Err: errNoSecret}
	}
	return server.TokenConfig{
		Secret: []byte(a.cfg.Server.JWTSecret),
		Issuer: a.cfg.Server.JWTIssuer,
		TTL:    ttl,
	}, nil
}

// =============================================================================
// SERVE
// =============================================================================

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve encrypted exports over HTTP",
		Long: `Serve GET /v1/export, /v1/threads, /health and /metrics. Requests to /v1
need a bearer token from "chatvault token".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := a.tokenConfig(0)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			if !offline.IsLoopbackListen(addr) {
				a.log().Warn("listening beyond loopback; terminate TLS in front of chatvault", "addr", addr)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.InitSchema(ctx); err != nil {
				return err
			}

			keys := a.keyProvider()
			if _, err := keys.PublicKey(); err != nil {
				a.log().Warn("recipient key not loadable yet; exports will fail until it is", "path", keys.Path(), "error", err)
			}
			if a.cfg.Export.WatchKey {
				if err := keys.Watch(); err != nil {
					a.log().Warn("key watch disabled", "error", err)
				}
			}
			defer keys.Close()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			gin.SetMode(gin.ReleaseMode)
			srv, err := server.New(server.Config{
				Addr:          addr,
				Token:         tokens,
				RatePerMinute: a.cfg.Server.RatePerMinute,
				Burst:         a.cfg.Server.Burst,
			}, server.Deps{
				Store:    st,
				Exporter: a.exporter(st, keys, reg),
				Gatherer: reg,
				Logger:   a.log(),
			})
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()
			fmt.Fprintln(cmd.OutOrStdout(), RenderStatus("ok")+" serving on "+addr)

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			return <-errCh
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	return cmd
}

// =============================================================================
// TOKEN
// =============================================================================

func newTokenCmd(a *app) *cobra.Command {
	var (
		identifier string
		ttl        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API",
		Long: `Mint an HS256 bearer token whose subject is the user identifier. The token
goes to stdout so it can be captured by scripts.`,
		Example: `  TOKEN=$(chatvault token --user alice)
  curl -H "Authorization: Bearer $TOKEN" -o chat_history.enc 127.0.0.1:8787/v1/export`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if identifier == "" {
				return NewValidationError("user", "", "an identifier is required (--user)")
			}
			tokens, err := a.tokenConfig(ttl)
			if err != nil {
				return err
			}
			tok, expires, err := server.CreateToken(tokens, identifier)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			fmt.Fprintln(cmd.ErrOrStderr(), RenderConditional(DimStyle, "expires "+expires.Format(time.RFC3339)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&identifier, "user", "u", "", "user identifier (token subject)")
	cmd.Flags().DurationVar(&ttl, "ttl", server.DefaultTokenTTL, "token lifetime")
	return cmd
}

// =============================================================================
// CONFIG
// =============================================================================

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (secrets redacted)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), a.cfg.String())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get KEY",
		Short: "Print one value, e.g. export.min_rsa_bits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.cfg.Get(args[0])
			if err != nil {
				return &ValidationError{Field: "key", Value: args[0], Reason: err.Error()}
			}
			if args[0] == "server.jwt_secret" && v != "" {
				v = "[REDACTED]"
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Change one value and save the config file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			updated := a.cfg.Clone()
			if err := updated.Set(args[0], args[1]); err != nil {
				return &ValidationError{Field: "key", Value: args[0], Reason: err.Error()}
			}
			if err := updated.Validate(); err != nil {
				return &ConfigError{Err: err}
			}

			path := a.cfgPath
			if path == "" {
				p, err := config.ConfigPath("toml")
				if err != nil {
					return &ConfigError{Err: err}
				}
				path = p
			}
			if !strings.EqualFold(filepath.Ext(path), ".toml") {
				return &ConfigError{Err: fmt.Errorf("config set writes TOML only; %s is not a .toml file", path)}
			}
			if err := config.SaveTOML(updated, path); err != nil {
				return &ConfigError{Err: err}
			}
			a.cfg = updated
			config.SetGlobal(updated)
			fmt.Fprintln(cmd.OutOrStdout(), RenderStatus("ok")+" "+args[0]+" saved to "+path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "keys",
		Short: "List configuration keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, k := range config.GetAllKeys() {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	})
	return cmd
}
