// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for chatvault.
//
// Supports TOML, JSON and YAML configuration formats, with sensible defaults,
// .env files, environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - ExportConfig: Recipient key and artifact settings
//   - ServerConfig: HTTP listener, JWT and rate limit settings
//   - LogConfig: Level and sink for structured logs
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (CHATVAULT_*), including a .env file next to the config
//   - ~/.chatvault/config.toml
//   - ~/.chatvault/config.json
//   - ~/.chatvault/config.yaml
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Access settings:
//
//	keyPath := cfg.Export.PublicKeyPath
//	bits, _ := cfg.Get("export.min_rsa_bits")
package config
