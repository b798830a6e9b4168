// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error types and exit codes for chatvault commands.
//
// Commands always return errors; Execute prints them once and maps them to
// an exit code.

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/chatvault/internal/ollama"
	"github.com/jeranaias/chatvault/internal/security"
	"github.com/jeranaias/chatvault/internal/server"
	"github.com/jeranaias/chatvault/internal/vaulterr"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitAuthError     = 4 // passphrase or token problems
	ExitNetworkError  = 5 // model backend unreachable
	ExitSecurityError = 6 // key load, decryption, malformed artifact
	ExitNotFoundError = 7
	ExitStorageError  = 8
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ValidationError represents invalid user input.
type ValidationError struct {
	Field   string
	Value   string
	Reason  string
	Example string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	if e.Example != "" {
		msg += fmt.Sprintf("\nExample: %s", e.Example)
	}
	return msg
}

// NewValidationError creates a new validation error.
func NewValidationError(field, value, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// ConfigError wraps a failure to load or save configuration.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "config: " + e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// GetExitCode maps err to a process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return ExitUsageError
	}
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return ExitConfigError
	}

	switch {
	case errors.Is(err, security.ErrPassphraseRequired),
		errors.Is(err, ErrPassphraseMismatch),
		errors.Is(err, server.ErrInvalidToken):
		return ExitAuthError
	case ollama.IsNotRunning(err), ollama.IsTimeout(err):
		return ExitNetworkError
	}

	switch vaulterr.KindOf(err) {
	case vaulterr.KindNotFound:
		return ExitNotFoundError
	case vaulterr.KindKeyLoad, vaulterr.KindDecryption, vaulterr.KindMalformedEnvelope, vaulterr.KindEncryption:
		return ExitSecurityError
	case vaulterr.KindStorage, vaulterr.KindSerialization:
		return ExitStorageError
	}
	return ExitGeneralError
}

// =============================================================================
// ERROR DISPLAY
// =============================================================================

// DisplayError prints err to w, as JSON when jsonMode is set.
func DisplayError(w io.Writer, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		out := map[string]interface{}{
			"error":     err.Error(),
			"success":   false,
			"exit_code": GetExitCode(err),
		}
		if kind := vaulterr.KindOf(err); kind != vaulterr.KindUnknown {
			out["kind"] = kind.String()
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.Encode(out)
		return
	}
	fmt.Fprintf(w, "%s %s\n", RenderConditional(ErrorStyle, "[ERROR]"), err.Error())
}
