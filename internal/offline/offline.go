// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNonLocalhost is returned for a backend outside this host while
	// remote backends are not allowed.
	ErrNonLocalhost = errors.New("model backend is not on this host (set llm.allow_remote to permit it)")

	// ErrInvalidURLScheme is returned when a backend URL is not http or https.
	// file://, data:// and custom schemes never reach the HTTP client.
	ErrInvalidURLScheme = errors.New("only http and https backend URLs are allowed")
)

// =============================================================================
// HOST CHECKS
// =============================================================================

// IsLocalhost checks if a host string refers to this machine.
// Accepts "localhost", any 127.0.0.0/8 address and every IPv6 loopback
// spelling, with or without a port.
func IsLocalhost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))

	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// ValidateBackendURL checks the URL chat messages are sent to. The scheme is
// always checked; the host must be loopback unless allowRemote is set.
func ValidateBackendURL(rawURL string, allowRemote bool) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse backend URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrInvalidURLScheme
	}
	if !allowRemote && !IsLocalhost(parsed.Hostname()) {
		return fmt.Errorf("%w: %s", ErrNonLocalhost, parsed.Host)
	}
	return nil
}

// IsLoopbackListen reports whether a listen address only accepts local
// connections. An empty host ("":8787) binds every interface.
func IsLoopbackListen(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	return IsLocalhost(host)
}
