// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server delivers encrypted chat-history exports over HTTP.
//
// # Endpoints
//
//   - GET /health          - Store reachability and version
//   - GET /metrics         - Prometheus metrics
//   - GET /v1/threads      - The caller's threads
//   - GET /v1/threads/:id  - One thread with its steps
//   - GET /v1/export       - chat_history.enc as an attachment
//
// # Security
//
//   - HS256 bearer tokens whose subject is the user identifier
//   - Per-user token-bucket rate limiting on exports
//   - No-store and anti-framing response headers
//   - Export failures are logged by kind and reported as a generic error
//
// # Usage
//
//	srv, err := server.New(server.Config{
//		Addr:  "127.0.0.1:8787",
//		Token: server.TokenConfig{Secret: secret, Issuer: "chatvault"},
//	}, server.Deps{Store: st, Exporter: exp, Logger: logger})
//	if err != nil {
//		return err
//	}
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package server
