// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides the chatvault command tree.
//
// Commands return errors instead of exiting. Execute prints the error once,
// as text or as JSON with --json-errors, and maps it to an exit code.
//
// # Commands Overview
//
//   - keygen:       Generate the recipient RSA key pair
//   - schema init:  Create the chat history tables
//   - user add:     Register a user identifier
//   - chat:         Interactive conversation with a local model
//   - history:      List threads, or show one as markdown
//   - export:       Write chat_history.enc for a user
//   - inspect:      Show artifact framing without the private key
//   - decrypt:      Recover the JSON archive, or markdown, on the trusted device
//   - serve:        HTTP delivery of exports
//   - token:        Mint a bearer token for serve
//   - config:       show, get, set and keys
//
// # Exit Codes
//
//	0  success
//	1  general error
//	2  invalid flags or arguments
//	3  configuration
//	4  passphrase or token
//	5  model backend unreachable
//	6  key load, encryption, decryption, malformed artifact
//	7  unknown user or thread
//	8  storage or serialization
//
// # Usage
//
//	os.Exit(cli.Execute())
package cli
