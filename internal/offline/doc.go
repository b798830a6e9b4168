// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package offline keeps conversation traffic on the local machine.
//
// Chat messages are plaintext on their way to the model, so by default the
// backend must be a loopback address. The same host check tells serve when
// exports are reachable from other machines.
//
// # Usage
//
//	if err := offline.ValidateBackendURL(cfg.LLM.OllamaURL, cfg.LLM.AllowRemote); err != nil {
//		return err
//	}
//
//	if !offline.IsLoopbackListen(addr) {
//		logger.Warn("serving beyond loopback", "addr", addr)
//	}
package offline
