// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export produces encrypted chat-history archives.
//
// An export reads every thread and step of one user, serializes them as
// canonical JSON, encrypts the JSON with a one-time key, wraps that key for
// the recipient's RSA public key, and frames both into a single artifact
// (chat_history.enc). Only the holder of the matching private key can open
// it.
//
// # Key Types
//
//   - Exporter: runs the pipeline for one user per call
//   - Archive: the plaintext {"user_id", "threads"} document
//   - Artifact: the encrypted result plus delivery metadata
//   - Metrics: Prometheus counters for export outcomes
//
// # Usage
//
//	keys := security.NewKeyProvider("public_key.pem", security.MinRSABits, logger)
//	exp := export.New(db, keys, &export.Options{Logger: logger})
//	art, err := exp.Export(ctx, user.ID)
//	if err != nil {
//	    log.Error("export failed", "kind", vaulterr.KindOf(err))
//	}
//	path, err := exp.WriteFile(art)
//
// Opening an artifact:
//
//	archive, err := export.Open(privateKey, data)
package export
