// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across chatvault.
//
// # Key Functions
//
// File Operations:
//   - AtomicWriteFile: Crash-safe file writing with fsync
//   - AtomicWriteFileWithDir: Same, with explicit parent directory mode
//
// Display:
//   - TruncateRunes: UTF-8 safe string truncation with ellipsis
//   - TruncateWidth, PadWidth, StringWidth: terminal column aware layout
//   - Preview: single-line message snippet
//
// # Usage
//
//	// Write the artifact so readers never see a partial file
//	err := util.AtomicWriteFile(path, blob, 0600)
//
//	// Fixed-width table cell
//	cell := util.PadWidth(thread.Name, 32)
package util
