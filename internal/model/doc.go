// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for persisted chat history.
//
// These types mirror the relational schema one-to-one: nullable columns are
// pointer fields, opaque JSON columns are RawJSON, and timestamps stay as the
// exact strings the store holds so an export never reformats them.
//
// # Key Types
//
//   - User: Owner of threads, addressed by a unique identifier
//   - Thread: A conversation with its ordered steps
//   - Step: One message, tool call, or run inside a thread
//   - StepType: Step type enumeration (user_message, assistant_message, ...)
//   - RawJSON: Opaque JSON value kept in compact form
//
// # Usage
//
// Walk the root messages of a thread:
//
//	for _, step := range thread.RootSteps() {
//	    fmt.Println(step.Type, step.OutputText())
//	}
package model
