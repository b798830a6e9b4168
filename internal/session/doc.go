// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session runs one user's conversation against the chat history
// store.
//
// A Session owns a thread and the conversation memory sent to the model
// with each message. Starting a session creates the thread lazily on the
// first message; resuming one rebuilds memory from the thread's root steps.
// Every user message and every model reply is persisted as a step, which is
// exactly what an export later reads back.
//
// # Key Types
//
//   - Session: One conversation, safe for concurrent use
//   - Backend: Streaming model (implemented by *ollama.Client)
//   - Result: Outcome of one line of input (reply, export, listing)
//
// # Usage
//
//	sess := session.Start(deps, user, session.DefaultConfig())
//	res, err := sess.Handle(ctx, "/export", nil)
//	if res.Artifact != nil {
//	    // hand the encrypted file to the user
//	}
package session
