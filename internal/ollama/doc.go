// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
//
// It backs the chatvault chat session: replies are streamed token by token
// and the final text is persisted as an assistant step.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - Message: Chat message with role and content
//   - StreamReader: Line-delimited JSON reader for streaming responses
//   - StreamAccumulator: Collects chunks and timing statistics
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
//	    BaseURL:      "http://localhost:11434",
//	    DefaultModel: "llama3.2",
//	})
//	reply, err := client.Complete(ctx, messages, func(token string) {
//	    fmt.Print(token)
//	})
package ollama
