// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// TEST SERVER
// =============================================================================

// fakeOllama serves /, /api/tags and /api/chat. Streaming replies are split
// into one chunk per word.
func fakeOllama(t *testing.T, reply string) (*httptest.Server, func() []ChatRequest) {
	t.Helper()
	var (
		mu       sync.Mutex
		requests []ChatRequest
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "Ollama is running")
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ListModelsResponse{Models: []ModelInfo{{Name: "llama3.2", Size: 2 << 30}}})
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		requests = append(requests, req)
		mu.Unlock()

		if req.Model == "missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Model == "broken" {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(OllamaError{Error: "model failed to load"})
			return
		}

		if !req.Stream {
			json.NewEncoder(w).Encode(ChatResponse{Model: req.Model, Message: NewAssistantMessage(reply), Done: true})
			return
		}

		enc := json.NewEncoder(w)
		words := strings.SplitAfter(reply, " ")
		for _, word := range words {
			enc.Encode(ChatResponse{Model: req.Model, Message: NewAssistantMessage(word)})
			fmt.Fprintln(w) // blank line between chunks must be skipped
		}
		fmt.Fprintln(w, "not json")
		enc.Encode(ChatResponse{
			Model:        req.Model,
			Done:         true,
			DoneReason:   "stop",
			EvalCount:    len(words),
			EvalDuration: int64(time.Second),
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, func() []ChatRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]ChatRequest(nil), requests...)
	}
}

func newTestClient(url string) *Client {
	return NewClientWithConfig(&ClientConfig{BaseURL: url + "/", DefaultModel: "llama3.2"})
}

// =============================================================================
// CLIENT TESTS
// =============================================================================

func TestNewClientWithConfig_Defaults(t *testing.T) {
	c := NewClientWithConfig(nil)
	if c.config.BaseURL != "http://localhost:11434" {
		t.Errorf("BaseURL = %q", c.config.BaseURL)
	}
	if c.Model() != "llama3.2" {
		t.Errorf("Model() = %q", c.Model())
	}

	c = NewClientWithConfig(&ClientConfig{BaseURL: "http://host:1/", Timeout: time.Second})
	if c.config.BaseURL != "http://host:1" {
		t.Errorf("BaseURL = %q, want trailing slash trimmed", c.config.BaseURL)
	}
	if c.httpClient.Timeout != time.Second {
		t.Errorf("Timeout = %v", c.httpClient.Timeout)
	}
}

func TestCheckRunning(t *testing.T) {
	srv, _ := fakeOllama(t, "")
	if err := newTestClient(srv.URL).CheckRunning(context.Background()); err != nil {
		t.Fatalf("CheckRunning() error = %v", err)
	}

	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	err := newTestClient(url).CheckRunning(context.Background())
	if !IsNotRunning(err) {
		t.Errorf("CheckRunning() on closed server = %v, want not running", err)
	}
}

func TestListModels(t *testing.T) {
	srv, _ := fakeOllama(t, "")
	models, err := newTestClient(srv.URL).ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(models) != 1 || models[0].Name != "llama3.2" {
		t.Fatalf("ListModels() = %+v", models)
	}
	if got := models[0].FormatSize(); got != "2.0 GiB" {
		t.Errorf("FormatSize() = %q, want 2.0 GiB", got)
	}
}

func TestChat(t *testing.T) {
	srv, requests := fakeOllama(t, "hello there")
	c := newTestClient(srv.URL)

	resp, err := c.Chat(context.Background(), "", []Message{NewUserMessage("hi")})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Message.Content != "hello there" {
		t.Errorf("Content = %q", resp.Message.Content)
	}
	if req := requests()[0]; req.Model != "llama3.2" || req.Stream {
		t.Errorf("request = %+v, want default model without streaming", req)
	}
}

func TestChat_Errors(t *testing.T) {
	srv, _ := fakeOllama(t, "")
	c := newTestClient(srv.URL)

	_, err := c.Chat(context.Background(), "missing", nil)
	if !IsModelNotFound(err) {
		t.Errorf("Chat(missing) = %v, want model not found", err)
	}

	_, err = c.Chat(context.Background(), "broken", nil)
	if err == nil || !strings.Contains(err.Error(), "model failed to load") {
		t.Errorf("Chat(broken) = %v, want server error message", err)
	}
}

func TestComplete_Streams(t *testing.T) {
	srv, requests := fakeOllama(t, "one two three")
	c := newTestClient(srv.URL)

	var tokens []string
	reply, err := c.Complete(context.Background(),
		[]Message{NewSystemMessage("be brief"), NewUserMessage("count")},
		func(tok string) { tokens = append(tokens, tok) })
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if reply != "one two three" {
		t.Errorf("reply = %q", reply)
	}
	if len(tokens) != 3 {
		t.Errorf("tokens = %q, want 3", tokens)
	}

	req := requests()[0]
	if !req.Stream || len(req.Messages) != 2 || req.Messages[0].Role != RoleSystem {
		t.Errorf("request = %+v", req)
	}
}

func TestChatStream_Cancelled(t *testing.T) {
	srv, _ := fakeOllama(t, "x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newTestClient(srv.URL).ChatStream(ctx, "", nil, func(StreamChunk) {})
	if !IsTimeout(err) {
		t.Errorf("ChatStream() with cancelled ctx = %v, want timeout", err)
	}
}

// =============================================================================
// STREAM TESTS
// =============================================================================

func TestStreamReader_Truncated(t *testing.T) {
	body := `{"message":{"role":"assistant","content":"partial"}}` + "\n"
	acc := NewStreamAccumulator()

	if err := NewStreamReader(strings.NewReader(body)).Process(context.Background(), acc.Add); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if acc.IsDone() {
		t.Error("accumulator should not be done without a final chunk")
	}
	if acc.GetContent() != "partial" {
		t.Errorf("content = %q", acc.GetContent())
	}
}

func TestStreamAccumulator_Stats(t *testing.T) {
	acc := NewStreamAccumulator()
	acc.Add(StreamChunk{Content: "a"})
	acc.Add(StreamChunk{Done: true, CompletionTokens: 10, EvalDuration: 2 * time.Second, TotalDuration: 3 * time.Second})

	if !acc.IsDone() {
		t.Fatal("IsDone() = false")
	}
	if acc.Stats.TokensPerSecond != 5 {
		t.Errorf("TokensPerSecond = %v, want 5", acc.Stats.TokensPerSecond)
	}
	if acc.Stats.FirstTokenTime.IsZero() {
		t.Error("FirstTokenTime not recorded")
	}
	if got := acc.Stats.Format(); got != "3s | 10 tokens | 5.0 tok/s" {
		t.Errorf("Format() = %q", got)
	}
}

func TestChatResponse_TokensPerSecond(t *testing.T) {
	r := &ChatResponse{EvalCount: 50, EvalDuration: int64(2 * time.Second)}
	if got := r.TokensPerSecond(); got != 25 {
		t.Errorf("TokensPerSecond() = %v, want 25", got)
	}
	if got := (&ChatResponse{}).TokensPerSecond(); got != 0 {
		t.Errorf("TokensPerSecond() with zero duration = %v", got)
	}
}
