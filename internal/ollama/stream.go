// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// =============================================================================
// STREAM READER
// =============================================================================

// maxLineSize bounds a single streamed JSON line.
const maxLineSize = 1 << 20

// StreamReader handles line-by-line JSON parsing of streaming responses.
type StreamReader struct {
	scanner *bufio.Scanner
	model   string
}

// NewStreamReader creates a new stream reader from an io.Reader.
func NewStreamReader(r io.Reader) *StreamReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &StreamReader{scanner: sc}
}

// Process reads the stream and calls the callback for each chunk.
// Blocks until the stream is complete or the context is cancelled.
func (s *StreamReader) Process(ctx context.Context, callback StreamCallback) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, err := s.next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if chunk == nil {
			continue
		}
		callback(*chunk)
		if chunk.Done {
			return nil
		}
	}
}

// next reads and parses a single line. Blank and malformed lines yield a
// nil chunk.
func (s *StreamReader) next() (*StreamChunk, error) {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "stream read failed", Cause: err}
		}
		return nil, io.EOF
	}

	line := s.scanner.Bytes()
	if len(strings.TrimSpace(string(line))) == 0 {
		return nil, nil
	}

	var response ChatResponse
	if err := json.Unmarshal(line, &response); err != nil {
		return nil, nil
	}

	if response.Model != "" {
		s.model = response.Model
	}

	chunk := &StreamChunk{
		Content:    response.Message.Content,
		Done:       response.Done,
		DoneReason: response.DoneReason,
		Model:      s.model,
	}
	if response.Done {
		chunk.TotalDuration = time.Duration(response.TotalDuration)
		chunk.EvalDuration = time.Duration(response.EvalDuration)
		chunk.PromptTokens = response.PromptEvalCount
		chunk.CompletionTokens = response.EvalCount
	}
	return chunk, nil
}

// =============================================================================
// STREAM ACCUMULATOR
// =============================================================================

// StreamStats holds statistics collected during streaming.
type StreamStats struct {
	StartTime      time.Time
	FirstTokenTime time.Time

	TotalDuration    time.Duration
	CompletionTokens int
	TTFT             time.Duration
	TokensPerSecond  float64
}

// Format returns a one-line summary such as "1.2s | 42 tokens | 35.0 tok/s".
func (s *StreamStats) Format() string {
	return fmt.Sprintf("%s | %d tokens | %.1f tok/s",
		s.TotalDuration.Round(100*time.Millisecond), s.CompletionTokens, s.TokensPerSecond)
}

// StreamAccumulator collects streaming chunks and builds statistics.
type StreamAccumulator struct {
	// PERFORMANCE: strings.Builder avoids quadratic allocations
	content strings.Builder
	Stats   StreamStats
	done    bool
}

// NewStreamAccumulator creates a new accumulator.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{Stats: StreamStats{StartTime: time.Now()}}
}

// Add processes a new chunk.
func (a *StreamAccumulator) Add(chunk StreamChunk) {
	if chunk.Content != "" && a.Stats.FirstTokenTime.IsZero() {
		a.Stats.FirstTokenTime = time.Now()
		a.Stats.TTFT = a.Stats.FirstTokenTime.Sub(a.Stats.StartTime)
	}
	a.content.WriteString(chunk.Content)

	if chunk.Done {
		a.done = true
		a.Stats.TotalDuration = chunk.TotalDuration
		a.Stats.CompletionTokens = chunk.CompletionTokens
		if chunk.EvalDuration > 0 {
			a.Stats.TokensPerSecond = float64(chunk.CompletionTokens) / chunk.EvalDuration.Seconds()
		}
	}
}

// GetContent returns the accumulated content.
func (a *StreamAccumulator) GetContent() string {
	return a.content.String()
}

// IsDone returns whether the final chunk was seen.
func (a *StreamAccumulator) IsDone() bool {
	return a.done
}
