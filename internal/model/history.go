// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"
)

// =============================================================================
// STEP TYPES
// =============================================================================

// StepType is the kind of a step. Values outside the known set are carried
// through unchanged.
type StepType string

const (
	StepUserMessage      StepType = "user_message"
	StepAssistantMessage StepType = "assistant_message"
	StepSystemMessage    StepType = "system_message"
	StepRun              StepType = "run"
	StepTool             StepType = "tool"
	StepLLM              StepType = "llm"
	StepEmbedding        StepType = "embedding"
	StepRetrieval        StepType = "retrieval"
	StepRerank           StepType = "rerank"
	StepUndefined        StepType = "undefined"
)

// String returns the string representation of StepType
func (t StepType) String() string {
	return string(t)
}

// IsMessage reports whether the step is a chat message rather than a run or
// tool invocation.
func (t StepType) IsMessage() bool {
	switch t {
	case StepUserMessage, StepAssistantMessage, StepSystemMessage:
		return true
	}
	return false
}

// =============================================================================
// RAW JSON
// =============================================================================

// RawJSON is an opaque JSON value (metadata, generation). It is stored in
// compact form so that re-indenting during serialization does not change its
// bytes after a round trip. A nil RawJSON encodes as null.
type RawJSON []byte

// ParseRawJSON validates s and returns its compact form. An empty string is
// treated as absent.
func ParseRawJSON(s string) (RawJSON, error) {
	if s == "" {
		return nil, nil
	}
	if !utf8.ValidString(s) {
		return nil, fmt.Errorf("invalid JSON value: not valid UTF-8")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return nil, fmt.Errorf("invalid JSON value: %w", err)
	}
	if buf.String() == "null" {
		return nil, nil
	}
	return RawJSON(buf.Bytes()), nil
}

// MarshalJSON implements json.Marshaler.
func (r RawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *RawJSON) UnmarshalJSON(data []byte) error {
	if r == nil {
		return fmt.Errorf("model.RawJSON: UnmarshalJSON on nil pointer")
	}
	parsed, err := ParseRawJSON(string(data))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// =============================================================================
// USER
// =============================================================================

// User owns threads. Identifier is the login name handed over by the
// authentication layer; ID is the opaque key threads reference.
type User struct {
	ID         string  `json:"id"`
	Identifier string  `json:"identifier"`
	Metadata   RawJSON `json:"metadata"`
	CreatedAt  *string `json:"createdAt"`
}

// =============================================================================
// THREAD
// =============================================================================

// Thread is one conversation. Steps are in creation order and are never nil
// once read from the store.
type Thread struct {
	ID             string   `json:"id"`
	CreatedAt      *string  `json:"createdAt"`
	Name           *string  `json:"name"`
	UserID         *string  `json:"userId"`
	UserIdentifier *string  `json:"userIdentifier"`
	Tags           []string `json:"tags"`
	Metadata       RawJSON  `json:"metadata"`
	Steps          []Step   `json:"steps"`
}

// RootSteps returns the steps that have no parent, in order.
func (t *Thread) RootSteps() []Step {
	roots := make([]Step, 0, len(t.Steps))
	for _, s := range t.Steps {
		if s.ParentID == nil {
			roots = append(roots, s)
		}
	}
	return roots
}

// Title returns the thread name or a placeholder for unnamed threads.
func (t *Thread) Title() string {
	if t.Name == nil || *t.Name == "" {
		return "Untitled"
	}
	return *t.Name
}

// =============================================================================
// STEP
// =============================================================================

// Step is one entry in a thread. ParentID links nested steps (tool calls,
// runs) to the step that spawned them.
type Step struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Type          StepType `json:"type"`
	ThreadID      string   `json:"threadId"`
	ParentID      *string  `json:"parentId"`
	Command       *string  `json:"command"`
	Streaming     bool     `json:"streaming"`
	WaitForAnswer *bool    `json:"waitForAnswer"`
	IsError       *bool    `json:"isError"`
	Metadata      RawJSON  `json:"metadata"`
	Tags          []string `json:"tags"`
	Input         *string  `json:"input"`
	Output        *string  `json:"output"`
	CreatedAt     *string  `json:"createdAt"`
	Start         *string  `json:"start"`
	End           *string  `json:"end"`
	Generation    RawJSON  `json:"generation"`
	ShowInput     *string  `json:"showInput"`
	Language      *string  `json:"language"`
	Indent        *int64   `json:"indent"`
}

// OutputText returns the step output or "" when it is NULL.
func (s *Step) OutputText() string {
	if s.Output == nil {
		return ""
	}
	return *s.Output
}

// =============================================================================
// TEXT VALIDATION
// =============================================================================

// CheckText reports the first thread or step field that is not valid UTF-8.
// JSON encoding would silently replace such bytes, so callers refuse them
// before serializing.
func (t *Thread) CheckText() error {
	if err := checkFields("thread", t.ID,
		"id", &t.ID, "createdAt", t.CreatedAt, "name", t.Name,
		"userId", t.UserID, "userIdentifier", t.UserIdentifier); err != nil {
		return err
	}
	if err := checkTags("thread", t.ID, t.Tags); err != nil {
		return err
	}
	if !utf8.Valid(t.Metadata) {
		return fmt.Errorf("thread %q metadata: not valid UTF-8", t.ID)
	}
	for i := range t.Steps {
		if err := t.Steps[i].CheckText(); err != nil {
			return err
		}
	}
	return nil
}

// CheckText reports the first step field that is not valid UTF-8.
func (s *Step) CheckText() error {
	typ := string(s.Type)
	if err := checkFields("step", s.ID,
		"id", &s.ID, "name", &s.Name, "type", &typ, "threadId", &s.ThreadID,
		"parentId", s.ParentID, "command", s.Command, "input", s.Input,
		"output", s.Output, "createdAt", s.CreatedAt, "start", s.Start,
		"end", s.End, "showInput", s.ShowInput, "language", s.Language); err != nil {
		return err
	}
	if err := checkTags("step", s.ID, s.Tags); err != nil {
		return err
	}
	if !utf8.Valid(s.Metadata) {
		return fmt.Errorf("step %q metadata: not valid UTF-8", s.ID)
	}
	if !utf8.Valid(s.Generation) {
		return fmt.Errorf("step %q generation: not valid UTF-8", s.ID)
	}
	return nil
}

// checkFields takes name/value pairs; nil values are skipped.
func checkFields(kind, id string, pairs ...any) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		v, _ := pairs[i+1].(*string)
		if v != nil && !utf8.ValidString(*v) {
			return fmt.Errorf("%s %q %s: not valid UTF-8", kind, id, pairs[i])
		}
	}
	return nil
}

func checkTags(kind, id string, tags []string) error {
	for _, tag := range tags {
		if !utf8.ValidString(tag) {
			return fmt.Errorf("%s %q tags: not valid UTF-8", kind, id)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// TimeLayout is the format of stored timestamps: UTC ISO-8601 with
// microseconds, which sorts lexically.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// Timestamp formats t with TimeLayout.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Ref returns a pointer to v. Handy for filling nullable fields.
func Ref[T any](v T) *T {
	return &v
}
