// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/chatvault/internal/export"
	"github.com/jeranaias/chatvault/internal/logging"
	"github.com/jeranaias/chatvault/internal/model"
	"github.com/jeranaias/chatvault/internal/ollama"
	"github.com/jeranaias/chatvault/internal/store"
	"github.com/jeranaias/chatvault/internal/util"
	"github.com/jeranaias/chatvault/internal/vaulterr"
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Backend produces a streamed reply to a conversation.
type Backend interface {
	Model() string
	Complete(ctx context.Context, messages []ollama.Message, onToken func(string)) (string, error)
}

// Store persists threads and steps.
type Store interface {
	CreateThread(ctx context.Context, t *model.Thread) error
	Thread(ctx context.Context, threadID string) (*model.Thread, error)
	AddStep(ctx context.Context, st *model.Step) error
	ListThreads(ctx context.Context, userID string) ([]store.ThreadSummary, error)
}

// Exporter produces the encrypted history artifact for a user.
type Exporter interface {
	Export(ctx context.Context, userID string) (*export.Artifact, error)
}

// Deps bundles what a Session talks to. Exporter may be nil, in which case
// /export reports that exports are not configured.
type Deps struct {
	Store    Store
	Backend  Backend
	Exporter Exporter
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds configuration for a session.
type Config struct {
	// SystemPrompt leads every request to the model. Empty sends none.
	SystemPrompt string

	// AssistantName is the step name of model replies.
	AssistantName string

	// ThreadNameWidth bounds thread names derived from the first message.
	ThreadNameWidth int

	// Logger receives session events. Nil discards.
	Logger *slog.Logger
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		SystemPrompt:    "You are a helpful chatbot",
		AssistantName:   "Assistant",
		ThreadNameWidth: 60,
	}
}

// Sentinel errors.
var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrExportDisabled = errors.New("export is not configured")
	ErrNotThreadOwner = errors.New("thread belongs to another user")
	ErrUnknownCommand = errors.New("unknown command")
)

// =============================================================================
// SESSION
// =============================================================================

// Session is one user's conversation. Calls are serialized: a message is
// fully persisted before the next one starts.
type Session struct {
	mu sync.Mutex

	deps   Deps
	cfg    Config
	user   *model.User
	logger *slog.Logger
	now    func() time.Time

	thread *model.Thread
	memory []ollama.Message
}

// Start begins a new conversation. The thread is created on the first
// message, so an abandoned session leaves nothing behind.
func Start(deps Deps, user *model.User, cfg Config) *Session {
	if cfg.AssistantName == "" {
		cfg.AssistantName = DefaultConfig().AssistantName
	}
	if cfg.ThreadNameWidth <= 0 {
		cfg.ThreadNameWidth = DefaultConfig().ThreadNameWidth
	}
	return &Session{
		deps:   deps,
		cfg:    cfg,
		user:   user,
		logger: logging.OrDiscard(cfg.Logger),
		now:    time.Now,
	}
}

// Resume continues an existing thread owned by user. Memory is rebuilt from
// the thread's root steps: user messages become user turns, every other
// root step becomes an assistant turn.
func Resume(ctx context.Context, deps Deps, user *model.User, threadID string, cfg Config) (*Session, error) {
	thread, err := deps.Store.Thread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread.UserID == nil || *thread.UserID != user.ID {
		// Report someone else's thread the same as a missing one
		return nil, vaulterr.E(vaulterr.KindNotFound, "session.Resume", ErrNotThreadOwner)
	}

	s := Start(deps, user, cfg)
	s.thread = thread
	s.memory = RebuildMemory(thread)
	s.logger.Debug("session resumed", "thread", thread.ID, "turns", len(s.memory))
	return s, nil
}

// RebuildMemory converts a thread's root steps into conversation turns.
func RebuildMemory(thread *model.Thread) []ollama.Message {
	roots := thread.RootSteps()
	memory := make([]ollama.Message, 0, len(roots))
	for _, step := range roots {
		if step.Type == model.StepUserMessage {
			memory = append(memory, ollama.NewUserMessage(step.OutputText()))
		} else {
			memory = append(memory, ollama.NewAssistantMessage(step.OutputText()))
		}
	}
	return memory
}

// ThreadID returns the current thread, or "" before the first message.
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.thread == nil {
		return ""
	}
	return s.thread.ID
}

// User returns the session owner.
func (s *Session) User() *model.User {
	return s.user
}

// Memory returns a copy of the conversation turns.
func (s *Session) Memory() []ollama.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ollama.Message(nil), s.memory...)
}

// =============================================================================
// MESSAGES
// =============================================================================

// Send persists text as a user step, streams the model's reply through
// onToken, persists the reply as an assistant step and returns it.
//
// If the model fails, the user step stays stored and in memory; no
// assistant step is written.
func (s *Session) Send(ctx context.Context, text string, onToken func(string)) (*model.Step, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureThread(ctx, text); err != nil {
		return nil, err
	}

	userStep := &model.Step{
		Name:     s.user.Identifier,
		Type:     model.StepUserMessage,
		ThreadID: s.thread.ID,
		Output:   model.Ref(text),
		Start:    model.Ref(model.Timestamp(s.now())),
	}
	if err := s.deps.Store.AddStep(ctx, userStep); err != nil {
		return nil, err
	}

	prompt := s.prompt(text)
	s.memory = append(s.memory, ollama.NewUserMessage(text))

	start := s.now()
	reply, err := s.deps.Backend.Complete(ctx, prompt, onToken)
	if err != nil {
		s.logger.Warn("model reply failed", "thread", s.thread.ID, "error", err)
		return nil, fmt.Errorf("model reply failed: %w", err)
	}
	end := s.now()

	assistantStep := &model.Step{
		Name:       s.cfg.AssistantName,
		Type:       model.StepAssistantMessage,
		ThreadID:   s.thread.ID,
		Streaming:  onToken != nil,
		Output:     model.Ref(reply),
		Start:      model.Ref(model.Timestamp(start)),
		End:        model.Ref(model.Timestamp(end)),
		Generation: generationInfo(s.deps.Backend.Model(), end.Sub(start)),
	}
	if err := s.deps.Store.AddStep(ctx, assistantStep); err != nil {
		return nil, err
	}
	s.memory = append(s.memory, ollama.NewAssistantMessage(reply))

	s.logger.Debug("message answered", "thread", s.thread.ID, "reply_chars", len(reply))
	return assistantStep, nil
}

// prompt builds the request: system prompt, memory, then the new message.
func (s *Session) prompt(text string) []ollama.Message {
	msgs := make([]ollama.Message, 0, len(s.memory)+2)
	if s.cfg.SystemPrompt != "" {
		msgs = append(msgs, ollama.NewSystemMessage(s.cfg.SystemPrompt))
	}
	msgs = append(msgs, s.memory...)
	return append(msgs, ollama.NewUserMessage(text))
}

// ensureThread creates the thread on the first message, named after it.
func (s *Session) ensureThread(ctx context.Context, firstMessage string) error {
	if s.thread != nil {
		return nil
	}
	thread := &model.Thread{
		Name:           model.Ref(util.Preview(firstMessage, s.cfg.ThreadNameWidth)),
		UserID:         model.Ref(s.user.ID),
		UserIdentifier: model.Ref(s.user.Identifier),
		Tags:           []string{},
	}
	if err := s.deps.Store.CreateThread(ctx, thread); err != nil {
		return err
	}
	s.thread = thread
	s.logger.Debug("thread created", "thread", thread.ID)
	return nil
}

func generationInfo(modelName string, took time.Duration) model.RawJSON {
	data, err := json.Marshal(struct {
		Provider   string `json:"provider"`
		Model      string `json:"model"`
		DurationMs int64  `json:"durationMs"`
	}{"ollama", modelName, took.Milliseconds()})
	if err != nil {
		return nil
	}
	return model.RawJSON(data)
}
