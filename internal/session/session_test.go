// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"crypto/rsa"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatvault/internal/export"
	"github.com/jeranaias/chatvault/internal/model"
	"github.com/jeranaias/chatvault/internal/ollama"
	"github.com/jeranaias/chatvault/internal/security"
	"github.com/jeranaias/chatvault/internal/store"
	"github.com/jeranaias/chatvault/internal/vaulterr"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// echoBackend replies with a fixed text, streamed word by word, and records
// every request.
type echoBackend struct {
	mu       sync.Mutex
	reply    string
	err      error
	requests [][]ollama.Message
}

func (b *echoBackend) Model() string { return "test-model" }

func (b *echoBackend) Complete(ctx context.Context, messages []ollama.Message, onToken func(string)) (string, error) {
	b.mu.Lock()
	b.requests = append(b.requests, append([]ollama.Message(nil), messages...))
	b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	if onToken != nil {
		for _, tok := range strings.SplitAfter(b.reply, " ") {
			onToken(tok)
		}
	}
	return b.reply, nil
}

func (b *echoBackend) lastRequest() []ollama.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests[len(b.requests)-1]
}

type staticKey struct{ key *rsa.PublicKey }

func (s staticKey) PublicKey() (*rsa.PublicKey, error) { return s.key, nil }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.InitSchema(ctx))
	return st
}

func newUser(t *testing.T, st *store.Store, identifier string) *model.User {
	t.Helper()
	u, err := st.EnsureUser(context.Background(), identifier, nil)
	require.NoError(t, err)
	return u
}

// =============================================================================
// SEND
// =============================================================================

func TestSend_PersistsBothSteps(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	user := newUser(t, st, "alice")
	backend := &echoBackend{reply: "hi there friend"}

	sess := Start(Deps{Store: st, Backend: backend}, user, DefaultConfig())
	require.Empty(t, sess.ThreadID(), "thread is created lazily")

	var tokens []string
	reply, err := sess.Send(ctx, "  hello  ", func(tok string) { tokens = append(tokens, tok) })
	require.NoError(t, err)
	require.Equal(t, "hi there friend", reply.OutputText())
	require.Len(t, tokens, 3)
	require.NotEmpty(t, sess.ThreadID())

	thread, err := st.Thread(ctx, sess.ThreadID())
	require.NoError(t, err)
	require.Equal(t, "hello", thread.Title())
	require.Equal(t, user.ID, *thread.UserID)
	require.Len(t, thread.Steps, 2)

	require.Equal(t, model.StepUserMessage, thread.Steps[0].Type)
	require.Equal(t, "alice", thread.Steps[0].Name)
	require.Equal(t, "hello", thread.Steps[0].OutputText())

	require.Equal(t, model.StepAssistantMessage, thread.Steps[1].Type)
	require.Equal(t, "Assistant", thread.Steps[1].Name)
	require.True(t, thread.Steps[1].Streaming)
	require.NotNil(t, thread.Steps[1].End)
	require.Contains(t, string(thread.Steps[1].Generation), `"model":"test-model"`)

	req := backend.lastRequest()
	require.Equal(t, []ollama.Message{
		ollama.NewSystemMessage("You are a helpful chatbot"),
		ollama.NewUserMessage("hello"),
	}, req)
}

func TestSend_CarriesMemory(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	backend := &echoBackend{reply: "ok"}
	sess := Start(Deps{Store: st, Backend: backend}, newUser(t, st, "alice"), Config{})

	_, err := sess.Send(ctx, "first", nil)
	require.NoError(t, err)
	_, err = sess.Send(ctx, "second", nil)
	require.NoError(t, err)

	// No system prompt configured
	require.Equal(t, []ollama.Message{
		ollama.NewUserMessage("first"),
		ollama.NewAssistantMessage("ok"),
		ollama.NewUserMessage("second"),
	}, backend.lastRequest())
	require.Len(t, sess.Memory(), 4)

	threads, err := st.ListThreads(ctx, sess.User().ID)
	require.NoError(t, err)
	require.Len(t, threads, 1, "both messages share one thread")
	require.Equal(t, 4, threads[0].StepCount)
}

func TestSend_Empty(t *testing.T) {
	st := newTestStore(t)
	sess := Start(Deps{Store: st, Backend: &echoBackend{}}, newUser(t, st, "alice"), DefaultConfig())

	_, err := sess.Send(context.Background(), " \n ", nil)
	require.ErrorIs(t, err, ErrEmptyMessage)
	require.Empty(t, sess.ThreadID())
}

func TestSend_BackendFailure(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	boom := errors.New("connection refused")
	sess := Start(Deps{Store: st, Backend: &echoBackend{err: boom}}, newUser(t, st, "alice"), DefaultConfig())

	_, err := sess.Send(ctx, "hello", nil)
	require.ErrorIs(t, err, boom)

	thread, err := st.Thread(ctx, sess.ThreadID())
	require.NoError(t, err)
	require.Len(t, thread.Steps, 1, "user step stays, no assistant step")
	require.Equal(t, model.StepUserMessage, thread.Steps[0].Type)
}

func TestSend_LongFirstMessageNamesThread(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	cfg := DefaultConfig()
	cfg.ThreadNameWidth = 10
	sess := Start(Deps{Store: st, Backend: &echoBackend{reply: "ok"}}, newUser(t, st, "alice"), cfg)

	_, err := sess.Send(ctx, "tell me\nabout the sea", nil)
	require.NoError(t, err)

	thread, err := st.Thread(ctx, sess.ThreadID())
	require.NoError(t, err)
	require.Equal(t, "tell me...", thread.Title())
}

// =============================================================================
// RESUME
// =============================================================================

func TestResume_RebuildsMemoryFromRootSteps(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	user := newUser(t, st, "alice")

	thread := &model.Thread{Name: model.Ref("old"), UserID: model.Ref(user.ID)}
	require.NoError(t, st.CreateThread(ctx, thread))

	question := &model.Step{Type: model.StepUserMessage, ThreadID: thread.ID, Output: model.Ref("what is 2+2?")}
	require.NoError(t, st.AddStep(ctx, question))
	require.NoError(t, st.AddStep(ctx, &model.Step{
		Type: model.StepTool, ThreadID: thread.ID, ParentID: model.Ref(question.ID), Output: model.Ref("calc: 4"),
	}))
	require.NoError(t, st.AddStep(ctx, &model.Step{Type: model.StepAssistantMessage, ThreadID: thread.ID, Output: model.Ref("4")}))
	require.NoError(t, st.AddStep(ctx, &model.Step{Type: model.StepRun, ThreadID: thread.ID}))

	backend := &echoBackend{reply: "sure"}
	sess, err := Resume(ctx, Deps{Store: st, Backend: backend}, user, thread.ID, Config{})
	require.NoError(t, err)
	require.Equal(t, thread.ID, sess.ThreadID())

	require.Equal(t, []ollama.Message{
		ollama.NewUserMessage("what is 2+2?"),
		ollama.NewAssistantMessage("4"),
		ollama.NewAssistantMessage(""),
	}, sess.Memory(), "nested tool step excluded, non-user root steps are assistant turns")

	_, err = sess.Send(ctx, "and 3+3?", nil)
	require.NoError(t, err)
	require.Len(t, backend.lastRequest(), 4)

	reloaded, err := st.Thread(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, reloaded.Steps, 6)
}

func TestResume_Errors(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	alice := newUser(t, st, "alice")
	bob := newUser(t, st, "bob")

	thread := &model.Thread{UserID: model.Ref(alice.ID)}
	require.NoError(t, st.CreateThread(ctx, thread))

	deps := Deps{Store: st, Backend: &echoBackend{}}

	_, err := Resume(ctx, deps, bob, thread.ID, DefaultConfig())
	require.ErrorIs(t, err, vaulterr.ErrNotFound)
	require.ErrorIs(t, err, ErrNotThreadOwner)

	_, err = Resume(ctx, deps, alice, "no-such-thread", DefaultConfig())
	require.ErrorIs(t, err, vaulterr.ErrNotFound)
}

// =============================================================================
// COMMANDS
// =============================================================================

func TestHandle_ExportRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	user := newUser(t, st, "alice")

	priv, err := security.GenerateKeyPair(2048)
	require.NoError(t, err)
	exp := export.New(st, staticKey{key: &priv.PublicKey}, nil)

	sess := Start(Deps{Store: st, Backend: &echoBackend{reply: "pong"}, Exporter: exp}, user, DefaultConfig())

	res, err := sess.Handle(ctx, "ping", nil)
	require.NoError(t, err)
	require.Equal(t, ResultReply, res.Kind)
	require.Equal(t, "pong", res.Text)

	res, err = sess.Handle(ctx, "/export", nil)
	require.NoError(t, err)
	require.Equal(t, ResultExport, res.Kind)
	require.Equal(t, export.DefaultArtifactName, res.Artifact.Name)

	archive, err := export.Open(priv, res.Artifact.Data)
	require.NoError(t, err)
	require.Equal(t, user.ID, archive.UserID)
	require.Len(t, archive.Threads, 1)
	require.Len(t, archive.Threads[0].Steps, 2)
	require.Equal(t, "ping", archive.Threads[0].Steps[0].OutputText())
	require.Equal(t, "pong", archive.Threads[0].Steps[1].OutputText())

	// The export itself is not recorded
	thread, err := st.Thread(ctx, sess.ThreadID())
	require.NoError(t, err)
	require.Len(t, thread.Steps, 2)
}

func TestHandle_Commands(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sess := Start(Deps{Store: st, Backend: &echoBackend{reply: "ok"}}, newUser(t, st, "alice"), DefaultConfig())

	_, err := sess.Handle(ctx, "/export", nil)
	require.ErrorIs(t, err, ErrExportDisabled)

	res, err := sess.Handle(ctx, "/threads", nil)
	require.NoError(t, err)
	require.Equal(t, ResultThreads, res.Kind)
	require.Empty(t, res.Threads)

	_, err = sess.Handle(ctx, "hello", nil)
	require.NoError(t, err)
	res, err = sess.Handle(ctx, " /THREADS ", nil)
	require.NoError(t, err)
	require.Len(t, res.Threads, 1)

	res, err = sess.Handle(ctx, "/help", nil)
	require.NoError(t, err)
	require.Contains(t, res.Text, "/export")
	require.Contains(t, res.Text, "Explain superconductors")

	_, err = sess.Handle(ctx, "/dance", nil)
	require.ErrorIs(t, err, ErrUnknownCommand)
}

func TestStarterMessage(t *testing.T) {
	require.Len(t, Starters, 4)
	require.Equal(t, "Explain superconductors like I'm five years old.", StarterMessage(2))
	require.Empty(t, StarterMessage(0))
	require.Empty(t, StarterMessage(5))
}
