// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command.
//
// Examples:
//   chatvault chat --user alice                  Start a new conversation
//   chatvault chat --user alice --thread ID      Continue a conversation
//   chatvault chat --user alice --model qwen2.5  Use a specific model
//
// Interactive commands:
//   /export      Write the encrypted history to export.output_dir
//   /threads     List conversations
//   /help        Show commands and starters
//   /quit        Exit chat (also Ctrl+D)
//   1-4          Send a starter prompt before the first message
//   Ctrl+C       Cancel the current reply

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/chatvault/internal/config"
	"github.com/jeranaias/chatvault/internal/export"
	"github.com/jeranaias/chatvault/internal/offline"
	"github.com/jeranaias/chatvault/internal/ollama"
	"github.com/jeranaias/chatvault/internal/session"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader reads one line of user input.
type lineReader interface {
	Prompt(prompt string) (string, error)
}

// chatInput wraps liner with a persistent history file.
type chatInput struct {
	line        *liner.State
	historyFile string
}

func newChatInput() *chatInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	in := &chatInput{line: line, historyFile: filepath.Join(dir, "input_history")}
	if f, err := os.Open(in.historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	return in
}

// Prompt reads a line and records non-empty input in the history.
func (c *chatInput) Prompt(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves the history with owner-only permissions and restores the
// terminal.
func (c *chatInput) Close() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			c.line.WriteHistory(f)
			f.Close()
		}
	}
	c.line.Close()
}

// =============================================================================
// COMMAND
// =============================================================================

func newChatCmd(a *app) *cobra.Command {
	var (
		identifier string
		threadID   string
		modelName  string
		render     bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if identifier == "" {
				return NewValidationError("user", "", "an identifier is required (--user)")
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.InitSchema(ctx); err != nil {
				return err
			}
			user, err := st.EnsureUser(ctx, identifier, nil)
			if err != nil {
				return err
			}

			if err := offline.ValidateBackendURL(a.cfg.LLM.OllamaURL, a.cfg.LLM.AllowRemote); err != nil {
				return &ConfigError{Err: err}
			}
			if modelName == "" {
				modelName = a.cfg.LLM.Model
			}
			client := ollama.NewClientWithConfig(&ollama.ClientConfig{
				BaseURL:      a.cfg.LLM.OllamaURL,
				Timeout:      30 * time.Second,
				DefaultModel: modelName,
			})
			if err := client.CheckRunning(ctx); err != nil {
				return err
			}

			deps := session.Deps{
				Store:    st,
				Backend:  &timedBackend{client: client, timeout: time.Duration(a.cfg.LLM.TimeoutSecs) * time.Second},
				Exporter: a.exporter(st, a.keyProvider(), nil),
			}
			scfg := session.DefaultConfig()
			if a.cfg.LLM.SystemPrompt != "" {
				scfg.SystemPrompt = a.cfg.LLM.SystemPrompt
			}
			scfg.Logger = a.log()

			var sess *session.Session
			if threadID != "" {
				sess, err = session.Resume(ctx, deps, user, threadID, scfg)
				if err != nil {
					return err
				}
			} else {
				sess = session.Start(deps, user, scfg)
			}

			in := newChatInput()
			defer in.Close()

			loop := &chatLoop{
				sess:      sess,
				in:        in,
				out:       out,
				errOut:    cmd.ErrOrStderr(),
				outputDir: a.cfg.Export.OutputDir,
				render:    render && isTerminalWriter(out),
				model:     modelName,
			}
			return loop.run(ctx)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&identifier, "user", "u", "", "user identifier (created if missing)")
	f.StringVarP(&threadID, "thread", "t", "", "resume an existing thread")
	f.StringVarP(&modelName, "model", "m", "", "model name (default llm.model)")
	f.BoolVar(&render, "render", true, "render replies as markdown on a terminal instead of streaming")
	return cmd
}

// timedBackend bounds each completion by the configured timeout.
type timedBackend struct {
	client  *ollama.Client
	timeout time.Duration
}

func (b *timedBackend) Model() string { return b.client.Model() }

func (b *timedBackend) Complete(ctx context.Context, messages []ollama.Message, onToken func(string)) (string, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	return b.client.Complete(ctx, messages, onToken)
}

// =============================================================================
// REPL
// =============================================================================

// chatLoop is the read-eval-print loop of one chat session.
type chatLoop struct {
	sess      *session.Session
	in        lineReader
	out       io.Writer
	errOut    io.Writer
	outputDir string
	render    bool
	model     string
}

func (l *chatLoop) run(ctx context.Context) error {
	l.banner()
	for {
		input, err := l.in.Prompt(RenderConditional(PromptStyle, "you> "))
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D, or end of input
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(l.out)
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		switch {
		case input == "":
			continue
		case input == "/quit" || input == "/q" || strings.EqualFold(input, "exit"):
			return nil
		}

		if l.sess.ThreadID() == "" {
			if n, err := strconv.Atoi(input); err == nil {
				if msg := session.StarterMessage(n); msg != "" {
					fmt.Fprintln(l.out, RenderConditional(DimStyle, "> "+msg))
					input = msg
				}
			}
		}

		if err := l.handle(ctx, input); err != nil {
			DisplayError(l.errOut, err, false)
		}
	}
}

func (l *chatLoop) banner() {
	fmt.Fprintln(l.out, RenderConditional(TitleStyle, "chatvault chat")+" "+RenderConditional(DimStyle, "model "+l.model))
	if id := l.sess.ThreadID(); id != "" {
		fmt.Fprintln(l.out, RenderField("Resumed thread", id))
		fmt.Fprintln(l.out, RenderField("Messages", strconv.Itoa(len(l.sess.Memory()))))
	} else {
		fmt.Fprintln(l.out, RenderConditional(DimStyle, "Type a message, a starter number, or /help."))
		for i, st := range session.Starters {
			fmt.Fprintf(l.out, "  %d. %s\n", i+1, st.Label)
		}
	}
	fmt.Fprintln(l.out, RenderSeparator())
}

// handle runs one line of input with Ctrl+C cancelling only this reply.
func (l *chatLoop) handle(ctx context.Context, input string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	stats := ollama.StreamStats{StartTime: time.Now()}
	onToken := func(tok string) {
		if stats.FirstTokenTime.IsZero() {
			stats.FirstTokenTime = time.Now()
			stats.TTFT = stats.FirstTokenTime.Sub(stats.StartTime)
		}
		stats.CompletionTokens++
		if !l.render {
			fmt.Fprint(l.out, tok)
		}
	}

	res, err := l.sess.Handle(ctx, input, onToken)
	if err != nil {
		if !l.render && stats.CompletionTokens > 0 {
			fmt.Fprintln(l.out)
		}
		return err
	}

	switch res.Kind {
	case session.ResultReply:
		stats.TotalDuration = time.Since(stats.StartTime)
		if secs := stats.TotalDuration.Seconds(); secs > 0 {
			stats.TokensPerSecond = float64(stats.CompletionTokens) / secs
		}
		if l.render {
			if rendered, err := renderMarkdown(res.Text); err == nil {
				fmt.Fprint(l.out, rendered)
			} else {
				fmt.Fprintln(l.out, res.Text)
			}
		} else {
			fmt.Fprintln(l.out)
		}
		fmt.Fprintln(l.out, RenderConditional(DimStyle, stats.Format()))

	case session.ResultExport:
		path, err := export.WriteArtifact(res.Artifact, l.outputDir)
		if err != nil {
			return err
		}
		fmt.Fprintln(l.out, RenderStatus("ok")+" "+res.Text)
		fmt.Fprintln(l.out, RenderField("File", path))
		fmt.Fprintln(l.out, RenderField("Threads", strconv.Itoa(res.Artifact.Threads)))

	case session.ResultThreads:
		writeThreadTable(l.out, res.Threads)

	case session.ResultHelp:
		fmt.Fprint(l.out, res.Text)
	}
	return nil
}
