// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeranaias/chatvault/internal/export"
	"github.com/jeranaias/chatvault/internal/model"
	"github.com/jeranaias/chatvault/internal/store"
)

// =============================================================================
// COMMANDS
// =============================================================================

// Command names recognised by Handle.
const (
	CmdExport  = "/export"
	CmdThreads = "/threads"
	CmdHelp    = "/help"
)

// Commands lists the slash commands with their descriptions, in display order.
var Commands = []struct {
	Name        string
	Description string
}{
	{CmdExport, "Export all chat history (encrypted)"},
	{CmdThreads, "List your conversations"},
	{CmdHelp, "Show commands and starters"},
}

// ResultKind says which field of a Result is set.
type ResultKind int

const (
	ResultReply ResultKind = iota
	ResultExport
	ResultThreads
	ResultHelp
)

// Result is the outcome of one line of input.
type Result struct {
	Kind     ResultKind
	Reply    *model.Step
	Artifact *export.Artifact
	Threads  []store.ThreadSummary
	Text     string
}

// IsCommand reports whether input is a slash command rather than a message.
func IsCommand(input string) bool {
	return strings.HasPrefix(strings.TrimSpace(input), "/")
}

// Handle runs a slash command or sends input as a message.
func (s *Session) Handle(ctx context.Context, input string, onToken func(string)) (*Result, error) {
	if !IsCommand(input) {
		step, err := s.Send(ctx, input, onToken)
		if err != nil {
			return nil, err
		}
		return &Result{Kind: ResultReply, Reply: step, Text: step.OutputText()}, nil
	}

	fields := strings.Fields(input)
	switch strings.ToLower(fields[0]) {
	case CmdExport:
		art, err := s.Export(ctx)
		if err != nil {
			return nil, err
		}
		return &Result{Kind: ResultExport, Artifact: art, Text: "Here is your encrypted chat history."}, nil

	case CmdThreads:
		threads, err := s.deps.Store.ListThreads(ctx, s.user.ID)
		if err != nil {
			return nil, err
		}
		return &Result{Kind: ResultThreads, Threads: threads}, nil

	case CmdHelp:
		return &Result{Kind: ResultHelp, Text: HelpText()}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, fields[0])
	}
}

// Export runs the export pipeline for the session owner. The export itself
// is not recorded in the thread.
func (s *Session) Export(ctx context.Context) (*export.Artifact, error) {
	if s.deps.Exporter == nil {
		return nil, ErrExportDisabled
	}
	art, err := s.deps.Exporter.Export(ctx, s.user.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("history exported from session", "user", s.user.Identifier, "threads", art.Threads)
	return art, nil
}

// HelpText lists commands and starters.
func HelpText() string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, c := range Commands {
		fmt.Fprintf(&b, "  %-9s %s\n", c.Name, c.Description)
	}
	b.WriteString("  /quit     Leave the chat\n\nTry asking:\n")
	for _, st := range Starters {
		fmt.Fprintf(&b, "  - %s\n", st.Label)
	}
	return b.String()
}
