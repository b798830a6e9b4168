// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"

	"github.com/jeranaias/chatvault/internal/model"
)

// =============================================================================
// MARKDOWN RENDERER
// =============================================================================

// MarkdownOptions controls RenderMarkdown.
type MarkdownOptions struct {
	// IncludeMetadata adds YAML frontmatter and a per-thread info list.
	IncludeMetadata bool

	// IncludeTimestamps shows each step's createdAt next to its label.
	IncludeTimestamps bool

	// IncludeNested renders child steps (tool calls, runs) under their
	// parent. When false only root steps appear.
	IncludeNested bool
}

// DefaultMarkdownOptions returns the options used by the decrypt command.
func DefaultMarkdownOptions() *MarkdownOptions {
	return &MarkdownOptions{
		IncludeMetadata:   true,
		IncludeTimestamps: true,
		IncludeNested:     true,
	}
}

// RenderMarkdown renders a decrypted archive for reading. The output is
// derived only from the archive, so the same archive renders identically.
func RenderMarkdown(a *Archive, opts *MarkdownOptions) []byte {
	if opts == nil {
		opts = DefaultMarkdownOptions()
	}
	var sb strings.Builder

	if opts.IncludeMetadata {
		sb.WriteString("---\n")
		sb.WriteString(fmt.Sprintf("user_id: %s\n", escapeYAML(a.UserID)))
		sb.WriteString(fmt.Sprintf("threads: %d\n", len(a.Threads)))
		sb.WriteString(fmt.Sprintf("steps: %d\n", a.StepCount()))
		sb.WriteString("generator: chatvault\n")
		sb.WriteString("---\n\n")
	}

	sb.WriteString("# Chat history\n\n")
	if len(a.Threads) == 0 {
		sb.WriteString("*No conversations.*\n")
		return []byte(sb.String())
	}

	for i := range a.Threads {
		if i > 0 {
			sb.WriteString("\n---\n\n")
		}
		renderThread(&sb, &a.Threads[i], opts)
	}
	return []byte(sb.String())
}

func renderThread(sb *strings.Builder, t *model.Thread, opts *MarkdownOptions) {
	sb.WriteString(fmt.Sprintf("## %s\n\n", escapeMarkdown(t.Title())))

	if opts.IncludeMetadata {
		if t.CreatedAt != nil {
			sb.WriteString(fmt.Sprintf("- **Created**: %s\n", *t.CreatedAt))
		}
		sb.WriteString(fmt.Sprintf("- **Steps**: %d\n", len(t.Steps)))
		if len(t.Tags) > 0 {
			sb.WriteString(fmt.Sprintf("- **Tags**: %s\n", escapeMarkdown(strings.Join(t.Tags, ", "))))
		}
		sb.WriteString("\n")
	}

	if len(t.Steps) == 0 {
		sb.WriteString("*Empty thread.*\n")
		return
	}

	children := make(map[string][]*model.Step)
	for i := range t.Steps {
		if p := t.Steps[i].ParentID; p != nil {
			children[*p] = append(children[*p], &t.Steps[i])
		}
	}

	for i := range t.Steps {
		st := &t.Steps[i]
		if st.ParentID != nil {
			continue
		}
		renderStep(sb, st, opts)
		if opts.IncludeNested {
			renderChildren(sb, st.ID, children, opts, 1)
		}
	}
}

func renderStep(sb *strings.Builder, st *model.Step, opts *MarkdownOptions) {
	label := formatStepLabel(st)
	if opts.IncludeTimestamps && st.CreatedAt != nil {
		sb.WriteString(fmt.Sprintf("### %s <sub>%s</sub>\n\n", label, *st.CreatedAt))
	} else {
		sb.WriteString(fmt.Sprintf("### %s\n\n", label))
	}

	if st.Type.IsMessage() {
		content := strings.TrimSpace(st.OutputText())
		if content == "" {
			content = "*(empty)*"
		}
		sb.WriteString(content)
		sb.WriteString("\n\n")
		return
	}
	sb.WriteString(formatToolStep(st))
}

func renderChildren(sb *strings.Builder, parentID string, children map[string][]*model.Step, opts *MarkdownOptions, depth int) {
	// Bounded so a parent cycle in stored data cannot recurse forever.
	if depth > 16 {
		return
	}
	for _, child := range children[parentID] {
		sb.WriteString(fmt.Sprintf("> *nested under %s*\n\n", parentID))
		renderStep(sb, child, opts)
		renderChildren(sb, child.ID, children, opts, depth+1)
	}
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

// formatStepLabel returns a formatted label for the step type.
func formatStepLabel(st *model.Step) string {
	switch st.Type {
	case model.StepUserMessage:
		return "[User]"
	case model.StepAssistantMessage:
		return "[Assistant]"
	case model.StepSystemMessage:
		return "[System]"
	case model.StepTool:
		return fmt.Sprintf("[Tool] %s", escapeMarkdown(st.Name))
	case "":
		return "Unknown"
	default:
		runes := []rune(string(st.Type))
		return fmt.Sprintf("[%s] %s", strings.ToUpper(string(runes[0]))+string(runes[1:]), escapeMarkdown(st.Name))
	}
}

// formatToolStep formats a non-message step with input/output.
func formatToolStep(st *model.Step) string {
	var sb strings.Builder

	if st.Input != nil && *st.Input != "" {
		sb.WriteString("**Input**:\n```")
		if st.Language != nil {
			sb.WriteString(*st.Language)
		}
		sb.WriteString("\n")
		sb.WriteString(*st.Input)
		sb.WriteString("\n```\n\n")
	}

	if st.Output != nil && *st.Output != "" {
		status := "[OK]"
		if st.IsError != nil && *st.IsError {
			status = "[FAIL]"
		}
		sb.WriteString(fmt.Sprintf("**Result** %s:\n```\n", status))
		sb.WriteString(*st.Output)
		sb.WriteString("\n```\n\n")
	}

	if sb.Len() == 0 {
		return "*(no input or output)*\n\n"
	}
	return sb.String()
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes special Markdown characters in plain text.
func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}

// escapeYAML escapes special YAML characters in values.
func escapeYAML(s string) string {
	if s == "" || strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		s = strings.ReplaceAll(s, "\r", "\\r")
		return fmt.Sprintf("\"%s\"", s)
	}
	return s
}
