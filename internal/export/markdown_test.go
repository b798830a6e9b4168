// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"strings"
	"testing"

	"github.com/jeranaias/chatvault/internal/model"
)

func TestRenderMarkdown(t *testing.T) {
	archive := &Archive{UserID: "u1", Threads: sampleThreads()}
	out := string(RenderMarkdown(archive, nil))

	for _, want := range []string{
		"user_id: u1\n",
		"threads: 2\n",
		"steps: 3\n",
		"## Trip <planning> & more",
		"### [User]\n\n",
		"Where should I go? 🌍",
		"[Assistant]",
		"Lisbon.",
		"> *nested under s2*",
		"### [Tool] search",
		"**Input**:",
		"## Untitled",
		"*Empty thread.*",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderMarkdown() missing %q\n%s", want, out)
		}
	}
}

func TestRenderMarkdown_RootOnly(t *testing.T) {
	archive := &Archive{UserID: "u1", Threads: sampleThreads()}
	out := string(RenderMarkdown(archive, &MarkdownOptions{}))

	if strings.Contains(out, "search") {
		t.Error("nested tool step rendered with IncludeNested=false")
	}
	if strings.HasPrefix(out, "---") {
		t.Error("frontmatter rendered with IncludeMetadata=false")
	}
}

func TestRenderMarkdown_Empty(t *testing.T) {
	out := string(RenderMarkdown(&Archive{UserID: "u1"}, nil))
	if !strings.Contains(out, "*No conversations.*") {
		t.Errorf("RenderMarkdown() = %q", out)
	}
}

// TestRenderMarkdown_YAMLInjection checks that newlines in the user id cannot
// add frontmatter keys.
func TestRenderMarkdown_YAMLInjection(t *testing.T) {
	out := string(RenderMarkdown(&Archive{UserID: "x\ninjected: true"}, nil))
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "injected:") {
			t.Fatal("newline in user id was not escaped in frontmatter")
		}
	}
}

func TestRenderMarkdown_ParentCycle(t *testing.T) {
	// s1 and s2 point at each other, so neither is a root; nothing loops.
	th := model.Thread{ID: "t", Steps: []model.Step{
		{ID: "s1", Type: model.StepTool, ParentID: model.Ref("s2")},
		{ID: "s2", Type: model.StepTool, ParentID: model.Ref("s1")},
	}}
	out := string(RenderMarkdown(&Archive{Threads: []model.Thread{th}}, nil))
	if !strings.Contains(out, "## Untitled") {
		t.Errorf("RenderMarkdown() = %q", out)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"chat_history.enc", "chat_history.enc"},
		{"../../etc/passwd", "passwd"},
		{"a b:c", "a_b-c"},
		{"", DefaultArtifactName},
		{"..", DefaultArtifactName},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
