// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

// Starter is a suggested first message.
type Starter struct {
	Label   string
	Message string
}

// Starters are offered when a new conversation begins.
var Starters = []Starter{
	{
		Label:   "Morning routine ideation",
		Message: "Can you help me create a personalized morning routine that would help increase my productivity throughout the day? Start by asking me about my current habits and what activities energize me in the morning.",
	},
	{
		Label:   "Explain superconductors",
		Message: "Explain superconductors like I'm five years old.",
	},
	{
		Label:   "Python script for daily email reports",
		Message: "Write a script to automate sending daily email reports in Python, and walk me through how I would set it up.",
	},
	{
		Label:   "Text inviting friend to wedding",
		Message: "Write a text asking a friend to be my plus-one at a wedding next month. I want to keep it super short and casual, and offer an out.",
	},
}

// StarterMessage returns the message for a 1-based starter number, or ""
// when n is out of range.
func StarterMessage(n int) string {
	if n < 1 || n > len(Starters) {
		return ""
	}
	return Starters[n-1].Message
}
