// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/jeranaias/chatvault/internal/model"
	"github.com/jeranaias/chatvault/internal/vaulterr"
)

// =============================================================================
// CANONICAL JSON
// =============================================================================

// Archive is the plaintext of an export: one user's complete history.
type Archive struct {
	UserID  string         `json:"user_id"`
	Threads []model.Thread `json:"threads"`
}

// StepCount returns the number of steps across all threads.
func (a *Archive) StepCount() int {
	n := 0
	for i := range a.Threads {
		n += len(a.Threads[i].Steps)
	}
	return n
}

// Serialize encodes a user's history as two-space indented JSON with a fixed
// field order. The same input always produces the same bytes. HTML
// characters are not escaped, so opaque JSON values keep their bytes.
// Text that is not valid UTF-8 is refused rather than replaced, and a nil
// Steps slice is written as an empty list.
func Serialize(userID string, threads []model.Thread) ([]byte, error) {
	const op = "export.Serialize"

	if !utf8.ValidString(userID) {
		return nil, vaulterr.E(vaulterr.KindSerialization, op, fmt.Errorf("user id: not valid UTF-8"))
	}
	out := make([]model.Thread, len(threads))
	for i := range threads {
		out[i] = threads[i]
		if out[i].Steps == nil {
			out[i].Steps = []model.Step{}
		}
		if err := out[i].CheckText(); err != nil {
			return nil, vaulterr.E(vaulterr.KindSerialization, op, err)
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(Archive{UserID: userID, Threads: out}); err != nil {
		return nil, vaulterr.E(vaulterr.KindSerialization, op, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Deserialize parses bytes produced by Serialize.
func Deserialize(data []byte) (*Archive, error) {
	var a Archive
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, vaulterr.E(vaulterr.KindSerialization, "export.Deserialize", err)
	}
	if a.Threads == nil {
		a.Threads = []model.Thread{}
	}
	return &a, nil
}
