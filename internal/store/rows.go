// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jeranaias/chatvault/internal/model"
)

// =============================================================================
// ROW MAPPING
// =============================================================================

// threadRow holds the thread half of a history row.
type threadRow struct {
	ID             string
	CreatedAt      sql.NullString
	Name           sql.NullString
	UserID         sql.NullString
	UserIdentifier sql.NullString
	Tags           sql.NullString
	Metadata       sql.NullString
}

// stepRow holds the step half of a history row. Every column is nullable
// because the join is outer: a thread without steps yields one row whose
// step columns are all NULL.
type stepRow struct {
	ID            sql.NullString
	Name          sql.NullString
	Type          sql.NullString
	ThreadID      sql.NullString
	ParentID      sql.NullString
	Command       sql.NullString
	Streaming     sql.NullBool
	WaitForAnswer sql.NullBool
	IsError       sql.NullBool
	Metadata      sql.NullString
	Tags          sql.NullString
	Input         sql.NullString
	Output        sql.NullString
	CreatedAt     sql.NullString
	Start         sql.NullString
	End           sql.NullString
	Generation    sql.NullString
	ShowInput     sql.NullString
	Language      sql.NullString
	Indent        sql.NullInt64
}

const threadColumns = `t."id", t."createdAt", t."name", t."userId", t."userIdentifier", t."tags", t."metadata"`

const stepColumns = `s."id", s."name", s."type", s."threadId", s."parentId", s."command",
    s."streaming", s."waitForAnswer", s."isError", s."metadata", s."tags",
    s."input", s."output", s."createdAt", s."start", s."end", s."generation",
    s."showInput", s."language", s."indent"`

func (r *threadRow) dest() []any {
	return []any{&r.ID, &r.CreatedAt, &r.Name, &r.UserID, &r.UserIdentifier, &r.Tags, &r.Metadata}
}

func (r *stepRow) dest() []any {
	return []any{
		&r.ID, &r.Name, &r.Type, &r.ThreadID, &r.ParentID, &r.Command,
		&r.Streaming, &r.WaitForAnswer, &r.IsError, &r.Metadata, &r.Tags,
		&r.Input, &r.Output, &r.CreatedAt, &r.Start, &r.End, &r.Generation,
		&r.ShowInput, &r.Language, &r.Indent,
	}
}

func (r *threadRow) thread() (model.Thread, error) {
	tags, err := decodeTags(r.Tags)
	if err != nil {
		return model.Thread{}, fmt.Errorf("thread %s tags: %w", r.ID, err)
	}
	meta, err := decodeJSON(r.Metadata)
	if err != nil {
		return model.Thread{}, fmt.Errorf("thread %s metadata: %w", r.ID, err)
	}
	t := model.Thread{
		ID:             r.ID,
		CreatedAt:      nullString(r.CreatedAt),
		Name:           nullString(r.Name),
		UserID:         nullString(r.UserID),
		UserIdentifier: nullString(r.UserIdentifier),
		Tags:           tags,
		Metadata:       meta,
		Steps:          []model.Step{},
	}
	if err := t.CheckText(); err != nil {
		return model.Thread{}, err
	}
	return t, nil
}

func (r *stepRow) step() (model.Step, error) {
	id := r.ID.String
	tags, err := decodeTags(r.Tags)
	if err != nil {
		return model.Step{}, fmt.Errorf("step %s tags: %w", id, err)
	}
	meta, err := decodeJSON(r.Metadata)
	if err != nil {
		return model.Step{}, fmt.Errorf("step %s metadata: %w", id, err)
	}
	gen, err := decodeJSON(r.Generation)
	if err != nil {
		return model.Step{}, fmt.Errorf("step %s generation: %w", id, err)
	}
	st := model.Step{
		ID:            id,
		Name:          r.Name.String,
		Type:          model.StepType(r.Type.String),
		ThreadID:      r.ThreadID.String,
		ParentID:      nullString(r.ParentID),
		Command:       nullString(r.Command),
		Streaming:     r.Streaming.Valid && r.Streaming.Bool,
		WaitForAnswer: nullBool(r.WaitForAnswer),
		IsError:       nullBool(r.IsError),
		Metadata:      meta,
		Tags:          tags,
		Input:         nullString(r.Input),
		Output:        nullString(r.Output),
		CreatedAt:     nullString(r.CreatedAt),
		Start:         nullString(r.Start),
		End:           nullString(r.End),
		Generation:    gen,
		ShowInput:     nullString(r.ShowInput),
		Language:      nullString(r.Language),
		Indent:        nullInt64(r.Indent),
	}
	if err := st.CheckText(); err != nil {
		return model.Step{}, err
	}
	return st, nil
}

// =============================================================================
// COLUMN CODECS
// =============================================================================

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func nullBool(nb sql.NullBool) *bool {
	if !nb.Valid {
		return nil
	}
	return &nb.Bool
}

func nullInt64(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	return &ni.Int64
}

// decodeTags reads a JSON array of strings. NULL and "" mean no tags.
func decodeTags(ns sql.NullString) ([]string, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(ns.String), &tags); err != nil {
		return nil, fmt.Errorf("invalid tags %q: %w", ns.String, err)
	}
	return tags, nil
}

func decodeJSON(ns sql.NullString) (model.RawJSON, error) {
	if !ns.Valid {
		return nil, nil
	}
	return model.ParseRawJSON(ns.String)
}

func encodeTags(tags []string) (any, error) {
	if tags == nil {
		return nil, nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func encodeJSON(r model.RawJSON) any {
	if r == nil {
		return nil
	}
	return string(r)
}

func ptrValue[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
