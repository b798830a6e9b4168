// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jeranaias/chatvault/internal/model"
	"github.com/jeranaias/chatvault/internal/vaulterr"
)

// =============================================================================
// THREADS
// =============================================================================

// ThreadSummary is a thread without its steps, for listings.
type ThreadSummary struct {
	ID        string
	Name      string
	CreatedAt string
	StepCount int
}

// CreateThread inserts t. Empty ID and nil CreatedAt are filled in and
// written back to t. Steps on t are ignored; add them with AddStep.
func (s *Store) CreateThread(ctx context.Context, t *model.Thread) error {
	const op = "store.CreateThread"

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt == nil {
		t.CreatedAt = model.Ref(timestamp(s.now()))
	}
	tags, err := encodeTags(t.Tags)
	if err != nil {
		return vaulterr.E(vaulterr.KindSerialization, op, err)
	}

	conn, err := s.conn(ctx, op)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx,
		`INSERT INTO threads ("id", "createdAt", "name", "userId", "userIdentifier", "tags", "metadata")
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, ptrValue(t.CreatedAt), ptrValue(t.Name), ptrValue(t.UserID),
		ptrValue(t.UserIdentifier), tags, encodeJSON(t.Metadata))
	if err != nil {
		return vaulterr.E(vaulterr.KindStorage, op, err)
	}
	if t.Steps == nil {
		t.Steps = []model.Step{}
	}
	return nil
}

// RenameThread sets a thread's display name.
func (s *Store) RenameThread(ctx context.Context, threadID, name string) error {
	const op = "store.RenameThread"

	conn, err := s.conn(ctx, op)
	if err != nil {
		return err
	}
	defer conn.Close()

	res, err := conn.ExecContext(ctx, `UPDATE threads SET "name" = ? WHERE "id" = ?`, name, threadID)
	if err != nil {
		return vaulterr.E(vaulterr.KindStorage, op, err)
	}
	return requireAffected(res, op, "thread", threadID)
}

// DeleteThread removes a thread; its steps go with it.
func (s *Store) DeleteThread(ctx context.Context, threadID string) error {
	const op = "store.DeleteThread"

	conn, err := s.conn(ctx, op)
	if err != nil {
		return err
	}
	defer conn.Close()

	res, err := conn.ExecContext(ctx, `DELETE FROM threads WHERE "id" = ?`, threadID)
	if err != nil {
		return vaulterr.E(vaulterr.KindStorage, op, err)
	}
	return requireAffected(res, op, "thread", threadID)
}

// ListThreads returns a user's threads, newest first.
func (s *Store) ListThreads(ctx context.Context, userID string) ([]ThreadSummary, error) {
	const op = "store.ListThreads"

	conn, err := s.conn(ctx, op)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx,
		`SELECT t."id", t."name", t."createdAt", COUNT(s."id")
		 FROM threads t
		 LEFT JOIN steps s ON s."threadId" = t."id"
		 WHERE t."userId" = ?
		 GROUP BY t."id"
		 ORDER BY t."createdAt" DESC, t.rowid DESC`, userID)
	if err != nil {
		return nil, vaulterr.E(vaulterr.KindStorage, op, err)
	}
	defer rows.Close()

	summaries := []ThreadSummary{}
	for rows.Next() {
		var (
			sum       ThreadSummary
			name      sql.NullString
			createdAt sql.NullString
		)
		if err := rows.Scan(&sum.ID, &name, &createdAt, &sum.StepCount); err != nil {
			return nil, vaulterr.E(vaulterr.KindStorage, op, err)
		}
		sum.Name = name.String
		sum.CreatedAt = createdAt.String
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, vaulterr.E(vaulterr.KindStorage, op, err)
	}
	return summaries, nil
}

// Thread loads one thread with its steps.
func (s *Store) Thread(ctx context.Context, threadID string) (*model.Thread, error) {
	const op = "store.Thread"

	conn, err := s.conn(ctx, op)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var tr threadRow
	err = conn.QueryRowContext(ctx,
		`SELECT `+threadColumns+` FROM threads t WHERE t."id" = ?`, threadID).Scan(tr.dest()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, vaulterr.E(vaulterr.KindNotFound, op, fmt.Errorf("no thread %q", threadID))
	}
	if err != nil {
		return nil, vaulterr.E(vaulterr.KindStorage, op, err)
	}
	thread, err := tr.thread()
	if err != nil {
		return nil, vaulterr.E(vaulterr.KindSerialization, op, err)
	}

	rows, err := conn.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM steps s WHERE s."threadId" = ?
		 ORDER BY s."createdAt", s.rowid`, threadID)
	if err != nil {
		return nil, vaulterr.E(vaulterr.KindStorage, op, err)
	}
	defer rows.Close()

	for rows.Next() {
		var sr stepRow
		if err := rows.Scan(sr.dest()...); err != nil {
			return nil, vaulterr.E(vaulterr.KindStorage, op, err)
		}
		step, err := sr.step()
		if err != nil {
			return nil, vaulterr.E(vaulterr.KindSerialization, op, err)
		}
		thread.Steps = append(thread.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, vaulterr.E(vaulterr.KindStorage, op, err)
	}
	return &thread, nil
}

// =============================================================================
// STEPS
// =============================================================================

// AddStep inserts st into its thread. Empty ID and nil CreatedAt are filled
// in and written back to st.
func (s *Store) AddStep(ctx context.Context, st *model.Step) error {
	const op = "store.AddStep"

	if st.ThreadID == "" {
		return vaulterr.Errorf(vaulterr.KindStorage, op, "step has no thread")
	}
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.CreatedAt == nil {
		st.CreatedAt = model.Ref(timestamp(s.now()))
	}
	if st.Type == "" {
		st.Type = model.StepUndefined
	}
	tags, err := encodeTags(st.Tags)
	if err != nil {
		return vaulterr.E(vaulterr.KindSerialization, op, err)
	}

	conn, err := s.conn(ctx, op)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx,
		`INSERT INTO steps ("id", "name", "type", "threadId", "parentId", "command",
		    "streaming", "waitForAnswer", "isError", "metadata", "tags",
		    "input", "output", "createdAt", "start", "end", "generation",
		    "showInput", "language", "indent")
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.Name, string(st.Type), st.ThreadID, ptrValue(st.ParentID), ptrValue(st.Command),
		st.Streaming, ptrValue(st.WaitForAnswer), ptrValue(st.IsError), encodeJSON(st.Metadata), tags,
		ptrValue(st.Input), ptrValue(st.Output), ptrValue(st.CreatedAt), ptrValue(st.Start), ptrValue(st.End),
		encodeJSON(st.Generation), ptrValue(st.ShowInput), ptrValue(st.Language), ptrValue(st.Indent))
	if err != nil {
		return vaulterr.E(vaulterr.KindStorage, op, err)
	}
	return nil
}

func requireAffected(res sql.Result, op, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return vaulterr.E(vaulterr.KindStorage, op, err)
	}
	if n == 0 {
		return vaulterr.E(vaulterr.KindNotFound, op, fmt.Errorf("no %s %q", what, id))
	}
	return nil
}
