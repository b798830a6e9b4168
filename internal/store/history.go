// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"

	"github.com/jeranaias/chatvault/internal/model"
	"github.com/jeranaias/chatvault/internal/vaulterr"
)

// historyQuery joins every thread of a user with its steps. Threads drive the
// join so step-less threads still appear. rowid breaks timestamp ties so the
// order is stable.
const historyQuery = `
SELECT ` + threadColumns + `,
    ` + stepColumns + `
FROM threads t
LEFT JOIN steps s ON s."threadId" = t."id"
WHERE t."userId" = ?
ORDER BY t."createdAt", t.rowid, s."createdAt", s.rowid`

// ReadHistory returns all threads owned by userID with their steps nested in
// creation order. A user without threads gets an empty, non-nil slice.
//
// Decoding failures of stored tags or JSON columns are serialization errors;
// everything else is a storage error.
func (s *Store) ReadHistory(ctx context.Context, userID string) ([]model.Thread, error) {
	const op = "store.ReadHistory"

	conn, err := s.conn(ctx, op)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, historyQuery, userID)
	if err != nil {
		return nil, vaulterr.E(vaulterr.KindStorage, op, err)
	}
	defer rows.Close()

	threads := []model.Thread{}
	index := make(map[string]int)

	for rows.Next() {
		var tr threadRow
		var sr stepRow
		if err := rows.Scan(append(tr.dest(), sr.dest()...)...); err != nil {
			return nil, vaulterr.E(vaulterr.KindStorage, op, err)
		}

		i, seen := index[tr.ID]
		if !seen {
			thread, err := tr.thread()
			if err != nil {
				return nil, vaulterr.E(vaulterr.KindSerialization, op, err)
			}
			i = len(threads)
			index[tr.ID] = i
			threads = append(threads, thread)
		}

		if !sr.ID.Valid {
			continue
		}
		step, err := sr.step()
		if err != nil {
			return nil, vaulterr.E(vaulterr.KindSerialization, op, err)
		}
		threads[i].Steps = append(threads[i].Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, vaulterr.E(vaulterr.KindStorage, op, err)
	}

	return threads, nil
}
