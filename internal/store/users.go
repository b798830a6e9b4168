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

// UserByIdentifier resolves a login identifier to its user. An unknown
// identifier is a NotFound error.
func (s *Store) UserByIdentifier(ctx context.Context, identifier string) (*model.User, error) {
	const op = "store.UserByIdentifier"

	conn, err := s.conn(ctx, op)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return userByIdentifier(ctx, conn, op, identifier)
}

// EnsureUser returns the user with identifier, creating it if missing.
func (s *Store) EnsureUser(ctx context.Context, identifier string, metadata model.RawJSON) (*model.User, error) {
	const op = "store.EnsureUser"
	if identifier == "" {
		return nil, vaulterr.Errorf(vaulterr.KindStorage, op, "identifier is empty")
	}

	conn, err := s.conn(ctx, op)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	createdAt := timestamp(s.now())
	_, err = conn.ExecContext(ctx,
		`INSERT INTO users ("id", "identifier", "metadata", "createdAt")
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT("identifier") DO NOTHING`,
		uuid.NewString(), identifier, encodeJSON(metadata), createdAt)
	if err != nil {
		return nil, vaulterr.E(vaulterr.KindStorage, op, err)
	}

	return userByIdentifier(ctx, conn, op, identifier)
}

func userByIdentifier(ctx context.Context, conn *sql.Conn, op, identifier string) (*model.User, error) {
	var (
		id        string
		metadata  sql.NullString
		createdAt sql.NullString
	)
	err := conn.QueryRowContext(ctx,
		`SELECT "id", "metadata", "createdAt" FROM users WHERE "identifier" = ?`,
		identifier).Scan(&id, &metadata, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, vaulterr.E(vaulterr.KindNotFound, op, fmt.Errorf("no user %q", identifier))
	}
	if err != nil {
		return nil, vaulterr.E(vaulterr.KindStorage, op, err)
	}

	meta, err := decodeJSON(metadata)
	if err != nil {
		return nil, vaulterr.E(vaulterr.KindSerialization, op, err)
	}
	return &model.User{
		ID:         id,
		Identifier: identifier,
		Metadata:   meta,
		CreatedAt:  nullString(createdAt),
	}, nil
}
