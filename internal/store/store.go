// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides SQLite persistence for chat users, threads and
// steps, and the history read used by exports.
//
// A Store is constructed explicitly with Open and passed to whoever needs it.
// Every query takes its own connection from the pool and releases it before
// returning, on success and on error.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/jeranaias/chatvault/internal/model"
	"github.com/jeranaias/chatvault/internal/vaulterr"
)

// =============================================================================
// STORE
// =============================================================================

// Store is a handle on a chat history database. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string

	// now supplies timestamps for new rows.
	now func() time.Time
}

// Open opens (creating if needed) the SQLite database at path. Use ":memory:"
// for a private in-memory database. Open does not create tables; call
// InitSchema for a new database.
func Open(ctx context.Context, path string) (*Store, error) {
	const op = "store.Open"

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, vaulterr.E(vaulterr.KindStorage, op, fmt.Errorf("failed to create database directory: %w", err))
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, vaulterr.E(vaulterr.KindStorage, op, fmt.Errorf("failed to open database: %w", err))
	}

	// SQLite only supports one writer at a time, so limit connections.
	// A single connection also keeps ":memory:" databases alive and shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, vaulterr.E(vaulterr.KindStorage, op, fmt.Errorf("failed to set pragma: %w", err))
		}
	}

	return &Store{
		db:   db,
		path: path,
		now:  time.Now,
	}, nil
}

// InitSchema creates any missing tables. It is idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	conn, err := s.conn(ctx, "store.InitSchema")
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, Schema); err != nil {
		return vaulterr.E(vaulterr.KindStorage, "store.InitSchema", err)
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version=%d", SchemaVersion)); err != nil {
		return vaulterr.E(vaulterr.KindStorage, "store.InitSchema", err)
	}
	return nil
}

// Path returns the database path given to Open.
func (s *Store) Path() string {
	return s.path
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return vaulterr.E(vaulterr.KindStorage, "store.Ping", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// conn takes a dedicated connection from the pool. The caller must Close it.
func (s *Store) conn(ctx context.Context, op string) (*sql.Conn, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, vaulterr.E(vaulterr.KindStorage, op, err)
	}
	return conn, nil
}

func timestamp(t time.Time) string {
	return model.Timestamp(t)
}
