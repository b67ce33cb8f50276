/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/collabd/collabd/crdt"
)

// SQLiteStore persists snapshots in a SQLite database. Every update inserts a new
// snapshot row and repoints the workspace row at it, so the previous snapshot
// survives a torn write.
type SQLiteStore struct {
	database *sql.DB
}

// NewSQLiteStore opens (and initializes if needed) a SQLite snapshot store at the
// given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	database, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	store := &SQLiteStore{database: database}
	if err := store.init(); err != nil {
		database.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	if _, err := s.database.Exec(
		`CREATE TABLE IF NOT EXISTS workspaces (
		id text not null primary key,
		snapshot_id text
		)`,
	); err != nil {
		return err
	}
	if _, err := s.database.Exec(
		`CREATE TABLE IF NOT EXISTS snapshots (
		id text not null primary key,
		workspace_id text not null,
		content text not null
		)`,
	); err != nil {
		return err
	}
	return nil
}

// Get returns the current snapshot for the workspace, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, workspaceID string) (*crdt.Snapshot, error) {
	var rawContent string
	if err := s.database.QueryRowContext(
		ctx,
		`SELECT content FROM snapshots sn INNER JOIN workspaces w ON sn.id = w.snapshot_id WHERE w.id = ?`,
		workspaceID,
	).Scan(&rawContent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(rawContent)
	if err != nil {
		return nil, err
	}
	return crdt.DecodeSnapshot(data)
}

// Update persists a snapshot and repoints the workspace at it in one transaction.
func (s *SQLiteStore) Update(ctx context.Context, workspaceID string, snapshot *crdt.Snapshot) error {
	data, err := snapshot.Encode()
	if err != nil {
		return err
	}
	content := base64.StdEncoding.EncodeToString(data)

	tx, err := s.database.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	snapshotID := fmt.Sprintf("%s-%d", workspaceID, time.Now().UnixNano())
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots(id, workspace_id, content) VALUES (?, ?, ?)`,
		snapshotID, workspaceID, content,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO workspaces(id, snapshot_id) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET snapshot_id = excluded.snapshot_id`,
		workspaceID, snapshotID,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM snapshots WHERE workspace_id = ? AND id != ?`,
		workspaceID, snapshotID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.database.Close()
}
