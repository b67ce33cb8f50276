/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

// Package storage persists workspace document snapshots keyed by workspace ID.
// Persistence is best-effort from the relay's point of view: a failed write is
// logged and never blocks real-time delivery.
package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/collabd/collabd/crdt"
)

// ErrNotFound indicates no snapshot has been stored for the workspace.
var ErrNotFound = errors.New("no snapshot for workspace")

// Store is a document snapshot store keyed by workspace ID.
type Store interface {
	Get(ctx context.Context, workspaceID string) (*crdt.Snapshot, error)
	Update(ctx context.Context, workspaceID string, snapshot *crdt.Snapshot) error
	Close() error
}

// MemoryStore is an in-process snapshot store, used by tests and as the default
// backend when no durable store is configured.
type MemoryStore struct {
	mutex     sync.RWMutex
	snapshots map[string][]byte
}

// NewMemoryStore creates an empty in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string][]byte)}
}

// Get returns the stored snapshot for the workspace, or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, workspaceID string) (*crdt.Snapshot, error) {
	s.mutex.RLock()
	data, ok := s.snapshots[workspaceID]
	s.mutex.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return crdt.DecodeSnapshot(data)
}

// Update stores the snapshot for the workspace, replacing any prior one.
func (s *MemoryStore) Update(_ context.Context, workspaceID string, snapshot *crdt.Snapshot) error {
	data, err := snapshot.Encode()
	if err != nil {
		return err
	}
	s.mutex.Lock()
	s.snapshots[workspaceID] = data
	s.mutex.Unlock()
	return nil
}

// Close releases the store.
func (s *MemoryStore) Close() error {
	return nil
}
