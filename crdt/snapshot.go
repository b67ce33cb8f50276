/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package crdt

import "encoding/json"

// SnapshotSchemaVersion is the current snapshot serialization version.
const SnapshotSchemaVersion = 1

// Snapshot is a full, self-contained serialization of a store's replicated state,
// including element tombstones so a cold-started replica resolves late-arriving
// conflicts the same way a live one would.
type Snapshot struct {
	SchemaVersion int                    `json:"schemaVersion"`
	Elements      []Element              `json:"elements"`
	AppState      map[string]*StateEntry `json:"appState"`
	Operations    []Operation            `json:"operations"`
}

// Encode serializes the snapshot for persistence.
func (s *Snapshot) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSnapshot deserializes a persisted snapshot.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	snapshot := new(Snapshot)
	if err := json.Unmarshal(data, snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Export captures the full state of the store, tombstones included.
func (s *Store) Export() *Snapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	snapshot := &Snapshot{
		SchemaVersion: SnapshotSchemaVersion,
		Elements:      make([]Element, 0, len(s.elements)),
		AppState:      make(map[string]*StateEntry, len(s.appState)),
		Operations:    make([]Operation, len(s.ops)),
	}
	for _, element := range s.elements {
		snapshot.Elements = append(snapshot.Elements, element.Clone())
	}
	for key, entry := range s.appState {
		clone := *entry
		snapshot.AppState[key] = &clone
	}
	copy(snapshot.Operations, s.ops)
	return snapshot
}

// Import replaces all local state with the given snapshot within one transaction.
func (s *Store) Import(snapshot *Snapshot) {
	s.Transact(func(tx *Txn) {
		s.elements = make(map[string]*Element, len(snapshot.Elements))
		s.appState = make(map[string]*StateEntry, len(snapshot.AppState))
		s.ops = make([]Operation, len(snapshot.Operations))
		for i := range snapshot.Elements {
			clone := snapshot.Elements[i].Clone()
			s.elements[clone.ID] = &clone
		}
		for key, entry := range snapshot.AppState {
			clone := *entry
			s.appState[key] = &clone
		}
		copy(s.ops, snapshot.Operations)
		tx.affected[CollectionElements] = true
		tx.affected[CollectionAppState] = true
		tx.affected[CollectionOperations] = true
	})
}
