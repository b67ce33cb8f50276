/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package document

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/collabd/collabd/core"
	"github.com/collabd/collabd/crdt"
)

// Manager wraps one workspace's replicated document store with higher-level
// operations and a per-user logical clock. Every mutating call increments the
// caller's clock and performs the mutation plus its operation-log append inside a
// single store transaction. Nothing in this path blocks or takes a lock across I/O.
//
// Operating on a non-existent element for update or delete is a no-op with a logged
// warning, not an error, so duplicate or out-of-order delivery stays idempotent.
type Manager struct {
	workspaceID string
	store       *crdt.Store

	mutex         sync.Mutex
	clock         versionVector
	presence      map[string]Presence
	lastTimestamp int64

	now func() int64
}

// NewManager creates a document manager for the given workspace.
func NewManager(workspaceID string) *Manager {
	return &Manager{
		workspaceID: workspaceID,
		store:       crdt.NewStore(),
		clock:       make(versionVector),
		presence:    make(map[string]Presence),
		now:         func() int64 { return time.Now().UnixMilli() },
	}
}

func (m *Manager) String() string {
	return "DocMgr-" + m.workspaceID
}

// Store exposes the underlying replicated store, primarily for change observers.
func (m *Manager) Store() *crdt.Store {
	return m.store
}

// tick advances the user's logical clock and returns (timestamp, version). Issued
// timestamps are strictly monotonic within one manager so that sequential local
// writes in the same millisecond still supersede each other under last-write-wins.
func (m *Manager) tick(userID string) (int64, uint64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	timestamp := m.now()
	if timestamp <= m.lastTimestamp {
		timestamp = m.lastTimestamp + 1
	}
	m.lastTimestamp = timestamp
	return timestamp, m.clock.tick(userID)
}

// CreateElement adds a new element and returns its generated ID.
func (m *Manager) CreateElement(data map[string]interface{}, userID string) string {
	timestamp, version := m.tick(userID)
	id := uuid.NewString()
	m.store.Transact(func(tx *crdt.Txn) {
		tx.PutElement(crdt.Element{
			ID:        id,
			Data:      data,
			CreatedBy: userID,
			CreatedAt: timestamp,
			UpdatedBy: userID,
			UpdatedAt: timestamp,
			Version:   version,
		})
		tx.AppendOp(crdt.Operation{
			Type:      crdt.OpCreateElement,
			ElementID: id,
			Changes:   data,
			UserID:    userID,
			Timestamp: timestamp,
			Version:   version,
		})
	})
	m.maybeCompact()
	return id
}

// UpdateElement merges changes into an existing element's data.
func (m *Manager) UpdateElement(elementID string, changes map[string]interface{}, userID string) {
	timestamp, version := m.tick(userID)
	found := false
	m.store.Transact(func(tx *crdt.Txn) {
		existing, ok := tx.GetElement(elementID)
		if !ok {
			return
		}
		found = true
		updated := existing.Clone()
		if updated.Data == nil {
			updated.Data = make(map[string]interface{}, len(changes))
		}
		for key, value := range changes {
			updated.Data[key] = value
		}
		updated.UpdatedBy = userID
		updated.UpdatedAt = timestamp
		updated.Version = version
		tx.PutElement(updated)
		tx.AppendOp(crdt.Operation{
			Type:      crdt.OpUpdateElement,
			ElementID: elementID,
			Changes:   changes,
			UserID:    userID,
			Timestamp: timestamp,
			Version:   version,
		})
	})
	if !found {
		core.LogWarn(m, "Update for unknown element ", elementID, " - ignoring")
		return
	}
	m.maybeCompact()
}

// DeleteElement removes an element, leaving a tombstone for conflict resolution.
func (m *Manager) DeleteElement(elementID string, userID string) {
	timestamp, version := m.tick(userID)
	found := false
	m.store.Transact(func(tx *crdt.Txn) {
		if _, ok := tx.GetElement(elementID); !ok {
			return
		}
		found = true
		tx.DeleteElement(elementID, userID, timestamp, version)
		tx.AppendOp(crdt.Operation{
			Type:      crdt.OpDeleteElement,
			ElementID: elementID,
			UserID:    userID,
			Timestamp: timestamp,
			Version:   version,
		})
	})
	if !found {
		core.LogWarn(m, "Delete for unknown element ", elementID, " - ignoring")
		return
	}
	m.maybeCompact()
}

// BatchUpdate merges a full set of elements, as received from a peer, in one
// transaction. Elements carry their authors' own clocks, which the store resolves
// under last-write-wins; elements missing write metadata are stamped with the
// sender's clock.
func (m *Manager) BatchUpdate(elements []crdt.Element, userID string) {
	timestamp, version := m.tick(userID)
	m.mutex.Lock()
	for i := range elements {
		if elements[i].Version > 0 && elements[i].UpdatedBy != "" {
			m.clock.observe(elements[i].UpdatedBy, elements[i].Version)
		}
	}
	m.mutex.Unlock()

	m.store.Transact(func(tx *crdt.Txn) {
		for i := range elements {
			element := elements[i]
			if element.ID == "" {
				element.ID = uuid.NewString()
			}
			if element.UpdatedAt == 0 {
				element.UpdatedBy = userID
				element.UpdatedAt = timestamp
				element.Version = version
			}
			if element.CreatedAt == 0 {
				element.CreatedBy = element.UpdatedBy
				element.CreatedAt = element.UpdatedAt
			}
			tx.PutElement(element)
		}
		tx.AppendOp(crdt.Operation{
			Type:      crdt.OpBatchUpdate,
			UserID:    userID,
			Timestamp: timestamp,
			Version:   version,
		})
	})
	m.maybeCompact()
}

// UpdateAppState merges view-state changes field by field.
func (m *Manager) UpdateAppState(changes map[string]interface{}, userID string) {
	if len(changes) == 0 {
		return
	}
	timestamp, version := m.tick(userID)
	m.store.Transact(func(tx *crdt.Txn) {
		for key, value := range changes {
			tx.SetAppState(key, value, userID, timestamp)
		}
		tx.AppendOp(crdt.Operation{
			Type:      crdt.OpUpdateAppState,
			Changes:   changes,
			UserID:    userID,
			Timestamp: timestamp,
			Version:   version,
		})
	})
	m.maybeCompact()
}

// UpdatePresence records a user's ephemeral presence, overwriting any prior record.
func (m *Manager) UpdatePresence(userID string, presence Presence) {
	if presence.Color == "" {
		presence.Color = ColorForUser(userID)
	}
	if presence.Timestamp == 0 {
		presence.Timestamp = m.now()
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.presence[userID] = presence
}

// RemovePresence drops a user's presence record.
func (m *Manager) RemovePresence(userID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.presence, userID)
}

// GetElements returns all live elements.
func (m *Manager) GetElements() []crdt.Element {
	return m.store.Elements()
}

// GetAppState returns the current view-state values.
func (m *Manager) GetAppState() map[string]interface{} {
	return m.store.AppState()
}

// GetPresence returns a copy of the presence table.
func (m *Manager) GetPresence() map[string]Presence {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	presence := make(map[string]Presence, len(m.presence))
	for userID, record := range m.presence {
		presence[userID] = record
	}
	return presence
}

// GetOperations returns the operation history.
func (m *Manager) GetOperations() []crdt.Operation {
	return m.store.Operations()
}

// VersionVector returns the highest logical clock value seen per user.
func (m *Manager) VersionVector() map[string]uint64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.clock.snapshot()
}

// ExportDocument captures the workspace document as a portable snapshot.
func (m *Manager) ExportDocument() *crdt.Snapshot {
	return m.store.Export()
}

// ImportDocument replaces the document state with a prior snapshot.
func (m *Manager) ImportDocument(snapshot *crdt.Snapshot) {
	m.store.Import(snapshot)
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for i := range snapshot.Operations {
		op := &snapshot.Operations[i]
		m.clock.observe(op.UserID, op.Version)
	}
}

// UndoLastOperation reverses the user's most recent operation, best-effort. Reversing
// a CREATE_ELEMENT deletes the created element and returns true. UPDATE_ELEMENT and
// DELETE_ELEMENT are not reconstructed: an UNDO marker is appended, a warning is
// logged, and false is returned. This limitation is part of the public contract.
func (m *Manager) UndoLastOperation(userID string) bool {
	ops := m.store.Operations()
	var last *crdt.Operation
	for i := len(ops) - 1; i >= 0; i-- {
		if ops[i].UserID == userID && ops[i].Type != crdt.OpUndo {
			last = &ops[i]
			break
		}
	}
	if last == nil {
		return false
	}

	timestamp, version := m.tick(userID)
	switch last.Type {
	case crdt.OpCreateElement:
		m.store.Transact(func(tx *crdt.Txn) {
			tx.DeleteElement(last.ElementID, userID, timestamp, version)
			tx.AppendOp(crdt.Operation{
				Type:      crdt.OpUndo,
				ElementID: last.ElementID,
				UserID:    userID,
				Timestamp: timestamp,
				Version:   version,
			})
		})
		return true
	default:
		core.LogWarn(m, "Undo of ", string(last.Type), " is not supported - logging marker only")
		m.store.Transact(func(tx *crdt.Txn) {
			tx.AppendOp(crdt.Operation{
				Type:      crdt.OpUndo,
				ElementID: last.ElementID,
				UserID:    userID,
				Timestamp: timestamp,
				Version:   version,
			})
		})
		return false
	}
}

func (m *Manager) maybeCompact() {
	if opLogLimit <= 0 {
		return
	}
	if discarded := m.store.CompactOps(opLogLimit); discarded > 0 {
		core.LogDebug(m, "Compacted operation log - discarded ", discarded, " entries")
	}
}
