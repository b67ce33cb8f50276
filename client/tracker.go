/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package client

import (
	"sync"

	"github.com/collabd/collabd/document"
	"github.com/collabd/collabd/wire"
)

// Collaborator is one remote participant as seen by this client.
type Collaborator struct {
	UserID   string
	Presence document.Presence
	Cursor   *wire.CursorUpdate
}

// Tracker maintains the set of remote collaborators, keyed by connection so two
// tabs of the same user show up as two participants.
type Tracker struct {
	mutex         sync.Mutex
	collaborators map[uint64]*Collaborator
}

func NewTracker() *Tracker {
	return &Tracker{collaborators: make(map[uint64]*Collaborator)}
}

func (t *Tracker) ObservePointer(update *wire.PointerUpdated) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	entry := t.collaborators[update.ConnID]
	if entry == nil {
		entry = &Collaborator{UserID: update.UserID}
		t.collaborators[update.ConnID] = entry
	}
	entry.Presence = document.Presence{
		Pointer:   update.Pointer,
		Button:    update.Button,
		Username:  update.Username,
		Color:     update.Color,
		Timestamp: update.Timestamp,
	}
}

func (t *Tracker) ObserveCursor(update *wire.CursorUpdated) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	entry := t.collaborators[update.ConnID]
	if entry == nil {
		entry = &Collaborator{UserID: update.UserID}
		t.collaborators[update.ConnID] = entry
	}
	entry.Cursor = &update.CursorUpdate
}

// ObserveLeave drops the collaborator behind the departed connection.
func (t *Tracker) ObserveLeave(connID uint64) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	delete(t.collaborators, connID)
}

// Collaborators returns a snapshot of the current participants.
func (t *Tracker) Collaborators() map[uint64]Collaborator {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	out := make(map[uint64]Collaborator, len(t.collaborators))
	for id, entry := range t.collaborators {
		out[id] = *entry
	}
	return out
}

// Reset clears all participants, used when the connection drops.
func (t *Tracker) Reset() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.collaborators = make(map[uint64]*Collaborator)
}
