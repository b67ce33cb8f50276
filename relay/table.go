/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/collabd/collabd/core"
	"github.com/collabd/collabd/document"
	"github.com/collabd/collabd/notify"
	"github.com/collabd/collabd/storage"
	"github.com/collabd/collabd/utils/comparison"
)

// RoomTable holds all live workspace rooms. Rooms are materialized lazily on first
// join, seeded from the snapshot store when a snapshot exists, and evicted once
// empty for longer than the configured grace period, so the table does not grow
// without bound over the daemon's lifetime.
type RoomTable struct {
	mutex sync.Mutex
	rooms map[string]*Room

	store         storage.Store
	bridge        notify.Bridge
	policyFactory func() UpdatePolicy

	quit    chan struct{}
	HasQuit chan struct{}
}

// NewRoomTable creates a room table backed by the given snapshot store.
func NewRoomTable(store storage.Store, bridge notify.Bridge, policyFactory func() UpdatePolicy) *RoomTable {
	return &RoomTable{
		rooms:         make(map[string]*Room),
		store:         store,
		bridge:        bridge,
		policyFactory: policyFactory,
		quit:          make(chan struct{}),
		HasQuit:       make(chan struct{}),
	}
}

func (t *RoomTable) String() string {
	return "RoomTable"
}

// GetOrCreate returns the room for the workspace, materializing it if needed.
func (t *RoomTable) GetOrCreate(workspaceID string) *Room {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if room, ok := t.rooms[workspaceID]; ok {
		return room
	}

	manager := document.NewManager(workspaceID)
	if t.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		snapshot, err := t.store.Get(ctx, workspaceID)
		cancel()
		switch {
		case err == nil:
			manager.ImportDocument(snapshot)
			core.LogInfo(t, "Restored workspace ", workspaceID, " from snapshot")
		case errors.Is(err, storage.ErrNotFound):
			// First activity for this workspace.
		default:
			core.LogError(t, "Unable to load snapshot for ", workspaceID, ": ", err)
		}
	}

	room := newRoom(workspaceID, manager, t.policyFactory(), t.store, t.bridge)
	t.rooms[workspaceID] = room
	go room.Run()
	core.LogInfo(t, "Materialized room for workspace ", workspaceID)
	return room
}

// Get returns the room for the workspace, if materialized.
func (t *RoomTable) Get(workspaceID string) *Room {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.rooms[workspaceID]
}

// Count returns the number of live rooms.
func (t *RoomTable) Count() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return len(t.rooms)
}

// DeliverRemote routes a bridged frame from another instance into the matching
// room, if this instance currently serves it.
func (t *RoomTable) DeliverRemote(workspaceID string, frame []byte) {
	if room := t.Get(workspaceID); room != nil {
		room.enqueue(roomEvent{kind: evRemoteFrame, remoteFrame: frame})
	}
}

// RunJanitor evicts rooms that have been empty beyond the grace period. Runs until
// TellToQuit.
func (t *RoomTable) RunJanitor() {
	// Sweep at a quarter of the grace period, floored so a zero grace period
	// cannot feed the ticker a non-positive interval.
	sweep := time.NewTicker(comparison.Max(roomGracePeriod/4, 10*time.Millisecond))
	defer sweep.Stop()

	for {
		select {
		case <-sweep.C:
			t.evictIdle()
		case <-t.quit:
			close(t.HasQuit)
			return
		}
	}
}

// TellToQuit stops the janitor.
func (t *RoomTable) TellToQuit() {
	close(t.quit)
}

// Shutdown stops every room and waits for each to quit.
func (t *RoomTable) Shutdown() {
	t.mutex.Lock()
	rooms := make([]*Room, 0, len(t.rooms))
	for _, room := range t.rooms {
		rooms = append(rooms, room)
	}
	t.rooms = make(map[string]*Room)
	t.mutex.Unlock()

	for _, room := range rooms {
		room.TellToQuit()
	}
	for _, room := range rooms {
		<-room.HasQuit
	}
}

func (t *RoomTable) evictIdle() {
	now := time.Now()
	evict := make([]*Room, 0)

	t.mutex.Lock()
	for workspaceID, room := range t.rooms {
		if idleSince, idle := room.IdleSince(); idle && now.Sub(idleSince) >= roomGracePeriod {
			delete(t.rooms, workspaceID)
			evict = append(evict, room)
		}
	}
	t.mutex.Unlock()

	for _, room := range evict {
		core.LogInfo(t, "Evicting idle room for workspace ", room.WorkspaceID())
		room.TellToQuit()
		<-room.HasQuit
	}
}
