/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/collabd/collabd/document"
	"github.com/collabd/collabd/storage"
)

func lockFreeFactory() UpdatePolicy { return lockFreePolicy{} }

func TestRoomTableMaterializesLazily(t *testing.T) {
	table := NewRoomTable(storage.NewMemoryStore(), nil, lockFreeFactory)
	defer table.Shutdown()

	assert.Nil(t, table.Get("ws1"))
	assert.Equal(t, 0, table.Count())

	room := table.GetOrCreate("ws1")
	assert.NotNil(t, room)
	assert.Equal(t, 1, table.Count())
	assert.Same(t, room, table.GetOrCreate("ws1"))
	assert.Same(t, room, table.Get("ws1"))
}

func TestRoomTableSeedsFromSnapshot(t *testing.T) {
	store := storage.NewMemoryStore()
	seed := document.NewManager("ws1")
	seed.CreateElement(map[string]interface{}{"shape": "rect"}, "alice")
	assert.NoError(t, store.Update(context.Background(), "ws1", seed.ExportDocument()))

	table := NewRoomTable(store, nil, lockFreeFactory)
	defer table.Shutdown()

	room := table.GetOrCreate("ws1")
	assert.Len(t, room.Manager().GetElements(), 1)

	// Unknown workspaces start empty.
	fresh := table.GetOrCreate("ws2")
	assert.Empty(t, fresh.Manager().GetElements())
}

func TestRoomTableEvictsIdleRooms(t *testing.T) {
	previous := roomGracePeriod
	roomGracePeriod = 100 * time.Millisecond
	t.Cleanup(func() { roomGracePeriod = previous })

	table := NewRoomTable(nil, nil, lockFreeFactory)
	defer table.Shutdown()

	room := table.GetOrCreate("ws1")
	p1 := newFakePeer(1, "alice")
	room.enqueue(roomEvent{kind: evJoin, peer: p1, userID: "alice"})
	expectFrame(t, p1, "workspace-state")

	// Occupied rooms are never evicted, regardless of age.
	time.Sleep(120 * time.Millisecond)
	table.evictIdle()
	assert.Equal(t, 1, table.Count())

	room.enqueue(roomEvent{kind: evLeave, peer: p1})
	assert.Eventually(t, func() bool {
		_, idle := room.IdleSince()
		return idle
	}, time.Second, 5*time.Millisecond)

	// Within the grace period the room lingers for fast rejoins.
	table.evictIdle()
	assert.Equal(t, 1, table.Count())

	time.Sleep(120 * time.Millisecond)
	table.evictIdle()
	assert.Equal(t, 0, table.Count())
	select {
	case <-room.HasQuit:
	case <-time.After(time.Second):
		t.Fatal("evicted room did not quit")
	}
}

func TestJanitorToleratesZeroGracePeriod(t *testing.T) {
	previous := roomGracePeriod
	roomGracePeriod = 0
	t.Cleanup(func() { roomGracePeriod = previous })

	// A zero grace period must clamp the sweep interval, not panic the ticker.
	table := NewRoomTable(nil, nil, lockFreeFactory)
	go table.RunJanitor()
	time.Sleep(30 * time.Millisecond)

	table.TellToQuit()
	select {
	case <-table.HasQuit:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
