/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package relay

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/collabd/collabd/crdt"
	"github.com/collabd/collabd/document"
	"github.com/collabd/collabd/storage"
	"github.com/collabd/collabd/wire"
)

type fakePeer struct {
	id     uint64
	userID string
	frames chan []byte
}

func newFakePeer(id uint64, userID string) *fakePeer {
	return &fakePeer{id: id, userID: userID, frames: make(chan []byte, 64)}
}

func (p *fakePeer) String() string { return "FakePeer-" + strconv.FormatUint(p.id, 10) }
func (p *fakePeer) ID() uint64     { return p.id }
func (p *fakePeer) UserID() string { return p.userID }
func (p *fakePeer) Send(frame []byte) bool {
	p.frames <- frame
	return true
}

// expectFrame waits for the peer's next frame and asserts its message type.
func expectFrame(t *testing.T, peer *fakePeer, msgType string) *wire.Envelope {
	t.Helper()
	select {
	case frame := <-peer.frames:
		envelope, err := wire.Decode(frame)
		assert.NoError(t, err)
		assert.Equal(t, msgType, envelope.Type)
		return envelope
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for " + msgType)
		return nil
	}
}

func expectNoFrame(t *testing.T, peer *fakePeer) {
	t.Helper()
	select {
	case frame := <-peer.frames:
		envelope, _ := wire.Decode(frame)
		t.Fatal("unexpected frame " + envelope.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func startRoom(t *testing.T, policy UpdatePolicy, store storage.Store) *Room {
	t.Helper()
	room := newRoom("ws1", document.NewManager("ws1"), policy, store, nil)
	go room.Run()
	t.Cleanup(func() {
		room.TellToQuit()
		<-room.HasQuit
	})
	return room
}

func TestRoomJoinSendsStateToJoinerOnly(t *testing.T) {
	room := startRoom(t, lockFreePolicy{}, nil)
	room.Manager().CreateElement(map[string]interface{}{"shape": "rect"}, "alice")

	p1 := newFakePeer(1, "alice")
	room.enqueue(roomEvent{kind: evJoin, peer: p1, userID: "alice"})

	envelope := expectFrame(t, p1, wire.MsgWorkspaceState)
	var state wire.WorkspaceState
	assert.NoError(t, envelope.DecodePayload(&state))
	assert.Equal(t, "ws1", state.WorkspaceID)
	assert.Len(t, state.Elements, 1)
	assert.Equal(t, wire.SchemaVersion, state.SchemaVersion)

	p2 := newFakePeer(2, "bob")
	room.enqueue(roomEvent{kind: evJoin, peer: p2, userID: "bob"})

	expectFrame(t, p2, wire.MsgWorkspaceState)
	envelope = expectFrame(t, p1, wire.MsgUserJoined)
	var joined wire.UserJoined
	assert.NoError(t, envelope.DecodePayload(&joined))
	assert.Equal(t, "bob", joined.UserID)
	assert.Equal(t, uint64(2), joined.ConnID)
	expectNoFrame(t, p2)
}

func TestRoomUpdateBroadcastExcludesSender(t *testing.T) {
	room := startRoom(t, lockFreePolicy{}, nil)
	p1 := newFakePeer(1, "alice")
	p2 := newFakePeer(2, "bob")
	room.enqueue(roomEvent{kind: evJoin, peer: p1, userID: "alice"})
	room.enqueue(roomEvent{kind: evJoin, peer: p2, userID: "bob"})
	expectFrame(t, p1, wire.MsgWorkspaceState)
	expectFrame(t, p2, wire.MsgWorkspaceState)
	expectFrame(t, p1, wire.MsgUserJoined)

	room.enqueue(roomEvent{kind: evUpdate, peer: p1, update: &wire.WorkspaceUpdate{
		WorkspaceID: "ws1",
		Elements: []crdt.Element{{
			ID: "el1", Data: map[string]interface{}{"shape": "rect"},
			CreatedBy: "alice", CreatedAt: 100, UpdatedBy: "alice", UpdatedAt: 100, Version: 1,
		}},
		AppState: map[string]interface{}{"zoom": 1.5},
		UserID:   "alice",
	}})

	// The sender gets a confirmation, everyone else gets the update tagged with
	// the sender's connection.
	envelope := expectFrame(t, p2, wire.MsgWorkspaceUpdated)
	var updated wire.WorkspaceUpdated
	assert.NoError(t, envelope.DecodePayload(&updated))
	assert.Equal(t, uint64(1), updated.ConnID)
	assert.Equal(t, "alice", updated.UserID)
	assert.Len(t, updated.Elements, 1)

	expectFrame(t, p1, wire.MsgUpdateConfirmed)
	expectNoFrame(t, p1)

	// The update also folded into the room's own document.
	elements := room.Manager().GetElements()
	assert.Len(t, elements, 1)
	assert.Equal(t, 1.5, room.Manager().GetAppState()["zoom"])
}

func TestRoomUpdatePersists(t *testing.T) {
	store := storage.NewMemoryStore()
	room := startRoom(t, lockFreePolicy{}, store)
	p1 := newFakePeer(1, "alice")
	room.enqueue(roomEvent{kind: evJoin, peer: p1, userID: "alice"})
	expectFrame(t, p1, wire.MsgWorkspaceState)

	room.enqueue(roomEvent{kind: evUpdate, peer: p1, update: &wire.WorkspaceUpdate{
		WorkspaceID: "ws1",
		Elements: []crdt.Element{{
			ID: "el1", Data: map[string]interface{}{"shape": "rect"},
			UpdatedBy: "alice", UpdatedAt: 100, Version: 1,
		}},
		UserID: "alice",
	}})
	expectFrame(t, p1, wire.MsgUpdateConfirmed)

	// Persistence is asynchronous and never gates the confirmation.
	assert.Eventually(t, func() bool {
		snapshot, err := store.Get(context.Background(), "ws1")
		return err == nil && len(snapshot.Elements) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRoomLeaveCleansUp(t *testing.T) {
	room := startRoom(t, lockFreePolicy{}, nil)
	p1 := newFakePeer(1, "alice")
	p2 := newFakePeer(2, "bob")
	room.enqueue(roomEvent{kind: evJoin, peer: p1, userID: "alice"})
	room.enqueue(roomEvent{kind: evJoin, peer: p2, userID: "bob"})
	expectFrame(t, p1, wire.MsgWorkspaceState)
	expectFrame(t, p2, wire.MsgWorkspaceState)
	expectFrame(t, p1, wire.MsgUserJoined)

	room.enqueue(roomEvent{kind: evPointer, peer: p1, pointer: &wire.PointerUpdate{
		WorkspaceID: "ws1", UserID: "alice", Pointer: document.Pointer{X: 1, Y: 2},
	}})
	expectFrame(t, p2, wire.MsgPointerUpdated)

	_, idle := room.IdleSince()
	assert.False(t, idle)

	room.enqueue(roomEvent{kind: evLeave, peer: p1})
	envelope := expectFrame(t, p2, wire.MsgUserLeft)
	var left wire.UserLeft
	assert.NoError(t, envelope.DecodePayload(&left))
	assert.Equal(t, "alice", left.UserID)
	assert.Equal(t, uint64(1), left.ConnID)

	// Alice's presence leaves with her last connection.
	assert.Eventually(t, func() bool {
		_, ok := room.Manager().GetPresence()["alice"]
		return !ok
	}, time.Second, 10*time.Millisecond)

	room.enqueue(roomEvent{kind: evLeave, peer: p2})
	assert.Eventually(t, func() bool {
		_, idle := room.IdleSince()
		return idle
	}, time.Second, 10*time.Millisecond)
}

func TestRoomEditLockFlow(t *testing.T) {
	room := startRoom(t, newEditLockPolicy(30*time.Second), nil)
	p1 := newFakePeer(1, "alice")
	p2 := newFakePeer(2, "bob")
	room.enqueue(roomEvent{kind: evJoin, peer: p1, userID: "alice"})
	room.enqueue(roomEvent{kind: evJoin, peer: p2, userID: "bob"})
	expectFrame(t, p1, wire.MsgWorkspaceState)
	expectFrame(t, p2, wire.MsgWorkspaceState)
	expectFrame(t, p1, wire.MsgUserJoined)

	// Without the lock, updates bounce.
	room.enqueue(roomEvent{kind: evUpdate, peer: p1, update: &wire.WorkspaceUpdate{
		WorkspaceID: "ws1", Elements: []crdt.Element{}, UserID: "alice",
	}})
	envelope := expectFrame(t, p1, wire.MsgError)
	var remoteError wire.Error
	assert.NoError(t, envelope.DecodePayload(&remoteError))
	assert.Equal(t, wire.ErrCodeLockNotHeld, remoteError.Code)

	room.enqueue(roomEvent{kind: evLockRequest, peer: p1, userID: "alice"})
	expectFrame(t, p1, wire.MsgEditLockGranted)

	room.enqueue(roomEvent{kind: evLockRequest, peer: p2, userID: "bob"})
	envelope = expectFrame(t, p2, wire.MsgEditLockDenied)
	var denied wire.EditLockDenied
	assert.NoError(t, envelope.DecodePayload(&denied))
	assert.Equal(t, "alice", denied.CurrentEditor)

	// The holder can write.
	room.enqueue(roomEvent{kind: evUpdate, peer: p1, update: &wire.WorkspaceUpdate{
		WorkspaceID: "ws1", Elements: []crdt.Element{}, UserID: "alice",
	}})
	expectFrame(t, p2, wire.MsgWorkspaceUpdated)
	expectFrame(t, p1, wire.MsgUpdateConfirmed)

	room.enqueue(roomEvent{kind: evLockRelease, peer: p1})
	expectFrame(t, p1, wire.MsgEditLockReleased)
	expectFrame(t, p2, wire.MsgEditLockReleased)
}

func TestRoomUndo(t *testing.T) {
	room := startRoom(t, lockFreePolicy{}, nil)
	p1 := newFakePeer(1, "alice")
	room.enqueue(roomEvent{kind: evJoin, peer: p1, userID: "alice"})
	expectFrame(t, p1, wire.MsgWorkspaceState)

	// Nothing to undo yet.
	room.enqueue(roomEvent{kind: evUndo, peer: p1, userID: "alice"})
	envelope := expectFrame(t, p1, wire.MsgError)
	var remoteError wire.Error
	assert.NoError(t, envelope.DecodePayload(&remoteError))
	assert.Equal(t, wire.ErrCodeUndo, remoteError.Code)

	room.Manager().CreateElement(map[string]interface{}{"shape": "rect"}, "alice")
	room.enqueue(roomEvent{kind: evUndo, peer: p1, userID: "alice"})
	expectFrame(t, p1, wire.MsgUpdateConfirmed)
	assert.Empty(t, room.Manager().GetElements())
}

// gatedStore blocks every write until released, exposing the order in which
// snapshot writes commit.
type gatedStore struct {
	inner   *storage.MemoryStore
	began   chan struct{}
	release chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		inner:   storage.NewMemoryStore(),
		began:   make(chan struct{}, 16),
		release: make(chan struct{}, 16),
	}
}

func (s *gatedStore) Get(ctx context.Context, workspaceID string) (*crdt.Snapshot, error) {
	return s.inner.Get(ctx, workspaceID)
}

func (s *gatedStore) Update(ctx context.Context, workspaceID string, snapshot *crdt.Snapshot) error {
	s.began <- struct{}{}
	<-s.release
	return s.inner.Update(ctx, workspaceID, snapshot)
}

func (s *gatedStore) Close() error { return s.inner.Close() }

func TestRoomPersistNeverRegresses(t *testing.T) {
	store := newGatedStore()
	room := startRoom(t, lockFreePolicy{}, store)
	p1 := newFakePeer(1, "alice")
	room.enqueue(roomEvent{kind: evJoin, peer: p1, userID: "alice"})
	expectFrame(t, p1, wire.MsgWorkspaceState)

	update := func(updatedAt int64, version uint64) roomEvent {
		return roomEvent{kind: evUpdate, peer: p1, update: &wire.WorkspaceUpdate{
			WorkspaceID: "ws1",
			Elements: []crdt.Element{{
				ID: "el1", Data: map[string]interface{}{"rev": updatedAt},
				UpdatedBy: "alice", UpdatedAt: updatedAt, Version: version,
			}},
			UserID: "alice",
		}}
	}

	// The oldest write is held open while two newer updates arrive and are
	// confirmed.
	room.enqueue(update(100, 1))
	expectFrame(t, p1, wire.MsgUpdateConfirmed)
	<-store.began

	room.enqueue(update(200, 2))
	room.enqueue(update(300, 3))
	expectFrame(t, p1, wire.MsgUpdateConfirmed)
	expectFrame(t, p1, wire.MsgUpdateConfirmed)

	close(store.release)

	// However long the first write took, the stored snapshot settles on the
	// newest document.
	assert.Eventually(t, func() bool {
		snapshot, err := store.Get(context.Background(), "ws1")
		if err != nil || len(snapshot.Elements) != 1 {
			return false
		}
		return snapshot.Elements[0].UpdatedAt == 300
	}, time.Second, 10*time.Millisecond)
}

func TestRoomRemoteFrameReachesAllMembers(t *testing.T) {
	room := startRoom(t, lockFreePolicy{}, nil)
	p1 := newFakePeer(1, "alice")
	room.enqueue(roomEvent{kind: evJoin, peer: p1, userID: "alice"})
	expectFrame(t, p1, wire.MsgWorkspaceState)

	frame, err := wire.Encode(wire.MsgWorkspaceUpdated, &wire.WorkspaceUpdated{
		WorkspaceID: "ws1",
		Elements: []crdt.Element{{
			ID: "el-remote", Data: map[string]interface{}{"shape": "line"},
			UpdatedBy: "carol", UpdatedAt: 100, Version: 1,
		}},
		UserID:        "carol",
		ConnID:        99,
		SchemaVersion: wire.SchemaVersion,
	})
	assert.NoError(t, err)
	room.enqueue(roomEvent{kind: evRemoteFrame, remoteFrame: frame})

	// Bridged frames reach every local member, sender exclusion happened on the
	// origin instance.
	expectFrame(t, p1, wire.MsgWorkspaceUpdated)
	assert.Eventually(t, func() bool {
		return len(room.Manager().GetElements()) == 1
	}, time.Second, 10*time.Millisecond)
}
