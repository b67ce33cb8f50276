/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package relay

import (
	"context"
	"sync"
	"time"

	"github.com/collabd/collabd/core"
	"github.com/collabd/collabd/crdt"
	"github.com/collabd/collabd/dispatch"
	"github.com/collabd/collabd/document"
	"github.com/collabd/collabd/notify"
	"github.com/collabd/collabd/storage"
	"github.com/collabd/collabd/wire"
)

const persistTimeout = 5 * time.Second

type roomEventKind int

const (
	evJoin roomEventKind = iota
	evLeave
	evUpdate
	evPointer
	evCursor
	evLockRequest
	evLockRelease
	evUndo
	evRemoteFrame
)

type roomEvent struct {
	kind        roomEventKind
	peer        dispatch.Peer
	userID      string
	update      *wire.WorkspaceUpdate
	pointer     *wire.PointerUpdate
	cursor      *wire.CursorUpdate
	remoteFrame []byte
}

// Room is the processing goroutine for one workspace. All mutations of the
// workspace's document manager happen on this goroutine, in arrival order; this is
// the sole serialization point, and different workspaces proceed fully
// independently. Nothing here blocks on I/O: snapshot persistence is handed off to a
// separate goroutine and never gates the broadcast.
type Room struct {
	workspaceID string
	manager     *document.Manager
	policy      UpdatePolicy
	store       storage.Store
	bridge      notify.Bridge

	members map[uint64]dispatch.Peer
	events  chan roomEvent

	persistCh   chan *crdt.Snapshot
	persistDone chan struct{}

	quit    chan struct{}
	HasQuit chan struct{}

	mutex      sync.Mutex
	emptySince time.Time
}

func newRoom(workspaceID string, manager *document.Manager, policy UpdatePolicy,
	store storage.Store, bridge notify.Bridge) *Room {
	return &Room{
		workspaceID: workspaceID,
		manager:     manager,
		policy:      policy,
		store:       store,
		bridge:      bridge,
		members:     make(map[uint64]dispatch.Peer),
		events:      make(chan roomEvent, 256),
		persistCh:   make(chan *crdt.Snapshot, 1),
		persistDone: make(chan struct{}),
		quit:        make(chan struct{}),
		HasQuit:     make(chan struct{}),
		emptySince:  time.Now(),
	}
}

func (r *Room) String() string {
	return "Room-" + r.workspaceID
}

// WorkspaceID returns the workspace this room serves.
func (r *Room) WorkspaceID() string {
	return r.workspaceID
}

// Manager returns the room's document manager.
func (r *Room) Manager() *document.Manager {
	return r.manager
}

// IdleSince reports when the room last became empty, or false while it has members.
func (r *Room) IdleSince() (time.Time, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.emptySince.IsZero() {
		return time.Time{}, false
	}
	return r.emptySince, true
}

func (r *Room) setEmpty(empty bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if empty {
		r.emptySince = time.Now()
	} else {
		r.emptySince = time.Time{}
	}
}

// enqueue hands an event to the room goroutine. Returns false if the room has shut
// down, so the caller can retry against a fresh room.
func (r *Room) enqueue(event roomEvent) bool {
	select {
	case <-r.quit:
		return false
	default:
	}
	select {
	case r.events <- event:
		return true
	case <-r.quit:
		return false
	}
}

// TellToQuit tells the room goroutine to quit.
func (r *Room) TellToQuit() {
	core.LogInfo(r, "Told to quit")
	close(r.quit)
}

// Run processes room events until told to quit.
func (r *Room) Run() {
	go r.runPersist()

	expiry := time.NewTicker(time.Second)
	defer expiry.Stop()

	for {
		select {
		case event := <-r.events:
			r.dispatchEvent(event)
		case now := <-expiry.C:
			if userID, released := r.policy.Expire(now); released {
				core.LogInfo(r, "Edit lock timed out for user ", userID)
				r.broadcast(0, wire.MsgEditLockReleased, &wire.EditLockReleased{
					WorkspaceID: r.workspaceID,
					UserID:      userID,
					Reason:      wire.LockReleaseTimeout,
				})
			}
		case <-r.quit:
			core.LogInfo(r, "Stopping room")
			close(r.persistCh)
			<-r.persistDone
			r.persistFinal()
			close(r.HasQuit)
			return
		}
	}
}

func (r *Room) dispatchEvent(event roomEvent) {
	switch event.kind {
	case evJoin:
		r.handleJoin(event.peer, event.userID)
	case evLeave:
		r.handleLeave(event.peer)
	case evUpdate:
		r.handleUpdate(event.peer, event.update)
	case evPointer:
		r.handlePointer(event.peer, event.pointer)
	case evCursor:
		r.handleCursor(event.peer, event.cursor)
	case evLockRequest:
		r.handleLockRequest(event.peer, event.userID)
	case evLockRelease:
		r.handleLockRelease(event.peer)
	case evUndo:
		r.handleUndo(event.peer, event.userID)
	case evRemoteFrame:
		r.handleRemoteFrame(event.remoteFrame)
	}
}

func (r *Room) handleJoin(peer dispatch.Peer, userID string) {
	r.members[peer.ID()] = peer
	r.setEmpty(false)
	AddToStat(StatJoins, 1)
	core.LogInfo(r, "Peer ", peer.String(), " joined (", len(r.members), " members)")

	// Current state goes to the joiner only; the rest of the room just learns who
	// arrived.
	r.sendTo(peer, wire.MsgWorkspaceState, &wire.WorkspaceState{
		WorkspaceID:   r.workspaceID,
		Elements:      r.manager.GetElements(),
		AppState:      r.manager.GetAppState(),
		Presence:      r.manager.GetPresence(),
		SchemaVersion: wire.SchemaVersion,
	})
	r.broadcast(peer.ID(), wire.MsgUserJoined, &wire.UserJoined{UserID: userID, ConnID: peer.ID()})
}

func (r *Room) handleLeave(peer dispatch.Peer) {
	if _, ok := r.members[peer.ID()]; !ok {
		return
	}
	delete(r.members, peer.ID())
	AddToStat(StatDisconnects, 1)

	// Presence is keyed by user; drop it only once the user's last connection in
	// this room is gone.
	userID := peer.UserID()
	remaining := false
	for _, member := range r.members {
		if member.UserID() == userID {
			remaining = true
			break
		}
	}
	if !remaining {
		r.manager.RemovePresence(userID)
	}

	r.broadcast(peer.ID(), wire.MsgUserLeft, &wire.UserLeft{UserID: userID, ConnID: peer.ID()})

	if lockUser, released := r.policy.OnDisconnect(peer.ID()); released {
		r.broadcast(peer.ID(), wire.MsgEditLockReleased, &wire.EditLockReleased{
			WorkspaceID: r.workspaceID,
			UserID:      lockUser,
			Reason:      wire.LockReleaseDisconnect,
		})
	}

	if len(r.members) == 0 {
		r.setEmpty(true)
		core.LogDebug(r, "Room is empty")
	}
}

func (r *Room) handleUpdate(peer dispatch.Peer, update *wire.WorkspaceUpdate) {
	if err := r.policy.AuthorizeUpdate(peer.ID(), update.UserID); err != nil {
		AddToStat(StatErrorsSent, 1)
		r.sendTo(peer, wire.MsgError, &wire.Error{Code: wire.ErrCodeLockNotHeld, Message: err.Error()})
		return
	}
	AddToStat(StatUpdatesReceived, 1)

	r.manager.BatchUpdate(update.Elements, update.UserID)
	if len(update.AppState) > 0 {
		r.manager.UpdateAppState(update.AppState, update.UserID)
	}

	timestamp := time.Now().UnixMilli()
	r.persistAsync()

	r.broadcast(peer.ID(), wire.MsgWorkspaceUpdated, &wire.WorkspaceUpdated{
		WorkspaceID:   r.workspaceID,
		Elements:      update.Elements,
		AppState:      update.AppState,
		UserID:        update.UserID,
		ConnID:        peer.ID(),
		Timestamp:     timestamp,
		SchemaVersion: wire.SchemaVersion,
	})
	r.sendTo(peer, wire.MsgUpdateConfirmed, &wire.UpdateConfirmed{
		Timestamp:     timestamp,
		SchemaVersion: wire.SchemaVersion,
	})
}

func (r *Room) handlePointer(peer dispatch.Peer, pointer *wire.PointerUpdate) {
	AddToStat(StatPointerEvents, 1)
	r.manager.UpdatePresence(pointer.UserID, document.Presence{
		Pointer:   pointer.Pointer,
		Button:    pointer.Button,
		Username:  pointer.Username,
		Color:     pointer.Color,
		Timestamp: pointer.Timestamp,
	})
	// Ephemeral: never persisted, pure fan-out.
	r.broadcast(peer.ID(), wire.MsgPointerUpdated, &wire.PointerUpdated{
		PointerUpdate: *pointer,
		ConnID:        peer.ID(),
	})
}

func (r *Room) handleCursor(peer dispatch.Peer, cursor *wire.CursorUpdate) {
	AddToStat(StatPointerEvents, 1)
	r.broadcast(peer.ID(), wire.MsgCursorUpdated, &wire.CursorUpdated{
		CursorUpdate: *cursor,
		ConnID:       peer.ID(),
	})
}

func (r *Room) handleLockRequest(peer dispatch.Peer, userID string) {
	granted, currentEditor := r.policy.RequestLock(peer.ID(), userID)
	if granted {
		core.LogDebug(r, "Edit lock granted to ", peer.String())
		r.sendTo(peer, wire.MsgEditLockGranted, &wire.EditLockGranted{WorkspaceID: r.workspaceID})
		return
	}
	r.sendTo(peer, wire.MsgEditLockDenied, &wire.EditLockDenied{
		WorkspaceID:   r.workspaceID,
		CurrentEditor: currentEditor,
	})
}

func (r *Room) handleLockRelease(peer dispatch.Peer) {
	userID, released := r.policy.ReleaseLock(peer.ID())
	if !released {
		return
	}
	r.broadcast(0, wire.MsgEditLockReleased, &wire.EditLockReleased{
		WorkspaceID: r.workspaceID,
		UserID:      userID,
		Reason:      wire.LockReleaseManual,
	})
}

func (r *Room) handleUndo(peer dispatch.Peer, userID string) {
	if !r.manager.UndoLastOperation(userID) {
		AddToStat(StatErrorsSent, 1)
		r.sendTo(peer, wire.MsgError, &wire.Error{
			Code:    wire.ErrCodeUndo,
			Message: "only element creation can be undone",
		})
		return
	}

	timestamp := time.Now().UnixMilli()
	r.persistAsync()
	r.broadcast(peer.ID(), wire.MsgWorkspaceUpdated, &wire.WorkspaceUpdated{
		WorkspaceID:   r.workspaceID,
		Elements:      r.manager.GetElements(),
		AppState:      r.manager.GetAppState(),
		UserID:        userID,
		ConnID:        peer.ID(),
		Timestamp:     timestamp,
		SchemaVersion: wire.SchemaVersion,
	})
	r.sendTo(peer, wire.MsgUpdateConfirmed, &wire.UpdateConfirmed{
		Timestamp:     timestamp,
		SchemaVersion: wire.SchemaVersion,
	})
}

// handleRemoteFrame applies a frame relayed from another collabd instance and fans
// it out to every local member. Document updates fold into the local manager; the
// last-write-wins policy makes the re-application convergent and idempotent.
func (r *Room) handleRemoteFrame(frame []byte) {
	AddToStat(StatBridgeFramesIn, 1)
	envelope, err := wire.Decode(frame)
	if err != nil {
		core.LogWarn(r, "Ignoring malformed bridge frame: ", err)
		return
	}
	if envelope.Type == wire.MsgWorkspaceUpdated {
		var updated wire.WorkspaceUpdated
		if err := envelope.DecodePayload(&updated); err != nil {
			core.LogWarn(r, "Ignoring malformed bridge update: ", err)
			return
		}
		r.manager.BatchUpdate(updated.Elements, updated.UserID)
		if len(updated.AppState) > 0 {
			r.manager.UpdateAppState(updated.AppState, updated.UserID)
		}
	}
	for _, member := range r.members {
		member.Send(frame)
	}
	AddToStat(StatFramesRelayed, int64(len(r.members)))
}

// persistAsync exports the document synchronously (cheap, in-memory) and hands it
// to the persist goroutine. Only the newest pending snapshot is kept: an older
// write can never land after a newer one, and a stalled store backs up into
// snapshot replacement rather than goroutine pile-up.
func (r *Room) persistAsync() {
	if r.store == nil {
		return
	}
	snapshot := r.manager.ExportDocument()
	for {
		select {
		case r.persistCh <- snapshot:
			return
		default:
		}
		// Slot full: the pending snapshot is stale, replace it.
		select {
		case <-r.persistCh:
		default:
		}
	}
}

// runPersist writes handed-off snapshots in order. A persistence failure is logged
// and never surfaces to any client: real-time delivery does not depend on
// durability.
func (r *Room) runPersist() {
	for snapshot := range r.persistCh {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := r.store.Update(ctx, r.workspaceID, snapshot)
		cancel()
		if err != nil {
			AddToStat(StatPersistFailures, 1)
			core.LogError(r, "Unable to persist snapshot: ", err)
		}
	}
	close(r.persistDone)
}

// persistFinal writes the document synchronously. Used on room shutdown, where an
// in-flight async write may not finish before the process exits.
func (r *Room) persistFinal() {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.store.Update(ctx, r.workspaceID, r.manager.ExportDocument()); err != nil {
		AddToStat(StatPersistFailures, 1)
		core.LogError(r, "Unable to persist final snapshot: ", err)
	}
}

// broadcast sends a message to every member except the given connection (0 excludes
// nobody) and mirrors it across the instance bridge.
func (r *Room) broadcast(except uint64, msgType string, payload interface{}) {
	frame, err := wire.Encode(msgType, payload)
	if err != nil {
		core.LogError(r, "Unable to encode ", msgType, ": ", err)
		return
	}
	sent := int64(0)
	for id, member := range r.members {
		if id == except {
			continue
		}
		if member.Send(frame) {
			sent++
		}
	}
	AddToStat(StatFramesRelayed, sent)

	if r.bridge != nil && relayedAcrossInstances(msgType) {
		r.bridge.Publish(r.workspaceID, frame)
	}
}

func relayedAcrossInstances(msgType string) bool {
	switch msgType {
	case wire.MsgWorkspaceUpdated, wire.MsgPointerUpdated, wire.MsgCursorUpdated,
		wire.MsgUserJoined, wire.MsgUserLeft:
		return true
	}
	return false
}

func (r *Room) sendTo(peer dispatch.Peer, msgType string, payload interface{}) {
	frame, err := wire.Encode(msgType, payload)
	if err != nil {
		core.LogError(r, "Unable to encode ", msgType, ": ", err)
		return
	}
	peer.Send(frame)
}
