/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package relay

import (
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/collabd/collabd/core"
	"github.com/collabd/collabd/dispatch"
	"github.com/collabd/collabd/notify"
	"github.com/collabd/collabd/wire"
)

// ConnTable holds all live connections served by this relay.
type ConnTable struct {
	conns      sync.Map
	nextConnID atomic.Uint64
}

// NewConnTable creates an empty connection table.
func NewConnTable() *ConnTable {
	table := new(ConnTable)
	table.nextConnID.Store(1)
	return table
}

// Add registers a connection and registers it as a peer for user-scoped delivery.
func (t *ConnTable) Add(conn *Conn) {
	t.conns.Store(conn.ID(), conn)
	dispatch.AddPeer(conn.ID(), conn)
	core.LogDebug("ConnTable", "Registered ConnID=", conn.ID())
}

// Get returns the connection with the specified ID, if any.
func (t *ConnTable) Get(id uint64) *Conn {
	if conn, ok := t.conns.Load(id); ok {
		return conn.(*Conn)
	}
	return nil
}

// GetAll returns all live connections.
func (t *ConnTable) GetAll() []*Conn {
	conns := make([]*Conn, 0)
	t.conns.Range(func(_, conn interface{}) bool {
		conns = append(conns, conn.(*Conn))
		return true
	})
	return conns
}

// Remove removes a connection from the table and the peer registry.
func (t *ConnTable) Remove(id uint64) {
	t.conns.Delete(id)
	dispatch.RemovePeer(id)
	core.LogDebug("ConnTable", "Unregistered ConnID=", id)
}

// Service ties connections to workspace rooms: it accepts connections, decodes
// their frames, enforces the joined-state contract, and hands workspace events to
// the owning room's goroutine. Per-frame failures are isolated to the offending
// connection; nothing a single peer sends can take the relay down.
type Service struct {
	conns    *ConnTable
	rooms    *RoomTable
	notifier notify.Notifier
}

// NewService creates a relay service over the given room table.
func NewService(rooms *RoomTable) *Service {
	return &Service{conns: NewConnTable(), rooms: rooms, notifier: &notify.LocalNotifier{}}
}

// Notify delivers an out-of-band event to every live connection of one user,
// independent of any workspace room.
func (s *Service) Notify(userID string, event string, data interface{}) error {
	return s.notifier.Deliver(userID, event, data)
}

func (s *Service) String() string {
	return "Relay"
}

// Conns exposes the connection table.
func (s *Service) Conns() *ConnTable {
	return s.conns
}

// Rooms exposes the room table.
func (s *Service) Rooms() *RoomTable {
	return s.rooms
}

// Accept takes ownership of an upgraded websocket connection for the given
// authenticated user. The peer immediately receives a welcome frame carrying its
// connection ID, which it needs to recognize reflected traffic of its own.
func (s *Service) Accept(ws *websocket.Conn, userID string) *Conn {
	id := s.conns.nextConnID.Add(1) - 1
	conn := newConn(id, userID, ws, s)
	s.conns.Add(conn)

	go conn.runSend()

	frame, err := wire.Encode(wire.MsgWelcome, &wire.Welcome{ConnID: id, SchemaVersion: wire.SchemaVersion})
	if err == nil {
		conn.Send(frame)
	}

	go conn.runReceive()
	core.LogInfo(s, "Accepted ", conn.String())
	return conn
}

func (s *Service) handleFrame(conn *Conn, frame []byte) {
	defer func() {
		if recovered := recover(); recovered != nil {
			core.LogError(s, "Recovered from panic handling frame from ", conn.String(), ": ", recovered)
			s.sendError(conn, wire.ErrCodeInternal, "internal error")
		}
	}()

	envelope, err := wire.Decode(frame)
	if err != nil {
		s.sendError(conn, wire.ErrCodeMalformed, "unable to decode message: "+err.Error())
		return
	}

	switch envelope.Type {
	case wire.MsgJoinWorkspace:
		s.handleJoin(conn, envelope)
	case wire.MsgWorkspaceUpdate:
		var update wire.WorkspaceUpdate
		if !s.decodeWorkspaceScoped(conn, envelope, &update) {
			return
		}
		if room, ok := s.requireJoined(conn, update.WorkspaceID); ok {
			room.enqueue(roomEvent{kind: evUpdate, peer: conn, update: &update})
		}
	case wire.MsgPointerUpdate:
		var pointer wire.PointerUpdate
		if !s.decodeWorkspaceScoped(conn, envelope, &pointer) {
			return
		}
		if room, ok := s.requireJoined(conn, pointer.WorkspaceID); ok {
			room.enqueue(roomEvent{kind: evPointer, peer: conn, pointer: &pointer})
		}
	case wire.MsgCursorUpdate:
		var cursor wire.CursorUpdate
		if !s.decodeWorkspaceScoped(conn, envelope, &cursor) {
			return
		}
		if room, ok := s.requireJoined(conn, cursor.WorkspaceID); ok {
			room.enqueue(roomEvent{kind: evCursor, peer: conn, cursor: &cursor})
		}
	case wire.MsgUndo:
		var undo wire.UndoRequest
		if !s.decodeWorkspaceScoped(conn, envelope, &undo) {
			return
		}
		if room, ok := s.requireJoined(conn, undo.WorkspaceID); ok {
			room.enqueue(roomEvent{kind: evUndo, peer: conn, userID: undo.UserID})
		}
	case wire.MsgRequestEditLock:
		if room, ok := s.requireJoined(conn, ""); ok {
			room.enqueue(roomEvent{kind: evLockRequest, peer: conn, userID: conn.UserID()})
		}
	case wire.MsgReleaseEditLock:
		if room, ok := s.requireJoined(conn, ""); ok {
			room.enqueue(roomEvent{kind: evLockRelease, peer: conn})
		}
	default:
		core.LogDebug(s, "Ignoring unknown message type \"", envelope.Type, "\" from ", conn.String())
	}
}

type validatable interface {
	Validate() error
}

// decodeWorkspaceScoped decodes and validates a workspace-scoped payload, reporting
// an application error to the sender on failure.
func (s *Service) decodeWorkspaceScoped(conn *Conn, envelope *wire.Envelope, out validatable) bool {
	if err := envelope.DecodePayload(out); err != nil {
		s.sendError(conn, wire.ErrCodeMalformed, "unable to decode "+envelope.Type+": "+err.Error())
		return false
	}
	if err := out.Validate(); err != nil {
		s.sendError(conn, wire.ErrCodeMalformed, err.Error())
		return false
	}
	return true
}

// requireJoined enforces the connection state machine: workspace-scoped messages
// are rejected with an authorization error, not silently dropped, until the
// connection has joined the workspace they name. An empty workspaceID only checks
// that some room is joined.
func (s *Service) requireJoined(conn *Conn, workspaceID string) (*Room, bool) {
	room := conn.Room()
	if room == nil || (workspaceID != "" && room.WorkspaceID() != workspaceID) {
		s.sendError(conn, wire.ErrCodeNotJoined, "join the workspace before sending workspace messages")
		return nil, false
	}
	return room, true
}

func (s *Service) handleJoin(conn *Conn, envelope *wire.Envelope) {
	var join wire.JoinWorkspace
	if err := envelope.DecodePayload(&join); err != nil {
		s.sendError(conn, wire.ErrCodeMalformed, "unable to decode join-workspace: "+err.Error())
		return
	}
	if err := join.Validate(); err != nil {
		s.sendError(conn, wire.ErrCodeMalformed, err.Error())
		return
	}

	userID := conn.UserID()
	if userID == "" {
		userID = join.UserID
		conn.setUserID(userID)
	}

	// One room at a time: joining a new workspace leaves the previous one.
	if current := conn.Room(); current != nil {
		if current.WorkspaceID() == join.WorkspaceID {
			return
		}
		current.enqueue(roomEvent{kind: evLeave, peer: conn})
	}

	// A room may shut down between lookup and enqueue (janitor race); retry
	// against a fresh room.
	for {
		room := s.rooms.GetOrCreate(join.WorkspaceID)
		if room.enqueue(roomEvent{kind: evJoin, peer: conn, userID: userID}) {
			conn.setRoom(room)
			return
		}
	}
}

func (s *Service) handleDisconnect(conn *Conn) {
	s.conns.Remove(conn.ID())
	if room := conn.Room(); room != nil {
		room.enqueue(roomEvent{kind: evLeave, peer: conn})
		conn.setRoom(nil)
	}
	core.LogInfo(s, "Disconnected ", conn.String())
}

func (s *Service) sendError(conn *Conn, code string, message string) {
	AddToStat(StatErrorsSent, 1)
	core.LogDebug(s, "Error to ", conn.String(), ": ", code, " - ", message)
	frame, err := wire.Encode(wire.MsgError, &wire.Error{Code: code, Message: message})
	if err != nil {
		return
	}
	conn.Send(frame)
}
