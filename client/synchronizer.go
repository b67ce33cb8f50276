/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package client

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/collabd/collabd/core"
	"github.com/collabd/collabd/crdt"
	"github.com/collabd/collabd/document"
	"github.com/collabd/collabd/utils/comparison"
	"github.com/collabd/collabd/wire"
)

// ErrNotConnected indicates a message was sent with no live relay connection.
var ErrNotConnected = errors.New("not connected to relay")

// State is the synchronizer connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// StateFailed is terminal: the reconnect budget is exhausted and the caller
	// must create a fresh synchronizer to resume.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Socket is the transport surface the synchronizer needs. *websocket.Conn
// satisfies it; tests substitute an in-memory pipe.
type Socket interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Options configures a Synchronizer. Zero values take the protocol defaults.
type Options struct {
	URL      string
	UserID   string
	Username string

	DebounceActive       time.Duration // local-change flush while connected
	DebounceIdle         time.Duration // local-change flush while disconnected
	PresenceThrottle     time.Duration
	ReconnectBase        time.Duration
	ReconnectCap         time.Duration
	MaxReconnectAttempts int
	FlushRetryDelay      time.Duration

	// Dial overrides the websocket dialer.
	Dial func(url string) (Socket, error)
}

func (o *Options) applyDefaults() {
	if o.DebounceActive == 0 {
		o.DebounceActive = 300 * time.Millisecond
	}
	if o.DebounceIdle == 0 {
		o.DebounceIdle = time.Second
	}
	if o.PresenceThrottle == 0 {
		o.PresenceThrottle = 50 * time.Millisecond
	}
	if o.ReconnectBase == 0 {
		o.ReconnectBase = time.Second
	}
	if o.ReconnectCap == 0 {
		o.ReconnectCap = 10 * time.Second
	}
	if o.MaxReconnectAttempts == 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.FlushRetryDelay == 0 {
		o.FlushRetryDelay = 100 * time.Millisecond
	}
	if o.Dial == nil {
		o.Dial = func(url string) (Socket, error) {
			ws, _, err := websocket.DefaultDialer.Dial(url, nil)
			if err != nil {
				return nil, err
			}
			return ws, nil
		}
	}
}

// Synchronizer keeps a local Editor converged with a workspace over the relay
// protocol. Local changes are debounced, remote updates are applied in arrival
// order, and this connection's own reflected traffic is discarded by connection
// ID rather than user ID, so two tabs of one user still see each other.
type Synchronizer struct {
	opts    Options
	editor  Editor
	tracker *Tracker
	queue   updateQueue

	mutex           sync.Mutex
	state           State
	conn            Socket
	connID          uint64
	workspaceID     string
	attempts        int
	applyingRemote  bool
	applyGen        uint64
	flushing        bool
	debounce        *time.Timer
	lastPointerSent time.Time

	writeMutex sync.Mutex
	quit       chan struct{}
	closeOnce  sync.Once
}

// NewSynchronizer creates a synchronizer for the given editor. Call Connect to
// start it.
func NewSynchronizer(editor Editor, opts Options) *Synchronizer {
	opts.applyDefaults()
	return &Synchronizer{
		opts:    opts,
		editor:  editor,
		tracker: NewTracker(),
		state:   StateDisconnected,
		quit:    make(chan struct{}),
	}
}

func (s *Synchronizer) String() string {
	return "Sync-" + s.opts.UserID
}

// State returns the current connection state.
func (s *Synchronizer) State() State {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

// ConnID returns the connection ID assigned by the relay, zero before the
// welcome frame arrives.
func (s *Synchronizer) ConnID() uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.connID
}

// Tracker returns the collaborator tracker for this connection.
func (s *Synchronizer) Tracker() *Tracker {
	return s.tracker
}

// Connect dials the relay and starts the receive loop. On failure the caller
// decides whether to retry; automatic reconnection only covers connections that
// drop after being established.
func (s *Synchronizer) Connect() error {
	s.mutex.Lock()
	s.state = StateConnecting
	s.mutex.Unlock()

	conn, err := s.opts.Dial(s.opts.URL)
	if err != nil {
		s.mutex.Lock()
		s.state = StateDisconnected
		s.mutex.Unlock()
		return err
	}

	s.mutex.Lock()
	s.conn = conn
	s.state = StateConnected
	s.attempts = 0
	s.mutex.Unlock()

	go s.runReceive(conn)
	return nil
}

// Join joins a workspace. The workspace is remembered and rejoined on reconnect.
func (s *Synchronizer) Join(workspaceID string) error {
	s.mutex.Lock()
	s.workspaceID = workspaceID
	s.mutex.Unlock()

	return s.send(wire.MsgJoinWorkspace, &wire.JoinWorkspace{
		WorkspaceID: workspaceID,
		UserID:      s.opts.UserID,
	})
}

// NotifyChange signals that the editor's local scene changed. The flush is
// debounced; changes made while disconnected use a longer interval and reach
// the relay after reconnecting.
func (s *Synchronizer) NotifyChange() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	// The editor fires its own change notification while a remote update is
	// applied; those must not echo back to the relay. flushQueue lifts the
	// guard once the apply settles.
	if s.applyingRemote {
		return
	}

	interval := s.opts.DebounceIdle
	if s.state == StateConnected {
		interval = s.opts.DebounceActive
	}
	if s.debounce != nil {
		s.debounce.Reset(interval)
		return
	}
	s.debounce = time.AfterFunc(interval, s.flushLocal)
}

func (s *Synchronizer) flushLocal() {
	s.mutex.Lock()
	s.debounce = nil
	state := s.state
	workspaceID := s.workspaceID
	s.mutex.Unlock()

	if state != StateConnected || workspaceID == "" {
		return
	}

	err := s.send(wire.MsgWorkspaceUpdate, &wire.WorkspaceUpdate{
		WorkspaceID: workspaceID,
		Elements:    s.editor.Elements(),
		AppState:    s.editor.AppState(),
		UserID:      s.opts.UserID,
		Timestamp:   time.Now().UnixMilli(),
	})
	if err != nil {
		core.LogDebug(s, "Unable to flush local changes: ", err)
	}
}

// PointerMoved reports the local pointer position. Events inside the throttle
// window are dropped; pointer state is ephemeral, the next event supersedes.
func (s *Synchronizer) PointerMoved(pointer document.Pointer, button string) {
	s.mutex.Lock()
	if s.state != StateConnected || s.workspaceID == "" {
		s.mutex.Unlock()
		return
	}
	now := time.Now()
	if now.Sub(s.lastPointerSent) < s.opts.PresenceThrottle {
		s.mutex.Unlock()
		return
	}
	s.lastPointerSent = now
	workspaceID := s.workspaceID
	s.mutex.Unlock()

	s.send(wire.MsgPointerUpdate, &wire.PointerUpdate{
		WorkspaceID: workspaceID,
		Pointer:     pointer,
		Button:      button,
		UserID:      s.opts.UserID,
		Username:    s.opts.Username,
		Timestamp:   now.UnixMilli(),
	})
}

// CursorMoved reports the local selection cursor.
func (s *Synchronizer) CursorMoved(cursor interface{}) {
	s.mutex.Lock()
	workspaceID := s.workspaceID
	connected := s.state == StateConnected
	s.mutex.Unlock()
	if !connected || workspaceID == "" {
		return
	}

	s.send(wire.MsgCursorUpdate, &wire.CursorUpdate{
		WorkspaceID: workspaceID,
		Cursor:      cursor,
		UserID:      s.opts.UserID,
	})
}

// Undo asks the relay to reverse this user's most recent operation.
func (s *Synchronizer) Undo() error {
	s.mutex.Lock()
	workspaceID := s.workspaceID
	s.mutex.Unlock()
	return s.send(wire.MsgUndo, &wire.UndoRequest{WorkspaceID: workspaceID, UserID: s.opts.UserID})
}

// RequestEditLock asks for the exclusive edit lock (legacy relay policy).
func (s *Synchronizer) RequestEditLock() error {
	return s.send(wire.MsgRequestEditLock, struct{}{})
}

// ReleaseEditLock gives the edit lock back.
func (s *Synchronizer) ReleaseEditLock() error {
	return s.send(wire.MsgReleaseEditLock, struct{}{})
}

// Close shuts the synchronizer down permanently.
func (s *Synchronizer) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		s.mutex.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.state = StateDisconnected
		s.mutex.Unlock()
	})
}

func (s *Synchronizer) send(msgType string, payload interface{}) error {
	s.mutex.Lock()
	conn := s.conn
	s.mutex.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	frame, err := wire.Encode(msgType, payload)
	if err != nil {
		return err
	}

	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *Synchronizer) runReceive(conn Socket) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			break
		}
		s.handleFrame(frame)
	}

	conn.Close()
	s.tracker.Reset()

	select {
	case <-s.quit:
		return
	default:
	}

	s.mutex.Lock()
	s.state = StateDisconnected
	s.conn = nil
	s.mutex.Unlock()
	s.scheduleReconnect()
}

func (s *Synchronizer) handleFrame(frame []byte) {
	envelope, err := wire.Decode(frame)
	if err != nil {
		core.LogWarn(s, "Unable to decode frame: ", err)
		return
	}

	switch envelope.Type {
	case wire.MsgWelcome:
		var welcome wire.Welcome
		if envelope.DecodePayload(&welcome) != nil {
			return
		}
		if welcome.SchemaVersion != wire.SchemaVersion {
			core.LogWarn(s, "Relay speaks schema ", welcome.SchemaVersion, ", expected ", wire.SchemaVersion)
		}
		s.mutex.Lock()
		s.connID = welcome.ConnID
		s.mutex.Unlock()
	case wire.MsgWorkspaceState:
		var state wire.WorkspaceState
		if envelope.DecodePayload(&state) != nil {
			return
		}
		s.queue.push(queuedUpdate{elements: state.Elements, appState: liftAppState(state.AppState)})
		s.flushQueue()
	case wire.MsgWorkspaceUpdated:
		var updated wire.WorkspaceUpdated
		if envelope.DecodePayload(&updated) != nil {
			return
		}
		if s.isOwnEcho(updated.ConnID) {
			return
		}
		if updated.SchemaVersion != wire.SchemaVersion {
			core.LogWarn(s, "Applying update with schema ", updated.SchemaVersion, " on a best-effort basis")
		}
		s.queue.push(queuedUpdate{elements: updated.Elements, appState: liftAppState(updated.AppState)})
		s.flushQueue()
	case wire.MsgPointerUpdated:
		var pointer wire.PointerUpdated
		if envelope.DecodePayload(&pointer) != nil {
			return
		}
		if s.isOwnEcho(pointer.ConnID) {
			return
		}
		s.tracker.ObservePointer(&pointer)
	case wire.MsgCursorUpdated:
		var cursor wire.CursorUpdated
		if envelope.DecodePayload(&cursor) != nil {
			return
		}
		if s.isOwnEcho(cursor.ConnID) {
			return
		}
		s.tracker.ObserveCursor(&cursor)
	case wire.MsgUserLeft:
		var left wire.UserLeft
		if envelope.DecodePayload(&left) != nil {
			return
		}
		s.tracker.ObserveLeave(left.ConnID)
	case wire.MsgUpdateConfirmed, wire.MsgUserJoined, wire.MsgNotification,
		wire.MsgEditLockGranted, wire.MsgEditLockDenied, wire.MsgEditLockReleased:
		core.LogTrace(s, "Received ", envelope.Type)
	case wire.MsgError:
		var remote wire.Error
		if envelope.DecodePayload(&remote) != nil {
			return
		}
		core.LogWarn(s, "Relay error ", remote.Code, ": ", remote.Message)
	default:
		core.LogDebug(s, "Ignoring unknown message type \"", envelope.Type, "\"")
	}
}

func (s *Synchronizer) isOwnEcho(connID uint64) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return connID != 0 && connID == s.connID
}

// flushQueue drains queued remote updates into the editor. Only one flusher
// runs at a time, so a retry timer and the receive path can never apply updates
// out of arrival order. A failed apply puts the update back at the head and
// retries after a delay.
func (s *Synchronizer) flushQueue() {
	s.mutex.Lock()
	if s.flushing {
		s.mutex.Unlock()
		return
	}
	s.flushing = true
	s.mutex.Unlock()

	for {
		update, ok := s.queue.pop()
		if !ok {
			s.mutex.Lock()
			s.flushing = false
			s.mutex.Unlock()
			return
		}

		s.mutex.Lock()
		s.applyingRemote = true
		s.applyGen++
		gen := s.applyGen
		s.mutex.Unlock()

		if err := s.editor.ApplyRemote(update.elements, update.appState); err != nil {
			s.queue.pushFront(update)
			s.mutex.Lock()
			s.applyingRemote = false
			s.flushing = false
			s.mutex.Unlock()

			core.LogDebug(s, "Apply deferred (", err, "), retrying")
			time.AfterFunc(s.opts.FlushRetryDelay, s.flushQueue)
			return
		}
		go s.settleApply(gen)
	}
}

// settleApply lifts the echo guard once an apply's change notification has had
// its chance to arrive. The guard is held for the whole ApplyRemote call and
// released off the flush path, so an editor that fires no notification cannot
// leave local flushes wedged behind it. A newer apply owns the guard by then.
func (s *Synchronizer) settleApply(gen uint64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.applyGen == gen {
		s.applyingRemote = false
	}
}

// reconnectDelay computes the backoff before reconnect attempt n (zero-based):
// doubling from the base, never above the cap.
func (s *Synchronizer) reconnectDelay(attempt int) time.Duration {
	return comparison.Min(s.opts.ReconnectBase<<uint(attempt), s.opts.ReconnectCap)
}

func (s *Synchronizer) scheduleReconnect() {
	s.mutex.Lock()
	if s.attempts >= s.opts.MaxReconnectAttempts {
		s.state = StateFailed
		s.mutex.Unlock()
		core.LogError(s, "Reconnect budget exhausted, giving up")
		return
	}
	attempt := s.attempts
	s.attempts++
	s.mutex.Unlock()

	delay := s.reconnectDelay(attempt)
	core.LogInfo(s, "Reconnecting in ", delay, " (attempt ", attempt+1, ")")

	select {
	case <-time.After(delay):
	case <-s.quit:
		return
	}

	if err := s.Connect(); err != nil {
		core.LogWarn(s, "Reconnect failed: ", err)
		s.scheduleReconnect()
		return
	}

	s.mutex.Lock()
	workspaceID := s.workspaceID
	s.mutex.Unlock()
	if workspaceID != "" {
		if err := s.Join(workspaceID); err != nil {
			core.LogWarn(s, "Unable to rejoin workspace: ", err)
		}
	}
	// Anything edited while offline goes out once the join settles.
	s.NotifyChange()
}

// liftAppState converts wire app-state values into merge entries. Timestamps are
// absent on the wire, so entries adopt receive time; the relay's own merge has
// already decided the winner.
func liftAppState(raw map[string]interface{}) map[string]*crdt.StateEntry {
	if raw == nil {
		return nil
	}
	now := time.Now().UnixMilli()
	out := make(map[string]*crdt.StateEntry, len(raw))
	for key, value := range raw {
		out[key] = &crdt.StateEntry{Value: value, UpdatedAt: now}
	}
	return out
}
