/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package relay

import (
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/collabd/collabd/core"
	"github.com/collabd/collabd/dispatch"
)

// Conn is one live peer connection. Its lifecycle is Connected, optionally
// Joined(workspace), then Disconnected; workspace-scoped messages are only accepted
// while joined. Reads run on a dedicated receive goroutine, writes on a dedicated
// send goroutine fed by a bounded queue.
type Conn struct {
	id      uint64
	remote  string
	ws      *websocket.Conn
	service *Service

	sendQueue chan []byte
	quit      chan struct{}
	closeOnce sync.Once

	mutex  sync.Mutex
	userID string
	room   *Room
}

var _ dispatch.Peer = &Conn{}

func newConn(id uint64, userID string, ws *websocket.Conn, service *Service) *Conn {
	return &Conn{
		id:        id,
		userID:    userID,
		remote:    ws.RemoteAddr().String(),
		ws:        ws,
		service:   service,
		sendQueue: make(chan []byte, sendQueueSize),
		quit:      make(chan struct{}),
	}
}

func (c *Conn) String() string {
	return "Conn-" + strconv.FormatUint(c.id, 10) + " (user=" + c.UserID() + ", remote=" + c.remote + ")"
}

// ID returns the connection ID.
func (c *Conn) ID() uint64 {
	return c.id
}

// UserID returns the authenticated user behind this connection. May be empty until
// the first join when the listener runs without an identity provider.
func (c *Conn) UserID() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.userID
}

func (c *Conn) setUserID(userID string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.userID = userID
}

// Room returns the workspace room this connection has joined, if any.
func (c *Conn) Room() *Room {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.room
}

func (c *Conn) setRoom(room *Room) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.room = room
}

// Send queues a frame for transmission. Returns false if the connection is closed or
// its queue is full; a full queue closes the connection, since a peer that cannot
// drain its queue would otherwise stall behind ever-staler state.
func (c *Conn) Send(frame []byte) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.sendQueue <- frame:
		return true
	default:
		core.LogWarn(c, "Send queue full - closing connection")
		c.Close()
		return false
	}
}

// Close tears the connection down. Safe to call multiple times.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.quit)
		c.ws.Close()
	})
}

func (c *Conn) runSend() {
	for {
		select {
		case frame := <-c.sendQueue:
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				core.LogDebug(c, "Unable to write frame - closing: ", err)
				c.Close()
				return
			}
		case <-c.quit:
			return
		}
	}
}

func (c *Conn) runReceive() {
	core.LogTrace(c, "Starting receive thread")

	for {
		mt, frame, err := c.ws.ReadMessage()
		if err != nil {
			core.LogDebug(c, "Unable to read from socket (", err, ") - closing")
			break
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			core.LogWarn(c, "Ignored unsupported message type")
			continue
		}
		c.service.handleFrame(c, frame)
	}

	c.Close()
	c.service.handleDisconnect(c)
}
