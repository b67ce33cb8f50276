/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package dispatch

// Peer provides an interface that relay connections satisfy (to avoid circular
// dependency between the connection layer and the subsystems that deliver to it).
type Peer interface {
	String() string

	ID() uint64
	UserID() string

	// Send queues a frame for transmission. Returns false if the peer's queue is
	// full or the connection is closed.
	Send(frame []byte) bool
}
