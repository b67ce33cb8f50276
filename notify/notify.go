/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

// Package notify delivers user-facing events to all of a user's active connections,
// independent of any workspace room, and bridges workspace broadcasts between
// collabd instances.
package notify

import (
	"encoding/json"

	"github.com/collabd/collabd/core"
	"github.com/collabd/collabd/dispatch"
	"github.com/collabd/collabd/wire"
)

// Notifier delivers an event to every active connection of one user.
type Notifier interface {
	Deliver(userID string, event string, data interface{}) error
}

// Bridge relays workspace broadcast frames between collabd instances sharing a
// workspace. Publish must not block the caller's broadcast path.
type Bridge interface {
	Publish(workspaceID string, frame []byte)
	Close() error
}

// LocalNotifier delivers notifications to connections registered in this process.
type LocalNotifier struct{}

func (n *LocalNotifier) String() string {
	return "Notifier"
}

// Deliver sends the event to every live connection of the user. Delivery is
// best-effort per connection; a full send queue drops the event for that connection
// only.
func (n *LocalNotifier) Deliver(userID string, event string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame, err := wire.Encode(wire.MsgNotification, &wire.Notification{Event: event, Data: raw})
	if err != nil {
		return err
	}
	for _, peer := range dispatch.GetPeersByUser(userID) {
		if !peer.Send(frame) {
			core.LogWarn(n, "Dropped notification for ", peer.String(), " - send queue full")
		}
	}
	return nil
}
