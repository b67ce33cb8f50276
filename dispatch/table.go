/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package dispatch

import "sync"

// peers is the global registry of live peers, keyed by connection ID. It exists so
// user-scoped delivery (notifications) can reach a user's active connections without
// depending on the relay package.
var peers sync.Map

// AddPeer registers a peer in the global registry.
func AddPeer(id uint64, peer Peer) {
	peers.Store(id, peer)
}

// RemovePeer removes a peer from the global registry.
func RemovePeer(id uint64) {
	peers.Delete(id)
}

// GetPeer returns the peer with the given connection ID, if registered.
func GetPeer(id uint64) Peer {
	if peer, ok := peers.Load(id); ok {
		return peer.(Peer)
	}
	return nil
}

// GetPeersByUser returns every live connection belonging to the given user. One user
// may hold several simultaneous connections (multiple tabs).
func GetPeersByUser(userID string) []Peer {
	found := make([]Peer, 0, 1)
	peers.Range(func(_, value interface{}) bool {
		peer := value.(Peer)
		if peer.UserID() == userID {
			found = append(found, peer)
		}
		return true
	})
	return found
}
