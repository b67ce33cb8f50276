/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package client

import (
	"sync"

	"github.com/collabd/collabd/crdt"
)

type queuedUpdate struct {
	elements []crdt.Element
	appState map[string]*crdt.StateEntry
}

// updateQueue buffers remote updates that arrive before the editor can accept
// them. FIFO order is load-bearing: replaying out of order would let an older
// remote scene land after a newer one.
type updateQueue struct {
	mutex   sync.Mutex
	pending []queuedUpdate
}

func (q *updateQueue) push(update queuedUpdate) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.pending = append(q.pending, update)
}

// pushFront returns an update to the head of the queue after a failed apply.
func (q *updateQueue) pushFront(update queuedUpdate) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.pending = append([]queuedUpdate{update}, q.pending...)
}

func (q *updateQueue) pop() (queuedUpdate, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if len(q.pending) == 0 {
		return queuedUpdate{}, false
	}
	update := q.pending[0]
	q.pending = q.pending[1:]
	return update, true
}

func (q *updateQueue) len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.pending)
}
