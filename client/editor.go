/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package client

import (
	"errors"

	"github.com/collabd/collabd/crdt"
)

// ErrEditorNotReady indicates the editor cannot accept a remote scene right now.
// The synchronizer keeps the update queued and retries after a short delay.
var ErrEditorNotReady = errors.New("editor not ready")

// Editor is the local application surface the synchronizer keeps in sync with a
// workspace. Elements returns the full local scene including tombstones, since
// remote merge needs deletions to travel too.
type Editor interface {
	Elements() []crdt.Element
	AppState() map[string]interface{}

	// ApplyRemote merges a remote scene into the editor. Implementations return
	// ErrEditorNotReady while initializing; any error leaves the update queued.
	// An editor that surfaces a change notification for the merge must deliver
	// it before ApplyRemote returns, so it is recognized as an echo and not
	// re-sent. Firing no notification at all is also fine.
	ApplyRemote(elements []crdt.Element, appState map[string]*crdt.StateEntry) error
}
