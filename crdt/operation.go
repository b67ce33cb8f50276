/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package crdt

// OpType identifies the kind of an operation log entry.
type OpType string

// Operation types.
const (
	OpCreateElement  OpType = "CREATE_ELEMENT"
	OpUpdateElement  OpType = "UPDATE_ELEMENT"
	OpDeleteElement  OpType = "DELETE_ELEMENT"
	OpBatchUpdate    OpType = "BATCH_UPDATE"
	OpUpdateAppState OpType = "UPDATE_APPSTATE"
	OpUndo           OpType = "UNDO"
)

// Operation is an immutable entry in the append-only operation log. Entries are never
// rewritten, only appended.
type Operation struct {
	Type      OpType                 `json:"type"`
	ElementID string                 `json:"elementId,omitempty"`
	Changes   map[string]interface{} `json:"changes,omitempty"`
	UserID    string                 `json:"userId"`
	Timestamp int64                  `json:"timestamp"`
	Version   uint64                 `json:"version"`
}
