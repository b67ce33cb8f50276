/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package wire

import (
	"encoding/json"
	"errors"

	"github.com/collabd/collabd/crdt"
	"github.com/collabd/collabd/document"
)

// Validation errors for peer payloads.
var (
	ErrNoWorkspace = errors.New("workspace id is required")
	ErrNoUser      = errors.New("user id is required")
	ErrNoElements  = errors.New("elements must be an array")
)

// Welcome is sent to a peer immediately after its connection is accepted. The
// connection ID is the tag peers use to recognize their own reflected traffic.
type Welcome struct {
	ConnID        uint64 `json:"socketId"`
	SchemaVersion int    `json:"schemaVersion"`
}

// JoinWorkspace asks the relay to join this connection to a workspace room.
type JoinWorkspace struct {
	WorkspaceID string `json:"workspaceId"`
	ProjectID   string `json:"projectId,omitempty"`
	UserID      string `json:"userId"`
}

// Validate checks the payload against the protocol contract.
func (p *JoinWorkspace) Validate() error {
	if p.WorkspaceID == "" {
		return ErrNoWorkspace
	}
	if p.UserID == "" {
		return ErrNoUser
	}
	return nil
}

// WorkspaceUpdate carries a peer's local document changes to the relay.
type WorkspaceUpdate struct {
	WorkspaceID string                 `json:"workspaceId"`
	Elements    []crdt.Element         `json:"elements"`
	AppState    map[string]interface{} `json:"appState,omitempty"`
	UserID      string                 `json:"userId"`
	Timestamp   int64                  `json:"timestamp,omitempty"`
}

// Validate checks the payload against the protocol contract.
func (p *WorkspaceUpdate) Validate() error {
	if p.WorkspaceID == "" {
		return ErrNoWorkspace
	}
	if p.UserID == "" {
		return ErrNoUser
	}
	if p.Elements == nil {
		return ErrNoElements
	}
	return nil
}

// WorkspaceState is the full document snapshot sent to a newly joined peer only.
type WorkspaceState struct {
	WorkspaceID   string                       `json:"workspaceId"`
	Elements      []crdt.Element               `json:"elements"`
	AppState      map[string]interface{}       `json:"appState"`
	Presence      map[string]document.Presence `json:"presence,omitempty"`
	SchemaVersion int                          `json:"schemaVersion"`
}

// WorkspaceUpdated is a document update broadcast to every room member except the
// sender, augmented with the relay's timestamp and schema version.
type WorkspaceUpdated struct {
	WorkspaceID   string                 `json:"workspaceId"`
	Elements      []crdt.Element         `json:"elements"`
	AppState      map[string]interface{} `json:"appState,omitempty"`
	UserID        string                 `json:"userId"`
	ConnID        uint64                 `json:"socketId"`
	Timestamp     int64                  `json:"timestamp"`
	SchemaVersion int                    `json:"schemaVersion"`
}

// UpdateConfirmed acknowledges a workspace-update to its sender only.
type UpdateConfirmed struct {
	Timestamp     int64 `json:"timestamp"`
	SchemaVersion int   `json:"schemaVersion"`
}

// UserJoined announces a new room member to the rest of the room.
type UserJoined struct {
	UserID string `json:"userId"`
	ConnID uint64 `json:"socketId"`
}

// UserLeft announces a departed room member to the remaining room.
type UserLeft struct {
	UserID string `json:"userId"`
	ConnID uint64 `json:"socketId"`
}

// PointerUpdate carries a peer's ephemeral pointer state.
type PointerUpdate struct {
	WorkspaceID string           `json:"workspaceId"`
	Pointer     document.Pointer `json:"pointer"`
	Button      string           `json:"button,omitempty"`
	UserID      string           `json:"userId"`
	Username    string           `json:"username,omitempty"`
	Color       string           `json:"color,omitempty"`
	Timestamp   int64            `json:"timestamp,omitempty"`
}

// Validate checks the payload against the protocol contract.
func (p *PointerUpdate) Validate() error {
	if p.WorkspaceID == "" {
		return ErrNoWorkspace
	}
	if p.UserID == "" {
		return ErrNoUser
	}
	return nil
}

// PointerUpdated is a pointer event relayed to the rest of the room, tagged with the
// origin connection so receivers can discard their own echo.
type PointerUpdated struct {
	PointerUpdate
	ConnID uint64 `json:"socketId"`
}

// CursorUpdate carries a peer's ephemeral cursor state.
type CursorUpdate struct {
	WorkspaceID string      `json:"workspaceId"`
	Cursor      interface{} `json:"cursor"`
	UserID      string      `json:"userId"`
}

// Validate checks the payload against the protocol contract.
func (p *CursorUpdate) Validate() error {
	if p.WorkspaceID == "" {
		return ErrNoWorkspace
	}
	if p.UserID == "" {
		return ErrNoUser
	}
	return nil
}

// CursorUpdated is a cursor event relayed to the rest of the room.
type CursorUpdated struct {
	CursorUpdate
	ConnID uint64 `json:"socketId"`
}

// UndoRequest asks the relay to reverse the user's most recent operation.
type UndoRequest struct {
	WorkspaceID string `json:"workspaceId"`
	UserID      string `json:"userId"`
}

// Validate checks the payload against the protocol contract.
func (p *UndoRequest) Validate() error {
	if p.WorkspaceID == "" {
		return ErrNoWorkspace
	}
	if p.UserID == "" {
		return ErrNoUser
	}
	return nil
}

// EditLockGranted confirms an edit-lock grant (legacy policy only).
type EditLockGranted struct {
	WorkspaceID string `json:"workspaceId"`
}

// EditLockDenied reports that another peer holds the edit lock.
type EditLockDenied struct {
	WorkspaceID   string `json:"workspaceId"`
	CurrentEditor string `json:"currentEditor"`
}

// EditLockReleased announces an edit-lock release and why it happened.
type EditLockReleased struct {
	WorkspaceID string `json:"workspaceId"`
	UserID      string `json:"userId,omitempty"`
	Reason      string `json:"reason"`
}

// Notification is an at-least-once user-facing alert delivered to all of a user's
// active connections, independent of any workspace room.
type Notification struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Error reports an authorization or application error to the offending peer. The
// connection stays open.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
