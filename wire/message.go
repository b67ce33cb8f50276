/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

// Package wire defines the messages exchanged between the relay service and its
// peers over a persistent connection. Payloads are explicit versioned structs; the
// SchemaVersion tag on outbound document updates lets receivers detect future shape
// changes and degrade gracefully instead of dropping them.
package wire

import (
	"encoding/json"
	"errors"
)

// SchemaVersion is the current version of the workspace-update payload shape.
const SchemaVersion = 1

// Message types sent by peers.
const (
	MsgJoinWorkspace   = "join-workspace"
	MsgWorkspaceUpdate = "workspace-update"
	MsgPointerUpdate   = "pointer-update"
	MsgCursorUpdate    = "cursor-update"
	MsgRequestEditLock = "request-edit-lock"
	MsgReleaseEditLock = "release-edit-lock"
	MsgUndo            = "undo"
)

// Message types sent by the relay.
const (
	MsgWelcome          = "welcome"
	MsgWorkspaceState   = "workspace-state"
	MsgWorkspaceUpdated = "workspace-updated"
	MsgUpdateConfirmed  = "update-confirmed"
	MsgUserJoined       = "user-joined"
	MsgUserLeft         = "user-left"
	MsgPointerUpdated   = "pointer-updated"
	MsgCursorUpdated    = "cursor-updated"
	MsgEditLockGranted  = "edit-lock-granted"
	MsgEditLockDenied   = "edit-lock-denied"
	MsgEditLockReleased = "edit-lock-released"
	MsgNotification     = "notification"
	MsgError            = "error"
)

// Edit-lock release reasons.
const (
	LockReleaseManual     = "manual"
	LockReleaseTimeout    = "timeout"
	LockReleaseDisconnect = "disconnect"
)

// Error codes surfaced to peers.
const (
	ErrCodeNotJoined   = "not-joined"
	ErrCodeMalformed   = "malformed"
	ErrCodeLockNotHeld = "lock-not-held"
	ErrCodeUndo        = "undo-unavailable"
	ErrCodeInternal    = "internal"
)

// Envelope wraps every message on the wire.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrEmptyType indicates an envelope without a message type.
var ErrEmptyType = errors.New("message has no type")

// Encode builds a wire frame from a message type and payload.
func Encode(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&Envelope{Type: msgType, Payload: raw})
}

// Decode parses a wire frame into an envelope.
func Decode(frame []byte) (*Envelope, error) {
	envelope := new(Envelope)
	if err := json.Unmarshal(frame, envelope); err != nil {
		return nil, err
	}
	if envelope.Type == "" {
		return nil, ErrEmptyType
	}
	return envelope, nil
}

// DecodePayload parses the envelope payload into the given struct.
func (e *Envelope) DecodePayload(out interface{}) error {
	if len(e.Payload) == 0 {
		return errors.New("message has no payload")
	}
	return json.Unmarshal(e.Payload, out)
}
