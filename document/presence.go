/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package document

import "github.com/cespare/xxhash"

// Pointer is a pointer/cursor position on the workspace surface.
type Pointer struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Presence is the ephemeral per-user collaboration record. It is overwritten on every
// update, removed on disconnect, and never persisted to the document store.
type Presence struct {
	Pointer   Pointer `json:"pointer"`
	Button    string  `json:"button"`
	Username  string  `json:"username"`
	Color     string  `json:"color"`
	Timestamp int64   `json:"timestamp"`
}

var presencePalette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#fabebe",
	"#008080", "#e6beff", "#9a6324", "#800000", "#aaffc3",
	"#808000",
}

// ColorForUser derives a stable presence color for a user without one assigned.
func ColorForUser(userID string) string {
	return presencePalette[xxhash.Sum64String(userID)%uint64(len(presencePalette))]
}
