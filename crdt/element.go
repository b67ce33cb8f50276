/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package crdt

// Element is a single entry in a workspace document, keyed by its ID. Conflicting
// writes to the same element are resolved whole-value by last-write-wins.
type Element struct {
	ID        string                 `json:"id"`
	Data      map[string]interface{} `json:"data"`
	CreatedBy string                 `json:"createdBy"`
	CreatedAt int64                  `json:"createdAt"`
	UpdatedBy string                 `json:"updatedBy"`
	UpdatedAt int64                  `json:"updatedAt"`
	Version   uint64                 `json:"version"`
	Deleted   bool                   `json:"deleted,omitempty"`
}

// Clone returns a deep copy of the element.
func (e *Element) Clone() Element {
	clone := *e
	if e.Data != nil {
		clone.Data = make(map[string]interface{}, len(e.Data))
		for k, v := range e.Data {
			clone.Data[k] = v
		}
	}
	return clone
}

// Supersedes returns whether incoming wins a conflict against existing under the
// last-write-wins policy: the later update timestamp wins, and on an exact timestamp
// collision the greater author ID wins.
func Supersedes(incoming *Element, existing *Element) bool {
	if incoming.UpdatedAt != existing.UpdatedAt {
		return incoming.UpdatedAt > existing.UpdatedAt
	}
	return incoming.UpdatedBy > existing.UpdatedBy
}

// StateEntry is a single view-state property. View-state conflicts are resolved
// field-by-field rather than wholesale, so unrelated concurrent edits do not clobber
// each other.
type StateEntry struct {
	Value     interface{} `json:"value"`
	UpdatedBy string      `json:"updatedBy"`
	UpdatedAt int64       `json:"updatedAt"`
}

func (in *StateEntry) supersedes(existing *StateEntry) bool {
	if in.UpdatedAt != existing.UpdatedAt {
		return in.UpdatedAt > existing.UpdatedAt
	}
	return in.UpdatedBy > existing.UpdatedBy
}
