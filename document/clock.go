/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package document

// versionVector tracks the highest logical clock value seen per user. It is advisory,
// used for local ordering; conflict resolution itself relies on the store's
// last-write-wins metadata.
type versionVector map[string]uint64

// tick increments and returns the clock value for the given user.
func (v versionVector) tick(userID string) uint64 {
	v[userID]++
	return v[userID]
}

// observe folds in a clock value seen from a remote update.
func (v versionVector) observe(userID string, version uint64) {
	if version > v[userID] {
		v[userID] = version
	}
}

// snapshot returns a copy of the vector.
func (v versionVector) snapshot() map[string]uint64 {
	out := make(map[string]uint64, len(v))
	for userID, version := range v {
		out[userID] = version
	}
	return out
}
