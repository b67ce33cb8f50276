/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package crdt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/collabd/collabd/crdt"
)

func TestSnapshotCarriesTombstones(t *testing.T) {
	store := crdt.NewStore()
	store.Transact(func(tx *crdt.Txn) {
		tx.PutElement(makeElement("el1", "keep", "alice", 100))
		tx.PutElement(makeElement("el2", "drop", "alice", 100))
		tx.DeleteElement("el2", "alice", 200, 2)
		tx.SetAppState("theme", "dark", "alice", 100)
		tx.AppendOp(crdt.Operation{Type: crdt.OpCreateElement, ElementID: "el1", UserID: "alice", Timestamp: 100})
	})

	snapshot := store.Export()
	assert.Equal(t, crdt.SnapshotSchemaVersion, snapshot.SchemaVersion)
	// Both the live element and the tombstone travel with the snapshot, so a
	// replica seeded from it cannot resurrect el2.
	assert.Len(t, snapshot.Elements, 2)

	encoded, err := snapshot.Encode()
	assert.NoError(t, err)
	decoded, err := crdt.DecodeSnapshot(encoded)
	assert.NoError(t, err)

	replica := crdt.NewStore()
	replica.Import(decoded)

	assert.Len(t, replica.Elements(), 1)
	_, ok := replica.GetElement("el2")
	assert.False(t, ok)
	assert.Equal(t, "dark", replica.AppState()["theme"])
	assert.Equal(t, 1, replica.OpCount())

	// The stale delete-vs-update race resolves the same way on the replica.
	replica.Transact(func(tx *crdt.Txn) {
		assert.False(t, tx.PutElement(makeElement("el2", "resurrect", "alice", 150)))
	})
}

func TestImportReplacesState(t *testing.T) {
	store := crdt.NewStore()
	store.Transact(func(tx *crdt.Txn) {
		tx.PutElement(makeElement("stale", "old", "alice", 100))
	})

	events := 0
	store.OnChange(crdt.CollectionElements, func() { events++ })

	fresh := crdt.NewStore()
	fresh.Transact(func(tx *crdt.Txn) {
		tx.PutElement(makeElement("el1", "new", "bob", 200))
	})
	store.Import(fresh.Export())

	assert.Equal(t, 1, events)
	_, ok := store.GetElement("stale")
	assert.False(t, ok)
	_, ok = store.GetElement("el1")
	assert.True(t, ok)
}

func TestDecodeSnapshotRejectsGarbage(t *testing.T) {
	_, err := crdt.DecodeSnapshot([]byte("not json"))
	assert.Error(t, err)
}
