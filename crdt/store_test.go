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

func makeElement(id string, data string, user string, ts int64) crdt.Element {
	return crdt.Element{
		ID:        id,
		Data:      map[string]interface{}{"text": data},
		CreatedBy: user,
		CreatedAt: ts,
		UpdatedBy: user,
		UpdatedAt: ts,
		Version:   1,
	}
}

func TestLastWriterWins(t *testing.T) {
	store := crdt.NewStore()

	older := makeElement("el1", "old", "alice", 100)
	newer := makeElement("el1", "new", "bob", 200)

	store.Transact(func(tx *crdt.Txn) {
		assert.True(t, tx.PutElement(older))
		assert.True(t, tx.PutElement(newer))
	})

	got, ok := store.GetElement("el1")
	assert.True(t, ok)
	assert.Equal(t, "new", got.Data["text"])

	// The older write is a no-op no matter when it arrives.
	store.Transact(func(tx *crdt.Txn) {
		assert.False(t, tx.PutElement(older))
	})
	got, _ = store.GetElement("el1")
	assert.Equal(t, "new", got.Data["text"])
}

func TestConvergenceOrderIndependent(t *testing.T) {
	a := makeElement("el1", "from-alice", "alice", 100)
	b := makeElement("el1", "from-bob", "bob", 150)

	first := crdt.NewStore()
	first.Transact(func(tx *crdt.Txn) {
		tx.PutElement(a)
		tx.PutElement(b)
	})

	second := crdt.NewStore()
	second.Transact(func(tx *crdt.Txn) {
		tx.PutElement(b)
		tx.PutElement(a)
	})

	gotFirst, _ := first.GetElement("el1")
	gotSecond, _ := second.GetElement("el1")
	assert.Equal(t, gotFirst.Data, gotSecond.Data)
	assert.Equal(t, "from-bob", gotFirst.Data["text"])
}

func TestTimestampTieBreaksOnAuthor(t *testing.T) {
	a := makeElement("el1", "from-alice", "alice", 100)
	b := makeElement("el1", "from-bob", "bob", 100)

	store := crdt.NewStore()
	store.Transact(func(tx *crdt.Txn) {
		tx.PutElement(a)
		tx.PutElement(b)
	})

	reversed := crdt.NewStore()
	reversed.Transact(func(tx *crdt.Txn) {
		tx.PutElement(b)
		tx.PutElement(a)
	})

	// "bob" > "alice", so bob wins the exact tie on both replicas.
	got, _ := store.GetElement("el1")
	assert.Equal(t, "from-bob", got.Data["text"])
	got, _ = reversed.GetElement("el1")
	assert.Equal(t, "from-bob", got.Data["text"])
}

func TestDeleteLeavesTombstone(t *testing.T) {
	store := crdt.NewStore()
	store.Transact(func(tx *crdt.Txn) {
		tx.PutElement(makeElement("el1", "text", "alice", 100))
		assert.True(t, tx.DeleteElement("el1", "bob", 200, 2))
	})

	// Deleted elements stay out of reads but remain as tombstones.
	_, ok := store.GetElement("el1")
	assert.False(t, ok)
	assert.Empty(t, store.Elements())

	// A concurrent update older than the delete loses to the tombstone.
	store.Transact(func(tx *crdt.Txn) {
		assert.False(t, tx.PutElement(makeElement("el1", "resurrect", "alice", 150)))
	})
	_, ok = store.GetElement("el1")
	assert.False(t, ok)

	// An update newer than the delete wins and revives the element.
	store.Transact(func(tx *crdt.Txn) {
		assert.True(t, tx.PutElement(makeElement("el1", "revived", "alice", 300)))
	})
	got, ok := store.GetElement("el1")
	assert.True(t, ok)
	assert.Equal(t, "revived", got.Data["text"])
}

func TestAppStateFieldLevelMerge(t *testing.T) {
	store := crdt.NewStore()
	store.Transact(func(tx *crdt.Txn) {
		assert.True(t, tx.SetAppState("theme", "dark", "alice", 100))
		assert.True(t, tx.SetAppState("zoom", 2, "alice", 100))
		// Older write to one field loses, the other field is untouched.
		assert.False(t, tx.SetAppState("theme", "light", "bob", 50))
	})

	state := store.AppState()
	assert.Equal(t, "dark", state["theme"])
	assert.Equal(t, 2, state["zoom"])
}

func TestTransactNotifiesOncePerCollection(t *testing.T) {
	store := crdt.NewStore()

	elementEvents := 0
	stateEvents := 0
	opEvents := 0
	store.OnChange(crdt.CollectionElements, func() { elementEvents++ })
	store.OnChange(crdt.CollectionAppState, func() { stateEvents++ })
	store.OnChange(crdt.CollectionOperations, func() { opEvents++ })

	store.Transact(func(tx *crdt.Txn) {
		tx.PutElement(makeElement("el1", "a", "alice", 100))
		tx.PutElement(makeElement("el2", "b", "alice", 101))
		tx.AppendOp(crdt.Operation{Type: crdt.OpCreateElement, ElementID: "el1", UserID: "alice", Timestamp: 100})
	})

	assert.Equal(t, 1, elementEvents)
	assert.Equal(t, 0, stateEvents)
	assert.Equal(t, 1, opEvents)

	// A transaction that changes nothing fires nothing.
	store.Transact(func(tx *crdt.Txn) {
		tx.PutElement(makeElement("el1", "stale", "alice", 50))
	})
	assert.Equal(t, 1, elementEvents)
}

func TestCompactOps(t *testing.T) {
	store := crdt.NewStore()
	store.Transact(func(tx *crdt.Txn) {
		for i := 0; i < 10; i++ {
			tx.AppendOp(crdt.Operation{Type: crdt.OpUpdateElement, ElementID: "el1", UserID: "alice", Timestamp: int64(i)})
		}
	})

	assert.Equal(t, 0, store.CompactOps(10))
	assert.Equal(t, 10, store.OpCount())

	discarded := store.CompactOps(8)
	assert.Greater(t, discarded, 0)
	assert.LessOrEqual(t, store.OpCount(), 8)

	// The newest operations survive compaction.
	ops := store.Operations()
	assert.Equal(t, int64(9), ops[len(ops)-1].Timestamp)
}
