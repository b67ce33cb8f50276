/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package crdt

import (
	"sort"
	"sync"
)

// Collection identifies one of the store's three observable collections.
type Collection int

// Observable collections.
const (
	CollectionElements Collection = iota
	CollectionAppState
	CollectionOperations
)

func (c Collection) String() string {
	switch c {
	case CollectionElements:
		return "elements"
	case CollectionAppState:
		return "appState"
	case CollectionOperations:
		return "operations"
	}
	return "unknown"
}

// Store is an in-process conflict-free replicated document: an element map, a
// view-state map, and an append-only operation log. All mutation happens through
// Transact, which applies a batch atomically and notifies each affected collection's
// observers exactly once, regardless of how many mutations touched it.
//
// Deleted elements are retained as tombstones so that a delete racing an update
// resolves deterministically under last-write-wins instead of resurrecting the
// element.
type Store struct {
	mutex     sync.RWMutex
	elements  map[string]*Element
	appState  map[string]*StateEntry
	ops       []Operation
	observers map[Collection][]func()
}

// NewStore creates an empty replicated document store.
func NewStore() *Store {
	return &Store{
		elements:  make(map[string]*Element),
		appState:  make(map[string]*StateEntry),
		ops:       make([]Operation, 0),
		observers: make(map[Collection][]func()),
	}
}

// OnChange registers an observer invoked once per transaction that affected the
// given collection.
func (s *Store) OnChange(collection Collection, fn func()) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.observers[collection] = append(s.observers[collection], fn)
}

// Txn is a mutation batch applied atomically by Transact.
type Txn struct {
	store    *Store
	affected map[Collection]bool
}

// Transact applies the supplied mutation batch atomically. Observers of each affected
// collection fire exactly once, after the batch commits.
func (s *Store) Transact(mutate func(tx *Txn)) {
	tx := &Txn{store: s, affected: make(map[Collection]bool)}

	s.mutex.Lock()
	mutate(tx)
	notify := make([]func(), 0)
	for collection := range tx.affected {
		notify = append(notify, s.observers[collection]...)
	}
	s.mutex.Unlock()

	for _, fn := range notify {
		fn()
	}
}

// PutElement merges an element into the element map under last-write-wins. Returns
// whether the element was stored (false when the existing entry wins the conflict).
func (tx *Txn) PutElement(element Element) bool {
	existing, ok := tx.store.elements[element.ID]
	if ok && !Supersedes(&element, existing) {
		return false
	}
	if ok && element.CreatedAt == 0 {
		element.CreatedBy = existing.CreatedBy
		element.CreatedAt = existing.CreatedAt
	}
	clone := element.Clone()
	tx.store.elements[element.ID] = &clone
	tx.affected[CollectionElements] = true
	return true
}

// DeleteElement writes a tombstone for the element under last-write-wins. Returns
// false when the element does not exist or a later write already won.
func (tx *Txn) DeleteElement(id string, userID string, timestamp int64, version uint64) bool {
	existing, ok := tx.store.elements[id]
	if !ok {
		return false
	}
	tombstone := Element{
		ID:        id,
		CreatedBy: existing.CreatedBy,
		CreatedAt: existing.CreatedAt,
		UpdatedBy: userID,
		UpdatedAt: timestamp,
		Version:   version,
		Deleted:   true,
	}
	if !Supersedes(&tombstone, existing) {
		return false
	}
	tx.store.elements[id] = &tombstone
	tx.affected[CollectionElements] = true
	return true
}

// SetAppState merges a single view-state property under field-level last-write-wins.
func (tx *Txn) SetAppState(key string, value interface{}, userID string, timestamp int64) bool {
	entry := &StateEntry{Value: value, UpdatedBy: userID, UpdatedAt: timestamp}
	if existing, ok := tx.store.appState[key]; ok && !entry.supersedes(existing) {
		return false
	}
	tx.store.appState[key] = entry
	tx.affected[CollectionAppState] = true
	return true
}

// AppendOp appends an entry to the operation log.
func (tx *Txn) AppendOp(op Operation) {
	tx.store.ops = append(tx.store.ops, op)
	tx.affected[CollectionOperations] = true
}

// GetElement returns the live element with the given ID, if present.
func (tx *Txn) GetElement(id string) (Element, bool) {
	element, ok := tx.store.elements[id]
	if !ok || element.Deleted {
		return Element{}, false
	}
	return element.Clone(), true
}

// Elements returns all live elements, ordered by ID for determinism.
func (s *Store) Elements() []Element {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	elements := make([]Element, 0, len(s.elements))
	for _, element := range s.elements {
		if element.Deleted {
			continue
		}
		elements = append(elements, element.Clone())
	}
	sort.Slice(elements, func(i, j int) bool { return elements[i].ID < elements[j].ID })
	return elements
}

// GetElement returns the live element with the given ID, if present.
func (s *Store) GetElement(id string) (Element, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	element, ok := s.elements[id]
	if !ok || element.Deleted {
		return Element{}, false
	}
	return element.Clone(), true
}

// AppState returns the current view-state property values.
func (s *Store) AppState() map[string]interface{} {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	state := make(map[string]interface{}, len(s.appState))
	for key, entry := range s.appState {
		state[key] = entry.Value
	}
	return state
}

// Operations returns a copy of the operation log.
func (s *Store) Operations() []Operation {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	ops := make([]Operation, len(s.ops))
	copy(ops, s.ops)
	return ops
}

// OpCount returns the current length of the operation log.
func (s *Store) OpCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.ops)
}

// CompactOps trims the operation log to at most limit entries by discarding the
// oldest half once the limit is exceeded. The trimmed history is assumed to be
// captured by a prior snapshot export. Returns the number of entries discarded.
func (s *Store) CompactOps(limit int) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if limit <= 0 || len(s.ops) <= limit {
		return 0
	}
	discard := len(s.ops) / 2
	remaining := make([]Operation, len(s.ops)-discard)
	copy(remaining, s.ops[discard:])
	s.ops = remaining
	return discard
}
