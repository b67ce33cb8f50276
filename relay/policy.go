/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package relay

import (
	"errors"
	"time"
)

// ErrLockNotHeld indicates a workspace-update from a connection that does not hold
// the edit lock (legacy edit-lock policy only).
var ErrLockNotHeld = errors.New("edit lock not held by this connection")

// UpdatePolicy decides whether a room member may apply a workspace update. One
// instance exists per room; all calls happen on the room's processing goroutine, so
// implementations need no locking. The lock-free conflict-resolution policy is the
// default; the mutual-exclusion policy exists only for single-writer compatibility.
type UpdatePolicy interface {
	Name() string

	// AuthorizeUpdate is consulted before a workspace update is applied.
	AuthorizeUpdate(connID uint64, userID string) error

	// RequestLock and ReleaseLock implement the explicit lock protocol. Under the
	// lock-free policy, requests are granted unconditionally as a compatibility shim.
	RequestLock(connID uint64, userID string) (granted bool, currentEditor string)
	ReleaseLock(connID uint64) (userID string, released bool)

	// Expire releases the lock after holder inactivity. Returns the former holder.
	Expire(now time.Time) (userID string, released bool)

	// OnDisconnect releases the lock if held by the departing connection.
	OnDisconnect(connID uint64) (userID string, released bool)
}

// lockFreePolicy admits every update; convergence is the replicated document's
// responsibility.
type lockFreePolicy struct{}

func (lockFreePolicy) Name() string { return "lockfree" }

func (lockFreePolicy) AuthorizeUpdate(uint64, string) error { return nil }

func (lockFreePolicy) RequestLock(uint64, string) (bool, string) { return true, "" }

func (lockFreePolicy) ReleaseLock(uint64) (string, bool) { return "", false }

func (lockFreePolicy) Expire(time.Time) (string, bool) { return "", false }

func (lockFreePolicy) OnDisconnect(uint64) (string, bool) { return "", false }

// editLockPolicy grants exclusive write access to one connection at a time,
// auto-released after the configured inactivity timeout.
type editLockPolicy struct {
	timeout      time.Duration
	holderConn   uint64
	holderUser   string
	lastActivity time.Time
	now          func() time.Time
}

func newEditLockPolicy(timeout time.Duration) *editLockPolicy {
	return &editLockPolicy{timeout: timeout, now: time.Now}
}

func (p *editLockPolicy) Name() string { return "editlock" }

func (p *editLockPolicy) AuthorizeUpdate(connID uint64, _ string) error {
	if p.holderConn == 0 || p.holderConn != connID {
		return ErrLockNotHeld
	}
	p.lastActivity = p.now()
	return nil
}

func (p *editLockPolicy) RequestLock(connID uint64, userID string) (bool, string) {
	if p.holderConn != 0 && p.holderConn != connID {
		return false, p.holderUser
	}
	p.holderConn = connID
	p.holderUser = userID
	p.lastActivity = p.now()
	return true, ""
}

func (p *editLockPolicy) ReleaseLock(connID uint64) (string, bool) {
	if p.holderConn == 0 || p.holderConn != connID {
		return "", false
	}
	userID := p.holderUser
	p.clear()
	return userID, true
}

func (p *editLockPolicy) Expire(now time.Time) (string, bool) {
	if p.holderConn == 0 || now.Sub(p.lastActivity) < p.timeout {
		return "", false
	}
	userID := p.holderUser
	p.clear()
	return userID, true
}

func (p *editLockPolicy) OnDisconnect(connID uint64) (string, bool) {
	if p.holderConn == 0 || p.holderConn != connID {
		return "", false
	}
	userID := p.holderUser
	p.clear()
	return userID, true
}

func (p *editLockPolicy) clear() {
	p.holderConn = 0
	p.holderUser = ""
}
