/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockFreePolicyAdmitsEverything(t *testing.T) {
	policy := lockFreePolicy{}
	assert.NoError(t, policy.AuthorizeUpdate(1, "alice"))
	assert.NoError(t, policy.AuthorizeUpdate(2, "bob"))

	// Lock requests are granted as a compatibility shim.
	granted, _ := policy.RequestLock(1, "alice")
	assert.True(t, granted)
	granted, _ = policy.RequestLock(2, "bob")
	assert.True(t, granted)

	_, released := policy.Expire(time.Now())
	assert.False(t, released)
}

func TestEditLockLifecycle(t *testing.T) {
	clock := time.Unix(1000, 0)
	policy := newEditLockPolicy(30 * time.Second)
	policy.now = func() time.Time { return clock }

	// No holder yet: updates are rejected.
	assert.ErrorIs(t, policy.AuthorizeUpdate(1, "alice"), ErrLockNotHeld)

	granted, _ := policy.RequestLock(1, "alice")
	assert.True(t, granted)
	assert.NoError(t, policy.AuthorizeUpdate(1, "alice"))
	assert.ErrorIs(t, policy.AuthorizeUpdate(2, "bob"), ErrLockNotHeld)

	// Re-request by the holder is idempotent; another peer is told who holds it.
	granted, _ = policy.RequestLock(1, "alice")
	assert.True(t, granted)
	granted, currentEditor := policy.RequestLock(2, "bob")
	assert.False(t, granted)
	assert.Equal(t, "alice", currentEditor)

	// Only the holder can release.
	_, released := policy.ReleaseLock(2)
	assert.False(t, released)
	userID, released := policy.ReleaseLock(1)
	assert.True(t, released)
	assert.Equal(t, "alice", userID)

	granted, _ = policy.RequestLock(2, "bob")
	assert.True(t, granted)
}

func TestEditLockExpiresAfterInactivity(t *testing.T) {
	clock := time.Unix(1000, 0)
	policy := newEditLockPolicy(30 * time.Second)
	policy.now = func() time.Time { return clock }

	policy.RequestLock(1, "alice")

	_, released := policy.Expire(clock.Add(29 * time.Second))
	assert.False(t, released)

	// Authorized updates count as activity and push the deadline out.
	clock = clock.Add(20 * time.Second)
	assert.NoError(t, policy.AuthorizeUpdate(1, "alice"))
	_, released = policy.Expire(clock.Add(29 * time.Second))
	assert.False(t, released)

	userID, released := policy.Expire(clock.Add(31 * time.Second))
	assert.True(t, released)
	assert.Equal(t, "alice", userID)
	assert.ErrorIs(t, policy.AuthorizeUpdate(1, "alice"), ErrLockNotHeld)
}

func TestEditLockReleasedOnDisconnect(t *testing.T) {
	policy := newEditLockPolicy(30 * time.Second)
	policy.RequestLock(1, "alice")

	_, released := policy.OnDisconnect(2)
	assert.False(t, released)

	userID, released := policy.OnDisconnect(1)
	assert.True(t, released)
	assert.Equal(t, "alice", userID)

	granted, _ := policy.RequestLock(2, "bob")
	assert.True(t, granted)
}
