/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package relay

import (
	"time"

	"github.com/collabd/collabd/core"
)

// policyName selects the update policy applied to every workspace room.
var policyName string

// editLockTimeout is the inactivity timeout of the legacy edit lock.
var editLockTimeout time.Duration

// roomGracePeriod is how long an empty room lingers before eviction.
var roomGracePeriod time.Duration

// sendQueueSize is the per-connection outbound frame queue length.
var sendQueueSize int

// Configure configures the relay system.
func Configure() {
	policyName = core.GetConfigStringDefault("relay.policy", "lockfree")
	if policyName != "lockfree" && policyName != "editlock" {
		core.LogFatal("Relay", "Unknown relay.policy \""+policyName+"\" - must be lockfree or editlock")
	}
	editLockTimeout = time.Duration(core.GetConfigIntDefault("relay.edit_lock_timeout_ms", 30000)) * time.Millisecond
	roomGracePeriod = time.Duration(core.GetConfigIntDefault("relay.room_grace_period_ms", 60000)) * time.Millisecond
	sendQueueSize = core.GetConfigIntDefault("relay.send_queue_size", 256)
	initStats()
}

// PolicyFactory returns the configured update policy constructor.
func PolicyFactory() func() UpdatePolicy {
	if policyName == "editlock" {
		return func() UpdatePolicy { return newEditLockPolicy(editLockTimeout) }
	}
	return func() UpdatePolicy { return lockFreePolicy{} }
}
