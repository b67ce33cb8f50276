/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package relay

import (
	"github.com/cornelk/hashmap"
)

// Stat counter keys.
const (
	StatJoins           = "relay.joins"
	StatDisconnects     = "relay.disconnects"
	StatUpdatesReceived = "relay.updates_received"
	StatFramesRelayed   = "relay.frames_relayed"
	StatPointerEvents   = "relay.pointer_events"
	StatPersistFailures = "relay.persist_failures"
	StatErrorsSent      = "relay.errors_sent"
	StatBridgeFramesIn  = "relay.bridge_frames_in"
)

var statKeys = []string{
	StatJoins,
	StatDisconnects,
	StatUpdatesReceived,
	StatFramesRelayed,
	StatPointerEvents,
	StatPersistFailures,
	StatErrorsSent,
	StatBridgeFramesIn,
}

// stats contains the global relay counter table.
var stats = &hashmap.HashMap{}

// initStats resets all counters, so a reconfigured daemon starts from zero.
func initStats() {
	stats = &hashmap.HashMap{}
}

// GetStat returns the counter value at the specified key, or zero if unset.
func GetStat(key string) int64 {
	value, isOk := stats.GetStringKey(key)
	if !isOk {
		return 0
	}
	return value.(int64)
}

// setStat atomically sets the value of the specified counter only if it is equal to
// the expected value, returning whether the operation was successful.
func setStat(key string, expected interface{}, value interface{}) bool {
	return stats.Cas(key, expected, value)
}

// AddToStat adds the specified value to the given counter, setting as value if
// uninitialized.
func AddToStat(key string, value int64) {
	wasSet := false
	for !wasSet {
		expected, isOk := stats.GetStringKey(key)
		if isOk {
			wasSet = setStat(key, expected, expected.(int64)+value)
		} else {
			_, wasSet = stats.GetOrInsert(key, value)
			// We need to flip this because it returns false if set
			wasSet = !wasSet
		}
	}
}

// StatsSnapshot returns the current value of every relay counter.
func StatsSnapshot() map[string]int64 {
	snapshot := make(map[string]int64, len(statKeys))
	for _, key := range statKeys {
		snapshot[key] = GetStat(key)
	}
	return snapshot
}
