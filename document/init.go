/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package document

import "github.com/collabd/collabd/core"

// opLogLimit is the maximum operation log length before the oldest half is compacted
// away. The compacted history remains captured by the workspace snapshot.
var opLogLimit int

// Configure configures the document system.
func Configure() {
	opLogLimit = core.GetConfigIntDefault("document.oplog_limit", 4096)
}
