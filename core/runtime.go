/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package core

import "time"

// Version of collabd.
var Version string

// BuildTime contains the timestamp of when this version of collabd was built.
var BuildTime string

// StartTimestamp is the time the daemon was started.
var StartTimestamp time.Time

// ShouldQuit indicates whether all long-running threads should quit.
var ShouldQuit bool
