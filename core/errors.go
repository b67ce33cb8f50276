/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package core

import "errors"

// Error definitions
var (
	ErrNotJoined       = errors.New("connection has not joined the workspace")
	ErrMalformed       = errors.New("malformed payload")
	ErrWorkspaceClosed = errors.New("workspace room has shut down")
)
