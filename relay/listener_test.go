/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package relay

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func postNotify(t *testing.T, listener *WebSocketListener, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(http.MethodPost, target, body)
	request = mux.SetURLVars(request, map[string]string{"user": "alice"})
	recorder := httptest.NewRecorder()
	listener.handleNotify(recorder, request)
	return recorder
}

func TestNotifyEndpointValidation(t *testing.T) {
	listener := &WebSocketListener{service: NewService(nil)}

	// The event name is mandatory.
	recorder := postNotify(t, listener, "/notify/alice", nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	// A malformed body is rejected rather than silently dropped.
	recorder = postNotify(t, listener, "/notify/alice?event=ping", strings.NewReader("{not json"))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	// An empty body is a notification without data.
	recorder = postNotify(t, listener, "/notify/alice?event=ping", nil)
	assert.Equal(t, http.StatusAccepted, recorder.Code)

	recorder = postNotify(t, listener, "/notify/alice?event=ping", strings.NewReader(`{"k":"v"}`))
	assert.Equal(t, http.StatusAccepted, recorder.Code)
}
