/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package relay

import (
	"errors"
	"net/http"
)

// ErrNoIdentity indicates the request carried no usable user identity.
var ErrNoIdentity = errors.New("no user identity in request")

// IdentityProvider resolves the authenticated user behind an incoming HTTP
// request before it is upgraded to a websocket.
type IdentityProvider interface {
	UserID(request *http.Request) (string, error)
}

// QueryIdentity reads the user ID from a URL query parameter. It is the default
// provider; deployments that terminate real authentication upstream replace it
// with one that reads the proxy-injected header instead.
type QueryIdentity struct {
	Param string
}

func (q QueryIdentity) UserID(request *http.Request) (string, error) {
	param := q.Param
	if param == "" {
		param = "user"
	}
	userID := request.URL.Query().Get(param)
	if userID == "" {
		return "", ErrNoIdentity
	}
	return userID, nil
}

// HeaderIdentity reads the user ID from a request header set by an
// authenticating reverse proxy.
type HeaderIdentity struct {
	Header string
}

func (h HeaderIdentity) UserID(request *http.Request) (string, error) {
	userID := request.Header.Get(h.Header)
	if userID == "" {
		return "", ErrNoIdentity
	}
	return userID, nil
}
