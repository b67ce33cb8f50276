/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package relay

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/collabd/collabd/core"
)

// WebSocketListenerConfig contains WebSocketListener configuration.
type WebSocketListenerConfig struct {
	Bind       string
	Port       uint16
	TLSEnabled bool
	TLSCert    string
	TLSKey     string
}

// WebSocketListener listens for incoming WebSocket connections and hands them to
// the relay service. It also serves the health and stats endpoints.
type WebSocketListener struct {
	server   http.Server
	upgrader websocket.Upgrader
	service  *Service
	identity IdentityProvider
	localURI *url.URL
}

func (cfg WebSocketListenerConfig) URL() *url.URL {
	addr := net.JoinHostPort(cfg.Bind, strconv.FormatUint(uint64(cfg.Port), 10))
	u := &url.URL{
		Scheme: "ws",
		Host:   addr,
	}
	if cfg.TLSEnabled {
		u.Scheme = "wss"
	}
	return u
}

func (cfg WebSocketListenerConfig) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "WebSocket listener at %s", cfg.URL())
	if cfg.TLSEnabled {
		fmt.Fprintf(&b, " with TLS cert %s and key %s", cfg.TLSCert, cfg.TLSKey)
	}
	return b.String()
}

func NewWebSocketListener(cfg WebSocketListenerConfig, service *Service, identity IdentityProvider) (*WebSocketListener, error) {
	localURI := cfg.URL()
	ret := &WebSocketListener{
		server: http.Server{Addr: localURI.Host},
		upgrader: websocket.Upgrader{
			WriteBufferPool: &sync.Pool{},
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		service:  service,
		identity: identity,
		localURI: localURI,
	}
	if cfg.TLSEnabled {
		cert, e := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if e != nil {
			return nil, fmt.Errorf("tls.LoadX509KeyPair(%s %s): %w", cfg.TLSCert, cfg.TLSKey, e)
		}
		ret.server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		localURI.Scheme = "wss"
	}
	return ret, nil
}

func (l *WebSocketListener) String() string {
	return "WebSocketListener, " + l.localURI.String()
}

func (l *WebSocketListener) Run() {
	router := mux.NewRouter()
	router.HandleFunc("/ws", l.handleWebSocket)
	router.HandleFunc("/healthz", l.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/stats", l.handleStats).Methods(http.MethodGet)
	router.HandleFunc("/notify/{user}", l.handleNotify).Methods(http.MethodPost)
	l.server.Handler = router

	var err error
	if l.server.TLSConfig == nil {
		err = l.server.ListenAndServe()
	} else {
		err = l.server.ListenAndServeTLS("", "")
	}
	if !errors.Is(err, http.ErrServerClosed) {
		core.LogFatal(l, "Unable to start listener: ", err)
	}
}

func (l *WebSocketListener) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := ""
	if l.identity != nil {
		var err error
		userID, err = l.identity.UserID(r)
		if err != nil {
			core.LogDebug(l, "Rejected connection from ", r.RemoteAddr, ": ", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	l.service.Accept(ws, userID)
}

func (l *WebSocketListener) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func (l *WebSocketListener) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := struct {
		Version  string           `json:"version"`
		UptimeMS int64            `json:"uptimeMs"`
		Rooms    int              `json:"rooms"`
		Counters map[string]int64 `json:"counters"`
	}{
		Version:  core.Version,
		UptimeMS: time.Since(core.StartTimestamp).Milliseconds(),
		Rooms:    l.service.Rooms().Count(),
		Counters: StatsSnapshot(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(&stats); err != nil {
		core.LogWarn(l, "Unable to encode stats: ", err)
	}
}

// handleNotify pushes an out-of-band event to all of a user's connections. Meant
// for trusted callers behind the deployment boundary (job runners, admin tooling),
// like the stats endpoint.
func (l *WebSocketListener) handleNotify(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user"]
	event := r.URL.Query().Get("event")
	if event == "" {
		http.Error(w, "event is required", http.StatusBadRequest)
		return
	}

	// An absent body is a notification without data; a malformed one is rejected.
	var data interface{}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "malformed body", http.StatusBadRequest)
			return
		}
	}

	if err := l.service.Notify(userID, event, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (l *WebSocketListener) Close() {
	core.LogInfo(l, "Stopping listener")
	l.server.Shutdown(context.TODO())
}
