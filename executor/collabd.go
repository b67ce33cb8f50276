/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package executor

import (
	"time"

	"github.com/collabd/collabd/core"
	"github.com/collabd/collabd/document"
	"github.com/collabd/collabd/notify"
	"github.com/collabd/collabd/relay"
	"github.com/collabd/collabd/storage"
)

// CollabdConfig is the configuration of the collabd daemon.
type CollabdConfig struct {
	Version        string
	ConfigFileName string
	LogFile        string
	CpuProfile     string
	MemProfile     string
	BlockProfile   string
}

// Collabd is the wrapper class for the collaborative workspace daemon.
// Note: only one instance of this class should be created.
type Collabd struct {
	config   *CollabdConfig
	profiler *Profiler

	store    storage.Store
	bridge   notify.Bridge
	rooms    *relay.RoomTable
	service  *relay.Service
	listener *relay.WebSocketListener
}

// NewCollabd creates a Collabd. Don't call this function twice.
func NewCollabd(config *CollabdConfig) *Collabd {
	// Provide metadata to other threads.
	core.Version = config.Version
	core.StartTimestamp = time.Now()

	// Initialize config file
	core.LoadConfig(config.ConfigFileName)
	core.InitializeLogger(config.LogFile)
	document.Configure()
	relay.Configure()

	c := &Collabd{config: config}
	c.profiler = NewProfiler(config)
	if err := c.profiler.Start(); err != nil {
		core.LogFatal("Main", "Unable to start profiler: ", err)
	}
	return c
}

// Start runs collabd. Note: this function may exit the program when there is error.
// This function is non-blocking.
func (c *Collabd) Start() {
	core.LogInfo("Main", "Starting collabd")

	// Snapshot store
	backend := core.GetConfigStringDefault("storage.backend", "memory")
	switch backend {
	case "memory":
		c.store = storage.NewMemoryStore()
	case "sqlite":
		path := core.GetConfigStringDefault("storage.sqlite.path", "collabd.db")
		store, err := storage.NewSQLiteStore(path)
		if err != nil {
			core.LogFatal("Main", "Unable to open sqlite store at ", path, ": ", err)
		}
		c.store = store
	default:
		core.LogFatal("Main", "Unknown storage backend \"", backend, "\"")
	}
	core.LogInfo("Main", "Using ", backend, " snapshot store")

	// Cross-instance bridge
	if core.GetConfigBoolDefault("bridge.redis.enabled", false) {
		addr := core.GetConfigStringDefault("bridge.redis.address", "localhost:6379")
		bridge, err := notify.NewRedisBridge(addr, func(workspaceID string, frame []byte) {
			if c.rooms != nil {
				c.rooms.DeliverRemote(workspaceID, frame)
			}
		})
		if err != nil {
			core.LogFatal("Main", "Unable to connect to redis at ", addr, ": ", err)
		}
		c.bridge = bridge
		core.LogInfo("Main", "Bridging workspace traffic via redis at ", addr)
	}

	// Workspace rooms and relay service
	c.rooms = relay.NewRoomTable(c.store, c.bridge, relay.PolicyFactory())
	go c.rooms.RunJanitor()
	c.service = relay.NewService(c.rooms)

	// WebSocket listener
	listenerConfig := relay.WebSocketListenerConfig{
		Bind:       core.GetConfigStringDefault("relay.websocket.bind", ""),
		Port:       core.GetConfigUint16Default("relay.websocket.port", 8787),
		TLSEnabled: core.GetConfigBoolDefault("relay.websocket.tls_enabled", false),
		TLSCert:    core.GetConfigStringDefault("relay.websocket.tls_cert", ""),
		TLSKey:     core.GetConfigStringDefault("relay.websocket.tls_key", ""),
	}

	identity := relay.QueryIdentity{Param: core.GetConfigStringDefault("relay.identity_param", "user")}
	listener, err := relay.NewWebSocketListener(listenerConfig, c.service, identity)
	if err != nil {
		core.LogFatal("Main", "Unable to create listener: ", err)
	}
	c.listener = listener
	core.LogInfo("Main", listenerConfig.String())
	go listener.Run()
}

// Stop shuts down collabd.
func (c *Collabd) Stop() {
	core.LogInfo("Main", "Forwarding shutdown signal to all threads")

	if c.listener != nil {
		c.listener.Close()
	}

	// Stop all connections so no new events reach the rooms.
	for _, conn := range c.service.Conns().GetAll() {
		conn.Close()
	}

	// Stop rooms; each persists its workspace on the way out.
	c.rooms.Shutdown()

	if c.bridge != nil {
		c.bridge.Close()
	}
	if err := c.store.Close(); err != nil {
		core.LogWarn("Main", "Unable to close snapshot store: ", err)
	}

	c.profiler.Stop()
}
