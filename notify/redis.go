/* Collabd - Collaborative Workspace Sync Daemon
 *
 * Copyright (C) 2025-2026 the collabd authors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package notify

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/collabd/collabd/core"
)

const bridgeChannel = "collabd:workspace"

// bridgeFrame wraps a relayed frame with its origin instance so an instance never
// re-applies its own publications.
type bridgeFrame struct {
	Instance    string `json:"instance"`
	WorkspaceID string `json:"workspaceId"`
	Frame       []byte `json:"frame"`
}

// RedisBridge relays workspace broadcast frames between collabd instances through a
// Redis pub/sub channel.
type RedisBridge struct {
	client   *redis.Client
	instance string
	pubsub   *redis.PubSub
	deliver  func(workspaceID string, frame []byte)
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewRedisBridge connects to Redis and starts relaying inbound frames to the given
// delivery callback.
func NewRedisBridge(addr string, deliver func(workspaceID string, frame []byte)) (*RedisBridge, error) {
	ctx, cancel := context.WithCancel(context.Background())
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		cancel()
		client.Close()
		return nil, err
	}
	bridge := &RedisBridge{
		client:   client,
		instance: uuid.NewString(),
		pubsub:   client.Subscribe(ctx, bridgeChannel),
		deliver:  deliver,
		ctx:      ctx,
		cancel:   cancel,
	}
	go bridge.run()
	core.LogInfo(bridge, "Connected to Redis at ", addr)
	return bridge, nil
}

func (b *RedisBridge) String() string {
	return "RedisBridge-" + b.instance[:8]
}

// Publish relays a workspace broadcast frame to the other instances. Fire and
// forget: a publish failure is logged and never blocks the local broadcast.
func (b *RedisBridge) Publish(workspaceID string, frame []byte) {
	payload, err := json.Marshal(&bridgeFrame{
		Instance:    b.instance,
		WorkspaceID: workspaceID,
		Frame:       frame,
	})
	if err != nil {
		core.LogError(b, "Unable to encode bridge frame: ", err)
		return
	}
	go func() {
		if err := b.client.Publish(b.ctx, bridgeChannel, payload).Err(); err != nil {
			core.LogWarn(b, "Unable to publish bridge frame: ", err)
		}
	}()
}

func (b *RedisBridge) run() {
	channel := b.pubsub.Channel()
	for {
		select {
		case message, ok := <-channel:
			if !ok {
				return
			}
			var frame bridgeFrame
			if err := json.Unmarshal([]byte(message.Payload), &frame); err != nil {
				core.LogWarn(b, "Ignoring malformed bridge frame: ", err)
				continue
			}
			if frame.Instance == b.instance {
				continue
			}
			b.deliver(frame.WorkspaceID, frame.Frame)
		case <-b.ctx.Done():
			return
		}
	}
}

// Close stops the bridge.
func (b *RedisBridge) Close() error {
	b.cancel()
	b.pubsub.Close()
	return b.client.Close()
}
