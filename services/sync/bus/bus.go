// Copyright (C) 2026 Pathlight Labs (oss@pathlight.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package bus fans out normalized sync notifications to consumers.
//
// The bus is the only delivery path between the sync engine and the UI:
// no global event targets, no module-level callbacks. Delivery is typed
// (records, snapshots, status) over Watermill's in-process gochannel
// Pub/Sub, so each consumer gets its own subscription and delivery is
// independently testable.
package bus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/pathlight-app/pathlight/services/sync/datatypes"
)

// Topics published by the sync engine.
const (
	TopicProgressChanged = "progress-changed"
	TopicStatsChanged    = "stats-changed"
	TopicSyncStatus      = "sync-status"
)

// Sync connectivity states carried by SyncStatus events.
const (
	StateOnline  = "online"
	StateOffline = "offline"
)

// SyncStatus describes the engine's connectivity and backlog for UI
// rendering. Offline is informational only; no functionality is blocked
// while offline.
type SyncStatus struct {
	// State is StateOnline or StateOffline.
	State string `json:"state"`

	// ChannelUnavailable is set when the push channel gave up retrying
	// and the engine is operating through the fallback client only.
	ChannelUnavailable bool `json:"channelUnavailable,omitempty"`

	// Pending is the number of unsynced records awaiting replay.
	Pending int `json:"pending"`

	// Rejected is the number of records the backend refused outright.
	Rejected int `json:"rejected"`
}

// Bus is the consumer-facing fan-out of sync events.
//
// Thread Safety: Safe for concurrent use.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *slog.Logger
}

// New creates a Bus. The logger receives Watermill's internal output at
// debug level.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			watermill.NewSlogLogger(logger),
		),
		logger: logger,
	}
}

// PublishProgress emits a progress-changed event for one record.
func (b *Bus) PublishProgress(rec datatypes.CompletionRecord) error {
	return b.publish(TopicProgressChanged, rec)
}

// PublishStats emits a stats-changed event with the full snapshot.
func (b *Bus) PublishStats(snap datatypes.StatsSnapshot) error {
	return b.publish(TopicStatsChanged, snap)
}

// PublishStatus emits a sync-status event.
func (b *Bus) PublishStatus(st SyncStatus) error {
	return b.publish(TopicSyncStatus, st)
}

// SubscribeProgress returns a channel of progress-changed events. The
// channel closes when ctx is cancelled or the bus is closed.
func (b *Bus) SubscribeProgress(ctx context.Context) (<-chan datatypes.CompletionRecord, error) {
	return subscribe[datatypes.CompletionRecord](ctx, b, TopicProgressChanged)
}

// SubscribeStats returns a channel of stats-changed events.
func (b *Bus) SubscribeStats(ctx context.Context) (<-chan datatypes.StatsSnapshot, error) {
	return subscribe[datatypes.StatsSnapshot](ctx, b, TopicStatsChanged)
}

// SubscribeStatus returns a channel of sync-status events.
func (b *Bus) SubscribeStatus(ctx context.Context) (<-chan SyncStatus, error) {
	return subscribe[SyncStatus](ctx, b, TopicSyncStatus)
}

// Close shuts down the underlying pub/sub and closes all subscriber
// channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

func (b *Bus) publish(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.pubsub.Publish(topic, message.NewMessage(watermill.NewUUID(), payload))
}

func subscribe[T any](ctx context.Context, b *Bus, topic string) (<-chan T, error) {
	msgs, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}

	out := make(chan T, 64)
	go func() {
		defer close(out)
		for msg := range msgs {
			var v T
			if err := json.Unmarshal(msg.Payload, &v); err != nil {
				b.logger.Warn("dropping undecodable bus message",
					"topic", topic, "error", err)
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
