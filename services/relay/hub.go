// Copyright (C) 2026 Pathlight Labs (oss@pathlight.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package relay

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/pathlight-app/pathlight/services/sync/channel"
)

// client is one websocket session. Gorilla allows a single concurrent
// writer per connection, so writes go through the client's mutex.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Hub tracks which websocket sessions belong to which user's room.
//
// Thread Safety: Safe for concurrent use.
type Hub struct {
	mu     sync.Mutex
	rooms  map[string]map[*client]struct{}
	logger *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:  make(map[string]map[*client]struct{}),
		logger: logger,
	}
}

// Join adds a session to a user's room.
func (h *Hub) Join(userID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[userID]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[userID] = room
	}
	room[c] = struct{}{}
	h.logger.Info("session joined room", "user_id", userID, "sessions", len(room))
}

// Leave removes a session from a user's room, dropping the room when it
// empties.
func (h *Hub) Leave(userID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[userID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, userID)
	}
}

// Broadcast sends an envelope to every session in a user's room except
// the sender. Write failures are logged and skipped; the read loop of
// the broken session will notice and leave.
func (h *Hub) Broadcast(userID string, sender *client, env channel.Envelope) {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.rooms[userID]))
	for c := range h.rooms[userID] {
		if c != sender {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.writeJSON(env); err != nil {
			h.logger.Warn("broadcast write failed", "user_id", userID, "error", err)
		}
	}
}

// RoomSize returns the number of live sessions in a user's room.
func (h *Hub) RoomSize(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[userID])
}
