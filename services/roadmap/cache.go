// Copyright (C) 2026 Pathlight Labs (oss@pathlight.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package roadmap

import (
	"fmt"
	"log/slog"

	"github.com/pathlight-app/pathlight/services/sync/datatypes"
	storage "github.com/pathlight-app/pathlight/services/sync/storage/badger"
)

// Cache stores roadmap documents in the local durable cache so the
// difficulty lookup the engine needs works offline.
//
// Thread Safety: Safe for concurrent use; the underlying store
// serializes access.
type Cache struct {
	store  *storage.Store
	logger *slog.Logger
}

// NewCache wraps a store. The store is shared with the sync engine, not
// owned; closing the cache is the session's job.
func NewCache(store *storage.Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: store, logger: logger}
}

// Put persists a roadmap document.
func (c *Cache) Put(r *Roadmap) error {
	if r.ID == "" || r.UserID == "" {
		return fmt.Errorf("roadmap needs an id and a user id")
	}
	return c.store.PutJSON(datatypes.RoadmapKeyFor(r.UserID, r.ID), r)
}

// Get loads a roadmap document. The second return is false when the
// roadmap is not cached.
func (c *Cache) Get(userID, roadmapID string) (*Roadmap, bool, error) {
	var r Roadmap
	ok, err := c.store.GetJSON(datatypes.RoadmapKeyFor(userID, roadmapID), &r)
	if err != nil || !ok {
		return nil, false, err
	}
	return &r, true, nil
}

// DifficultyOf resolves a task's difficulty from the cached roadmap.
// Missing roadmaps and unknown tasks report DifficultyUnknown; the
// engine then falls back to its default scoring.
func (c *Cache) DifficultyOf(userID, roadmapID, taskID string) datatypes.Difficulty {
	r, ok, err := c.Get(userID, roadmapID)
	if err != nil {
		c.logger.Warn("roadmap lookup failed", "roadmap_id", roadmapID, "error", err)
		return datatypes.DifficultyUnknown
	}
	if !ok {
		return datatypes.DifficultyUnknown
	}
	return r.DifficultyOf(taskID)
}
