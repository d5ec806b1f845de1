// Copyright (C) 2026 Pathlight Labs (oss@pathlight.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package roadmap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathlight-app/pathlight/services/sync/datatypes"
	storage "github.com/pathlight-app/pathlight/services/sync/storage/badger"
)

func testRoadmap() *Roadmap {
	return &Roadmap{
		ID:        "r1",
		UserID:    "u1",
		Topic:     "distributed systems",
		CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Modules: []Module{
			{
				ID:    "m1",
				Title: "Foundations",
				Tasks: []Task{
					{ID: "t1", Title: "Clocks", Difficulty: datatypes.DifficultyEasy},
					{ID: "t2", Title: "Consensus", Difficulty: datatypes.DifficultyHard},
				},
			},
			{
				ID:    "m2",
				Title: "Practice",
				Tasks: []Task{
					{ID: "t3", Title: "Build a KV store", Difficulty: datatypes.DifficultyMedium},
				},
			},
		},
	}
}

// TestCacheRoundTrip verifies a roadmap survives put and get.
func TestCacheRoundTrip(t *testing.T) {
	store, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	cache := NewCache(store, nil)
	require.NoError(t, cache.Put(testRoadmap()))

	got, ok, err := cache.Get("u1", "r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testRoadmap(), got)

	_, ok, err = cache.Get("u1", "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestCachePutRequiresIdentity verifies puts without IDs are refused.
func TestCachePutRequiresIdentity(t *testing.T) {
	store, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	cache := NewCache(store, nil)
	assert.Error(t, cache.Put(&Roadmap{ID: "r1"}))
	assert.Error(t, cache.Put(&Roadmap{UserID: "u1"}))
}

// TestDifficultyOf verifies task lookup across modules, with unknown
// fallbacks for missing roadmaps and tasks.
func TestDifficultyOf(t *testing.T) {
	store, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	cache := NewCache(store, nil)
	require.NoError(t, cache.Put(testRoadmap()))

	assert.Equal(t, datatypes.DifficultyEasy, cache.DifficultyOf("u1", "r1", "t1"))
	assert.Equal(t, datatypes.DifficultyHard, cache.DifficultyOf("u1", "r1", "t2"))
	assert.Equal(t, datatypes.DifficultyMedium, cache.DifficultyOf("u1", "r1", "t3"))
	assert.Equal(t, datatypes.DifficultyUnknown, cache.DifficultyOf("u1", "r1", "missing"))
	assert.Equal(t, datatypes.DifficultyUnknown, cache.DifficultyOf("u1", "uncached", "t1"))
}

// TestTaskCount verifies counting across modules.
func TestTaskCount(t *testing.T) {
	assert.Equal(t, 3, testRoadmap().TaskCount())
	assert.Equal(t, 0, (&Roadmap{}).TaskCount())
}
