// Copyright (C) 2026 Pathlight Labs (oss@pathlight.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathlight-app/pathlight/services/sync/datatypes"
)

func testRecord() datatypes.CompletionRecord {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return datatypes.CompletionRecord{
		UserID:      "u1",
		RoadmapID:   "r1",
		ModuleID:    "m1",
		TaskID:      "t1",
		Difficulty:  datatypes.DifficultyMedium,
		Completed:   true,
		CompletedAt: &now,
		UpdatedAt:   now,
	}
}

// TestPushProgressAccepted verifies the happy path and the request shape
// the idempotency contract depends on.
func TestPushProgressAccepted(t *testing.T) {
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/progress", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		rec := datatypes.CompletionRecord{
			UserID: got.UserID, RoadmapID: got.RoadmapID,
			ModuleID: got.ModuleID, TaskID: got.TaskID,
			Completed: got.Completed, UpdatedAt: got.UpdatedAt, Synced: true,
		}
		json.NewEncoder(w).Encode(PushResponse{Accepted: true, Record: &rec})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	rec := testRecord()

	accepted, err := c.PushProgress(context.Background(), rec)
	require.NoError(t, err)
	require.NotNil(t, accepted)
	assert.Equal(t, rec.Key(), accepted.Key())

	// The write must carry the compound key and updatedAt so the backend
	// can dedupe redeliveries.
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "t1", got.TaskID)
	assert.True(t, got.UpdatedAt.Equal(rec.UpdatedAt))
}

// TestPushProgressRejected verifies 4xx maps to a permanent,
// non-retryable rejection.
func TestPushProgressRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown roadmap id", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	_, err := c.PushProgress(context.Background(), testRecord())

	require.Error(t, err)
	assert.True(t, IsRejected(err))
}

// TestPushProgressServerError verifies 5xx is retryable, not a rejection.
func TestPushProgressServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	_, err := c.PushProgress(context.Background(), testRecord())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, IsRejected(err))
}

// TestPushProgressUnreachable verifies transport failure is retryable.
func TestPushProgressUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", nil)
	_, err := c.PushProgress(context.Background(), testRecord())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

// TestPushProgressValidatesLocally verifies an incomplete record never
// leaves the device.
func TestPushProgressValidatesLocally(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	rec := testRecord()
	rec.TaskID = ""

	_, err := c.PushProgress(context.Background(), rec)
	require.Error(t, err)
	assert.True(t, IsRejected(err))
	assert.Zero(t, calls)
}

// TestFetchProgress verifies rehydration decoding.
func TestFetchProgress(t *testing.T) {
	want := []datatypes.CompletionRecord{testRecord()}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "u1", r.URL.Query().Get("userId"))
		json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	got, err := c.FetchProgress(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, want[0].Key(), got[0].Key())
}
