// Copyright (C) 2026 Pathlight Labs (oss@pathlight.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package relay is the reference progress backend.
//
// It defines the backend contract the sync engine is written against:
// an idempotent PUT /progress keyed by compound key plus updatedAt, a
// GET /progress rehydration endpoint, and a websocket room per user that
// fans progress-update frames out to the user's other sessions. Clients
// and the engine's integration tests run against this implementation;
// production deployments substitute their own backend behind the same
// contract.
//
// State is held in memory. Durability is the client's problem by design:
// every device carries its own durable cache and replays into the
// backend, so a relay restart loses nothing that a connected device
// cannot restore.
package relay

import (
	"sync"

	"github.com/pathlight-app/pathlight/services/sync/datatypes"
)

// Store holds the relay's record set with last-writer-wins semantics.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	records map[datatypes.CompoundKey]datatypes.CompletionRecord
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{records: make(map[datatypes.CompoundKey]datatypes.CompletionRecord)}
}

// Upsert applies a record under last-writer-wins by updatedAt.
//
// Outputs:
//
//	datatypes.CompletionRecord - The winning record for the key after
//	  the operation. When the incoming record loses the comparison this
//	  is the retained newer record, which the caller should return to
//	  the pushing device so it can converge.
//	bool - Whether the incoming record was applied. Redelivering an
//	  already-applied record reports false with the identical winner,
//	  which is what makes the endpoint idempotent.
func (s *Store) Upsert(rec datatypes.CompletionRecord) (datatypes.CompletionRecord, bool) {
	key := rec.Key()
	rec.Synced = true

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.records[key]; ok && !rec.Supersedes(cur) {
		return cur, false
	}
	s.records[key] = rec
	return rec, true
}

// List returns every record owned by userID.
func (s *Store) List(userID string) []datatypes.CompletionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]datatypes.CompletionRecord, 0)
	for key, rec := range s.records {
		if key.UserID == userID {
			out = append(out, rec)
		}
	}
	return out
}

// Len returns the total record count, across all users.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
