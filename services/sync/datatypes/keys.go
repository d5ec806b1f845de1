// Copyright (C) 2026 Pathlight Labs (oss@pathlight.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "fmt"

// Local durable cache key layout. Completion records are stored one per
// key so they can be prefix-scanned per user; the stats snapshot and the
// replay queue are single keys per user.
const (
	completionPrefix = "completion:"
	statsPrefix      = "stats:"
	replayPrefix     = "replay:"
	roadmapPrefix    = "roadmap:"
)

// CompletionKeyFor returns the cache key for one completion record.
func CompletionKeyFor(k CompoundKey) string {
	return completionPrefix + k.String()
}

// CompletionScanPrefix returns the prefix covering every completion
// record owned by userID.
func CompletionScanPrefix(userID string) string {
	return fmt.Sprintf("%s%s:", completionPrefix, userID)
}

// StatsKeyFor returns the cache key for a user's stats snapshot.
func StatsKeyFor(userID string) string {
	return statsPrefix + userID
}

// ReplayKeyFor returns the cache key for a user's replay queue.
func ReplayKeyFor(userID string) string {
	return replayPrefix + userID
}

// RoadmapKeyFor returns the cache key for a cached roadmap document.
func RoadmapKeyFor(userID, roadmapID string) string {
	return fmt.Sprintf("%s%s:%s", roadmapPrefix, userID, roadmapID)
}
