// Copyright (C) 2026 Pathlight Labs (oss@pathlight.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the shared progress-tracking types exchanged
// between the sync engine, the local durable cache, the push channel, and
// the fallback API client.
//
// The atomic fact in this system is the CompletionRecord: one row per
// (user, roadmap, module, task) tuple, toggled between completed and not
// completed. Aggregate statistics are always derived from record
// transitions, never stored as independent truth.
package datatypes

import (
	"fmt"
	"time"
)

// Difficulty classifies a task for experience-point weighting.
//
// An empty value is valid and means the task's difficulty is unknown;
// unknown tasks earn the same points as easy ones.
type Difficulty string

const (
	DifficultyUnknown Difficulty = ""
	DifficultyEasy    Difficulty = "easy"
	DifficultyMedium  Difficulty = "medium"
	DifficultyHard    Difficulty = "hard"
)

// CompoundKey uniquely identifies one completable unit.
//
// All four fields are required; two records with equal CompoundKeys are
// the same logical fact and must never both be live.
type CompoundKey struct {
	UserID    string `json:"userId"`
	RoadmapID string `json:"roadmapId"`
	ModuleID  string `json:"moduleId"`
	TaskID    string `json:"taskId"`
}

// String renders the key in its canonical colon-joined form, which is
// also the suffix of the record's storage key.
func (k CompoundKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.UserID, k.RoadmapID, k.ModuleID, k.TaskID)
}

// CompletionRecord is the atomic completion fact for one task.
//
// Conflict resolution between devices is last-writer-wins on UpdatedAt;
// the backend write contract is keyed by CompoundKey + UpdatedAt so that
// redelivering the same record is a no-op.
type CompletionRecord struct {
	UserID    string `json:"userId" validate:"required"`
	RoadmapID string `json:"roadmapId" validate:"required"`
	ModuleID  string `json:"moduleId" validate:"required"`
	TaskID    string `json:"taskId" validate:"required"`

	// Difficulty is captured at toggle time so that un-completing a task
	// reverses exactly the points that completing it earned, even if the
	// roadmap document changes later.
	Difficulty Difficulty `json:"difficulty,omitempty"`

	// Completed is the current desired state (a toggle, not an increment).
	Completed bool `json:"completed"`

	// CompletedAt is set iff Completed is true.
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	// UpdatedAt is the timestamp of the last local mutation and the
	// last-writer-wins comparison point.
	UpdatedAt time.Time `json:"updatedAt" validate:"required"`

	// Synced reports whether the authoritative backend has acknowledged
	// this exact version of the record.
	Synced bool `json:"synced"`
}

// Key returns the record's compound identity.
func (r CompletionRecord) Key() CompoundKey {
	return CompoundKey{
		UserID:    r.UserID,
		RoadmapID: r.RoadmapID,
		ModuleID:  r.ModuleID,
		TaskID:    r.TaskID,
	}
}

// Supersedes reports whether r wins a last-writer-wins comparison against
// other. Equal timestamps do not supersede; the incumbent is kept.
func (r CompletionRecord) Supersedes(other CompletionRecord) bool {
	return r.UpdatedAt.After(other.UpdatedAt)
}

// ProblemCounts breaks solved-problem totals down by difficulty.
type ProblemCounts struct {
	Easy   int `json:"easy"`
	Medium int `json:"medium"`
	Hard   int `json:"hard"`
	Total  int `json:"total"`
}

// StatsSnapshot is the derived aggregate state for one user.
//
// Snapshots are never edited directly: the only legal mutation is the
// stats reducer applying a CompletionRecord transition. Level is a pure
// function of ExperiencePoints and is recomputed on every reduction.
type StatsSnapshot struct {
	UserID string `json:"userId"`

	Streak int `json:"streak"`

	// LastActiveDate is the calendar day (YYYY-MM-DD, UTC) of the most
	// recent completion, used by the streak rule. Empty until the first
	// completion is seen.
	LastActiveDate string `json:"lastActiveDate,omitempty"`

	TotalCompleted    int           `json:"totalCompleted"`
	Level             int           `json:"level"`
	ExperiencePoints  int           `json:"experiencePoints"`
	WeeklyProgress    int           `json:"weeklyProgress"`
	ProblemsSolved    ProblemCounts `json:"problemsSolved"`
	RoadmapsCompleted int           `json:"roadmapsCompleted"`

	// TotalStudyTime is accumulated study minutes. Maintained here so the
	// snapshot round-trips losslessly; the sync engine does not derive it.
	TotalStudyTime int `json:"totalStudyTime"`
}

// NewStatsSnapshot returns the all-zero snapshot created on first sight
// of a user. Level starts at 1 because level = xp/bucket + 1.
func NewStatsSnapshot(userID string) StatsSnapshot {
	return StatsSnapshot{UserID: userID, Level: 1}
}

// ReplayQueueEntry is a CompletionRecord awaiting backend acknowledgment,
// plus its delivery state. Entries exist only while the record is
// unsynced; they are retained (never silently dropped) even after the
// retry ceiling is reached.
type ReplayQueueEntry struct {
	Record CompletionRecord `json:"record"`

	// Attempts counts delivery attempts made so far.
	Attempts int `json:"attempts"`

	// NextRetryAt is the earliest time the next delivery attempt may run.
	NextRetryAt time.Time `json:"nextRetryAt"`

	// Rejected marks records the backend refused outright (4xx). Rejected
	// entries are never retried; they are surfaced as a warning instead.
	Rejected bool `json:"rejected,omitempty"`

	// Exhausted marks entries that hit the retry ceiling. They stay in
	// the queue in a user-visible "pending sync" state and are retried
	// again only when the channel reconnects.
	Exhausted bool `json:"exhausted,omitempty"`
}
