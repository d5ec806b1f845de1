// Copyright (C) 2026 Pathlight Labs (oss@pathlight.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathlight-app/pathlight/services/sync/datatypes"
)

func fixedClock(day string) func() time.Time {
	t, err := time.Parse("2006-01-02", day)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return t }
}

// TestTransitionFor verifies only real state changes produce transitions.
func TestTransitionFor(t *testing.T) {
	assert.Equal(t, TransitionCompleted, TransitionFor(false, true))
	assert.Equal(t, TransitionUncompleted, TransitionFor(true, false))
	assert.Equal(t, TransitionNoop, TransitionFor(true, true))
	assert.Equal(t, TransitionNoop, TransitionFor(false, false))
}

// TestReduceCompleted verifies the +1 effects of a new completion.
func TestReduceCompleted(t *testing.T) {
	r := New(fixedClock("2026-03-10"))
	prev := datatypes.NewStatsSnapshot("u1")

	next := r.Reduce(prev, TransitionCompleted, datatypes.DifficultyHard)

	assert.Equal(t, 1, next.TotalCompleted)
	assert.Equal(t, 1, next.WeeklyProgress)
	assert.Equal(t, PointsHard, next.ExperiencePoints)
	assert.Equal(t, 1, next.ProblemsSolved.Hard)
	assert.Equal(t, 1, next.ProblemsSolved.Total)
	assert.Equal(t, 0, next.ProblemsSolved.Easy)
	assert.Equal(t, 1, next.Streak)
	assert.Equal(t, "2026-03-10", next.LastActiveDate)

	// Input snapshot is untouched.
	assert.Equal(t, 0, prev.TotalCompleted)
}

// TestReduceToggleInverse verifies toggle-then-untoggle restores every
// counter to its exact pre-toggle value.
func TestReduceToggleInverse(t *testing.T) {
	r := New(fixedClock("2026-03-10"))
	base := datatypes.StatsSnapshot{
		UserID:           "u1",
		Streak:           3,
		LastActiveDate:   "2026-03-10",
		TotalCompleted:   7,
		ExperiencePoints: 290,
		Level:            LevelFor(290),
		WeeklyProgress:   4,
		ProblemsSolved:   datatypes.ProblemCounts{Easy: 3, Medium: 3, Hard: 1, Total: 7},
	}

	for _, d := range []datatypes.Difficulty{
		datatypes.DifficultyEasy,
		datatypes.DifficultyMedium,
		datatypes.DifficultyHard,
		datatypes.DifficultyUnknown,
	} {
		on := r.Reduce(base, TransitionCompleted, d)
		off := r.Reduce(on, TransitionUncompleted, d)
		assert.Equal(t, base, off, "difficulty %q", d)
	}
}

// TestReduceNoDoubleCount verifies a completed→completed redelivery is a
// no-op: the second application must not increment anything.
func TestReduceNoDoubleCount(t *testing.T) {
	r := New(fixedClock("2026-03-10"))
	prev := datatypes.NewStatsSnapshot("u1")

	first := r.Reduce(prev, TransitionFor(false, true), datatypes.DifficultyMedium)
	second := r.Reduce(first, TransitionFor(true, true), datatypes.DifficultyMedium)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, second.TotalCompleted)
}

// TestReduceClampsAtZero verifies un-completing never drives a counter
// negative, even from an already-zero snapshot.
func TestReduceClampsAtZero(t *testing.T) {
	r := New(fixedClock("2026-03-10"))
	prev := datatypes.NewStatsSnapshot("u1")

	next := r.Reduce(prev, TransitionUncompleted, datatypes.DifficultyHard)

	assert.Equal(t, 0, next.TotalCompleted)
	assert.Equal(t, 0, next.ExperiencePoints)
	assert.Equal(t, 0, next.WeeklyProgress)
	assert.Equal(t, 0, next.ProblemsSolved.Hard)
	assert.Equal(t, 0, next.ProblemsSolved.Total)
	assert.Equal(t, 1, next.Level)
}

// TestLevelFor pins the level function to the 300-point bucket.
func TestLevelFor(t *testing.T) {
	assert.Equal(t, 1, LevelFor(0))
	assert.Equal(t, 1, LevelFor(299))
	assert.Equal(t, 2, LevelFor(300))
	assert.Equal(t, 2, LevelFor(599))
	assert.Equal(t, 3, LevelFor(600))
	assert.Equal(t, 1, LevelFor(-50))
}

// TestLevelNeverStoredIndependently verifies Reduce recomputes level
// from XP on every transition.
func TestLevelNeverStoredIndependently(t *testing.T) {
	r := New(fixedClock("2026-03-10"))
	snap := datatypes.NewStatsSnapshot("u1")

	// 15 medium completions = 300 XP = level 2.
	for i := 0; i < 15; i++ {
		snap = r.Reduce(snap, TransitionCompleted, datatypes.DifficultyMedium)
	}
	require.Equal(t, 300, snap.ExperiencePoints)
	assert.Equal(t, 2, snap.Level)

	snap = r.Reduce(snap, TransitionUncompleted, datatypes.DifficultyMedium)
	assert.Equal(t, 280, snap.ExperiencePoints)
	assert.Equal(t, 1, snap.Level)
}

// TestStreakScenario walks a multi-day sequence: first completion starts the
// streak, a next-day completion extends it, a skipped day resets it.
func TestStreakScenario(t *testing.T) {
	snap := datatypes.NewStatsSnapshot("u1")

	// Day N, no prior activity.
	snap = New(fixedClock("2026-03-10")).Reduce(snap, TransitionCompleted, datatypes.DifficultyEasy)
	assert.Equal(t, 1, snap.Streak)

	// Day N+1.
	snap = New(fixedClock("2026-03-11")).Reduce(snap, TransitionCompleted, datatypes.DifficultyEasy)
	assert.Equal(t, 2, snap.Streak)

	// Same day again: no change.
	snap = New(fixedClock("2026-03-11")).Reduce(snap, TransitionCompleted, datatypes.DifficultyEasy)
	assert.Equal(t, 2, snap.Streak)

	// Day N+3: skipped a day, streak restarts.
	snap = New(fixedClock("2026-03-13")).Reduce(snap, TransitionCompleted, datatypes.DifficultyEasy)
	assert.Equal(t, 1, snap.Streak)
}

// TestStreakNotDecrementedByUncomplete verifies un-checking a task never
// touches the streak.
func TestStreakNotDecrementedByUncomplete(t *testing.T) {
	r := New(fixedClock("2026-03-11"))
	snap := datatypes.StatsSnapshot{
		UserID:         "u1",
		Streak:         5,
		LastActiveDate: "2026-03-11",
		TotalCompleted: 5,
		Level:          1,
	}

	next := r.Reduce(snap, TransitionUncompleted, datatypes.DifficultyEasy)
	assert.Equal(t, 5, next.Streak)
	assert.Equal(t, "2026-03-11", next.LastActiveDate)
}

// TestResetIfInactive covers the daemon's inactivity sweep.
func TestResetIfInactive(t *testing.T) {
	now, err := time.Parse("2006-01-02", "2026-03-13")
	require.NoError(t, err)

	active := datatypes.StatsSnapshot{Streak: 4, LastActiveDate: "2026-03-12"}
	assert.Equal(t, 4, ResetIfInactive(active, now).Streak, "yesterday still counts")

	stale := datatypes.StatsSnapshot{Streak: 4, LastActiveDate: "2026-03-10"}
	assert.Equal(t, 0, ResetIfInactive(stale, now).Streak, "gap over one day resets")

	fresh := datatypes.StatsSnapshot{Streak: 4, LastActiveDate: "2026-03-13"}
	assert.Equal(t, 4, ResetIfInactive(fresh, now).Streak)
}

// TestPointsFor pins the difficulty weighting, including the unknown
// fallback.
func TestPointsFor(t *testing.T) {
	assert.Equal(t, 10, PointsFor(datatypes.DifficultyEasy))
	assert.Equal(t, 20, PointsFor(datatypes.DifficultyMedium))
	assert.Equal(t, 30, PointsFor(datatypes.DifficultyHard))
	assert.Equal(t, 10, PointsFor(datatypes.DifficultyUnknown))
	assert.Equal(t, 10, PointsFor(datatypes.Difficulty("weird")))
}
